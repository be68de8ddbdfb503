package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"low", SeverityLow, false},
		{"CRITICAL", SeverityCritical, false},
		{" High ", SeverityHigh, false},
		{"Medium", SeverityMedium, false},
		{"info", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeverity_Ordering(t *testing.T) {
	all := AllSeverities()
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Rank(), all[i-1].Rank())
	}
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestSeverity_Title(t *testing.T) {
	assert.Equal(t, "Critical", SeverityCritical.Title())
	assert.Equal(t, "Low", SeverityLow.Title())
	assert.Equal(t, "critical", SeverityCritical.String())
}
