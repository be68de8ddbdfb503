package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startScanInput struct {
	Kind     string `validate:"required,scan_kind"`
	MinLevel string `validate:"omitempty,severity"`
}

func TestValidate_ScanKind(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   startScanInput
		wantErr bool
	}{
		{"discovery", startScanInput{Kind: "discovery"}, false},
		{"comprehensive mixed case", startScanInput{Kind: "Comprehensive"}, false},
		{"unknown kind", startScanInput{Kind: "deep"}, true},
		{"missing kind", startScanInput{}, true},
		{"bad severity", startScanInput{Kind: "discovery", MinLevel: "urgent"}, true},
		{"good severity", startScanInput{Kind: "discovery", MinLevel: "high"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_ErrorShape(t *testing.T) {
	v := New()

	err := v.Validate(startScanInput{Kind: "deep", MinLevel: "urgent"})
	require.Error(t, err)

	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, verrs, 2)
	assert.Equal(t, "kind", verrs[0].Field)
	assert.Equal(t, "must be one of: discovery, comprehensive", verrs[0].Message)
	assert.Equal(t, "min_level", verrs[1].Field)
	assert.Contains(t, verrs[1].Message, "critical")
	assert.Contains(t, err.Error(), "kind: must be one of")
}

func TestValidate_Required(t *testing.T) {
	err := New().Validate(startScanInput{})
	require.Error(t, err)
	verrs := err.(ValidationErrors)
	assert.Equal(t, "is required", verrs[0].Message)
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "tenant_id", toSnakeCase("TenantId"))
	assert.Equal(t, "scan_kind", toSnakeCase("ScanKind"))
	assert.Equal(t, "kind", toSnakeCase("Kind"))
}

func TestValidate_UsesJSONName(t *testing.T) {
	type body struct {
		ScanKind string `json:"kind" validate:"required"`
		Hidden   string `json:"-" validate:"omitempty,max=2"`
	}

	err := New().Validate(body{})
	require.Error(t, err)
	verrs := err.(ValidationErrors)
	require.Len(t, verrs, 1)
	assert.Equal(t, "kind", verrs[0].Field)
}
