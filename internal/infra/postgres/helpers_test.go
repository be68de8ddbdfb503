package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

func TestAssetFilter_BuildsPlaceholdersInOrder(t *testing.T) {
	tenantID := shared.NewID()
	online := asset.StatusOnline
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w := assetFilter(asset.Filter{TenantID: tenantID, Status: &online, ScannedBefore: &cutoff})
	assert.Equal(t,
		" WHERE tenant_id = $1 AND status = $2 AND (last_scan_at IS NULL OR last_scan_at < $3)",
		w.String(),
	)
	assert.Equal(t, []any{tenantID.String(), "online", cutoff}, w.args)
	assert.Equal(t, "$4", w.next(5))
}

func TestAssetFilter_TenantOnly(t *testing.T) {
	w := assetFilter(asset.Filter{TenantID: shared.NewID()})
	assert.Equal(t, " WHERE tenant_id = $1", w.String())
	assert.Len(t, w.args, 1)
}

func TestIDArrayRoundTrip(t *testing.T) {
	ids := []shared.ID{shared.NewID(), shared.NewID()}

	arr, ok := idArray(ids).(pq.StringArray)
	require.True(t, ok)
	parsed, err := parseIDArray(arr)
	require.NoError(t, err)
	assert.Equal(t, ids, parsed)

	_, err = parseIDArray(pq.StringArray{"not-a-uuid"})
	assert.Error(t, err)
}

func TestNotFound(t *testing.T) {
	id := shared.NewID()
	assert.True(t, shared.IsNotFound(notFound(sql.ErrNoRows, "asset", id)))

	other := errors.New("boom")
	assert.Same(t, other, notFound(other, "asset", id))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("wrap: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestNullTimeHelpers(t *testing.T) {
	assert.False(t, nullTime(nil).Valid)
	now := time.Now()
	assert.True(t, nullTime(&now).Valid)
	assert.Nil(t, nullTimeValue(sql.NullTime{}))
	assert.NotNil(t, nullTimeValue(sql.NullTime{Time: now, Valid: true}))
}
