package migrations

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_assets.up.sql":    {Data: []byte("CREATE TABLE assets ();")},
		"000001_tenants.up.sql":   {Data: []byte("CREATE TABLE tenants ();")},
		"000001_tenants.down.sql": {Data: []byte("DROP TABLE tenants;")},
		"README.md":               {Data: []byte("docs")},
		"bogus.up.sql":            {Data: []byte("SELECT 1;")},
	}

	ups, err := Load(fsys, Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001", "000002"}, Versions(ups))
	assert.Equal(t, "000001_tenants.up.sql", ups[0].String())

	downs, err := Load(fsys, Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001"}, Versions(downs))
}

func TestLoad_RejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"000001_a.up.sql": {Data: []byte("SELECT 1;")},
		"000001_b.up.sql": {Data: []byte("SELECT 2;")},
	}

	_, err := Load(fsys, Up)
	assert.Error(t, err)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := Load(FS(), Up)
	require.NoError(t, err)
	downs, err := Load(FS(), Down)
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Equal(t, Versions(ups), Versions(downs))
}

func TestPending_SkipsApplied(t *testing.T) {
	available := []Migration{{Version: "000001"}, {Version: "000002"}, {Version: "000003"}}
	applied := []MigrationRecord{{Version: "000001", AppliedAt: time.Now()}}

	assert.Equal(t, []string{"000002", "000003"}, Versions(pending(available, applied)))
}
