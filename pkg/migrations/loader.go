// Package migrations embeds the secmon schema and applies it in version order.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var embedded embed.FS

// FS returns the embedded migration files rooted at their directory.
func FS() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Direction selects up or down scripts.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Migration represents a database migration file.
type Migration struct {
	Version   string
	Name      string
	Direction Direction
	FilePath  string
}

// String returns the migration identifier.
func (m Migration) String() string {
	return fmt.Sprintf("%s_%s.%s.sql", m.Version, m.Name, m.Direction)
}

// Load lists the migrations in fsys for direction, sorted by version.
// Files not named NNNNNN_name.<direction>.sql are ignored.
func Load(fsys fs.FS, direction Direction) ([]Migration, error) {
	suffix := fmt.Sprintf(".%s.sql", direction)

	var migrations []Migration
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, suffix) {
			return nil
		}

		// 000001_tenants_users.up.sql -> version=000001, name=tenants_users
		base := strings.TrimSuffix(path.Base(p), suffix)
		parts := strings.SplitN(base, "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil
		}

		migrations = append(migrations, Migration{
			Version:   parts[0],
			Name:      parts[1],
			Direction: direction,
			FilePath:  p,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %s", migrations[i].Version)
		}
	}
	return migrations, nil
}

// Versions returns the versions of migrations in order.
func Versions(migrations []Migration) []string {
	versions := make([]string, len(migrations))
	for i, m := range migrations {
		versions[i] = m.Version
	}
	return versions
}
