package store

import (
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

type migration struct {
	name string
	sql  string
}

// pendingMigrations returns the driver's migration files not yet in applied,
// in lexicographic order.
func pendingMigrations(driver string, applied map[string]bool) ([]migration, error) {
	dir := "migrations/" + driver
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read migration dir %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []migration
	for _, e := range entries {
		if applied[e.Name()] {
			continue
		}
		data, err := migrationFS.ReadFile(dir + "/" + e.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "store: read migration %s", e.Name())
		}
		out = append(out, migration{name: e.Name(), sql: string(data)})
	}
	return out, nil
}
