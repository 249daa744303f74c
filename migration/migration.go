package migration

import (
	"context"
	"sort"
)

// Migration is one schema change: an opaque SQL body identified by a
// version string. Versions order lexically, so providers typically use
// zero-padded or timestamp-based versions.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// Source supplies the full ordered list of available migrations for a
// namespace. Implementations live outside this package (embedded files,
// directories, generated code).
type Source interface {
	LoadAll(ctx context.Context, namespace string) ([]Migration, error)
}

// Pending returns the migrations in all whose versions are not yet in
// applied, ordered by version ascending. It never touches the database.
func Pending(all []Migration, applied []string) []Migration {
	seen := make(map[string]struct{}, len(applied))
	for _, version := range applied {
		seen[version] = struct{}{}
	}

	pending := []Migration{}
	for _, m := range all {
		if _, ok := seen[m.Version]; !ok {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})
	return pending
}
