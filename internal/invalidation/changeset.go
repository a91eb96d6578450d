package invalidation

import (
	"sort"
	"strings"
)

// ChangeSet is the set of logical tables mutated by one committed transaction.
// Table names are case-insensitive.
type ChangeSet map[string]struct{}

// NewChangeSet builds a ChangeSet from table names.
func NewChangeSet(tables ...string) ChangeSet {
	cs := make(ChangeSet, len(tables))
	for _, t := range tables {
		cs.Add(t)
	}
	return cs
}

// Add marks table as changed.
func (cs ChangeSet) Add(table string) {
	cs[strings.ToLower(table)] = struct{}{}
}

// Contains reports whether table is in the set.
func (cs ChangeSet) Contains(table string) bool {
	_, ok := cs[strings.ToLower(table)]
	return ok
}

// Tables returns the table names in sorted order.
func (cs ChangeSet) Tables() []string {
	tables := make([]string, 0, len(cs))
	for t := range cs {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
