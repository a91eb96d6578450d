package record

import (
	"fmt"
	"sort"
	"strings"
)

// TableNotifications is the logical and physical name of the notifications table.
const TableNotifications = "notifications"

// SchemaVersion is bumped whenever the column contract changes.
const SchemaVersion = 2

// Column describes one column of a managed table.
// PrimaryKeyPosition is 1-based; 0 means the column is not part of the key.
type Column struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	NotNull            bool   `json:"not_null"`
	PrimaryKeyPosition int    `json:"pk"`
}

// TableDescriptor is the expected shape of one table.
type TableDescriptor struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// SchemaDescriptor is the expected shape of every managed table.
// It is only consulted at open time.
type SchemaDescriptor struct {
	Version int               `json:"version"`
	Tables  []TableDescriptor `json:"tables"`
}

// NotificationsTable is the column contract for Notification, in bind order.
var NotificationsTable = TableDescriptor{
	Name: TableNotifications,
	Columns: []Column{
		{Name: "notification_id", Type: "INTEGER", NotNull: true, PrimaryKeyPosition: 1},
		{Name: "uid", Type: "TEXT", NotNull: true},
		{Name: "notification_key", Type: "TEXT", NotNull: true},
		{Name: "timestamp", Type: "INTEGER", NotNull: true},
		{Name: "showTimestamp", Type: "INTEGER", NotNull: true},
		{Name: "isGroup", Type: "INTEGER", NotNull: true},
		{Name: "text", Type: "TEXT"},
		{Name: "title", Type: "TEXT"},
		{Name: "subText", Type: "TEXT"},
		{Name: "titleBig", Type: "TEXT"},
		{Name: "app_package", Type: "TEXT", NotNull: true},
	},
}

// Schema is the descriptor validated by the store on every open.
var Schema = SchemaDescriptor{
	Version: SchemaVersion,
	Tables:  []TableDescriptor{NotificationsTable},
}

// ColumnNames returns the quoted, comma-separated column list in contract order.
func (t TableDescriptor) ColumnNames() string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quote(c.Name)
	}
	return strings.Join(names, ", ")
}

// CreateTableSQL renders the CREATE TABLE statement for t.
func (t TableDescriptor) CreateTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", quote(t.Name))

	var pk []Column
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", quote(c.Name), c.Type)
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.PrimaryKeyPosition > 0 {
			pk = append(pk, c)
		}
	}

	if len(pk) > 0 {
		sort.Slice(pk, func(i, j int) bool {
			return pk[i].PrimaryKeyPosition < pk[j].PrimaryKeyPosition
		})
		names := make([]string, len(pk))
		for i, c := range pk {
			names[i] = quote(c.Name)
		}
		fmt.Fprintf(&b, ", PRIMARY KEY(%s)", strings.Join(names, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// Diff compares found against t and describes every difference.
// An empty result means the structures match exactly. Column order
// is not significant; types compare case-insensitively.
func (t TableDescriptor) Diff(found TableDescriptor) []string {
	var diffs []string

	byName := make(map[string]Column, len(found.Columns))
	for _, c := range found.Columns {
		byName[c.Name] = c
	}

	for _, want := range t.Columns {
		got, ok := byName[want.Name]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("%s.%s: missing column", t.Name, want.Name))
			continue
		}
		delete(byName, want.Name)

		if !strings.EqualFold(want.Type, got.Type) {
			diffs = append(diffs, fmt.Sprintf("%s.%s: type %q, expected %q", t.Name, want.Name, got.Type, want.Type))
		}
		if want.NotNull != got.NotNull {
			diffs = append(diffs, fmt.Sprintf("%s.%s: not null %t, expected %t", t.Name, want.Name, got.NotNull, want.NotNull))
		}
		if want.PrimaryKeyPosition != got.PrimaryKeyPosition {
			diffs = append(diffs, fmt.Sprintf("%s.%s: pk %d, expected %d", t.Name, want.Name, got.PrimaryKeyPosition, want.PrimaryKeyPosition))
		}
	}

	extra := make([]string, 0, len(byName))
	for name := range byName {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		diffs = append(diffs, fmt.Sprintf("%s.%s: unexpected column", t.Name, name))
	}

	return diffs
}

// TableNames returns the names of every managed table.
func (s SchemaDescriptor) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

func quote(ident string) string {
	return "`" + ident + "`"
}
