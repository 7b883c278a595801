package schema

import (
	"github.com/mchallet/stagesync/internal/config"
)

// TableDescriptor binds one table's destination layout to the registry
// facts the engines need: its conflict key, whether last-writer-wins by
// timestamp applies, and whether it is protected from absence pruning.
// Built once per table per run.
type TableDescriptor struct {
	Name         string
	Columns      []Column
	ConflictKey  string // empty means the table cannot be synchronized
	HasUpdatedAt bool
	Protected    bool
}

// NewDescriptor builds a descriptor from introspected destination columns
// plus the static registry.
func NewDescriptor(name string, cols []Column) TableDescriptor {
	d := TableDescriptor{
		Name:        name,
		Columns:     cols,
		ConflictKey: config.ConflictKeys[name],
		Protected:   config.ProtectedTables[name],
	}
	for _, c := range cols {
		if c.Name == "updated_at" {
			d.HasUpdatedAt = true
			break
		}
	}
	return d
}

// ColumnNames returns the descriptor's column names in order.
func (d TableDescriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// NonKeyColumns returns every column except the conflict key.
func (d TableDescriptor) NonKeyColumns() []string {
	names := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		if c.Name != d.ConflictKey {
			names = append(names, c.Name)
		}
	}
	return names
}

// CommonColumns intersects the destination columns with the source's
// column set, preserving destination order. Destination-only columns are
// left out: they stay NULL/default in staging.
func CommonColumns(dest []Column, source []string) []Column {
	onSource := make(map[string]bool, len(source))
	for _, s := range source {
		onSource[s] = true
	}

	var common []Column
	for _, c := range dest {
		if onSource[c.Name] {
			common = append(common, c)
		}
	}
	return common
}
