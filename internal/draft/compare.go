package draft

import (
	"sort"

	"github.com/zulandar/almanac/internal/models"
)

// Kinds of difference between a draft variable and the published value.
const (
	DiffAdded     = "added"
	DiffModified  = "modified"
	DiffUnchanged = "unchanged"
)

// DiffEntry compares one draft variable with the published value.
type DiffEntry struct {
	VariableName string  `json:"variable_name"`
	OldValue     *string `json:"old_value"`
	NewValue     string  `json:"new_value"`
	Change       string  `json:"change"`
}

// Comparison is what approving a draft would do to the published values.
type Comparison struct {
	DraftID       string      `json:"draft_id"`
	Entries       []DiffEntry `json:"entries"`
	AddedCount    int         `json:"added_count"`
	ModifiedCount int         `json:"modified_count"`
}

// HasChanges reports whether approval would change anything.
func (c *Comparison) HasChanges() bool {
	return c.AddedCount > 0 || c.ModifiedCount > 0
}

var diffOrder = map[string]int{DiffAdded: 0, DiffModified: 1, DiffUnchanged: 2}

// Compare diffs the draft's variables against the published snapshot.
// Entries are ordered added, modified, unchanged, then by name.
func Compare(d *models.Draft, current map[string]models.VariableEntry) *Comparison {
	c := &Comparison{DraftID: d.ID, Entries: []DiffEntry{}}
	for name, v := range d.Variables {
		e := DiffEntry{VariableName: name, NewValue: v.Value, Change: DiffAdded}
		if old, ok := current[name]; ok {
			oldValue := old.Value
			e.OldValue = &oldValue
			e.Change = DiffModified
			if oldValue == v.Value {
				e.Change = DiffUnchanged
			}
		}
		switch e.Change {
		case DiffAdded:
			c.AddedCount++
		case DiffModified:
			c.ModifiedCount++
		}
		c.Entries = append(c.Entries, e)
	}
	sort.Slice(c.Entries, func(i, j int) bool {
		a, b := c.Entries[i], c.Entries[j]
		if diffOrder[a.Change] != diffOrder[b.Change] {
			return diffOrder[a.Change] < diffOrder[b.Change]
		}
		return a.VariableName < b.VariableName
	})
	return c
}
