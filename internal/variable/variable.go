// Package variable is the published per-organization variable store: one
// record per organization holding every variable entry.
package variable

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

const kind = "variables"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidName reports whether name can be used as a variable name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

func key(orgID string) store.Key {
	return store.Key{Kind: kind, OrgID: orgID}
}

// Load returns the organization's variables. An organization with no
// record has an empty snapshot.
func Load(ctx context.Context, st store.Store, orgID string) (map[string]models.VariableEntry, error) {
	vars := make(map[string]models.VariableEntry)
	if _, err := store.GetJSON(ctx, st, key(orgID), &vars); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return vars, nil
		}
		return nil, fmt.Errorf("variable: load %s: %w", orgID, err)
	}
	return vars, nil
}

// Get returns one variable.
func Get(ctx context.Context, st store.Store, orgID, name string) (*models.VariableEntry, error) {
	vars, err := Load(ctx, st, orgID)
	if err != nil {
		return nil, err
	}
	e, ok := vars[name]
	if !ok {
		return nil, fmt.Errorf("variable: %s/%s: %w", orgID, name, store.ErrNotFound)
	}
	return &e, nil
}

// Modify runs fn over the organization's variables and writes the result
// back, guarded by the version that was read.
func Modify(ctx context.Context, st store.Store, orgID string, fn func(vars map[string]models.VariableEntry) error) (map[string]models.VariableEntry, error) {
	out, err := store.Update(ctx, st, key(orgID), func(vars *map[string]models.VariableEntry, _ bool) error {
		if *vars == nil {
			*vars = make(map[string]models.VariableEntry)
		}
		return fn(*vars)
	})
	if err != nil {
		return nil, fmt.Errorf("variable: update %s: %w", orgID, err)
	}
	return *out, nil
}

// Merge writes entries over the organization's variables and returns the
// (old, new) pair of every variable whose value changed, sorted by name.
// Entries whose value is unchanged are still rewritten so their source and
// timestamps move.
func Merge(ctx context.Context, st store.Store, orgID string, entries map[string]models.VariableEntry) ([]models.VariableChange, error) {
	var changes []models.VariableChange
	_, err := Modify(ctx, st, orgID, func(vars map[string]models.VariableEntry) error {
		changes = Diff(vars, entries)
		for name, e := range entries {
			vars[name] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// Diff computes the changes that writing entries over current would make.
func Diff(current, entries map[string]models.VariableEntry) []models.VariableChange {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	changes := []models.VariableChange{}
	for _, name := range names {
		newValue := entries[name].Value
		old, existed := current[name]
		if existed && old.Value == newValue {
			continue
		}
		c := models.VariableChange{VariableName: name, NewValue: &newValue}
		if existed {
			oldValue := old.Value
			c.OldValue = &oldValue
		}
		changes = append(changes, c)
	}
	return changes
}

// Delete removes one variable and returns its last entry.
func Delete(ctx context.Context, st store.Store, orgID, name string) (*models.VariableEntry, error) {
	var removed models.VariableEntry
	_, err := Modify(ctx, st, orgID, func(vars map[string]models.VariableEntry) error {
		e, ok := vars[name]
		if !ok {
			return fmt.Errorf("%s: %w", name, store.ErrNotFound)
		}
		removed = e
		delete(vars, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// Orgs lists every organization with a variable record.
func Orgs(ctx context.Context, st store.Store) ([]string, error) {
	keys, err := st.List(ctx, kind, "")
	if err != nil {
		return nil, fmt.Errorf("variable: list orgs: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.OrgID)
	}
	return out, nil
}
