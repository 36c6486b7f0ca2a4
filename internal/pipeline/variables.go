package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/zulandar/almanac/internal/history"
	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/variable"
	"go.uber.org/zap"
)

// UpdateVariables writes manual values. Only variables whose value changed
// are recorded in history.
func (s *Service) UpdateVariables(ctx context.Context, orgID, actor string, updates map[string]string) ([]models.VariableChange, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("pipeline: no variables to update: %w", ErrValidation)
	}
	for name := range updates {
		if !variable.ValidName(name) {
			return nil, fmt.Errorf("pipeline: invalid variable name %q: %w", name, ErrValidation)
		}
	}
	now := time.Now()
	entries := make(map[string]models.VariableEntry, len(updates))
	for name, value := range updates {
		entries[name] = models.VariableEntry{Value: value, Source: models.SourceManual, UpdatedAt: now}
	}
	return s.writeVariables(ctx, orgID, actor, models.SourceManual, entries, fmt.Sprintf("Manual update of %d variables", len(entries)))
}

// ImportCSV reads variable,value[,source_url] rows and merges them.
func (s *Service) ImportCSV(ctx context.Context, orgID, actor string, r io.Reader) ([]models.VariableChange, error) {
	rows, err := variable.ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("pipeline: csv has no rows: %w", ErrValidation)
	}
	entries := variable.Entries(rows, models.SourceImport, time.Now())
	return s.writeVariables(ctx, orgID, actor, models.SourceImport, entries, fmt.Sprintf("Imported %d variables from CSV", len(entries)))
}

func (s *Service) writeVariables(ctx context.Context, orgID, actor, source string, entries map[string]models.VariableEntry, comment string) ([]models.VariableChange, error) {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	changes, err := variable.Merge(ctx, s.st, orgID, entries)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return changes, nil
	}

	if len(changes) == 1 {
		c := changes[0]
		_, err = history.RecordVariableUpdate(ctx, s.st, orgID, actor, source, c.VariableName, c.OldValue, c.NewValue)
	} else {
		_, err = history.RecordBulkUpdate(ctx, s.st, orgID, actor, source, changes, comment)
	}
	if err != nil {
		return nil, err
	}
	s.logNotify(s.notifier.VariableUpdated(ctx, orgID, s.orgName(orgID), len(changes)))

	names := make([]string, 0, len(changes))
	for _, c := range changes {
		names = append(names, c.VariableName)
	}
	s.invalidate(orgID, names)
	s.log.Info("variables updated",
		zap.String("org", orgID),
		zap.String("actor", actor),
		zap.String("source", source),
		zap.Int("changes", len(changes)),
	)
	return changes, nil
}

// DeleteVariable removes one published variable.
func (s *Service) DeleteVariable(ctx context.Context, orgID, actor, name string) error {
	unlock, err := s.lockOrg(orgID)
	if err != nil {
		return err
	}
	defer unlock()

	old, err := variable.Delete(ctx, s.st, orgID, name)
	if err != nil {
		return err
	}
	oldValue := old.Value
	if _, err := history.RecordVariableUpdate(ctx, s.st, orgID, actor, models.SourceManual, name, &oldValue, nil); err != nil {
		return err
	}
	s.logNotify(s.notifier.VariableUpdated(ctx, orgID, s.orgName(orgID), 1))
	s.invalidate(orgID, []string{name})
	s.log.Info("variable deleted", zap.String("org", orgID), zap.String("name", name), zap.String("actor", actor))
	return nil
}
