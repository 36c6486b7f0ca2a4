// Package draft stores extraction results awaiting review, one draft per
// (organization, service). Approved and rejected drafts are frozen.
package draft

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
)

const kind = "draft"

var (
	// ErrTerminal is returned when mutating an approved or rejected draft.
	ErrTerminal = errors.New("draft is approved or rejected")
	// ErrApprovalPending is returned when replacing or editing a draft
	// whose approval has started but not finished.
	ErrApprovalPending = errors.New("draft approval in progress")
)

// ID is the draft identifier for an (organization, service) pair.
func ID(orgID, service string) string {
	return orgID + "-" + service
}

func key(orgID, service string) store.Key {
	return store.Key{Kind: kind, OrgID: orgID, SubKey: service}
}

// Input is what a fetch produced for one service.
type Input struct {
	FetchJobID  string
	Variables   map[string]models.DraftVariable
	Missing     []string
	Expected    []string
	Suggestions []models.Suggestion
	Errors      []models.DraftError
}

// Create builds a draft from a fetch and stores it, replacing any draft for
// the same pair. Variables with an empty value count as missing, as does
// every expected variable the fetch did not fill, so a name is never both
// filled and missing.
func Create(ctx context.Context, st store.Store, orgID, service string, in Input) (*models.Draft, error) {
	if existing, err := Get(ctx, st, orgID, service); err == nil {
		if existing.Metadata.PendingApproval != nil {
			return nil, fmt.Errorf("draft: create %s: %w", ID(orgID, service), ErrApprovalPending)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	vars := make(map[string]models.DraftVariable, len(in.Variables))
	for name, v := range in.Variables {
		if v.Value == "" {
			continue
		}
		vars[name] = v
	}

	missingSet := make(map[string]bool)
	for _, name := range in.Missing {
		missingSet[name] = true
	}
	for _, name := range in.Expected {
		missingSet[name] = true
	}
	for name := range in.Variables {
		missingSet[name] = true
	}
	missing := []string{}
	for name := range missingSet {
		if _, filled := vars[name]; !filled {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)

	suggestions := make([]models.Suggestion, 0, len(in.Suggestions))
	for _, s := range in.Suggestions {
		if _, filled := vars[s.VariableName]; filled {
			continue
		}
		if s.Status == "" {
			s.Status = models.SuggestionSuggested
		}
		suggestions = append(suggestions, s)
	}

	draftErrs := make([]models.DraftError, 0, len(in.Errors))
	for _, e := range in.Errors {
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		draftErrs = append(draftErrs, e)
	}

	d := &models.Draft{
		ID:               ID(orgID, service),
		OrgID:            orgID,
		Service:          service,
		Status:           models.DraftStatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
		Variables:        vars,
		MissingVariables: missing,
		Suggestions:      suggestions,
		Errors:           draftErrs,
		Metadata: models.DraftMetadata{
			FetchJobID:      in.FetchJobID,
			TotalVariables:  len(vars) + len(missing),
			FilledVariables: len(vars),
		},
	}
	if err := Save(ctx, st, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get loads one draft.
func Get(ctx context.Context, st store.Store, orgID, service string) (*models.Draft, error) {
	var d models.Draft
	if _, err := store.GetJSON(ctx, st, key(orgID, service), &d); err != nil {
		return nil, fmt.Errorf("draft: get %s: %w", ID(orgID, service), err)
	}
	return &d, nil
}

// Save writes d unconditionally and stamps UpdatedAt.
func Save(ctx context.Context, st store.Store, d *models.Draft) error {
	d.UpdatedAt = time.Now()
	if _, err := store.PutJSON(ctx, st, key(d.OrgID, d.Service), d, store.AnyVersion); err != nil {
		return fmt.Errorf("draft: save %s: %w", d.ID, err)
	}
	return nil
}

// Modify runs fn on the stored draft and writes it back, guarded by the
// version that was read. Unlike the mutators below it does not refuse
// terminal drafts; fn decides.
func Modify(ctx context.Context, st store.Store, orgID, service string, fn func(d *models.Draft) error) (*models.Draft, error) {
	d, err := store.Update(ctx, st, key(orgID, service), func(d *models.Draft, exists bool) error {
		if !exists {
			return store.ErrNotFound
		}
		if err := fn(d); err != nil {
			return err
		}
		d.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("draft: update %s: %w", ID(orgID, service), err)
	}
	return d, nil
}

// modifyLive is Modify for the mutations that terminal drafts refuse. A
// draft with an unfinished approval refuses them too, since the approval
// publishes the values it captured when it started.
func modifyLive(ctx context.Context, st store.Store, orgID, service string, fn func(d *models.Draft) error) (*models.Draft, error) {
	return Modify(ctx, st, orgID, service, func(d *models.Draft) error {
		if d.IsTerminal() {
			return ErrTerminal
		}
		if d.Metadata.PendingApproval != nil {
			return ErrApprovalPending
		}
		return fn(d)
	})
}

// Delete removes one draft.
func Delete(ctx context.Context, st store.Store, orgID, service string) error {
	if err := st.Delete(ctx, key(orgID, service)); err != nil {
		return fmt.Errorf("draft: delete %s: %w", ID(orgID, service), err)
	}
	return nil
}

// Submit moves a draft to pending_review.
func Submit(ctx context.Context, st store.Store, orgID, service string) (*models.Draft, error) {
	return modifyLive(ctx, st, orgID, service, func(d *models.Draft) error {
		d.Status = models.DraftStatusPendingReview
		return nil
	})
}

// VariableUpdate is a manual edit of one draft variable. Nil fields keep
// their current value.
type VariableUpdate struct {
	Value      string   `json:"value"`
	SourceURL  *string  `json:"source_url,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Validated  *bool    `json:"validated,omitempty"`
}

// UpdateVariables applies manual edits. A name that was missing becomes
// filled, validated and fully confident unless the update says otherwise,
// and any suggestion for it is accepted.
func UpdateVariables(ctx context.Context, st store.Store, orgID, service string, updates map[string]VariableUpdate) (*models.Draft, error) {
	return modifyLive(ctx, st, orgID, service, func(d *models.Draft) error {
		now := time.Now()
		if d.Variables == nil {
			d.Variables = make(map[string]models.DraftVariable)
		}
		for name, u := range updates {
			v, ok := d.Variables[name]
			if !ok {
				one := 1.0
				v = models.DraftVariable{Confidence: &one, Validated: true}
			}
			v.Value = u.Value
			v.ExtractedAt = &now
			if u.SourceURL != nil {
				v.SourceURL = *u.SourceURL
			}
			if u.Confidence != nil {
				c := *u.Confidence
				v.Confidence = &c
			}
			if u.Validated != nil {
				v.Validated = *u.Validated
			}
			d.Variables[name] = v
			fill(d, name)
		}
		return nil
	})
}

// Accept writes value into the draft as validated, removes the name from
// the missing list and accepts the matching suggestion if there is one.
func Accept(ctx context.Context, st store.Store, orgID, service, name, value, sourceURL string, confidence *float64) (*models.Draft, error) {
	return modifyLive(ctx, st, orgID, service, func(d *models.Draft) error {
		now := time.Now()
		if d.Variables == nil {
			d.Variables = make(map[string]models.DraftVariable)
		}
		v := models.DraftVariable{
			Value:       value,
			SourceURL:   sourceURL,
			ExtractedAt: &now,
			Validated:   true,
		}
		if confidence != nil {
			c := *confidence
			v.Confidence = &c
		}
		d.Variables[name] = v
		fill(d, name)
		return nil
	})
}

// fill records that name now has a value and keeps the counts in step.
func fill(d *models.Draft, name string) {
	missing := []string{}
	for _, m := range d.MissingVariables {
		if m != name {
			missing = append(missing, m)
		}
	}
	d.MissingVariables = missing
	for i := range d.Suggestions {
		if d.Suggestions[i].VariableName == name {
			d.Suggestions[i].Status = models.SuggestionAccepted
		}
	}
	d.Metadata.FilledVariables = len(d.Variables)
	d.Metadata.TotalVariables = len(d.Variables) + len(d.MissingVariables)
}

// SetSuggestionStatus changes the status of the suggestion for name.
func SetSuggestionStatus(ctx context.Context, st store.Store, orgID, service, name, status string) (*models.Draft, error) {
	return modifyLive(ctx, st, orgID, service, func(d *models.Draft) error {
		for i := range d.Suggestions {
			if d.Suggestions[i].VariableName == name {
				d.Suggestions[i].Status = status
				return nil
			}
		}
		return fmt.Errorf("suggestion %s: %w", name, store.ErrNotFound)
	})
}
