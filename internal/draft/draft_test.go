package draft

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
	"github.com/zulandar/almanac/internal/store/storetest"
)

func floatPtr(f float64) *float64 { return &f }

func create(t *testing.T, st store.Store, org, service string, in Input) *models.Draft {
	t.Helper()
	d, err := Create(context.Background(), st, org, service, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return d
}

func assertDisjoint(t *testing.T, d *models.Draft) {
	t.Helper()
	for _, m := range d.MissingVariables {
		if _, ok := d.Variables[m]; ok {
			t.Errorf("%q is both filled and missing", m)
		}
	}
}

func TestCreate_NormalizesFilledAndMissing(t *testing.T) {
	st := storetest.New(t)
	d := create(t, st, "tokyo", "health", Input{
		Variables: map[string]models.DraftVariable{
			"kokuho_phone": {Value: "03-1234-5678", Confidence: floatPtr(0.9)},
			"kokuho_email": {Value: ""},
		},
		Missing:  []string{"kokuho_phone", "kokuho_hours"},
		Expected: []string{"kokuho_phone", "kokuho_fax"},
	})

	if d.ID != "tokyo-health" || d.Status != models.DraftStatusDraft {
		t.Errorf("draft = %+v", d)
	}
	if len(d.Variables) != 1 {
		t.Errorf("Variables = %v", d.Variables)
	}
	want := []string{"kokuho_email", "kokuho_fax", "kokuho_hours"}
	if len(d.MissingVariables) != len(want) {
		t.Fatalf("MissingVariables = %v, want %v", d.MissingVariables, want)
	}
	for i := range want {
		if d.MissingVariables[i] != want[i] {
			t.Errorf("MissingVariables = %v, want %v", d.MissingVariables, want)
		}
	}
	if d.Metadata.FilledVariables != 1 || d.Metadata.TotalVariables != 4 {
		t.Errorf("Metadata = %+v", d.Metadata)
	}
	assertDisjoint(t, d)
}

func TestCreate_DropsSuggestionsForFilled(t *testing.T) {
	st := storetest.New(t)
	d := create(t, st, "org", "svc", Input{
		Variables: map[string]models.DraftVariable{"a": {Value: "1"}},
		Missing:   []string{"b"},
		Suggestions: []models.Suggestion{
			{VariableName: "a", Reason: "stale"},
			{VariableName: "b", Reason: "see faq"},
		},
	})
	if len(d.Suggestions) != 1 || d.Suggestions[0].VariableName != "b" {
		t.Fatalf("Suggestions = %+v", d.Suggestions)
	}
	if d.Suggestions[0].Status != models.SuggestionSuggested {
		t.Errorf("Status = %q", d.Suggestions[0].Status)
	}
}

func TestCreate_LastFetchWins(t *testing.T) {
	st := storetest.New(t)
	create(t, st, "org", "svc", Input{Variables: map[string]models.DraftVariable{"a": {Value: "1"}}})
	create(t, st, "org", "svc", Input{Variables: map[string]models.DraftVariable{"a": {Value: "2"}}})

	got, err := Get(context.Background(), st, "org", "svc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Variables["a"].Value != "2" {
		t.Errorf("a = %q, want 2", got.Variables["a"].Value)
	}
}

func TestCreate_RefusesPendingApproval(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	create(t, st, "org", "svc", Input{})
	if _, err := Modify(ctx, st, "org", "svc", func(d *models.Draft) error {
		d.Metadata.PendingApproval = &models.PendingApproval{Actor: "alice"}
		return nil
	}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	_, err := Create(ctx, st, "org", "svc", Input{})
	if !errors.Is(err, ErrApprovalPending) {
		t.Errorf("err = %v, want ErrApprovalPending", err)
	}
}

func TestEdits_RefusePendingApproval(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	create(t, st, "org", "svc", Input{Variables: map[string]models.DraftVariable{"kokuho_phone": {Value: "03-1111-2222"}}})
	if _, err := Modify(ctx, st, "org", "svc", func(d *models.Draft) error {
		d.Metadata.PendingApproval = &models.PendingApproval{Actor: "alice"}
		return nil
	}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	edits := map[string]func() error{
		"accept": func() error {
			_, err := Accept(ctx, st, "org", "svc", "kokuho_fax", "03-1111-3333", "", nil)
			return err
		},
		"update": func() error {
			_, err := UpdateVariables(ctx, st, "org", "svc", map[string]VariableUpdate{"kokuho_phone": {Value: "03-9999-9999"}})
			return err
		},
		"submit": func() error {
			_, err := Submit(ctx, st, "org", "svc")
			return err
		},
	}
	for name, edit := range edits {
		if err := edit(); !errors.Is(err, ErrApprovalPending) {
			t.Errorf("%s err = %v, want ErrApprovalPending", name, err)
		}
	}

	d, err := Get(ctx, st, "org", "svc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Variables["kokuho_phone"].Value != "03-1111-2222" || len(d.Variables) != 1 {
		t.Errorf("variables = %+v, want unchanged", d.Variables)
	}
}

func TestGet_NotFound(t *testing.T) {
	st := storetest.New(t)
	_, err := Get(context.Background(), st, "org", "none")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	if err.Error() != "draft: get org-none: store: get draft/org/none: record not found" {
		t.Errorf("err = %q", err.Error())
	}
}

func TestModify_Missing(t *testing.T) {
	st := storetest.New(t)
	_, err := Modify(context.Background(), st, "org", "none", func(*models.Draft) error { return nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestSubmit(t *testing.T) {
	st := storetest.New(t)
	create(t, st, "org", "svc", Input{})
	d, err := Submit(context.Background(), st, "org", "svc")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if d.Status != models.DraftStatusPendingReview {
		t.Errorf("Status = %q", d.Status)
	}
}

func TestTerminalDraftsRefuseMutation(t *testing.T) {
	for _, status := range []string{models.DraftStatusApproved, models.DraftStatusRejected} {
		t.Run(status, func(t *testing.T) {
			st := storetest.New(t)
			ctx := context.Background()
			create(t, st, "org", "svc", Input{Missing: []string{"a"}, Suggestions: []models.Suggestion{{VariableName: "a"}}})
			Modify(ctx, st, "org", "svc", func(d *models.Draft) error {
				d.Status = status
				return nil
			})

			if _, err := Submit(ctx, st, "org", "svc"); !errors.Is(err, ErrTerminal) {
				t.Errorf("Submit err = %v", err)
			}
			if _, err := UpdateVariables(ctx, st, "org", "svc", map[string]VariableUpdate{"a": {Value: "x"}}); !errors.Is(err, ErrTerminal) {
				t.Errorf("UpdateVariables err = %v", err)
			}
			if _, err := Accept(ctx, st, "org", "svc", "a", "x", "", nil); !errors.Is(err, ErrTerminal) {
				t.Errorf("Accept err = %v", err)
			}
			if _, err := SetSuggestionStatus(ctx, st, "org", "svc", "a", models.SuggestionRejected); !errors.Is(err, ErrTerminal) {
				t.Errorf("SetSuggestionStatus err = %v", err)
			}
		})
	}
}

func TestUpdateVariables(t *testing.T) {
	st := storetest.New(t)
	create(t, st, "org", "svc", Input{
		Variables:   map[string]models.DraftVariable{"a": {Value: "1", SourceURL: "https://a", Confidence: floatPtr(0.5)}},
		Missing:     []string{"b"},
		Suggestions: []models.Suggestion{{VariableName: "b"}},
	})

	url := "https://b"
	d, err := UpdateVariables(context.Background(), st, "org", "svc", map[string]VariableUpdate{
		"a": {Value: "2"},
		"b": {Value: "new", SourceURL: &url},
	})
	if err != nil {
		t.Fatalf("UpdateVariables: %v", err)
	}
	if a := d.Variables["a"]; a.Value != "2" || a.SourceURL != "https://a" || *a.Confidence != 0.5 {
		t.Errorf("a = %+v", a)
	}
	if b := d.Variables["b"]; b.Value != "new" || !b.Validated || *b.Confidence != 1.0 || b.SourceURL != url {
		t.Errorf("b = %+v", b)
	}
	if len(d.MissingVariables) != 0 {
		t.Errorf("MissingVariables = %v", d.MissingVariables)
	}
	if d.Suggestions[0].Status != models.SuggestionAccepted {
		t.Errorf("suggestion = %q", d.Suggestions[0].Status)
	}
	if d.Metadata.FilledVariables != 2 {
		t.Errorf("FilledVariables = %d", d.Metadata.FilledVariables)
	}
	assertDisjoint(t, d)
}

func TestAccept(t *testing.T) {
	st := storetest.New(t)
	create(t, st, "org", "svc", Input{
		Missing:     []string{"kokuho_phone"},
		Suggestions: []models.Suggestion{{VariableName: "kokuho_phone", Reason: "on the contact page"}},
	})

	d, err := Accept(context.Background(), st, "org", "svc", "kokuho_phone", "03-1234-5678", "https://city.example/contact", floatPtr(0.8))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	v := d.Variables["kokuho_phone"]
	if v.Value != "03-1234-5678" || !v.Validated || *v.Confidence != 0.8 {
		t.Errorf("variable = %+v", v)
	}
	if len(d.MissingVariables) != 0 || d.Suggestions[0].Status != models.SuggestionAccepted {
		t.Errorf("draft = %+v", d)
	}
}

func TestSetSuggestionStatus_Unknown(t *testing.T) {
	st := storetest.New(t)
	create(t, st, "org", "svc", Input{})
	_, err := SetSuggestionStatus(context.Background(), st, "org", "svc", "nope", models.SuggestionRejected)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestListAndStats(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	create(t, st, "a-org", "svc1", Input{})
	create(t, st, "a-org", "svc2", Input{})
	create(t, st, "b-org", "svc1", Input{})
	Submit(ctx, st, "a-org", "svc2")

	all, err := List(ctx, st, "", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d", len(all))
	}
	if all[0].ID != "a-org-svc2" {
		t.Errorf("most recent = %q, want a-org-svc2", all[0].ID)
	}

	pending, err := List(ctx, st, "", models.DraftStatusPendingReview)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 || pending[0].Service != "svc2" {
		t.Errorf("pending = %+v", pending)
	}

	byOrg, _ := List(ctx, st, "b-org", "")
	if len(byOrg) != 1 {
		t.Errorf("b-org = %+v", byOrg)
	}

	stats, err := GetStats(ctx, st)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[models.DraftStatusDraft] != 2 || stats.ByOrg["a-org"] != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDelete(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	create(t, st, "org", "svc", Input{})
	if err := Delete(ctx, st, "org", "svc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := Delete(ctx, st, "org", "svc"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete: %v", err)
	}
}

func TestCompare(t *testing.T) {
	d := &models.Draft{ID: "org-svc", Variables: map[string]models.DraftVariable{
		"new":  {Value: "1"},
		"same": {Value: "2"},
		"diff": {Value: "3"},
	}}
	current := map[string]models.VariableEntry{
		"same":  {Value: "2"},
		"diff":  {Value: "old"},
		"other": {Value: "x"},
	}
	c := Compare(d, current)
	if c.AddedCount != 1 || c.ModifiedCount != 1 || !c.HasChanges() {
		t.Errorf("counts = %+v", c)
	}
	order := []string{"new", "diff", "same"}
	for i, name := range order {
		if c.Entries[i].VariableName != name {
			t.Errorf("Entries[%d] = %q, want %q", i, c.Entries[i].VariableName, name)
		}
	}
	if *c.Entries[1].OldValue != "old" {
		t.Errorf("diff old = %v", c.Entries[1].OldValue)
	}
}
