package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/almanac/internal/models"
	"github.com/zulandar/almanac/internal/store"
	"go.uber.org/zap"
)

// Color constants for severity, shared by the chat sinks.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// SeverityColor maps a severity to a sidebar color.
func SeverityColor(severity string) string {
	switch severity {
	case models.SeveritySuccess:
		return ColorSuccess
	case models.SeverityWarning:
		return ColorWarning
	case models.SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// Sink receives every notification after it is stored.
type Sink interface {
	Name() string
	Send(ctx context.Context, n *models.Notification) error
}

// Notifier persists notifications and forwards them to sinks. Sink
// failures are logged and never surface to the caller.
type Notifier struct {
	st    store.Store
	sinks []Sink
	log   *zap.Logger
}

// NewNotifier creates a Notifier over st. log may be nil.
func NewNotifier(st store.Store, log *zap.Logger, sinks ...Sink) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{st: st, sinks: sinks, log: log}
}

// Notify stores a notification and fans it out.
func (n *Notifier) Notify(ctx context.Context, typ, title, message string, opts Opts) (*models.Notification, error) {
	note, err := Add(ctx, n.st, typ, title, message, opts)
	if err != nil {
		return nil, err
	}
	for _, s := range n.sinks {
		if err := s.Send(ctx, note); err != nil {
			n.log.Warn("notification sink failed",
				zap.String("sink", s.Name()),
				zap.String("type", typ),
				zap.Error(err))
		}
	}
	return note, nil
}

func label(orgID, orgName string) string {
	if orgName != "" {
		return orgName
	}
	return orgID
}

// DraftCreated reports a new draft from a fetch.
func (n *Notifier) DraftCreated(ctx context.Context, orgID, orgName, serviceID string, variables int) (*models.Notification, error) {
	return n.Notify(ctx, models.NotifyDraftCreated,
		"New draft: "+label(orgID, orgName),
		fmt.Sprintf("Fetched service %q (%d variables)", serviceID, variables),
		Opts{OrgID: orgID, ServiceID: serviceID, Payload: map[string]any{"variable_count": variables}})
}

// DraftApproved reports a draft merged into the variable store.
func (n *Notifier) DraftApproved(ctx context.Context, orgID, orgName, serviceID string, variables int) (*models.Notification, error) {
	return n.Notify(ctx, models.NotifyDraftApproved,
		"Draft approved: "+label(orgID, orgName),
		fmt.Sprintf("Approved the draft for service %q (%d variables applied)", serviceID, variables),
		Opts{OrgID: orgID, ServiceID: serviceID, Payload: map[string]any{"variable_count": variables}})
}

// DraftRejected reports a discarded draft. The reason becomes the message
// when given.
func (n *Notifier) DraftRejected(ctx context.Context, orgID, orgName, serviceID, reason string) (*models.Notification, error) {
	msg := reason
	if msg == "" {
		msg = fmt.Sprintf("Rejected the draft for service %q", serviceID)
	}
	var payload map[string]any
	if reason != "" {
		payload = map[string]any{"reason": reason}
	}
	return n.Notify(ctx, models.NotifyDraftRejected,
		"Draft rejected: "+label(orgID, orgName), msg,
		Opts{OrgID: orgID, ServiceID: serviceID, Payload: payload})
}

// VariableUpdated reports manual or imported variable writes.
func (n *Notifier) VariableUpdated(ctx context.Context, orgID, orgName string, variables int) (*models.Notification, error) {
	return n.Notify(ctx, models.NotifyVariableUpdated,
		"Variables updated: "+label(orgID, orgName),
		fmt.Sprintf("Updated %d variables", variables),
		Opts{OrgID: orgID, Payload: map[string]any{"variable_count": variables}})
}

// CronCompleted reports a finished batch run. Any error downgrades the
// severity to warning.
func (n *Notifier) CronCompleted(ctx context.Context, processed, servicesUpdated, errs int, took time.Duration) (*models.Notification, error) {
	severity := models.SeveritySuccess
	if errs > 0 {
		severity = models.SeverityWarning
	}
	return n.Notify(ctx, models.NotifyCronCompleted,
		"Scheduled update completed",
		fmt.Sprintf("Processed %d organizations (%d services updated, %d errors)", processed, servicesUpdated, errs),
		Opts{Severity: severity, Payload: map[string]any{
			"processed_count":  processed,
			"services_updated": servicesUpdated,
			"errors":           errs,
			"duration_ms":      took.Milliseconds(),
		}})
}

// CronFailed reports a scheduled run that could not complete.
func (n *Notifier) CronFailed(ctx context.Context, runErr error) (*models.Notification, error) {
	return n.Notify(ctx, models.NotifyCronFailed, "Scheduled update failed", runErr.Error(), Opts{})
}

// CronInterrupted reports a scheduled run cut short by its deadline or a
// cancellation, with what it got done before stopping.
func (n *Notifier) CronInterrupted(ctx context.Context, runErr error, processed, servicesUpdated, errs int, took time.Duration) (*models.Notification, error) {
	return n.Notify(ctx, models.NotifyCronFailed,
		"Scheduled update failed",
		fmt.Sprintf("%v after %d organizations (%d services updated, %d errors)", runErr, processed, servicesUpdated, errs),
		Opts{Payload: map[string]any{
			"processed_count":  processed,
			"services_updated": servicesUpdated,
			"errors":           errs,
			"duration_ms":      took.Milliseconds(),
		}})
}

// FetchCompleted reports a finished extraction job.
func (n *Notifier) FetchCompleted(ctx context.Context, orgID, orgName string, services, variables int) (*models.Notification, error) {
	return n.Notify(ctx, models.NotifyFetchCompleted,
		"Fetch completed: "+label(orgID, orgName),
		fmt.Sprintf("Fetched %d variables from %d services", variables, services),
		Opts{OrgID: orgID, Payload: map[string]any{"services_count": services, "total_variables": variables}})
}

// FetchFailed reports an extraction job that ended failed.
func (n *Notifier) FetchFailed(ctx context.Context, orgID, orgName, message string) (*models.Notification, error) {
	return n.Notify(ctx, models.NotifyFetchFailed,
		"Fetch failed: "+label(orgID, orgName), message,
		Opts{OrgID: orgID})
}

// SourceChanged reports upstream pages whose content moved. orgID is empty
// for a run-wide summary.
func (n *Notifier) SourceChanged(ctx context.Context, orgID, orgName string, variables, pages int) (*models.Notification, error) {
	title := "Source pages changed"
	if orgID != "" {
		title += ": " + label(orgID, orgName)
	}
	return n.Notify(ctx, models.NotifySourceChanged, title,
		fmt.Sprintf("%d variables have changed sources; %d pages need review", variables, pages),
		Opts{Severity: models.SeverityWarning, OrgID: orgID, Payload: map[string]any{
			"changed_variables": variables,
			"affected_pages":    pages,
		}})
}

// ReviewResolved reports an approved or dismissed page review.
func (n *Notifier) ReviewResolved(ctx context.Context, orgID, orgName, page, actor string, dismissed bool) (*models.Notification, error) {
	typ, verb := models.NotifyReviewApproved, "approved"
	if dismissed {
		typ, verb = models.NotifyReviewDismissed, "dismissed"
	}
	return n.Notify(ctx, typ,
		"Page review "+verb+": "+label(orgID, orgName),
		fmt.Sprintf("%s %s the review of %s", actor, verb, page),
		Opts{OrgID: orgID, Payload: map[string]any{"page": page}})
}
