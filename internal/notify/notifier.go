// Package notify delivers pipeline run alerts to chat webhooks. Alerts are
// dispatched to every registered sender and can be filtered by event type so
// operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/edgefinder/internal/domain"
)

// Event types produced by RunEvent.
const (
	EventRunFailed    = "run.failed"
	EventRunDegraded  = "run.degraded"
	EventRunCompleted = "run.completed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards events in the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends a notification to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyRun alerts on a finished run. Clean completions are sent only when
// EventRunCompleted is explicitly allowed.
func (n *Notifier) NotifyRun(ctx context.Context, run domain.PipelineRun) error {
	if !n.Enabled() {
		return nil
	}
	event := RunEvent(run)
	if event == EventRunCompleted && !n.events[EventRunCompleted] {
		return nil
	}
	title, message := FormatRun(run)
	return n.Notify(ctx, event, title, message)
}

// RunEvent classifies a finished run.
func RunEvent(run domain.PipelineRun) string {
	switch {
	case run.Status == domain.RunFailed:
		return EventRunFailed
	case run.Degraded():
		return EventRunDegraded
	default:
		return EventRunCompleted
	}
}

// FormatRun renders the title and body of a run alert.
func FormatRun(run domain.PipelineRun) (string, string) {
	var title string
	switch RunEvent(run) {
	case EventRunFailed:
		title = "Pipeline run failed"
	case EventRunDegraded:
		title = "Pipeline run degraded"
	default:
		title = "Pipeline run completed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)\n", run.ID, run.Status)
	for _, st := range run.Stages {
		fmt.Fprintf(&b, "- %s: %s", st.Stage, st.Status)
		for _, e := range st.Errors {
			fmt.Fprintf(&b, " [%s] %s", e.Kind, e.Message)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "matches: %d", run.MatchCount)
	if run.DatasetID != "" {
		fmt.Fprintf(&b, ", dataset: %s", run.DatasetID)
	}
	return title, b.String()
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
