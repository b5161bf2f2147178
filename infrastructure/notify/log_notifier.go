package notify

import (
	"context"
	"log/slog"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var (
	_ ports.Notifier = (*LogNotifier)(nil)
	_ ports.Notifier = Fanout(nil)
)

// LogNotifier writes every event to a structured logger. It is the
// notifier of last resort when no transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs event at Info.
func (n *LogNotifier) Notify(ctx context.Context, event domain.Event) {
	attrs := []any{
		"type", event.Type,
		"evaluation_id", event.EvaluationID,
	}
	if event.VendorID != "" {
		attrs = append(attrs, "vendor_id", event.VendorID)
	}
	if event.CriterionID != "" {
		attrs = append(attrs, "criterion_id", event.CriterionID)
	}
	if event.Scope != nil {
		attrs = append(attrs, "scope", event.Scope.String())
	}
	for k, v := range event.Detail {
		attrs = append(attrs, k, v)
	}
	n.logger.InfoContext(ctx, "scoring event", attrs...)
}

// Fanout hands each event to every notifier in order.
type Fanout []ports.Notifier

// Notify forwards event.
func (f Fanout) Notify(ctx context.Context, event domain.Event) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}
