package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

// TracerName is the instrumentation name of engine spans.
const TracerName = "scoring-engine"

// Span attribute keys set on engine operations.
const (
	AttrEvaluationID = attribute.Key("scoring.evaluation_id")
	AttrVendorID     = attribute.Key("scoring.vendor_id")
	AttrCriterionID  = attribute.Key("scoring.criterion_id")
	AttrUserID       = attribute.Key("scoring.user_id")
)

// Target identifies what an operation acts on. Empty fields are omitted
// from the span.
type Target struct {
	EvaluationID string
	VendorID     string
	CriterionID  string
	UserID       string
}

func (t Target) attributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if t.EvaluationID != "" {
		attrs = append(attrs, AttrEvaluationID.String(t.EvaluationID))
	}
	if t.VendorID != "" {
		attrs = append(attrs, AttrVendorID.String(t.VendorID))
	}
	if t.CriterionID != "" {
		attrs = append(attrs, AttrCriterionID.String(t.CriterionID))
	}
	if t.UserID != "" {
		attrs = append(attrs, AttrUserID.String(t.UserID))
	}
	return attrs
}

// OperationObserver traces engine operations with OpenTelemetry and
// records their latency and failures on a MetricsCollector.
type OperationObserver struct {
	tracer  trace.Tracer
	metrics ports.MetricsCollector
	now     func() time.Time
}

// ObserverOption configures an OperationObserver.
type ObserverOption func(*OperationObserver)

// WithTracer replaces the globally registered tracer.
func WithTracer(tracer trace.Tracer) ObserverOption {
	return func(o *OperationObserver) { o.tracer = tracer }
}

// WithObserverClock replaces time.Now for latency measurement.
func WithObserverClock(now func() time.Time) ObserverOption {
	return func(o *OperationObserver) { o.now = now }
}

// NewOperationObserver creates an observer. metrics may be nil.
func NewOperationObserver(metrics ports.MetricsCollector, opts ...ObserverOption) *OperationObserver {
	o := &OperationObserver{
		tracer:  otel.Tracer(TracerName),
		metrics: metrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Operation is one traced engine call. End must be called exactly once.
type Operation struct {
	observer *OperationObserver
	name     string
	span     trace.Span
	start    time.Time
}

// Start opens a span named "Engine.<name>" carrying the target attributes.
func (o *OperationObserver) Start(ctx context.Context, name string, target Target) (context.Context, *Operation) {
	ctx, span := o.tracer.Start(ctx, "Engine."+name, trace.WithAttributes(target.attributes()...))
	return ctx, &Operation{observer: o, name: name, span: span, start: o.now()}
}

// Event adds a span event.
func (op *Operation) Event(name string, attrs ...attribute.KeyValue) {
	op.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes adds attributes to the span.
func (op *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	op.span.SetAttributes(attrs...)
}

// End closes the span and records latency. A non-nil err marks the span as
// failed. Conflicts are counted by the caller where they occur, not here.
func (op *Operation) End(err error) {
	defer op.span.End()

	status := "ok"
	if err != nil {
		status = errorStatus(err)
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, err.Error())
		op.span.SetAttributes(attribute.String("scoring.error_kind", status))
	} else {
		op.span.SetStatus(codes.Ok, "")
	}

	m := op.observer.metrics
	if m == nil {
		return
	}
	m.RecordLatency(op.name, op.observer.now().Sub(op.start), map[string]string{"status": status})
}

// errorStatus maps an error to a low-cardinality label value.
func errorStatus(err error) string {
	switch {
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsLocked(err):
		return "locked"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return "invalid"
	}
	var terr *domain.TransitionError
	if errors.As(err, &terr) {
		return "invalid_transition"
	}
	return "error"
}
