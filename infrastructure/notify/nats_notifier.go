// Package notify delivers engine events to external collaborators. Every
// notifier here returns from Notify without waiting on delivery.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

var _ ports.Notifier = (*NATSNotifier)(nil)

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig configures the NATS notifier.
type NATSConfig struct {
	URL           string  `yaml:"url" json:"url" validate:"omitempty,url"`
	SubjectPrefix string  `yaml:"subject_prefix" json:"subject_prefix" validate:"required"`
	QueueSize     int     `yaml:"queue_size" json:"queue_size" validate:"min=1"`
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second" validate:"gt=0"`
	Burst         int     `yaml:"burst" json:"burst" validate:"min=1"`
}

// DefaultNATSConfig returns subjects under "scoring", a 256-event queue and
// 50 events per second with a burst of 10.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		SubjectPrefix: "scoring",
		QueueSize:     256,
		RatePerSecond: 50,
		Burst:         10,
	}
}

// Connect dials the NATS server with reconnect settings suited to a
// long-running engine.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSNotifier publishes events as JSON on "<prefix>.<event type>". Events
// are queued and published by one background goroutine, paced by a token
// bucket. A full queue drops the event with a warning.
type NATSNotifier struct {
	pub     Publisher
	config  NATSConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	queue  chan domain.Event

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewNATSNotifier starts the publishing goroutine. Close must be called to
// stop it.
func NewNATSNotifier(pub Publisher, config NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if config.QueueSize < 1 || config.RatePerSecond <= 0 || config.Burst < 1 || config.SubjectPrefix == "" {
		return nil, fmt.Errorf("%w: NATS notifier needs a subject prefix, a queue and a positive rate", domain.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &NATSNotifier{
		pub:     pub,
		config:  config,
		logger:  logger.With("component", "nats_notifier"),
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		queue:   make(chan domain.Event, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go n.run()
	return n, nil
}

// Subject returns the subject an event type is published on.
func (n *NATSNotifier) Subject(t domain.EventType) string {
	return n.config.SubjectPrefix + "." + string(t)
}

// Notify queues event for publishing and returns immediately.
func (n *NATSNotifier) Notify(_ context.Context, event domain.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.dropped.Add(1)
		n.logger.Warn("event dropped", "type", event.Type, "error", ports.ErrNotifierClosed)
		return
	}
	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		n.logger.Warn("event dropped", "type", event.Type, "evaluation_id", event.EvaluationID, "error", ports.ErrQueueFull)
	}
}

// Dropped returns the number of events never handed to the publisher.
func (n *NATSNotifier) Dropped() int64 { return n.dropped.Load() }

// Failed returns the number of publish attempts that returned an error.
func (n *NATSNotifier) Failed() int64 { return n.failed.Load() }

// Close stops accepting events and waits for the queue to drain. When ctx
// ends first the remaining events are dropped and ctx's error returned.
func (n *NATSNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-n.done
		return ctx.Err()
	}
}

func (n *NATSNotifier) run() {
	defer close(n.done)
	for event := range n.queue {
		if n.ctx.Err() != nil {
			n.dropped.Add(1)
			continue
		}
		if err := n.limiter.Wait(n.ctx); err != nil {
			n.dropped.Add(1)
			continue
		}
		n.publish(event)
	}
}

func (n *NATSNotifier) publish(event domain.Event) {
	subject := n.Subject(event.Type)
	data, err := json.Marshal(event)
	if err != nil {
		n.failed.Add(1)
		n.logger.Error("failed to encode event", "subject", subject, "error", err)
		return
	}
	if err := n.pub.Publish(subject, data); err != nil {
		n.failed.Add(1)
		n.logger.Warn("failed to publish event",
			"evaluation_id", event.EvaluationID,
			"error", ports.NewNotifyError(subject, err))
		return
	}
	n.logger.Debug("event published", "subject", subject, "evaluation_id", event.EvaluationID)
}
