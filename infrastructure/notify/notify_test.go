package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type message struct {
	subject string
	data    []byte
}

// fakePublisher records messages. When gate is set every Publish blocks
// until gate is closed.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
	gate chan struct{}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{subject: subject, data: append([]byte(nil), data...)})
	return nil
}

func (p *fakePublisher) messages() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.msgs...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fastConfig() NATSConfig {
	cfg := DefaultNATSConfig()
	cfg.RatePerSecond = 10000
	cfg.Burst = 100
	return cfg
}

// TestNATSNotifier_Publishes tests subjects, payloads and that Close
// drains every queued event.
func TestNATSNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	n, err := NewNATSNotifier(pub, fastConfig(), discard())
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	n.Notify(context.Background(), domain.Event{
		Type: domain.EventReconciliationNeeded, EvaluationID: "eval-1",
		VendorID: "acme", CriterionID: "crit-a", At: at,
	})
	n.Notify(context.Background(), domain.Event{Type: domain.EventAnomalyDetected, EvaluationID: "eval-1", At: at})
	require.NoError(t, n.Close(context.Background()))

	msgs := pub.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "scoring.reconciliation-needed", msgs[0].subject)
	assert.Equal(t, "scoring.anomaly-detected", msgs[1].subject)

	var got domain.Event
	require.NoError(t, json.Unmarshal(msgs[0].data, &got))
	assert.Equal(t, "acme", got.VendorID)
	assert.Equal(t, "crit-a", got.CriterionID)
	assert.True(t, got.At.Equal(at))
	assert.Zero(t, n.Dropped())
}

func TestNATSNotifier_DropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	pub := &fakePublisher{gate: gate}
	cfg := fastConfig()
	cfg.QueueSize = 1
	n, err := NewNATSNotifier(pub, cfg, discard())
	require.NoError(t, err)

	// The first event is taken by the publishing goroutine and blocks on the
	// gate; the second fills the queue; the rest overflow.
	n.Notify(context.Background(), domain.Event{Type: domain.EventScoreLocked})
	require.Eventually(t, func() bool { return len(n.queue) == 0 }, time.Second, time.Millisecond)
	for range 5 {
		n.Notify(context.Background(), domain.Event{Type: domain.EventScoreLocked})
	}
	assert.Equal(t, int64(4), n.Dropped())

	close(gate)
	require.NoError(t, n.Close(context.Background()))
	assert.Len(t, pub.messages(), 2)
}

func TestNATSNotifier_NotifyAfterClose(t *testing.T) {
	pub := &fakePublisher{}
	n, err := NewNATSNotifier(pub, fastConfig(), discard())
	require.NoError(t, err)
	require.NoError(t, n.Close(context.Background()))
	require.NoError(t, n.Close(context.Background()), "close is idempotent")

	n.Notify(context.Background(), domain.Event{Type: domain.EventScopeUnlocked})

	assert.Empty(t, pub.messages())
	assert.Equal(t, int64(1), n.Dropped())
}

func TestNATSNotifier_PublishErrorsAreCounted(t *testing.T) {
	var logs bytes.Buffer
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	n, err := NewNATSNotifier(pub, fastConfig(), slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	n.Notify(context.Background(), domain.Event{Type: domain.EventAnomalyDetected, EvaluationID: "eval-1"})
	require.NoError(t, n.Close(context.Background()))

	assert.Equal(t, int64(1), n.Failed())
	assert.Contains(t, logs.String(), "scoring.anomaly-detected")
	assert.Contains(t, logs.String(), "connection closed")
}

// TestNATSNotifier_CloseDeadline tests that an expired close context
// abandons the queue without leaking the publishing goroutine.
func TestNATSNotifier_CloseDeadline(t *testing.T) {
	gate := make(chan struct{})
	pub := &fakePublisher{gate: gate}
	n, err := NewNATSNotifier(pub, fastConfig(), discard())
	require.NoError(t, err)
	for range 3 {
		n.Notify(context.Background(), domain.Event{Type: domain.EventScoreLocked})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()

	err = n.Close(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.LessOrEqual(t, len(pub.messages()), 1)
}

func TestNewNATSNotifier_Validation(t *testing.T) {
	_, err := NewNATSNotifier(nil, DefaultNATSConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultNATSConfig()
	cfg.QueueSize = 0
	_, err = NewNATSNotifier(&fakePublisher{}, cfg, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestLogNotifier(t *testing.T) {
	var logs bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&logs, nil)))
	scope := domain.LockScope{Type: domain.ScopeVendor, ID: "acme"}

	n.Notify(context.Background(), domain.Event{
		Type:         domain.EventScoreLocked,
		EvaluationID: "eval-1",
		Scope:        &scope,
		Detail:       map[string]string{"actor": "lead"},
	})

	out := logs.String()
	assert.Contains(t, out, "type=score-locked")
	assert.Contains(t, out, "evaluation_id=eval-1")
	assert.Contains(t, out, "scope=vendor:acme")
	assert.Contains(t, out, "actor=lead")
}

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	f := Fanout{
		NewLogNotifier(slog.New(slog.NewTextHandler(&a, nil))),
		nil,
		NewLogNotifier(slog.New(slog.NewTextHandler(&b, nil))),
	}

	f.Notify(context.Background(), domain.Event{Type: domain.EventAnomalyDetected, EvaluationID: "eval-1"})

	assert.Contains(t, a.String(), "anomaly-detected")
	assert.Contains(t, b.String(), "anomaly-detected")
}
