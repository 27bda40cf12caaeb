package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// emitTimeout is the max time allowed for a single async send.
const emitTimeout = 5 * time.Second

// Sink delivers one event. Implementations may block briefly; the Emitter calls them off the caller's goroutine.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Publisher is what the engine and wizard depend on.
type Publisher interface {
	Emit(e Event)
}

// Emitter sends events to a Sink asynchronously. Emit never blocks on the sink.
type Emitter struct {
	sink   Sink
	logger *zap.Logger
	nowF   func() time.Time
	newID  func() string

	wg sync.WaitGroup
}

// NewEmitter returns an Emitter for sink. A nil sink makes Emit a no-op.
func NewEmitter(sink Sink, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		sink:   sink,
		logger: logger,
		nowF:   func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Emit fills in the event id and timestamp when missing and sends it in a goroutine using
// context.Background() with emitTimeout, so caller cancellation does not abort an in-flight send.
func (m *Emitter) Emit(e Event) {
	if m == nil || m.sink == nil {
		return
	}
	if e.ID == "" {
		e.ID = m.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.nowF()
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := m.sink.Send(ctx, e); err != nil {
			m.logger.Warn("analytics emit failed",
				zap.String("event_type", string(e.Type)),
				zap.String("user_id", e.UserID),
				zap.Error(err))
		}
	}()
}

// Drain waits for in-flight sends, or until ctx is done.
func (m *Emitter) Drain(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownDrainDuration is how long servers wait for in-flight sends before closing sinks.
const ShutdownDrainDuration = emitTimeout
