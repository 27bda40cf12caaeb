package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/analytics"
	"nutrition-platform/backend/internal/onboarding/domain"
)

// scriptedReader returns its messages in order, then cancels the run and blocks until ctx is done.
type scriptedReader struct {
	msgs   []kafka.Message
	errs   []error
	cancel context.CancelFunc
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []analytics.Event
	fail  map[string]bool
}

func (s *recordingSaver) Save(_ context.Context, e analytics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[e.ID] {
		return errors.New("insert failed")
	}
	s.saved = append(s.saved, e)
	return nil
}

func message(t *testing.T, e analytics.Event) kafka.Message {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte(e.UserID), Value: b}
}

func TestConsume(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	good := analytics.Event{ID: "e1", Type: analytics.EventStepCompleted, UserID: "u1", Role: domain.RolePatient, StepID: "health-goals", Timestamp: ts}
	failing := analytics.Event{ID: "e2", Type: analytics.EventStepSkipped, UserID: "u1", Role: domain.RolePatient, Timestamp: ts}
	last := analytics.Event{ID: "e3", Type: analytics.EventCompleted, UserID: "u1", Role: domain.RolePatient, Timestamp: ts}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		errs: []error{errors.New("broker unavailable")},
		msgs: []kafka.Message{
			message(t, good),
			{Value: []byte("not json")},
			message(t, analytics.Event{ID: "e-incomplete"}),
			message(t, failing),
			message(t, last),
		},
		cancel: cancel,
	}
	saver := &recordingSaver{fail: map[string]bool{"e2": true}}

	done := make(chan struct{})
	go func() {
		consume(ctx, reader, saveSink{saver}, zap.NewNop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after cancel")
	}

	if len(saver.saved) != 2 {
		t.Fatalf("saved = %d events, want 2", len(saver.saved))
	}
	if saver.saved[0].ID != "e1" || saver.saved[1].ID != "e3" {
		t.Errorf("saved ids = %q, %q, want e1, e3", saver.saved[0].ID, saver.saved[1].ID)
	}
}
