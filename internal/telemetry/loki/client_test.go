package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nutrition-platform/backend/internal/onboarding/analytics"
	"nutrition-platform/backend/internal/onboarding/domain"
)

func TestNewClient_Empty(t *testing.T) {
	if c := NewClient("  ", nil); c != nil {
		t.Errorf("NewClient(empty) = %v, want nil", c)
	}
	var c *Client
	if err := c.Send(context.Background(), analytics.Event{}); err != nil {
		t.Errorf("nil Send = %v, want nil", err)
	}
}

func TestSend(t *testing.T) {
	var got pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ts := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	c := NewClient(srv.URL+"/", srv.Client())
	err := c.Send(context.Background(), analytics.Event{
		ID: "e1", Type: analytics.EventStepSkipped, UserID: "u1", Role: domain.RolePatient,
		StepID: "medical-history", Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != "onboarding" || s.Stream["event_type"] != "step_skipped" || s.Stream["role"] != "patient" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["step_id"]; ok {
		t.Error("step_id must not be a label")
	}
	if len(s.Values) != 1 || s.Values[0][0] != "1775116800000000000" {
		t.Errorf("values = %v", s.Values)
	}
	if e, err := analytics.Decode([]byte(s.Values[0][1])); err != nil || e.StepID != "medical-history" {
		t.Errorf("line decodes to %+v, %v", e, err)
	}
}

func TestPush_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	err := NewClient(srv.URL, nil).Push(context.Background(), time.Now(), "x", map[string]string{"k": "v w"})
	if err == nil {
		t.Error("Push should fail on 429")
	}
}
