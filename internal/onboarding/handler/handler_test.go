package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/goleak"

	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/onboarding/engine"
	"nutrition-platform/backend/internal/onboarding/persistence"
	"nutrition-platform/backend/internal/onboarding/registry"
	"nutrition-platform/backend/internal/onboarding/wizard"
	"nutrition-platform/backend/internal/server/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []map[string]any
	failNext  bool
}

func (s *fakeSubmitter) SaveDraft(context.Context, string, domain.Role, map[string]any) error {
	return nil
}

func (s *fakeSubmitter) Submit(_ context.Context, _ string, _ domain.Role, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("profile service unavailable")
	}
	s.submitted = append(s.submitted, data)
	return nil
}

type testServer struct {
	router   *gin.Engine
	sessions *Sessions
	sub      *fakeSubmitter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := registry.New()
	store := persistence.NewAdapter(persistence.NewMemoryCache(), nil, persistence.Options{})
	t.Cleanup(store.Close)
	sub := &fakeSubmitter{}
	factory := func(id string) *wizard.Controller {
		eng := engine.New(engine.Options{Registry: reg, Store: store, SessionID: id})
		return wizard.New(wizard.Options{Engine: eng, SessionID: id}.WithSubmitter(sub))
	}
	sessions := NewSessions(factory, nil, nil)
	t.Cleanup(sessions.CloseAll)

	r := gin.New()
	api := r.Group("/api/v1/onboarding", middleware.DevAuth())
	NewHandler(sessions, reg, nil).RegisterRoutes(api)
	return &testServer{router: r, sessions: sessions, sub: sub}
}

type caller struct {
	user string
	role domain.Role
}

var (
	ana = caller{"u-ana", domain.RoleNutritionist}
	leo = caller{"u-leo", domain.RolePatient}
)

func (s *testServer) do(t *testing.T, who caller, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/api/v1/onboarding"+path, nil)
	} else {
		req = httptest.NewRequest(method, "/api/v1/onboarding"+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.HeaderUserID, who.user)
	req.Header.Set(middleware.HeaderRole, string(who.role))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type viewBody struct {
	SessionID   string `json:"sessionId"`
	CurrentStep struct {
		ID domain.StepID `json:"id"`
	} `json:"currentStep"`
	Finalized bool `json:"finalized"`
	Progress  struct {
		CompletionPercentage int  `json:"completionPercentage"`
		IsCompleted          bool `json:"isCompleted"`
	} `json:"progress"`
	FormData map[string]any `json:"formData"`
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode view: %v (%s)", err, w.Body.String())
	}
	return v
}

func (s *testServer) open(t *testing.T, who caller) string {
	t.Helper()
	w := s.do(t, who, http.MethodPost, "/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("open session: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.SessionID == "" {
		t.Fatalf("open session body = %s", w.Body.String())
	}
	return resp.SessionID
}

func (s *testServer) step(t *testing.T, who caller, id, action, body string, want int) viewBody {
	t.Helper()
	w := s.do(t, who, http.MethodPost, fmt.Sprintf("/sessions/%s/%s", id, action), body)
	if w.Code != want {
		t.Fatalf("%s: status = %d, want %d (%s)", action, w.Code, want, w.Body.String())
	}
	if want != http.StatusOK {
		return viewBody{}
	}
	return decodeView(t, w)
}

func TestListSteps(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, leo, http.MethodGet, "/steps/patient", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Steps []domain.StepDefinition `json:"steps"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Steps) != 7 || body.Steps[0].ID != registry.StepWelcome {
		t.Errorf("steps = %+v", body.Steps)
	}
	if w := s.do(t, leo, http.MethodGet, "/steps/admin", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown role status = %d, want 404", w.Code)
	}
}

func TestPatientFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t, leo)

	s.step(t, leo, id, "next", "", http.StatusOK)
	s.step(t, leo, id, "next", `{"data":{"fullName":"Leo Park"}}`, http.StatusOK)
	s.step(t, leo, id, "next", `{"data":{"goals":["more energy"]}}`, http.StatusOK)
	v := s.step(t, leo, id, "skip", `{"reason":"ask my doctor first"}`, http.StatusOK)
	if v.CurrentStep.ID != registry.StepDietaryPreferences {
		t.Fatalf("after skip current = %q", v.CurrentStep.ID)
	}
	s.step(t, leo, id, "next", `{"data":{"mealsPerDay":3,"favorites":["lentils"]}}`, http.StatusOK)
	s.step(t, leo, id, "skip", "", http.StatusOK)
	v = s.step(t, leo, id, "next", `{"data":{"notes":"thanks"}}`, http.StatusOK)

	if !v.Finalized || !v.Progress.IsCompleted || v.Progress.CompletionPercentage != 100 {
		t.Errorf("final view = %+v", v)
	}
	if len(s.sub.submitted) != 1 || s.sub.submitted[0]["fullName"] != "Leo Park" {
		t.Errorf("submitted = %v", s.sub.submitted)
	}
	s.step(t, leo, id, "next", "", http.StatusConflict)
}

func TestNext_BadData(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t, ana)
	s.step(t, ana, id, "next", "", http.StatusOK)

	s.step(t, ana, id, "next", `{"data":{"fullName":""}}`, http.StatusBadRequest)
	s.step(t, ana, id, "next", `{"data":{"fullName":"Ana","bogus":1}}`, http.StatusBadRequest)
	s.step(t, ana, id, "next", `{"data":`, http.StatusBadRequest)
	s.step(t, ana, id, "next", `{"stepId":"credentials","data":{"licenseNumber":"X1"}}`, http.StatusConflict)

	v := s.step(t, ana, id, "data", `{"data":{"fullName":"Ana Ruiz"}}`, http.StatusOK)
	if v.CurrentStep.ID != registry.StepPersonalInfo || v.FormData["fullName"] != "Ana Ruiz" {
		t.Errorf("after data: current = %q, form = %v", v.CurrentStep.ID, v.FormData)
	}
}

func TestData_PartialBodiesAccumulate(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t, ana)
	s.step(t, ana, id, "next", "", http.StatusOK)
	s.step(t, ana, id, "next", "", http.StatusBadRequest)

	s.step(t, ana, id, "data", `{"data":{"fullName":"Ana Ruiz"}}`, http.StatusOK)
	v := s.step(t, ana, id, "data", `{"data":{"phone":"+34600111222"}}`, http.StatusOK)
	if v.FormData["fullName"] != "Ana Ruiz" || v.FormData["phone"] != "+34600111222" {
		t.Errorf("form after two updates = %v", v.FormData)
	}

	v = s.step(t, ana, id, "next", "", http.StatusOK)
	if v.CurrentStep.ID != registry.StepCredentials || v.FormData["fullName"] != "Ana Ruiz" {
		t.Errorf("after next: current = %q, form = %v", v.CurrentStep.ID, v.FormData)
	}
}

func TestNavigationErrors(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t, ana)

	s.step(t, ana, id, "previous", "", http.StatusBadRequest)
	s.step(t, ana, id, "skip", "", http.StatusBadRequest)
	s.step(t, ana, id, "finalize", "", http.StatusBadRequest)
	s.step(t, ana, id, "jump", `{"stepId":"consultation-rates"}`, http.StatusForbidden)
	s.step(t, ana, id, "jump", `{"stepId":"nope"}`, http.StatusNotFound)
	s.step(t, ana, id, "jump", `{}`, http.StatusBadRequest)
	s.step(t, ana, id, "edit", "", http.StatusBadRequest)

	s.step(t, ana, id, "next", "", http.StatusOK)
	v := s.step(t, ana, id, "jump", `{"stepId":"welcome"}`, http.StatusOK)
	if v.CurrentStep.ID != registry.StepWelcome {
		t.Errorf("current = %q, want welcome", v.CurrentStep.ID)
	}
	s.step(t, ana, id, "edit", "", http.StatusOK)
}

func TestSessionOwnership(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t, ana)

	if w := s.do(t, leo, http.MethodGet, "/sessions/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("foreign GET status = %d, want 404", w.Code)
	}
	if w := s.do(t, leo, http.MethodDelete, "/sessions/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("foreign DELETE status = %d, want 404", w.Code)
	}
	if w := s.do(t, ana, http.MethodGet, "/sessions/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown GET status = %d, want 404", w.Code)
	}
	if w := s.do(t, ana, http.MethodPost, "/sessions", `{"role":"patient"}`); w.Code != http.StatusForbidden {
		t.Errorf("role mismatch status = %d, want 403", w.Code)
	}
}

func TestOpen_ReplacesPreviousSession(t *testing.T) {
	s := newTestServer(t)
	first := s.open(t, ana)
	s.step(t, ana, first, "next", "", http.StatusOK)

	second := s.open(t, ana)
	if first == second {
		t.Fatal("session ids must differ")
	}
	if w := s.do(t, ana, http.MethodGet, "/sessions/"+first, ""); w.Code != http.StatusNotFound {
		t.Errorf("old session status = %d, want 404", w.Code)
	}
	w := s.do(t, ana, http.MethodGet, "/sessions/"+second, "")
	if v := decodeView(t, w); v.CurrentStep.ID != registry.StepPersonalInfo {
		t.Errorf("resumed at %q, want personal-info", v.CurrentStep.ID)
	}
	if s.sessions.Len() != 1 {
		t.Errorf("live sessions = %d, want 1", s.sessions.Len())
	}
}

func TestSubmissionFailureThenRetry(t *testing.T) {
	s := newTestServer(t)
	s.sub.failNext = true
	id := s.open(t, leo)
	for _, body := range []string{"", `{"data":{"fullName":"Leo Park"}}`, `{"data":{"goals":["sleep"]}}`} {
		s.step(t, leo, id, "next", body, http.StatusOK)
	}
	s.step(t, leo, id, "skip", "", http.StatusOK)
	s.step(t, leo, id, "next", `{"data":{"mealsPerDay":2}}`, http.StatusOK)
	s.step(t, leo, id, "skip", "", http.StatusOK)

	w := s.do(t, leo, http.MethodPost, "/sessions/"+id+"/next", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var body struct {
		Error string   `json:"error"`
		View  viewBody `json:"view"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.View.Finalized || body.View.FormData["fullName"] != "Leo Park" {
		t.Errorf("view after failure = %+v", body.View)
	}
	v := s.step(t, leo, id, "finalize", "", http.StatusOK)
	if !v.Finalized {
		t.Error("finalize retry did not submit")
	}
}

func TestDeleteAndReset(t *testing.T) {
	s := newTestServer(t)
	id := s.open(t, ana)
	s.step(t, ana, id, "next", "", http.StatusOK)
	v := s.step(t, ana, id, "reset", "", http.StatusOK)
	if v.CurrentStep.ID != registry.StepWelcome || v.Progress.CompletionPercentage != 0 {
		t.Errorf("after reset = %+v", v)
	}
	if w := s.do(t, ana, http.MethodDelete, "/sessions/"+id, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := s.do(t, ana, http.MethodGet, "/sessions/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("after delete status = %d, want 404", w.Code)
	}
}

func TestSessions_Reap(t *testing.T) {
	s := newTestServer(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.sessions.nowF = func() time.Time { return now }
	s.open(t, ana)
	s.open(t, leo)

	now = now.Add(10 * time.Minute)
	if n := s.sessions.Reap(30 * time.Minute); n != 0 {
		t.Errorf("Reap = %d, want 0", n)
	}
	now = now.Add(time.Hour)
	if n := s.sessions.Reap(30 * time.Minute); n != 2 {
		t.Errorf("Reap = %d, want 2", n)
	}
	if s.sessions.Len() != 0 {
		t.Errorf("live sessions = %d, want 0", s.sessions.Len())
	}
}

// slowRemote blocks the first remote write for one user until release is closed.
type slowRemote struct {
	user    string
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (r *slowRemote) Load(context.Context, string, domain.Role) (*domain.Progress, error) {
	return nil, nil
}

func (r *slowRemote) Save(_ context.Context, p *domain.Progress) error {
	if p.UserID == r.user {
		r.once.Do(func() {
			close(r.started)
			<-r.release
		})
	}
	return nil
}

func TestSessions_CloseDoesNotBlockLookups(t *testing.T) {
	remote := &slowRemote{user: ana.user, started: make(chan struct{}), release: make(chan struct{})}
	store := persistence.NewAdapter(persistence.NewMemoryCache(), remote, persistence.Options{Debounce: -1})
	t.Cleanup(store.Close)
	reg := registry.New()
	sessions := NewSessions(func(id string) *wizard.Controller {
		eng := engine.New(engine.Options{Registry: reg, Store: store, SessionID: id})
		return wizard.New(wizard.Options{Engine: eng, SessionID: id})
	}, nil, nil)
	t.Cleanup(sessions.CloseAll)
	release := sync.OnceFunc(func() { close(remote.release) })
	t.Cleanup(release)

	ctx := context.Background()
	anaID, _, err := sessions.Open(ctx, ana.user, ana.role)
	if err != nil {
		t.Fatalf("Open ana: %v", err)
	}
	leoID, _, err := sessions.Open(ctx, leo.user, leo.role)
	if err != nil {
		t.Fatalf("Open leo: %v", err)
	}
	<-remote.started

	closed := make(chan error, 1)
	go func() { closed <- sessions.Close(anaID, ana.user) }()

	lookup := make(chan error, 1)
	go func() {
		for sessions.Len() != 1 {
			time.Sleep(time.Millisecond)
		}
		_, err := sessions.Get(leoID, leo.user)
		lookup <- err
	}()
	select {
	case err := <-lookup:
		if err != nil {
			t.Errorf("Get: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Get blocked behind a session waiting on its remote write")
	}

	release()
	if err := <-closed; err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestSessions_RunReaperRaisesTinyInterval(t *testing.T) {
	sessions := NewSessions(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sessions.RunReaper(ctx, time.Nanosecond, 0) }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunReaper = %v, want nil", err)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&wizard.SubmissionError{Err: errors.New("x")}, http.StatusBadGateway},
		{&domain.ConfigurationError{Role: "patient", Reason: "dup"}, http.StatusUnprocessableEntity},
		{ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x", domain.ErrUnknownStep), http.StatusNotFound},
		{fmt.Errorf("%w: x", wizard.ErrNavigationDenied), http.StatusForbidden},
		{wizard.ErrSubmitting, http.StatusConflict},
		{wizard.ErrFinalized, http.StatusConflict},
		{fmt.Errorf("%w: x", wizard.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: x", domain.ErrInvalidTransition), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
