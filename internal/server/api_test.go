package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nebulate/nebula-translate/internal/session"
	"github.com/nebulate/nebula-translate/internal/turn"
)

func newTestServer(t *testing.T, maxSessions int) (*Server, *session.Registry, http.Handler) {
	t.Helper()

	registry := session.NewRegistry(session.Config{MaxSessions: maxSessions}, nil)
	srv := New(context.Background(), Config{
		Registry: registry,
		Warnings: []string{"OpenAI API key not configured"},
	})
	t.Cleanup(srv.CloseAll)
	return srv, registry, srv.Handler()
}

func createTestSession(t *testing.T, h http.Handler, body string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session id")
	}
	return resp.SessionID
}

func TestAPICreateSession(t *testing.T) {
	srv, registry, h := newTestServer(t, 4)

	id := createTestSession(t, h, `{"home_language":"en","target_language":"fr"}`)

	sess, ok := registry.GetSession(id)
	if !ok {
		t.Fatal("session missing from registry")
	}
	if sess.HomeLanguage != "en" || sess.TargetLanguage != "fr" {
		t.Fatalf("languages = %s/%s", sess.HomeLanguage, sess.TargetLanguage)
	}
	if sess.State != turn.StateConnected {
		t.Fatalf("state = %s, want connected", sess.State)
	}
	if srv.coordinatorFor(id) == nil {
		t.Fatal("expected a running pipeline for the session")
	}
}

func TestAPICreateSessionDefaultsLanguages(t *testing.T) {
	_, registry, h := newTestServer(t, 4)

	id := createTestSession(t, h, "")

	sess, _ := registry.GetSession(id)
	if sess.HomeLanguage != "en" || sess.TargetLanguage != "es" {
		t.Fatalf("default languages = %s/%s, want en/es", sess.HomeLanguage, sess.TargetLanguage)
	}
}

func TestAPICreateSessionUnsupportedLanguage(t *testing.T) {
	_, _, h := newTestServer(t, 4)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"home_language":"xx","target_language":"es"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAPICreateSessionLimit(t *testing.T) {
	_, _, h := newTestServer(t, 1)

	createTestSession(t, h, "")

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestAPIGetSession(t *testing.T) {
	_, registry, h := newTestServer(t, 4)
	id := createTestSession(t, h, "")

	registry.AddMessage(id, turn.SpeakerUser, "hello", "hola", "", "")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "hola") {
		t.Fatalf("expected message history in body: %s", rr.Body.String())
	}
}

func TestAPIGetSessionNotFound(t *testing.T) {
	_, _, h := newTestServer(t, 4)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/unknown-id", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestAPIInvalidSessionIDRejected(t *testing.T) {
	_, _, h := newTestServer(t, 4)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/bad*id", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestAPIDeleteSession(t *testing.T) {
	srv, registry, h := newTestServer(t, 4)
	id := createTestSession(t, h, "")

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if _, ok := registry.GetSession(id); ok {
		t.Fatal("session still registered after delete")
	}
	if srv.coordinatorFor(id) != nil {
		t.Fatal("pipeline still running after delete")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}

func TestAPIMetrics(t *testing.T) {
	_, registry, h := newTestServer(t, 4)
	id := createTestSession(t, h, "")

	registry.RecordOutcome(id, session.Outcome{Success: true, STTLatencyMS: session.LatencyMS(42)})

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var metrics session.Metrics
	if err := json.Unmarshal(rr.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if metrics.TotalTurns != 1 {
		t.Fatalf("total turns = %d, want 1", metrics.TotalTurns)
	}
}

func TestAPILanguages(t *testing.T) {
	_, _, h := newTestServer(t, 4)

	req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"en"`) || !strings.Contains(rr.Body.String(), "English") {
		t.Fatalf("expected language table in body: %s", rr.Body.String())
	}
}

func TestAPIStatus(t *testing.T) {
	_, _, h := newTestServer(t, 4)
	createTestSession(t, h, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var status struct {
		Sessions int      `json:"sessions"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Sessions != 1 {
		t.Fatalf("sessions = %d, want 1", status.Sessions)
	}
	if len(status.Warnings) != 1 {
		t.Fatalf("warnings = %v", status.Warnings)
	}
}

func TestReaperClosesOrphanedPipelines(t *testing.T) {
	srv, registry, h := newTestServer(t, 4)
	id := createTestSession(t, h, "")

	// The registry sweep can drop a session without going through the server.
	registry.CloseSession(id)
	srv.reapClosed()

	if srv.coordinatorFor(id) != nil {
		t.Fatal("pipeline survived reap")
	}
}
