package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

type fakeTranscriberProvider struct{}

func (fakeTranscriberProvider) Open(ctx context.Context, lang orchestrator.Language, sampleRate int, events orchestrator.TranscriberEvents) (orchestrator.Transcriber, error) {
	return fakeTranscriber{}, nil
}
func (fakeTranscriberProvider) Name() string { return "fake-transcriber-provider" }

type fakeTranscriber struct{}

func (fakeTranscriber) Push(frame []byte) {}
func (fakeTranscriber) Close()            {}

type fakeResponder struct{}

func (fakeResponder) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return "ok", nil
}
func (fakeResponder) Name() string { return "fake-responder" }

func newTestOrch() *orchestrator.Orchestrator {
	return orchestrator.New(fakeTranscriberProvider{}, fakeResponder{}, nil, nil, orchestrator.DefaultConfig(), &orchestrator.NoOpLogger{})
}

func TestHealthCheckReportsActiveSessions(t *testing.T) {
	orch := newTestOrch()
	orch.NewSession("u1", func(orchestrator.OutboundEvent) {})

	router := NewRouter(orch, prometheus.NewRegistry(), "", time.Now())
	req := httptest.NewRequest(http.MethodGet, "/health-check", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["activeSessions"].(float64) != 1 {
		t.Errorf("expected activeSessions 1, got %v", body["activeSessions"])
	}
}

func TestSessionsEndpointListsRegisteredSessions(t *testing.T) {
	orch := newTestOrch()
	s := orch.NewSession("u1", func(orchestrator.OutboundEvent) {})

	router := NewRouter(orch, prometheus.NewRegistry(), "", time.Now())
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sessions []sessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != s.ID {
		t.Fatalf("expected one session with ID %s, got %+v", s.ID, sessions)
	}
}

func TestRootServesPlaceholderWithoutStaticDir(t *testing.T) {
	orch := newTestOrch()
	router := NewRouter(orch, prometheus.NewRegistry(), "", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "" {
		t.Errorf("expected a content-type header")
	}
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	orch := newTestOrch()
	reg := prometheus.NewRegistry()
	_ = orchestrator.NewMetrics(reg)
	router := NewRouter(orch, reg, "", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
