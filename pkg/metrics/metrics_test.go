package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	m := NewManager(cfg)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	if !m.Enabled() {
		t.Error("Expected metrics to be enabled")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	if m.Enabled() {
		t.Error("Expected metrics to be disabled")
	}
}

func TestMetricsHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	m := NewManager(cfg)

	m.RecordExecutionStarted("order-intake")
	m.RecordExecutionFinished("order-intake", "completed", 5*time.Second)
	m.RecordEventAppended("execution_started")
	m.RecordSignalDelivered("pickCompleted")
	m.RecordActivityAttempt("oms-tasks", "create-order", "ok", 50*time.Millisecond)
	m.RecordActivityRetry("sms-tasks", "fetch-rates")
	m.RecordHTTPRequest("POST", "/api/v1/executions", "201", 3*time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, metric := range []string{
		"execution_starts_total",
		"execution_outcomes_total",
		"history_events_total",
		"signals_delivered_total",
		"activity_attempts_total",
		"activity_retries_total",
		"http_requests_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %s in output", metric)
		}
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	m := NoOpManager()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 when disabled, got %d", w.Code)
	}
}

func TestRecording_DisabledIsNoOp(t *testing.T) {
	m := NoOpManager()

	// None of these should panic on a disabled manager.
	m.RecordExecutionStarted("order-intake")
	m.RecordExecutionFinished("order-intake", "failed", time.Second)
	m.RecordEventAppended("signal_received")
	m.RecordSignalDelivered("packCompleted")
	m.RecordActivityAttempt("ims-tasks", "allocate-inventory", "retryable", time.Millisecond)
	m.RecordActivityRetry("ims-tasks", "allocate-inventory")
	m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	m.IncActiveConnections()
	m.DecActiveConnections()
}
