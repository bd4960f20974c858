package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/engine"
	"github.com/waveflow/waveflow/pkg/logger"
)

// newTestRouter builds a router over a real engine with two workflows:
// "hold" parks until the "go" signal, "quick" completes immediately.
func newTestRouter(t *testing.T) (*chi.Mux, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.NewMemoryStore(), activity.NewExecutor())

	err := eng.RegisterWorkflow("hold", func(ctx *engine.Context, input json.RawMessage) (json.RawMessage, error) {
		released := false
		ctx.SetSignalHandler("go", func(json.RawMessage) { released = true })
		ctx.SetQueryHandler("released", func() (any, error) { return released, nil })
		ctx.Await(func() bool { return released || ctx.Cancelled() })
		if ctx.Cancelled() {
			return json.RawMessage(`"cancelled"`), nil
		}
		return json.RawMessage(`"released"`), nil
	})
	if err != nil {
		t.Fatalf("register hold workflow: %v", err)
	}
	err = eng.RegisterWorkflow("quick", func(ctx *engine.Context, input json.RawMessage) (json.RawMessage, error) {
		return input, nil
	})
	if err != nil {
		t.Fatalf("register quick workflow: %v", err)
	}

	h := NewExecutionHandler(eng, logger.Global())
	r := chi.NewRouter()
	r.Route("/api/v1/executions", func(r chi.Router) {
		r.Post("/", h.StartExecution)
		r.Get("/", h.ListExecutions)
		r.Get("/{id}", h.GetExecution)
		r.Get("/{id}/history", h.GetHistory)
		r.Get("/{id}/queries/{name}", h.QueryExecution)
		r.Post("/{id}/cancel", h.CancelExecution)
		r.Post("/{id}/signals/{name}", h.SignalExecution)
	})
	return r, eng
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func startHold(t *testing.T, router http.Handler, executionID string) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow":     "hold",
		"execution_id": executionID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start hold: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func waitRecordStatus(t *testing.T, eng *engine.Engine, executionID string, want engine.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := eng.DescribeExecution(context.Background(), executionID)
		if err == nil && record.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %q never reached %s", executionID, want)
}

func TestStartExecution(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow":     "hold",
		"execution_id": "exec-1",
		"input":        map[string]string{"order": "o-1"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID       string `json:"id"`
		Workflow string `json:"workflow"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "exec-1" || resp.Workflow != "hold" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Status != string(engine.StatusRunning) {
		t.Errorf("expected running, got %s", resp.Status)
	}

	t.Run("duplicate id", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
			"workflow":     "hold",
			"execution_id": "exec-1",
		})
		if w.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", w.Code)
		}
	})

	t.Run("unknown workflow", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
			"workflow":     "nonexistent",
			"execution_id": "exec-2",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
			"workflow": "hold",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})
}

func TestGetExecution(t *testing.T) {
	router, _ := newTestRouter(t)
	startHold(t, router, "exec-1")

	w := doJSON(t, router, http.MethodGet, "/api/v1/executions/exec-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ID != "exec-1" {
		t.Errorf("unexpected response: %+v", resp)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/executions/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListExecutions(t *testing.T) {
	router, eng := newTestRouter(t)
	for _, id := range []string{"exec-1", "exec-2"} {
		w := doJSON(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
			"workflow":     "quick",
			"execution_id": id,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("start %s: got %d", id, w.Code)
		}
		waitRecordStatus(t, eng, id, engine.StatusCompleted)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/executions?workflow=quick&limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Executions []struct {
			ID string `json:"id"`
		} `json:"executions"`
		Total int `json:"total"`
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
	if len(resp.Executions) != 1 || resp.Limit != 1 {
		t.Errorf("expected 1 execution with limit 1, got %d", len(resp.Executions))
	}
}

func TestGetHistory(t *testing.T) {
	router, eng := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow":     "quick",
		"execution_id": "exec-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: got %d", w.Code)
	}
	waitRecordStatus(t, eng, "exec-1", engine.StatusCompleted)

	w = doJSON(t, router, http.MethodGet, "/api/v1/executions/exec-1/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		ExecutionID string `json:"execution_id"`
		Events      []struct {
			Sequence uint64 `json:"sequence"`
			Type     string `json:"type"`
		} `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExecutionID != "exec-1" || len(resp.Events) < 2 {
		t.Errorf("unexpected history: %+v", resp)
	}
	if resp.Events[0].Type != string(engine.EventExecutionStarted) {
		t.Errorf("expected execution_started first, got %s", resp.Events[0].Type)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/executions/missing/history", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSignalExecution(t *testing.T) {
	router, eng := newTestRouter(t)
	startHold(t, router, "exec-1")

	w := doJSON(t, router, http.MethodPost, "/api/v1/executions/exec-1/signals/go", map[string]any{
		"payload": map[string]string{"by": "operator"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	waitRecordStatus(t, eng, "exec-1", engine.StatusCompleted)

	w = doJSON(t, router, http.MethodPost, "/api/v1/executions/missing/signals/go", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestQueryExecution(t *testing.T) {
	router, _ := newTestRouter(t)
	startHold(t, router, "exec-1")

	w := doJSON(t, router, http.MethodGet, "/api/v1/executions/exec-1/queries/released", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "false" {
		t.Errorf("expected raw query result false, got %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/executions/exec-1/queries/unknown", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown query, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/executions/missing/queries/released", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCancelExecution(t *testing.T) {
	router, eng := newTestRouter(t)
	startHold(t, router, "exec-1")

	w := doJSON(t, router, http.MethodPost, "/api/v1/executions/exec-1/cancel", map[string]any{
		"reason": "operator abort",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	waitRecordStatus(t, eng, "exec-1", engine.StatusCancelled)

	w = doJSON(t, router, http.MethodPost, "/api/v1/executions/missing/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
