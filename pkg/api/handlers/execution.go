// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/waveflow/waveflow/pkg/api/middleware"
	"github.com/waveflow/waveflow/pkg/api/models"
	"github.com/waveflow/waveflow/pkg/api/response"
	"github.com/waveflow/waveflow/pkg/engine"
	"github.com/waveflow/waveflow/pkg/logger"
)

// ExecutionHandler handles workflow execution endpoints.
type ExecutionHandler struct {
	engine    *engine.Engine
	logger    logger.Logger
	validator *validator.Validate
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(eng *engine.Engine, log logger.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		engine:    eng,
		logger:    log,
		validator: validator.New(),
	}
}

// StartExecution handles POST /api/v1/executions
func (h *ExecutionHandler) StartExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.StartExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", middleware.GetRequestID(ctx))
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		h.logger.Error("Validation failed", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), middleware.GetRequestID(ctx))
		return
	}

	record, err := h.engine.Start(ctx, req.Workflow, req.ExecutionID, req.Input)
	if err != nil {
		if !engine.IsClientError(err) {
			h.logger.Error("Failed to start execution", "execution_id", req.ExecutionID, "error", err)
		}
		response.EngineError(w, err, "Failed to start execution", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusCreated, toExecutionResponse(record))
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "id")

	if executionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Execution ID is required", middleware.GetRequestID(ctx))
		return
	}

	record, err := h.engine.DescribeExecution(ctx, executionID)
	if err != nil {
		response.EngineError(w, err, "Failed to describe execution", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, toExecutionResponse(record))
}

// ListExecutions handles GET /api/v1/executions
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := engine.ExecutionFilter{
		Workflow: r.URL.Query().Get("workflow"),
		Status:   engine.Status(r.URL.Query().Get("status")),
		Limit:    10,
		Offset:   0,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	records, total, err := h.engine.ListExecutions(ctx, filter)
	if err != nil {
		h.logger.Error("Failed to list executions", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to list executions", middleware.GetRequestID(ctx))
		return
	}

	summaries := make([]models.ExecutionSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, models.ExecutionSummary{
			ID:        record.ID,
			Workflow:  record.Workflow,
			Status:    string(record.Status),
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
		})
	}

	response.JSON(w, http.StatusOK, models.ExecutionListResponse{
		Executions: summaries,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// GetHistory handles GET /api/v1/executions/{id}/history
func (h *ExecutionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "id")

	if executionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Execution ID is required", middleware.GetRequestID(ctx))
		return
	}

	events, err := h.engine.GetHistory(ctx, executionID)
	if err != nil {
		response.EngineError(w, err, "Failed to load history", middleware.GetRequestID(ctx))
		return
	}

	apiEvents := make([]models.HistoryEvent, 0, len(events))
	for _, ev := range events {
		apiEvents = append(apiEvents, models.HistoryEvent{
			Sequence:     ev.Sequence,
			Type:         string(ev.Type),
			ScheduleID:   ev.ScheduleID,
			ActivityType: ev.ActivityType,
			Name:         ev.Name,
			Reason:       ev.Reason,
			Result:       ev.Result,
			Failure:      ev.Failure,
			Timestamp:    ev.Timestamp,
		})
	}

	response.JSON(w, http.StatusOK, models.HistoryResponse{
		ExecutionID: executionID,
		Events:      apiEvents,
	})
}

// SignalExecution handles POST /api/v1/executions/{id}/signals/{name}
func (h *ExecutionHandler) SignalExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	if executionID == "" || name == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Execution ID and signal name are required", middleware.GetRequestID(ctx))
		return
	}

	var req models.SignalRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", middleware.GetRequestID(ctx))
			return
		}
	}

	if err := h.engine.Signal(ctx, executionID, name, req.Payload); err != nil {
		if !engine.IsClientError(err) {
			h.logger.Error("Failed to deliver signal", "execution_id", executionID, "signal", name, "error", err)
		}
		response.EngineError(w, err, "Failed to deliver signal", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"message": "Signal delivered",
	})
}

// QueryExecution handles GET /api/v1/executions/{id}/queries/{name}
func (h *ExecutionHandler) QueryExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	if executionID == "" || name == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Execution ID and query name are required", middleware.GetRequestID(ctx))
		return
	}

	result, err := h.engine.Query(ctx, executionID, name)
	if err != nil {
		if !engine.IsClientError(err) {
			h.logger.Error("Query failed", "execution_id", executionID, "query", name, "error", err)
		}
		response.EngineError(w, err, "Query failed", middleware.GetRequestID(ctx))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

// CancelExecution handles POST /api/v1/executions/{id}/cancel
func (h *ExecutionHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := chi.URLParam(r, "id")

	if executionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Execution ID is required", middleware.GetRequestID(ctx))
		return
	}

	var req models.CancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", middleware.GetRequestID(ctx))
			return
		}
	}

	if err := h.engine.Cancel(ctx, executionID, req.Reason); err != nil {
		if !engine.IsClientError(err) {
			h.logger.Error("Failed to cancel execution", "execution_id", executionID, "error", err)
		}
		response.EngineError(w, err, "Failed to cancel execution", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusAccepted, map[string]string{
		"message": "Cancellation requested",
	})
}

func toExecutionResponse(record *engine.ExecutionRecord) models.ExecutionResponse {
	return models.ExecutionResponse{
		ID:        record.ID,
		Workflow:  record.Workflow,
		Status:    string(record.Status),
		Input:     record.Input,
		Result:    record.Result,
		Failure:   record.Failure,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}
