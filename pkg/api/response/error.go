package response

import (
	"errors"
	"net/http"

	"github.com/waveflow/waveflow/pkg/engine"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// Error codes returned by the execution API.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeExecutionNotFound  = "EXECUTION_NOT_FOUND"
	ErrCodeDuplicateExecution = "DUPLICATE_EXECUTION"
	ErrCodeUnknownWorkflow    = "UNKNOWN_WORKFLOW"
	ErrCodeUnknownQuery       = "UNKNOWN_QUERY"
	ErrCodeEngineUnavailable  = "ENGINE_UNAVAILABLE"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

// ErrInternalServer is panicked by handlers that cannot produce a response;
// the recovery middleware turns it into a 500.
var ErrInternalServer = errors.New("internal server error")

// EngineError writes the response for an engine operation error, mapping
// the engine's sentinel errors onto API status codes. Unrecognized errors
// become 500 with the fallback message so internals stay out of responses.
func EngineError(w http.ResponseWriter, err error, fallback, requestID string) {
	switch {
	case errors.Is(err, engine.ErrExecutionNotFound):
		Error(w, http.StatusNotFound, ErrCodeExecutionNotFound, err.Error(), requestID)
	case errors.Is(err, engine.ErrDuplicateExecution):
		Error(w, http.StatusConflict, ErrCodeDuplicateExecution, err.Error(), requestID)
	case errors.Is(err, engine.ErrUnknownWorkflow):
		Error(w, http.StatusBadRequest, ErrCodeUnknownWorkflow, err.Error(), requestID)
	case errors.Is(err, engine.ErrUnknownQuery):
		Error(w, http.StatusBadRequest, ErrCodeUnknownQuery, err.Error(), requestID)
	case errors.Is(err, engine.ErrEngineClosed):
		Error(w, http.StatusServiceUnavailable, ErrCodeEngineUnavailable, err.Error(), requestID)
	default:
		Error(w, http.StatusInternalServerError, ErrCodeInternalServer, fallback, requestID)
	}
}
