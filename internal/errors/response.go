package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error envelope returned to clients.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the code, message, and optional context.
type ErrorDetail struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewErrorResponse builds a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteJSON writes the error response with the status derived from its code.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Error.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e)
}

// WriteError writes an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string, details map[string]any) {
	NewErrorResponse(code, message, details).WriteJSON(w)
}
