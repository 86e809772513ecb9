// Package httputil provides the JSON response envelope shared by every
// handler and middleware.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Response is the wire envelope. Success responses carry Data; failures carry
// Error and a human-readable Message.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody identifies a failure by machine-readable code.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes an arbitrary envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteSuccess writes a success envelope around data.
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// WriteErrorResponse writes a failure envelope. The request parameter keeps
// the signature symmetric with handlers; it is not consulted today.
func WriteErrorResponse(w http.ResponseWriter, _ *http.Request, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, Response{
		Success: false,
		Message: message,
		Error:   &ErrorBody{Code: code, Details: details},
	})
}

// Unauthorized writes a 401 envelope with an optional message.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Unauthorized"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}
