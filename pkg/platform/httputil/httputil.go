// Package httputil centralizes the response envelope and domain error
// translation so every endpoint answers with the same shape:
//
//	{"success": bool, "data": ..., "error": ...}
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "katha/pkg/domain-errors"
)

// Envelope is the wire shape of every response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   *ErrorBody  `json:"error"`
}

// ErrorBody carries the error code and, for caller errors only, a message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// WriteSuccess writes a success envelope with the given status and payload.
func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// WriteError translates a domain error into the envelope. Rejections caused
// by credentials (unauthorized/forbidden) and internal failures deliberately
// carry no message so the body is structurally identical regardless of the
// underlying reason.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := &ErrorBody{Code: string(code)}
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeConflict, dErrors.CodeNotFound:
		var e *dErrors.Error
		if errors.As(err, &e) {
			body.Message = e.Message
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Data: nil, Error: body})
}

// ToHTTPStatus maps domain error codes to HTTP status codes.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
