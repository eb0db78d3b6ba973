package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/freemedia/storefront/internal/platform/requestctx"
)

// Code classifies a media API failure. Clients branch on it instead of the message.
type Code string

const (
	CodeInvalidQuery  Code = "invalid_query"
	CodeMediaNotFound Code = "media_not_found"
	CodeInternal      Code = "internal_error"
)

// Error is a media API failure rendered as the JSON error body.
type Error struct {
	Code    Code
	Message string
	Status  int
	// Param names the offending query parameter for CodeInvalidQuery.
	Param string
	// MediaID is set for CodeMediaNotFound.
	MediaID string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvalidQuery reports a listing query parameter that could not be parsed.
func InvalidQuery(param string, err error) Error {
	msg := "invalid query"
	if err != nil {
		msg = err.Error()
	}
	return Error{Code: CodeInvalidQuery, Message: sanitize(msg, 512), Status: http.StatusBadRequest, Param: sanitize(param, 40)}
}

// MediaNotFound reports an unknown media item.
func MediaNotFound(id string) Error {
	id = sanitize(id, 80)
	return Error{
		Code:    CodeMediaNotFound,
		Message: fmt.Sprintf("media %s not found", id),
		Status:  http.StatusNotFound,
		MediaID: id,
	}
}

// Internal is the body written after a recovered panic.
func Internal() Error {
	return Error{Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError}
}

type errorBody struct {
	Error     Code   `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Param     string `json:"param,omitempty"`
	MediaID   string `json:"media_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError writes e with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorBody{
		Error:     e.Code,
		Message:   e.Message,
		Status:    status,
		Param:     e.Param,
		MediaID:   e.MediaID,
		RequestID: sanitize(middleware.GetReqID(ctx), 80),
		TraceID:   sanitize(requestctx.TraceID(ctx), 64),
	})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
