package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failed call for the message shown to the user.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindValidation
	KindTooManyRequests
	KindServer
	KindUnavailable
	KindTimeout
	KindNetwork
	KindCanceled
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad-request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	case KindTooManyRequests:
		return "too-many-requests"
	case KindServer:
		return "server"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindCanceled:
		return "canceled"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned for every failed request.
type Error struct {
	Kind   Kind
	Status int
	Method string
	Path   string
	// ServerMessage is the `message` (or `error`) field of the response body.
	ServerMessage string
	Err           error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("api: ")
	if e.Method != "" {
		fmt.Fprintf(&b, "%s %s: ", e.Method, e.Path)
	}
	switch {
	case e.Status != 0:
		fmt.Fprintf(&b, "status %d", e.Status)
		if e.ServerMessage != "" {
			fmt.Fprintf(&b, ": %s", e.ServerMessage)
		}
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage maps the failure onto the text shown in a toast.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindBadRequest:
		if e.ServerMessage != "" {
			return e.ServerMessage
		}
		return "Invalid request data"
	case KindUnauthorized:
		return "Authentication required"
	case KindForbidden:
		return "Access forbidden"
	case KindNotFound:
		return "Resource not found"
	case KindValidation:
		return "Validation failed"
	case KindTooManyRequests:
		return "Too many requests - please wait"
	case KindServer:
		return "Server error - please try again"
	case KindUnavailable:
		return "Service unavailable - please try later"
	case KindTimeout:
		return "Request timeout - check connection"
	case KindNetwork:
		return "Network error - check connectivity"
	case KindCanceled:
		return "Request cancelled"
	case KindDecode:
		return "Unexpected response from server"
	default:
		return e.ServerMessage
	}
}

// UserMessage returns the toast text for err. action names what was being
// attempted ("fetch companies") and is used when nothing more specific is
// known.
func UserMessage(err error, action string) string {
	fallback := "Request failed"
	if action = strings.TrimSpace(action); action != "" {
		fallback = "Failed to " + strings.ToLower(action)
	}
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if msg := apiErr.UserMessage(); msg != "" {
			return msg
		}
	}
	return fallback
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusTooManyRequests:
		return KindTooManyRequests
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindUnavailable
	}
	if status >= 500 {
		return KindServer
	}
	return KindUnknown
}

func transportError(method, path string, err error) *Error {
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Kind: kind, Method: method, Path: path, Err: err}
}

func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(payload.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(payload.Error)
}
