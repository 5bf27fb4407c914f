package types

import "errors"

var (
	// ErrNotFound is returned for any unknown client, group, content,
	// playlist, overlay, composition or broadcast id.
	ErrNotFound = errors.New("not found")

	// ErrSendFailed marks a socket write error or a send that exceeded
	// the per-send timeout. It is never retried automatically.
	ErrSendFailed = errors.New("send failed")

	// ErrMalformedMessage marks an undecodable inbound envelope.
	ErrMalformedMessage = errors.New("malformed message")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
