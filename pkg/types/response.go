// Package types holds the JSON envelopes shared by every HTTP response.
package types

// SuccessEnvelope wraps a 2xx payload as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public face of a failed request. Retryable tells clients
// whether the same request may succeed later, e.g. after a rate-limit window
// or a dependency outage.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewError builds the error envelope for code.
func NewError(code, message string, retryable bool, details any) ErrorEnvelope {
	return ErrorEnvelope{Error: APIError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Details:   details,
	}}
}
