// Package types holds the JSON envelopes every admin and webhook endpoint
// answers with.
package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing error. Retryable tells operators whether the
// same request (for example a payout batch run) may succeed if sent again.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
