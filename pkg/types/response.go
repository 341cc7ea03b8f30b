package types

// SuccessEnvelope is the wire shape of every 2xx JSON response.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope is the wire shape of every non-2xx JSON response.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// APIError carries the machine-readable code alongside a message safe to
// show callers. Details is populated only for validation failures.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
