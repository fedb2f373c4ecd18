package errors

// Connection admission error codes surfaced to realtime clients at the
// websocket handshake. These travel in the close frame / rejection payload,
// so they are stable string codes rather than HTTP statuses.
const (
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeAuthInvalid  = "AUTH_INVALID"
	CodeRateLimited  = "RATE_LIMITED"
)

// ConnectionError is a handshake-level rejection with a wire-visible code.
type ConnectionError struct {
	Code    string
	Message string
}

func (e *ConnectionError) Error() string {
	return e.Message
}

// NewAuthRequiredError reports a connection attempt with no credential.
func NewAuthRequiredError() *ConnectionError {
	return &ConnectionError{Code: CodeAuthRequired, Message: "missing credential"}
}

// NewAuthInvalidError reports a bad or expired credential.
func NewAuthInvalidError(details string) *ConnectionError {
	msg := "invalid or expired credential"
	if details != "" {
		msg = msg + ": " + details
	}
	return &ConnectionError{Code: CodeAuthInvalid, Message: msg}
}

// NewRateLimitedConnError reports an admission-control rejection.
func NewRateLimitedConnError() *ConnectionError {
	return &ConnectionError{Code: CodeRateLimited, Message: "connection rate limit exceeded"}
}
