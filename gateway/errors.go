package gateway

import "fmt"

// APIError is a business-level rejection from the Bank: the request was
// received and declined. The outcome is definite.
type APIError struct {
	Method    string
	ErrorCode string
	Message   string
	Details   string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("bank rejected %s (code %s): %s: %s", e.Method, e.ErrorCode, e.Message, e.Details)
	}
	return fmt.Sprintf("bank rejected %s (code %s): %s", e.Method, e.ErrorCode, e.Message)
}

// TransportError is a network or decoding failure: timeout, connection
// reset, non-2xx status, malformed body. The outcome of the operation is
// unknown and must not be treated as a definite failure.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bank call %s failed: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
