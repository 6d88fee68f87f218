package payments

// ValidationError rejects a request before any network or ledger effect.
// The message is user-correctable and safe to surface.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
