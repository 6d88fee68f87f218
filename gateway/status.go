package gateway

// Payment statuses the Bank reports, on the deposit side and the payout
// side. Values outside this set are possible and must be tolerated.
const (
	StatusNew        = "NEW"
	StatusFormShowed = "FORM_SHOWED"
	StatusAuthorized = "AUTHORIZED"
	StatusConfirmed  = "CONFIRMED"
	StatusRejected   = "REJECTED"
	StatusCanceled   = "CANCELED"
	StatusRefunded   = "REFUNDED"

	// payout lifecycle
	StatusChecking   = "CHECKING"
	StatusChecked    = "CHECKED"
	StatusCompleting = "COMPLETING"
	StatusCompleted  = "COMPLETED"
)

// IsDepositFinal reports whether a deposit has actually been captured.
// AUTHORIZED is informational: the money is held but not ours yet.
func IsDepositFinal(status string) bool {
	return status == StatusConfirmed
}

// IsPayoutSuccess and IsPayoutFailure classify terminal payout states.
func IsPayoutSuccess(status string) bool {
	return status == StatusCompleted
}

func IsPayoutFailure(status string) bool {
	return status == StatusRejected || status == StatusCanceled
}
