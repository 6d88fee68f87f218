package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TrxTypeDeposit  = "deposit"
	TrxTypeWithdraw = "withdraw"
	TrxTypeEarn     = "earn"
	TrxTypePayment  = "payment"
)

const (
	TrxStatusPending   = "pending"
	TrxStatusCompleted = "completed"
	TrxStatusFailed    = "failed"
)

// Transaction is the ledger-visible record of one money movement.
// Amount is signed: negative means a debit. Status only ever moves
// forward, pending -> completed or pending -> failed.
type Transaction struct {
	gorm.Model

	UserID   uint   `gorm:"index"`
	UserCode string `gorm:"size:32;index"`

	TrxType string          `gorm:"size:16;index"`
	Status  string          `gorm:"size:16;index"`
	Amount  decimal.Decimal `gorm:"type:numeric(16,2)" json:"amount"`

	// PaymentID is the Bank's payment reference, empty until assigned.
	// OrderID is ours, encodes operation type and user id.
	PaymentID string `gorm:"size:64;index:idx_payment_id" json:"payment_id"`
	OrderID   string `gorm:"size:64;index" json:"order_id"`

	// DealID is the Bank's escrow-accumulation reference. It may be
	// resolved long after the row is created.
	DealID string `gorm:"size:64;index" json:"deal_id"`

	BalanceBefore decimal.Decimal `gorm:"type:numeric(16,2)" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(16,2)" json:"balance_after"`

	Reason string `gorm:"size:255" json:"reason"`
	RefID  string `gorm:"size:64;index" json:"ref_id"`
}

// WebhookEvent keeps the raw body of every Bank notification for audit
// and manual reconciliation.
type WebhookEvent struct {
	gorm.Model

	PaymentID string         `gorm:"size:64;index"`
	OrderID   string         `gorm:"size:64"`
	Status    string         `gorm:"size:32"`
	Payload   datatypes.JSON `json:"payload"`
	Outcome   string         `gorm:"size:64"`
}
