package antifraud

import (
	"context"
	"fmt"
	"time"

	"marketpay/config"
	"marketpay/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Gate approves or denies a withdrawal before it touches the ledger or
// the Bank. The withdrawal flow treats it as an opaque collaborator.
type Gate interface {
	CheckWithdrawal(ctx context.Context, userID uint, amount decimal.Decimal) error
}

// DeniedError carries the user-facing reason for a denial.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "withdrawal denied: " + e.Reason
}

// LimitGate is the default gate: a per-day cap on withdrawn total and on
// withdrawal count, read from the transaction log. Failed withdrawals do
// not count against either limit.
type LimitGate struct {
	db  *gorm.DB
	cfg config.AntiFraud
}

func NewLimitGate(db *gorm.DB, cfg config.AntiFraud) *LimitGate {
	return &LimitGate{db: db, cfg: cfg}
}

func (g *LimitGate) CheckWithdrawal(ctx context.Context, userID uint, amount decimal.Decimal) error {
	since := time.Now().Add(-24 * time.Hour)

	var rows []models.Transaction
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND trx_type = ? AND status <> ? AND created_at >= ?",
			userID, models.TrxTypeWithdraw, models.TrxStatusFailed, since).
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("anti-fraud lookup: %w", err)
	}

	if g.cfg.MaxPerDay > 0 && len(rows) >= g.cfg.MaxPerDay {
		return &DeniedError{Reason: fmt.Sprintf("withdrawal count limit of %d per day reached", g.cfg.MaxPerDay)}
	}

	total := amount
	for _, trx := range rows {
		total = total.Add(trx.Amount.Abs())
	}
	if g.cfg.DailyLimit.IsPositive() && total.GreaterThan(g.cfg.DailyLimit) {
		return &DeniedError{Reason: fmt.Sprintf("daily withdrawal limit of %s exceeded", g.cfg.DailyLimit.StringFixed(2))}
	}
	return nil
}
