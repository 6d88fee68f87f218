package ledger

import (
	"context"
	"errors"
	"fmt"

	"marketpay/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserInactive      = errors.New("user inactive")
	ErrInsufficientFunds = errors.New("insufficient available funds")
	ErrNotFound          = errors.New("transaction not found")

	// ErrConflict means a notification asked for a terminal state that
	// contradicts the one already recorded. Callers log it loudly as a
	// data-integrity signal; it is never resolved silently.
	ErrConflict = errors.New("transaction already in a conflicting terminal state")
)

// Ledger is the only code allowed to move balances. Every operation
// couples the balance delta and the transaction-status write in one
// database transaction; balance arithmetic is done in SQL, never
// read-modify-write; status transitions are conditional updates guarded
// on the current status, so a concurrent duplicate applies at most once.
type Ledger struct {
	db  *gorm.DB
	log zerolog.Logger
}

func New(db *gorm.DB, log zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: log.With().Str("component", "ledger").Logger()}
}

func (l *Ledger) User(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := l.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (l *Ledger) FindByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	var trx models.Transaction
	err := l.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

// CreateDepositPending records the intent before the payer is redirected,
// so a fast webhook always finds a row to reconcile against.
func (l *Ledger) CreateDepositPending(ctx context.Context, user *models.User, amount decimal.Decimal, paymentID, orderID, dealID string) (*models.Transaction, error) {
	trx := models.Transaction{
		UserID:    user.ID,
		UserCode:  user.UserCode,
		TrxType:   models.TrxTypeDeposit,
		Status:    models.TrxStatusPending,
		Amount:    amount,
		PaymentID: paymentID,
		OrderID:   orderID,
		DealID:    dealID,
		Reason:    "deposit via payment gateway",
		RefID:     uuid.New().String(),
	}
	if err := l.db.WithContext(ctx).Create(&trx).Error; err != nil {
		return nil, err
	}
	return &trx, nil
}

// CreditDeposit moves a deposit to completed and credits the balance as
// one atomic unit. Redelivery is a no-op (applied=false). A deposit the
// initiation flow never recorded is created on the spot and credited
// once. A confirmed notification for a row already failed is ErrConflict.
func (l *Ledger) CreditDeposit(ctx context.Context, paymentID, orderID string, userID uint, amount decimal.Decimal, dealID string) (applied bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trx models.Transaction
		ferr := tx.Where("payment_id = ?", paymentID).First(&trx).Error

		switch {
		case ferr == nil:
			switch trx.Status {
			case models.TrxStatusCompleted:
				return nil // idempotent replay
			case models.TrxStatusFailed:
				return fmt.Errorf("confirmed notification for failed deposit %s: %w", paymentID, ErrConflict)
			}

			res := tx.Model(&models.Transaction{}).
				Where("id = ? AND status = ?", trx.ID, models.TrxStatusPending).
				Update("status", models.TrxStatusCompleted)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil // lost the race to a concurrent delivery
			}

			if err := l.applyCredit(tx, trx.UserID, amount, trx.ID, dealID); err != nil {
				return err
			}
			applied = true
			return nil

		case errors.Is(ferr, gorm.ErrRecordNotFound):
			// back-compat path: webhook for a payment we never recorded
			var user models.User
			if err := tx.First(&user, userID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrUserNotFound
				}
				return err
			}
			trx := models.Transaction{
				UserID:    user.ID,
				UserCode:  user.UserCode,
				TrxType:   models.TrxTypeDeposit,
				Status:    models.TrxStatusCompleted,
				Amount:    amount,
				PaymentID: paymentID,
				OrderID:   orderID,
				DealID:    dealID,
				Reason:    "deposit reconciled from webhook without prior record",
				RefID:     uuid.New().String(),
			}
			if err := tx.Create(&trx).Error; err != nil {
				return err
			}
			if err := l.applyCredit(tx, user.ID, amount, trx.ID, dealID); err != nil {
				return err
			}
			applied = true
			return nil

		default:
			return ferr
		}
	})
	return applied, err
}

// applyCredit adds to the balance in SQL and fills the audit fields on
// the transaction row. Runs inside the caller's database transaction.
func (l *Ledger) applyCredit(tx *gorm.DB, userID uint, amount decimal.Decimal, trxID uint, dealID string) error {
	res := tx.Model(&models.User{}).Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}

	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		return err
	}

	updates := map[string]any{
		"balance_before": user.Balance.Sub(amount),
		"balance_after":  user.Balance,
	}
	if dealID != "" {
		updates["deal_id"] = dealID
	}
	return tx.Model(&models.Transaction{}).Where("id = ?", trxID).Updates(updates).Error
}

// FailDeposit marks a rejected deposit failed. Nothing was ever
// credited for it, so there is no balance effect. A rejection for a
// deposit already completed is ErrConflict.
func (l *Ledger) FailDeposit(ctx context.Context, paymentID, reason string) (applied bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trx models.Transaction
		ferr := tx.Where("payment_id = ? AND trx_type = ?", paymentID, models.TrxTypeDeposit).First(&trx).Error
		if errors.Is(ferr, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if ferr != nil {
			return ferr
		}
		switch trx.Status {
		case models.TrxStatusFailed:
			return nil
		case models.TrxStatusCompleted:
			return fmt.Errorf("rejection notification for completed deposit %s: %w", paymentID, ErrConflict)
		}

		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", trx.ID, models.TrxStatusPending).
			Updates(map[string]any{"status": models.TrxStatusFailed, "reason": reason})
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	return applied, err
}

// ReserveWithdrawal debits the available balance and records the pending
// withdrawal in one unit. The funds check lives in the UPDATE's WHERE
// clause, so two concurrent withdrawals cannot both pass it.
func (l *Ledger) ReserveWithdrawal(ctx context.Context, userID uint, amount decimal.Decimal, orderID string) (*models.Transaction, error) {
	var trx models.Transaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// CAST keeps the decimal comparable on both postgres and the
		// sqlite test driver.
		res := tx.Model(&models.User{}).
			Where("id = ? AND is_active = ? AND balance - frozen_balance >= CAST(? AS NUMERIC)", userID, true, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var user models.User
			if err := tx.First(&user, userID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrUserNotFound
				}
				return err
			}
			if !user.IsActive {
				return ErrUserInactive
			}
			return ErrInsufficientFunds
		}

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}

		trx = models.Transaction{
			UserID:        user.ID,
			UserCode:      user.UserCode,
			TrxType:       models.TrxTypeWithdraw,
			Status:        models.TrxStatusPending,
			Amount:        amount.Neg(),
			OrderID:       orderID,
			BalanceBefore: user.Balance.Add(amount),
			BalanceAfter:  user.Balance,
			Reason:        "withdrawal via payment gateway",
			RefID:         uuid.New().String(),
		}
		return tx.Create(&trx).Error
	})
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

// AttachPayout stores the Bank references once InitPayout has assigned
// them.
func (l *Ledger) AttachPayout(ctx context.Context, trxID uint, paymentID, dealID string) error {
	return l.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ?", trxID).
		Updates(map[string]any{"payment_id": paymentID, "deal_id": dealID}).Error
}

// CompleteWithdrawal flips pending -> completed. No balance change: the
// debit happened at reservation.
func (l *Ledger) CompleteWithdrawal(ctx context.Context, paymentID, orderID string) (applied bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trx, terr := l.withdrawalByRef(tx, paymentID, orderID)
		if terr != nil {
			return terr
		}
		switch trx.Status {
		case models.TrxStatusCompleted:
			return nil
		case models.TrxStatusFailed:
			return fmt.Errorf("success notification for failed withdrawal %s: %w", paymentID, ErrConflict)
		}

		updates := map[string]any{"status": models.TrxStatusCompleted}
		if trx.PaymentID == "" && paymentID != "" {
			updates["payment_id"] = paymentID
		}
		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", trx.ID, models.TrxStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	return applied, err
}

// FailWithdrawal flips pending -> failed and credits the absolute amount
// back. This transition is the only place withdrawal reversals happen;
// because it is guarded on the pending status, a duplicate rejection can
// never credit twice.
func (l *Ledger) FailWithdrawal(ctx context.Context, paymentID, orderID, reason string) (applied bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trx, terr := l.withdrawalByRef(tx, paymentID, orderID)
		if terr != nil {
			return terr
		}
		switch trx.Status {
		case models.TrxStatusFailed:
			return nil
		case models.TrxStatusCompleted:
			return fmt.Errorf("rejection notification for completed withdrawal %s: %w", paymentID, ErrConflict)
		}

		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", trx.ID, models.TrxStatusPending).
			Updates(map[string]any{"status": models.TrxStatusFailed, "reason": reason})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		refund := trx.Amount.Abs()
		ures := tx.Model(&models.User{}).Where("id = ?", trx.UserID).
			Update("balance", gorm.Expr("balance + ?", refund))
		if ures.Error != nil {
			return ures.Error
		}
		if ures.RowsAffected == 0 {
			return ErrUserNotFound
		}
		applied = true
		return nil
	})
	return applied, err
}

// withdrawalByRef finds a withdrawal by the Bank's payment id, falling
// back to our order id for rows where InitPayout never got to assign
// one (the transport failed with the outcome unknown).
func (l *Ledger) withdrawalByRef(tx *gorm.DB, paymentID, orderID string) (*models.Transaction, error) {
	var trx models.Transaction
	if paymentID != "" {
		err := tx.Where("payment_id = ? AND trx_type = ?", paymentID, models.TrxTypeWithdraw).First(&trx).Error
		if err == nil {
			return &trx, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if orderID != "" {
		err := tx.Where("order_id = ? AND trx_type = ?", orderID, models.TrxTypeWithdraw).First(&trx).Error
		if err == nil {
			return &trx, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// LatestCompletedDeposit returns the user's most recent captured deposit,
// whether or not it carries a deal id.
func (l *Ledger) LatestCompletedDeposit(ctx context.Context, userID uint) (*models.Transaction, error) {
	var trx models.Transaction
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND trx_type = ? AND status = ?", userID, models.TrxTypeDeposit, models.TrxStatusCompleted).
		Order("id DESC").First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

// LatestDepositDeal returns the deal id stored on the user's most recent
// completed deposit that has one.
func (l *Ledger) LatestDepositDeal(ctx context.Context, userID uint) (string, error) {
	var trx models.Transaction
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND trx_type = ? AND status = ? AND deal_id <> ''",
			userID, models.TrxTypeDeposit, models.TrxStatusCompleted).
		Order("id DESC").First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return trx.DealID, nil
}

// DepositsMissingDeal lists completed deposits that still lack a Bank
// deal reference; the recovery sweep feeds on it.
func (l *Ledger) DepositsMissingDeal(ctx context.Context, userID uint, limit int) ([]models.Transaction, error) {
	q := l.db.WithContext(ctx).
		Where("trx_type = ? AND status = ? AND deal_id = '' AND payment_id <> ''",
			models.TrxTypeDeposit, models.TrxStatusCompleted).
		Order("id DESC").Limit(limit)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var list []models.Transaction
	if err := q.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (l *Ledger) AttachDealID(ctx context.Context, trxID uint, dealID string) error {
	return l.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND deal_id = ''", trxID).
		Update("deal_id", dealID).Error
}
