package ledger

import (
	"context"
	"errors"
	"fmt"

	"marketpay/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Platform-internal escrow between a client and a performer: the client's
// funds are frozen when a task is accepted, and on completion move to the
// performer as a payment/earn transaction pair sharing one ref id.

// HoldPayment freezes amount out of the client's available balance and
// records a pending payment transaction for it.
func (l *Ledger) HoldPayment(ctx context.Context, clientID uint, amount decimal.Decimal, reason string) (*models.Transaction, error) {
	var trx models.Transaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND is_active = ? AND balance - frozen_balance >= CAST(? AS NUMERIC)", clientID, true, amount).
			Update("frozen_balance", gorm.Expr("frozen_balance + ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var user models.User
			if err := tx.First(&user, clientID).Error; err != nil {
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
		if err := tx.First(&user, clientID).Error; err != nil {
			return err
		}

		trx = models.Transaction{
			UserID:        user.ID,
			UserCode:      user.UserCode,
			TrxType:       models.TrxTypePayment,
			Status:        models.TrxStatusPending,
			Amount:        amount.Neg(),
			BalanceBefore: user.Balance,
			BalanceAfter:  user.Balance,
			Reason:        reason,
			RefID:         uuid.New().String(),
		}
		return tx.Create(&trx).Error
	})
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

// ReleasePayment settles a hold: the client's frozen amount is debited
// for good and the performer is credited, in one database transaction.
func (l *Ledger) ReleasePayment(ctx context.Context, holdID, performerID uint) (*models.Transaction, error) {
	var earn models.Transaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hold models.Transaction
		if err := tx.First(&hold, holdID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if hold.TrxType != models.TrxTypePayment {
			return fmt.Errorf("transaction %d is not a payment hold: %w", holdID, ErrNotFound)
		}

		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", hold.ID, models.TrxStatusPending).
			Update("status", models.TrxStatusCompleted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("payment hold %d already settled: %w", holdID, ErrConflict)
		}

		amount := hold.Amount.Abs()
		cres := tx.Model(&models.User{}).Where("id = ?", hold.UserID).
			Updates(map[string]any{
				"balance":        gorm.Expr("balance - ?", amount),
				"frozen_balance": gorm.Expr("frozen_balance - ?", amount),
			})
		if cres.Error != nil {
			return cres.Error
		}
		if cres.RowsAffected == 0 {
			return ErrUserNotFound
		}

		var performer models.User
		if err := tx.First(&performer, performerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		pres := tx.Model(&models.User{}).Where("id = ?", performer.ID).
			Update("balance", gorm.Expr("balance + ?", amount))
		if pres.Error != nil {
			return pres.Error
		}

		if err := tx.First(&performer, performerID).Error; err != nil {
			return err
		}
		earn = models.Transaction{
			UserID:        performer.ID,
			UserCode:      performer.UserCode,
			TrxType:       models.TrxTypeEarn,
			Status:        models.TrxStatusCompleted,
			Amount:        amount,
			BalanceBefore: performer.Balance.Sub(amount),
			BalanceAfter:  performer.Balance,
			Reason:        "task payment released",
			RefID:         hold.RefID,
		}
		return tx.Create(&earn).Error
	})
	if err != nil {
		return nil, err
	}
	return &earn, nil
}

// RefundHold cancels a hold: the frozen amount becomes available again
// and the hold transaction is marked failed. No money leaves the client.
func (l *Ledger) RefundHold(ctx context.Context, holdID uint, reason string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hold models.Transaction
		if err := tx.First(&hold, holdID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		res := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", hold.ID, models.TrxStatusPending).
			Updates(map[string]any{"status": models.TrxStatusFailed, "reason": reason})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("payment hold %d already settled: %w", holdID, ErrConflict)
		}

		return tx.Model(&models.User{}).Where("id = ?", hold.UserID).
			Update("frozen_balance", gorm.Expr("frozen_balance - ?", hold.Amount.Abs())).Error
	})
}
