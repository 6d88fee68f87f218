package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketpay/antifraud"
	"marketpay/gateway"
	"marketpay/ledger"
	"marketpay/metrics"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MinWithdrawal is the gateway's minimum payout, major units.
var MinWithdrawal = decimal.NewFromInt(10)

// PayoutGateway is the slice of the payout terminal this flow uses.
type PayoutGateway interface {
	InitPayout(ctx context.Context, req gateway.InitPayoutRequest) (*gateway.InitPayoutResult, error)
	ExecutePayout(ctx context.Context, paymentID string) (*gateway.InitPayoutResult, error)
}

// DealResolver hides the tiered lookup behind one call.
type DealResolver interface {
	Resolve(ctx context.Context, userID uint, explicit string) (string, error)
}

// Destination is where the payout goes: a bound card, or phone + SBP
// member id for the instant rail.
type Destination struct {
	CardID      string `json:"card_id"`
	Phone       string `json:"phone"`
	SbpMemberID string `json:"sbp_member_id"`
}

func (d Destination) isCard() bool { return d.CardID != "" }

func (d Destination) isSbp() bool { return d.Phone != "" && d.SbpMemberID != "" }

type Withdrawals struct {
	ledger   *ledger.Ledger
	payouts  PayoutGateway
	resolver DealResolver
	gate     antifraud.Gate
	log      zerolog.Logger
}

func NewWithdrawals(l *ledger.Ledger, payouts PayoutGateway, resolver DealResolver, gate antifraud.Gate, log zerolog.Logger) *Withdrawals {
	return &Withdrawals{
		ledger:   l,
		payouts:  payouts,
		resolver: resolver,
		gate:     gate,
		log:      log.With().Str("component", "withdrawals").Logger(),
	}
}

type WithdrawalResult struct {
	PaymentID  string          `json:"payment_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// Initiate runs the precondition chain in order, short-circuiting on the
// first failure: amount, anti-fraud, available funds, destination, deal
// reference. Only then does it reserve the debit and dispatch the
// payout. Card payouts need the extra ExecutePayout call; SBP payouts
// are final at InitPayout and must not get one. The transaction is
// marked completed here only if the gateway already reports a terminal
// success; otherwise the webhook settles it.
func (w *Withdrawals) Initiate(ctx context.Context, userID uint, amount decimal.Decimal, dest Destination, explicitDeal string) (*WithdrawalResult, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Msg: "withdrawal amount must be positive"}
	}
	if amount.LessThan(MinWithdrawal) {
		return nil, &ValidationError{Msg: fmt.Sprintf("withdrawal amount below the minimum of %s", MinWithdrawal.StringFixed(2))}
	}

	if err := w.gate.CheckWithdrawal(ctx, userID, amount); err != nil {
		return nil, err
	}

	user, err := w.ledger.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ledger.ErrUserInactive
	}
	if user.Available().LessThan(amount) {
		return nil, ledger.ErrInsufficientFunds
	}

	if !dest.isCard() && !dest.isSbp() {
		return nil, &ValidationError{Msg: "payout destination required: card id, or phone with sbp member id"}
	}

	dealID, err := w.resolver.Resolve(ctx, userID, explicitDeal)
	if err != nil {
		return nil, err
	}

	orderID := fmt.Sprintf("withdraw_%d_%d", userID, time.Now().UnixMilli())

	// Reserve before dispatch. The WHERE clause re-checks available
	// funds atomically, so a concurrent withdrawal cannot double-spend
	// past the fetch above.
	trx, err := w.ledger.ReserveWithdrawal(ctx, userID, amount, orderID)
	if err != nil {
		return nil, err
	}

	res, err := w.payouts.InitPayout(ctx, gateway.InitPayoutRequest{
		Amount:      gateway.ToMinorUnits(amount),
		OrderID:     orderID,
		DealID:      dealID,
		CardID:      dest.CardID,
		Phone:       dest.Phone,
		SbpMemberID: dest.SbpMemberID,
	})
	if err != nil {
		return nil, w.dispatchFailed(ctx, userID, "", orderID, err)
	}
	paymentID := res.PaymentID.String()

	if err := w.ledger.AttachPayout(ctx, trx.ID, paymentID, dealID); err != nil {
		w.log.Error().Err(err).
			Uint("trx_id", trx.ID).
			Str("payment_id", paymentID).
			Msg("could not attach payout references")
		return nil, err
	}

	status := res.Status
	if dest.isCard() {
		exec, err := w.payouts.ExecutePayout(ctx, paymentID)
		if err != nil {
			return nil, w.dispatchFailed(ctx, userID, paymentID, orderID, err)
		}
		status = exec.Status
	}

	// Complete only when the dispatch answer is already terminal. A
	// COMPLETING (or any other intermediate) status leaves the row
	// pending: the Bank's verdict arrives by webhook, and a rejection
	// must still find a pending row to credit back.
	if gateway.IsPayoutSuccess(status) {
		if _, err := w.ledger.CompleteWithdrawal(ctx, paymentID, orderID); err != nil {
			return nil, err
		}
	}

	fresh, err := w.ledger.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	w.log.Info().
		Uint("user_id", userID).
		Str("payment_id", paymentID).
		Str("order_id", orderID).
		Str("deal_id", dealID).
		Str("amount", amount.StringFixed(2)).
		Str("status", status).
		Bool("card", dest.isCard()).
		Msg("withdrawal dispatched")

	return &WithdrawalResult{PaymentID: paymentID, NewBalance: fresh.Balance}, nil
}

// dispatchFailed decides what to do with the reserved debit after the
// payout call errored. A definite business rejection compensates right
// here; a transport failure means the outcome is unknown, so the
// transaction stays pending for the webhook or a state query to settle.
// Both paths share the conditional pending->failed transition with the
// webhook, so at most one compensation ever applies.
func (w *Withdrawals) dispatchFailed(ctx context.Context, userID uint, paymentID, orderID string, cause error) error {
	var apiErr *gateway.APIError
	if errors.As(cause, &apiErr) {
		applied, err := w.ledger.FailWithdrawal(ctx, paymentID, orderID, "payout rejected: "+apiErr.Message)
		if err != nil {
			w.log.Error().Err(err).
				Uint("user_id", userID).
				Str("order_id", orderID).
				Msg("compensation after payout rejection failed")
			return err
		}
		if applied {
			metrics.PayoutCompensations.Inc()
		}
		w.log.Warn().
			Uint("user_id", userID).
			Str("order_id", orderID).
			Str("error_code", apiErr.ErrorCode).
			Msg("payout rejected by bank, debit credited back")
		return cause
	}

	w.log.Error().Err(cause).
		Uint("user_id", userID).
		Str("order_id", orderID).
		Msg("payout outcome unknown, leaving withdrawal pending")
	return cause
}
