package payments

import (
	"context"
	"fmt"
	"time"

	"marketpay/gateway"
	"marketpay/ledger"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DepositGateway is the slice of the deposit terminal this flow uses.
type DepositGateway interface {
	InitPayment(ctx context.Context, req gateway.InitPaymentRequest) (*gateway.InitPaymentResult, error)
}

type Deposits struct {
	ledger *ledger.Ledger
	client DepositGateway
	log    zerolog.Logger
}

func NewDeposits(l *ledger.Ledger, client DepositGateway, log zerolog.Logger) *Deposits {
	return &Deposits{
		ledger: l,
		client: client,
		log:    log.With().Str("component", "deposits").Logger(),
	}
}

type DepositIntent struct {
	PaymentID  string          `json:"payment_id"`
	PaymentURL string          `json:"payment_url"`
	OrderID    string          `json:"order_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// Initiate opens a payment with a fresh deal and returns the form URL
// for the payer. The pending transaction row is written before this
// returns: the webhook may beat the payer back to us.
func (d *Deposits) Initiate(ctx context.Context, userID uint, amount decimal.Decimal) (*DepositIntent, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Msg: "deposit amount must be positive"}
	}

	user, err := d.ledger.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ledger.ErrUserInactive
	}

	orderID := fmt.Sprintf("deposit_%d_%d", userID, time.Now().UnixMilli())

	res, err := d.client.InitPayment(ctx, gateway.InitPaymentRequest{
		Amount:      gateway.ToMinorUnits(amount),
		OrderID:     orderID,
		CustomerKey: user.UserCode,
		Description: fmt.Sprintf("balance top-up for %s", user.UserCode),
		CreateDeal:  true,
	})
	if err != nil {
		return nil, err
	}

	if _, err := d.ledger.CreateDepositPending(ctx, user, amount, res.PaymentID.String(), orderID, ""); err != nil {
		// The Bank already knows about this payment; without the row
		// the webhook falls back to creating it, so log and fail the
		// request rather than pretend it went through.
		d.log.Error().Err(err).
			Uint("user_id", userID).
			Str("payment_id", res.PaymentID.String()).
			Str("order_id", orderID).
			Msg("could not persist pending deposit")
		return nil, err
	}

	d.log.Info().
		Uint("user_id", userID).
		Str("payment_id", res.PaymentID.String()).
		Str("order_id", orderID).
		Str("amount", amount.StringFixed(2)).
		Msg("deposit initiated")

	return &DepositIntent{
		PaymentID:  res.PaymentID.String(),
		PaymentURL: res.PaymentURL,
		OrderID:    orderID,
		Amount:     amount,
	}, nil
}
