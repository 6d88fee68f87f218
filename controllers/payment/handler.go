package payment

import (
	"errors"

	"marketpay/antifraud"
	"marketpay/config"
	"marketpay/deals"
	"marketpay/gateway"
	"marketpay/helpers"
	"marketpay/ledger"
	"marketpay/payments"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Handler owns the payment HTTP surface: initiation endpoints, card
// management, and the Bank webhook.
type Handler struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	deposits    *payments.Deposits
	withdrawals *payments.Withdrawals
	client      *gateway.Client
	payouts     *gateway.PayoutClient
	states      deals.StateQuerier
	cfg         config.Gateway
	log         zerolog.Logger
}

func NewHandler(
	db *gorm.DB,
	l *ledger.Ledger,
	deposits *payments.Deposits,
	withdrawals *payments.Withdrawals,
	client *gateway.Client,
	payouts *gateway.PayoutClient,
	cfg config.Gateway,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		db:          db,
		ledger:      l,
		deposits:    deposits,
		withdrawals: withdrawals,
		client:      client,
		payouts:     payouts,
		states:      client,
		cfg:         cfg,
		log:         log.With().Str("component", "payment_http").Logger(),
	}
}

// respondError maps the error taxonomy onto HTTP. Validation, anti-fraud
// and funds errors carry their specific message; gateway trouble stays a
// generic "try later" for the caller while the detail goes to the log.
func (h *Handler) respondError(c *fiber.Ctx, err error) error {
	var vErr *payments.ValidationError
	if errors.As(err, &vErr) {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", vErr.Msg)
	}

	var denied *antifraud.DeniedError
	if errors.As(err, &denied) {
		return helpers.JSONError(c, fiber.StatusForbidden, "ANTIFRAUD_DENIED", denied.Reason)
	}

	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return helpers.JSONError(c, fiber.StatusBadRequest, "INSUFFICIENT_FUNDS", "available balance is below the requested amount")
	case errors.Is(err, ledger.ErrUserNotFound):
		return helpers.JSONError(c, fiber.StatusNotFound, "USER_NOT_FOUND", "user not found")
	case errors.Is(err, ledger.ErrUserInactive):
		return helpers.JSONError(c, fiber.StatusForbidden, "USER_INACTIVE", "user is not active")
	case errors.Is(err, deals.ErrNoDeposits):
		return helpers.JSONError(c, fiber.StatusConflict, "NO_DEPOSITS", "no completed deposits to pay out from")
	case errors.Is(err, deals.ErrNoDealID):
		return helpers.JSONError(c, fiber.StatusConflict, "NO_DEAL", "no deposit with a confirmed deal reference; contact support")
	}

	var tierErr *deals.TierError
	if errors.As(err, &tierErr) {
		return helpers.JSONError(c, fiber.StatusServiceUnavailable, "DEAL_LOOKUP_FAILED", "could not verify the deposit reference, try again later")
	}

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		h.log.Warn().Err(err).Msg("gateway rejected operation")
		return helpers.JSONError(c, fiber.StatusBadGateway, "GATEWAY_REJECTED", "the payment gateway declined the operation, try again later")
	}

	var trErr *gateway.TransportError
	if errors.As(err, &trErr) {
		h.log.Error().Err(err).Msg("gateway unreachable")
		return helpers.JSONError(c, fiber.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "the payment gateway is unavailable, try again later")
	}

	h.log.Error().Err(err).Msg("unhandled payment error")
	return helpers.JSONError(c, fiber.StatusInternalServerError, "INTERNAL", "internal error")
}
