package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"marketpay/gateway"
	"marketpay/helpers"
	"marketpay/ledger"
	"marketpay/metrics"
	"marketpay/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

// notification is the defensively decoded Bank webhook payload. The Bank
// sends loosely typed JSON with optional fields; everything beyond the
// known set is kept in params for signature verification.
type notification struct {
	params map[string]any // Token already stripped
	token  string

	paymentID  string
	orderID    string
	status     string
	dealID     string
	requestKey string

	amountMinor int64
	raw         []byte
}

const (
	kindDeposit    = "deposit"
	kindWithdrawal = "withdraw"
	kindCardBound  = "card_bound"
	kindUnknown    = "unknown"
)

func parseNotification(body []byte) (*notification, error) {
	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}

	n := &notification{params: params, raw: body}
	if tok, ok := params["Token"].(string); ok {
		n.token = tok
	}
	delete(params, "Token")

	n.paymentID = idField(params["PaymentId"])
	n.orderID, _ = params["OrderId"].(string)
	n.status, _ = params["Status"].(string)
	n.requestKey = idField(params["RequestKey"])

	if v, ok := params["SpAccumulationId"].(string); ok {
		n.dealID = v
	} else if v, ok := params["DealId"].(string); ok {
		n.dealID = v
	}

	if v, ok := params["Amount"].(float64); ok {
		n.amountMinor = int64(v)
	}
	return n, nil
}

func idField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', 0, 64)
	default:
		return ""
	}
}

// kind classifies the delivery and extracts the user id encoded in the
// order id's structured prefix. An explicit unknown variant keeps the
// handler forward-compatible with notification shapes we do not speak.
func (n *notification) kind() (string, uint) {
	if n.requestKey != "" && n.orderID == "" {
		return kindCardBound, 0
	}
	parts := strings.Split(n.orderID, "_")
	if len(parts) < 2 {
		return kindUnknown, 0
	}
	userID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return kindUnknown, 0
	}
	switch parts[0] {
	case "deposit":
		return kindDeposit, uint(userID)
	case "withdraw":
		return kindWithdrawal, uint(userID)
	default:
		return kindUnknown, 0
	}
}

// Webhook is the Bank's asynchronous notification endpoint and the
// single source of truth for moving transactions out of pending. It is
// idempotent: redeliveries of a settled notification ack without any
// ledger effect. Non-2xx answers are reserved for signature and schema
// failures; everything else acks so the Bank stops retrying.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	n, err := parseNotification(body)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("malformed").Inc()
		return helpers.JSONError(c, fiber.StatusBadRequest, "BAD_PAYLOAD", "malformed notification body")
	}

	// Either terminal may be the sender; each signs with its own
	// password. On mismatch, reject without hinting what differed.
	if n.token == "" ||
		(!gateway.Verify(n.params, n.token, h.cfg.TerminalPassword) &&
			!gateway.Verify(n.params, n.token, h.cfg.PayoutTerminalPassword)) {
		metrics.WebhookDeliveries.WithLabelValues("bad_signature").Inc()
		h.log.Warn().Str("order_id", n.orderID).Msg("webhook signature mismatch")
		return helpers.JSONError(c, fiber.StatusUnauthorized, "BAD_TOKEN", "invalid token")
	}

	if kind, _ := n.kind(); kind == kindCardBound {
		h.recordEvent(n, "card_bound")
		metrics.WebhookDeliveries.WithLabelValues("card_bound").Inc()
		h.log.Info().Str("request_key", n.requestKey).Str("status", n.status).Msg("card binding notification")
		return helpers.WebhookAck(c)
	}

	// A signed but incomplete payload is an error worth surfacing, not
	// something to swallow.
	if n.paymentID == "" || n.orderID == "" {
		h.recordEvent(n, "schema_error")
		metrics.WebhookDeliveries.WithLabelValues("schema_error").Inc()
		h.log.Error().Str("order_id", n.orderID).Str("payment_id", n.paymentID).Msg("webhook missing required fields")
		return helpers.JSONError(c, fiber.StatusBadRequest, "BAD_PAYLOAD", "PaymentId and OrderId are required")
	}

	kind, userID := n.kind()
	switch kind {
	case kindDeposit:
		return h.reconcileDeposit(c, n, userID)
	case kindWithdrawal:
		return h.reconcileWithdrawal(c, n)
	default:
		h.recordEvent(n, "unknown_order")
		metrics.WebhookDeliveries.WithLabelValues("unknown_order").Inc()
		h.log.Error().Str("order_id", n.orderID).Msg("webhook order id has an unrecognized structure")
		return helpers.JSONError(c, fiber.StatusBadRequest, "BAD_PAYLOAD", "unrecognized OrderId structure")
	}
}

func (h *Handler) reconcileDeposit(c *fiber.Ctx, n *notification, userID uint) error {
	ctx := c.UserContext()

	switch {
	case gateway.IsDepositFinal(n.status):
		// proceed below

	case n.status == gateway.StatusRejected || n.status == gateway.StatusCanceled:
		_, err := h.ledger.FailDeposit(ctx, n.paymentID, "deposit "+strings.ToLower(n.status))
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			if errors.Is(err, ledger.ErrConflict) {
				return h.ackConflict(c, n, err)
			}
			return h.internalError(c, n, err)
		}
		h.recordEvent(n, "deposit_failed")
		metrics.WebhookDeliveries.WithLabelValues("deposit_failed").Inc()
		return helpers.WebhookAck(c)

	default:
		// AUTHORIZED and friends are informational; a status we have
		// never seen is logged and acked, never an error.
		h.recordEvent(n, "ignored_status")
		metrics.WebhookDeliveries.WithLabelValues("ignored_status").Inc()
		h.log.Info().Str("payment_id", n.paymentID).Str("status", n.status).Msg("non-final deposit status, no ledger effect")
		return helpers.WebhookAck(c)
	}

	// Settled rows short-circuit before the recovery lookup below, so a
	// redelivery never costs a Bank round-trip.
	prior, perr := h.ledger.FindByPaymentID(ctx, n.paymentID)
	if perr != nil && !errors.Is(perr, ledger.ErrNotFound) {
		return h.internalError(c, n, perr)
	}
	if prior != nil && prior.Status == models.TrxStatusCompleted {
		h.recordEvent(n, "duplicate")
		metrics.WebhookDuplicates.Inc()
		metrics.WebhookDeliveries.WithLabelValues("duplicate").Inc()
		return helpers.WebhookAck(c)
	}

	// The Bank sends Amount on every payment notification, but a signed
	// payload without one must not credit 0.00: fall back to the amount
	// recorded at initiation, and reject when neither is usable.
	amount := gateway.FromMinorUnits(n.amountMinor)
	if !amount.IsPositive() && prior != nil {
		amount = prior.Amount
	}
	if !amount.IsPositive() {
		h.recordEvent(n, "schema_error")
		metrics.WebhookDeliveries.WithLabelValues("schema_error").Inc()
		h.log.Error().Str("payment_id", n.paymentID).Str("order_id", n.orderID).Msg("confirmed deposit with no usable amount")
		return helpers.JSONError(c, fiber.StatusBadRequest, "BAD_PAYLOAD", "Amount is required for a confirmed payment")
	}

	dealID := n.dealID
	if dealID == "" {
		// One bounded live recovery attempt; the background sweep
		// picks up anything still missing. Downstream withdrawals
		// depend on this id, so its absence is loud, never a silent
		// null.
		if state, err := h.states.GetPaymentState(ctx, n.paymentID); err == nil && state.DealID != "" {
			dealID = state.DealID
			metrics.DealRecoveries.WithLabelValues("webhook", "found").Inc()
		} else {
			metrics.DealRecoveries.WithLabelValues("webhook", "missing").Inc()
			h.log.Error().
				Uint("user_id", userID).
				Str("payment_id", n.paymentID).
				Str("order_id", n.orderID).
				Msg("confirmed deposit has no deal id even after live lookup")
		}
	}

	applied, err := h.ledger.CreditDeposit(ctx, n.paymentID, n.orderID, userID, amount, dealID)
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return h.ackConflict(c, n, err)
		}
		return h.internalError(c, n, err)
	}

	if !applied {
		h.recordEvent(n, "duplicate")
		metrics.WebhookDuplicates.Inc()
		metrics.WebhookDeliveries.WithLabelValues("duplicate").Inc()
		return helpers.WebhookAck(c)
	}

	h.recordEvent(n, "deposit_credited")
	metrics.WebhookDeliveries.WithLabelValues("deposit_credited").Inc()
	h.log.Info().
		Uint("user_id", userID).
		Str("payment_id", n.paymentID).
		Str("deal_id", dealID).
		Str("amount", amount.StringFixed(2)).
		Msg("deposit credited")
	return helpers.WebhookAck(c)
}

func (h *Handler) reconcileWithdrawal(c *fiber.Ctx, n *notification) error {
	ctx := c.UserContext()

	switch {
	case gateway.IsPayoutSuccess(n.status):
		applied, err := h.ledger.CompleteWithdrawal(ctx, n.paymentID, n.orderID)
		switch {
		case errors.Is(err, ledger.ErrConflict):
			return h.ackConflict(c, n, err)
		case errors.Is(err, ledger.ErrNotFound):
			return h.ackOrphan(c, n)
		case err != nil:
			return h.internalError(c, n, err)
		}
		outcome := "withdrawal_completed"
		if !applied {
			outcome = "duplicate"
			metrics.WebhookDuplicates.Inc()
		}
		h.recordEvent(n, outcome)
		metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
		return helpers.WebhookAck(c)

	case gateway.IsPayoutFailure(n.status):
		applied, err := h.ledger.FailWithdrawal(ctx, n.paymentID, n.orderID, "payout "+strings.ToLower(n.status))
		switch {
		case errors.Is(err, ledger.ErrConflict):
			return h.ackConflict(c, n, err)
		case errors.Is(err, ledger.ErrNotFound):
			return h.ackOrphan(c, n)
		case err != nil:
			return h.internalError(c, n, err)
		}
		outcome := "withdrawal_reversed"
		if !applied {
			outcome = "duplicate"
			metrics.WebhookDuplicates.Inc()
		} else {
			metrics.PayoutCompensations.Inc()
			h.log.Warn().
				Str("payment_id", n.paymentID).
				Str("order_id", n.orderID).
				Str("status", n.status).
				Msg("payout rejected by bank, withdrawal debit credited back")
		}
		h.recordEvent(n, outcome)
		metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
		return helpers.WebhookAck(c)

	default:
		h.recordEvent(n, "ignored_status")
		metrics.WebhookDeliveries.WithLabelValues("ignored_status").Inc()
		h.log.Info().Str("payment_id", n.paymentID).Str("status", n.status).Msg("non-terminal payout status, no ledger effect")
		return helpers.WebhookAck(c)
	}
}

// ackConflict acknowledges a notification that contradicts a recorded
// terminal state. Retrying will not fix a data-integrity problem, so we
// stop the redeliveries and leave a loud trace for manual
// reconciliation instead of resolving it either way.
func (h *Handler) ackConflict(c *fiber.Ctx, n *notification, cause error) error {
	h.recordEvent(n, "conflict")
	metrics.WebhookDeliveries.WithLabelValues("conflict").Inc()
	h.log.Error().Err(cause).
		Str("payment_id", n.paymentID).
		Str("order_id", n.orderID).
		Str("status", n.status).
		Msg("reconciliation conflict")
	return helpers.WebhookAck(c)
}

func (h *Handler) ackOrphan(c *fiber.Ctx, n *notification) error {
	h.recordEvent(n, "orphan")
	metrics.WebhookDeliveries.WithLabelValues("orphan").Inc()
	h.log.Error().
		Str("payment_id", n.paymentID).
		Str("order_id", n.orderID).
		Str("status", n.status).
		Msg("payout notification for a withdrawal we have no record of")
	return helpers.WebhookAck(c)
}

func (h *Handler) internalError(c *fiber.Ctx, n *notification, cause error) error {
	h.recordEvent(n, "error")
	metrics.WebhookDeliveries.WithLabelValues("error").Inc()
	h.log.Error().Err(cause).
		Str("payment_id", n.paymentID).
		Str("order_id", n.orderID).
		Msg("webhook processing failed")
	// non-ack so the Bank redelivers once the store recovers
	return helpers.JSONError(c, fiber.StatusInternalServerError, "INTERNAL", "processing failed")
}

// recordEvent keeps the raw delivery for audit. Best effort: a failed
// audit write never fails the reconciliation itself.
func (h *Handler) recordEvent(n *notification, outcome string) {
	event := models.WebhookEvent{
		PaymentID: n.paymentID,
		OrderID:   n.orderID,
		Status:    n.status,
		Payload:   datatypes.JSON(n.raw),
		Outcome:   outcome,
	}
	if err := h.db.Create(&event).Error; err != nil {
		h.log.Warn().Err(err).Str("payment_id", n.paymentID).Msg("could not record webhook event")
	}
}
