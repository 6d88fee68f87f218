package payment

import (
	"errors"

	"marketpay/helpers"
	"marketpay/ledger"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Platform-internal escrow endpoints: freeze a client's funds for a
// task, then release them to the performer or refund the hold.

type holdRequest struct {
	UserID uint   `json:"user_id"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) HoldPayment(c *fiber.Ctx) error {
	var req holdRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "user_id required")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "amount must be a positive number")
	}

	reason := req.Reason
	if reason == "" {
		reason = "task payment hold"
	}

	trx, err := h.ledger.HoldPayment(c.UserContext(), req.UserID, amount, reason)
	if err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "funds held", fiber.Map{"hold_id": trx.ID, "ref_id": trx.RefID})
}

type releaseRequest struct {
	HoldID      uint   `json:"hold_id"`
	PerformerID uint   `json:"performer_id"`
	Reason      string `json:"reason"`
}

func (h *Handler) ReleasePayment(c *fiber.Ctx) error {
	var req releaseRequest
	if err := c.BodyParser(&req); err != nil || req.HoldID == 0 || req.PerformerID == 0 {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "hold_id and performer_id required")
	}

	earn, err := h.ledger.ReleasePayment(c.UserContext(), req.HoldID, req.PerformerID)
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return helpers.JSONError(c, fiber.StatusConflict, "ALREADY_SETTLED", "hold already settled")
		}
		if errors.Is(err, ledger.ErrNotFound) {
			return helpers.JSONError(c, fiber.StatusNotFound, "HOLD_NOT_FOUND", "payment hold not found")
		}
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "payment released", fiber.Map{"earn_id": earn.ID, "ref_id": earn.RefID})
}

func (h *Handler) RefundHold(c *fiber.Ctx) error {
	var req releaseRequest
	if err := c.BodyParser(&req); err != nil || req.HoldID == 0 {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "hold_id required")
	}

	reason := req.Reason
	if reason == "" {
		reason = "task canceled"
	}

	if err := h.ledger.RefundHold(c.UserContext(), req.HoldID, reason); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return helpers.JSONError(c, fiber.StatusConflict, "ALREADY_SETTLED", "hold already settled")
		}
		if errors.Is(err, ledger.ErrNotFound) {
			return helpers.JSONError(c, fiber.StatusNotFound, "HOLD_NOT_FOUND", "payment hold not found")
		}
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "hold refunded", nil)
}
