package payment

import (
	"marketpay/helpers"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type depositRequest struct {
	UserID uint   `json:"user_id"`
	Amount string `json:"amount"`
}

// InitiateDeposit opens a payment with the Bank and answers with the
// redirect URL for the payer.
func (h *Handler) InitiateDeposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "invalid json body")
	}
	if req.UserID == 0 {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "user_id required")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "amount is not a valid number")
	}

	intent, err := h.deposits.Initiate(c.UserContext(), req.UserID, amount)
	if err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "deposit initiated", intent)
}
