package payment

import (
	"marketpay/helpers"
	"marketpay/payments"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type withdrawRequest struct {
	UserID      uint   `json:"user_id"`
	Amount      string `json:"amount"`
	DealID      string `json:"deal_id"`
	CardID      string `json:"card_id"`
	Phone       string `json:"phone"`
	SbpMemberID string `json:"sbp_member_id"`
}

// InitiateWithdrawal dispatches a payout for a user's available balance.
func (h *Handler) InitiateWithdrawal(c *fiber.Ctx) error {
	var req withdrawRequest
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

	dest := payments.Destination{
		CardID:      req.CardID,
		Phone:       req.Phone,
		SbpMemberID: req.SbpMemberID,
	}

	res, err := h.withdrawals.Initiate(c.UserContext(), req.UserID, amount, dest, req.DealID)
	if err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "withdrawal dispatched", res)
}

// Balance reports the user's total, frozen and available funds.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "invalid user id")
	}

	user, err := h.ledger.User(c.UserContext(), uint(userID))
	if err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "balance", fiber.Map{
		"user_code":      user.UserCode,
		"balance":        user.Balance,
		"frozen_balance": user.FrozenBalance,
		"available":      user.Available(),
	})
}
