package payment

import (
	"errors"

	"marketpay/gateway"
	"marketpay/helpers"

	"github.com/gofiber/fiber/v2"
)

// Saved payout methods live Bank-side; we only proxy the customer/card
// management calls under the user's customer key.

type cardRequest struct {
	UserID uint   `json:"user_id"`
	CardID string `json:"card_id"`
}

// BindCard makes sure the customer exists on the Bank side and starts a
// card-binding session; the user finishes it on the returned URL.
func (h *Handler) BindCard(c *fiber.Ctx) error {
	var req cardRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "user_id required")
	}

	user, err := h.ledger.User(c.UserContext(), req.UserID)
	if err != nil {
		return h.respondError(c, err)
	}

	if err := h.client.AddCustomer(c.UserContext(), user.UserCode); err != nil {
		// the Bank answers with a rejection when the customer already
		// exists; that is fine for binding
		var apiErr *gateway.APIError
		if !errors.As(err, &apiErr) {
			return h.respondError(c, err)
		}
	}

	binding, err := h.client.AddCard(c.UserContext(), user.UserCode)
	if err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "card binding started", binding)
}

func (h *Handler) ListCards(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID <= 0 {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "invalid user id")
	}

	user, err := h.ledger.User(c.UserContext(), uint(userID))
	if err != nil {
		return h.respondError(c, err)
	}

	cards, err := h.client.GetCardList(c.UserContext(), user.UserCode)
	if err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "cards", cards)
}

func (h *Handler) RemoveCard(c *fiber.Ctx) error {
	var req cardRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 || req.CardID == "" {
		return helpers.JSONError(c, fiber.StatusBadRequest, "VALIDATION", "user_id and card_id required")
	}

	user, err := h.ledger.User(c.UserContext(), req.UserID)
	if err != nil {
		return h.respondError(c, err)
	}

	if err := h.client.RemoveCard(c.UserContext(), user.UserCode, req.CardID); err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "card removed", nil)
}

// SbpBanks lists the instant-rail banks a payout can target.
func (h *Handler) SbpBanks(c *fiber.Ctx) error {
	members, err := h.payouts.GetSbpMembers(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return helpers.JSONSuccess(c, "sbp members", members)
}
