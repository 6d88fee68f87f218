package routes

import (
	"marketpay/controllers/payment"
	"marketpay/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(app *fiber.App, h *payment.Handler, apiToken string) {
	// Bank-facing: authenticated by request signature, not by token
	app.Post("/payments/notify", h.Webhook)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/payments", middlewares.APIAuth(apiToken))
	api.Post("/deposit", h.InitiateDeposit)
	api.Post("/withdraw", h.InitiateWithdrawal)
	api.Get("/balance/:id", h.Balance)

	api.Post("/cards/bind", h.BindCard)
	api.Get("/cards/:id", h.ListCards)
	api.Post("/cards/remove", h.RemoveCard)
	api.Get("/sbp/banks", h.SbpBanks)

	api.Post("/escrow/hold", h.HoldPayment)
	api.Post("/escrow/release", h.ReleasePayment)
	api.Post("/escrow/refund", h.RefundHold)
}
