package helpers

import "github.com/gofiber/fiber/v2"

func JSONSuccess(c *fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func JSONError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"code":    code,
		"message": message,
		"data":    nil,
	})
}

// WebhookAck is the bare body the Bank expects for any processed
// delivery, including idempotent no-ops.
func WebhookAck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString("OK")
}
