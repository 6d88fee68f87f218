package middlewares

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// APIAuth guards the platform-facing payment endpoints with the shared
// API token. The Bank's webhook is not behind this: it authenticates by
// signature instead.
func APIAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Api-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"code":    "UNAUTHORIZED",
				"message": "invalid api token",
			})
		}
		return c.Next()
	}
}
