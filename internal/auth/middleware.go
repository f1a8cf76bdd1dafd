package auth

import (
	"github.com/gofiber/fiber/v2"
)

// LocalsUserID is the fiber locals key the middleware stores the resolved
// user id under. Websocket handlers read it back through conn.Locals.
const LocalsUserID = "userID"

// Middleware authenticates a request from the Authorization header or, for
// websocket upgrades where custom headers are unavailable, the token query
// parameter.
func (a *Authenticator) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			var err error
			tokenStr, err = ParseBearerToken(c.Get(fiber.HeaderAuthorization))
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization"})
			}
		}
		userID, err := a.Validate(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(LocalsUserID, userID)
		return c.Next()
	}
}

// UserID reads the id the middleware resolved for this request.
func UserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(LocalsUserID).(int64)
	return id
}
