package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Middleware validates the bearer token and stores the claims on the
// request. A missing token is accepted unless required is set. Rejections
// are answered with status 500, the way Swissdata reports them.
func Middleware(iss *Issuer, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			if required {
				return fiber.NewError(fiber.StatusInternalServerError, ErrTokenNotFound.Error())
			}
			return c.Next()
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusInternalServerError, ErrTokenNotFound.Error())
		}

		claims, err := iss.Parse(parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		c.Locals("claims", claims)
		c.Locals("token", parts[1])
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by Middleware, or nil.
func ClaimsFrom(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals("claims").(*Claims)
	return claims
}

// TokenFrom returns the raw bearer token accepted by Middleware.
func TokenFrom(c *fiber.Ctx) string {
	token, _ := c.Locals("token").(string)
	return token
}
