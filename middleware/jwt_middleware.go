package middleware

import (
	"strings"

	"dripline/utils"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by Protected.
const (
	LocalUserID    = "userID"
	LocalCompanyID = "companyID"
)

// Protected requires a valid access token, read from the Authorization header
// or the access_token cookie, and stores its user and company on the context.
func Protected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid authorization format",
				})
			}
			token = tokenParts[1]
		} else {
			token = c.Cookies("access_token")
			if token == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Authorization required",
				})
			}
		}

		claims, err := utils.ParseJWTToken(secret, token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		if claims.CompanyID == 0 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Token is not bound to a company",
			})
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalCompanyID, claims.CompanyID)

		return c.Next()
	}
}

// CompanyID returns the company of the authenticated request, or 0.
func CompanyID(c *fiber.Ctx) uint {
	id, _ := c.Locals(LocalCompanyID).(uint)
	return id
}

// UserID returns the user of the authenticated request, or 0.
func UserID(c *fiber.Ctx) uint {
	id, _ := c.Locals(LocalUserID).(uint)
	return id
}
