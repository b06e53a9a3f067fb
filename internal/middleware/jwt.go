package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/novarell/expertdesk-api/internal/utils"
)

// Principal is the authenticated identity extracted from a bearer token.
type Principal struct {
	ID    string
	Role  string
	Email string
	Name  string
}

// JWTProtected returns a middleware that validates JWT bearer tokens and
// stores the resulting principal in request locals.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		if tokenString == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		principal := principalFromClaims(claims)
		if principal.ID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token missing subject")
		}

		c.Locals("user_id", principal.ID)
		c.Locals("user_role", principal.Role)
		c.Locals("user_email", principal.Email)
		c.Locals("user_name", principal.Name)

		return c.Next()
	}
}

// PrincipalFromLocals rebuilds the principal stored by JWTProtected.
func PrincipalFromLocals(c *fiber.Ctx) Principal {
	return Principal{
		ID:    stringLocal(c, "user_id"),
		Role:  stringLocal(c, "user_role"),
		Email: stringLocal(c, "user_email"),
		Name:  stringLocal(c, "user_name"),
	}
}

func stringLocal(c *fiber.Ctx, key string) string {
	if value := c.Locals(key); value != nil {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

func principalFromClaims(claims jwt.MapClaims) Principal {
	principal := Principal{
		Role:  normalizeRole(firstClaim(claims, "role", "roles")),
		Email: stringClaim(firstClaim(claims, "email")),
		Name:  stringClaim(firstClaim(claims, "name")),
	}

	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if id := normalizeSubject(value); id != "" {
				principal.ID = id
				break
			}
		}
	}

	return principal
}

func firstClaim(claims jwt.MapClaims, keys ...string) interface{} {
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			return value
		}
	}
	return nil
}

func stringClaim(value interface{}) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func normalizeSubject(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 {
			return ""
		}
		return fmt.Sprintf("%.0f", v)
	case int:
		if v < 0 {
			return ""
		}
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				role := strings.ToLower(strings.TrimSpace(str))
				if role != "" {
					return role
				}
			}
		}
	default:
		return ""
	}
	return ""
}
