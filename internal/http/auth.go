package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/service"
)

const currentUserKey = "currentUser"

var errInvalidAuthorization = errors.New("invalid authorization header")

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(userService *service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.TrimSpace(c.Get(fiber.HeaderAuthorization)) == "" {
			return unauthorized(c, "missing authorization")
		}
		return authenticate(c, userService)
	}
}

// OptionalAuthMiddleware lets anonymous requests through but still rejects
// a bearer token that does not resolve to a user.
func OptionalAuthMiddleware(userService *service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.TrimSpace(c.Get(fiber.HeaderAuthorization)) == "" {
			return c.Next()
		}
		return authenticate(c, userService)
	}
}

func authenticate(c *fiber.Ctx, userService *service.UserService) error {
	token, err := bearerToken(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}
	user, err := userService.Authenticate(c.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			return unauthorized(c, "invalid access token")
		}
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL", "failed to authenticate")
	}
	c.Locals(currentUserKey, user)
	return c.Next()
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authz := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", errInvalidAuthorization
	}
	token := strings.TrimSpace(authz[len("Bearer "):])
	if token == "" {
		return "", errInvalidAuthorization
	}
	return token, nil
}

// CurrentUser returns nil for anonymous requests.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, ok := c.Locals(currentUserKey).(models.User)
	if !ok {
		return nil
	}
	return &user
}
