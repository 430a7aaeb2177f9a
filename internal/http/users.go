package http

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/vidbox/internal/service"
)

func (h *handler) signIn(c *fiber.Ctx) error {
	var req signInRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return badRequest(c, "username and password are required")
	}

	user, accessToken, err := h.users.SignIn(c.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return unauthorized(c, "unmatched username and password")
		}
		return internalError(c, err)
	}
	return c.JSON(signInResponse{
		User:        toAPIUser(user),
		AccessToken: accessToken,
	})
}

func (h *handler) me(c *fiber.Ctx) error {
	return c.JSON(getCurrentUserResponse{
		User: toAPIUser(*CurrentUser(c)),
	})
}

func (h *handler) signOut(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}
	if err := h.users.SignOut(c.Context(), token); err != nil {
		return internalError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) createUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	allowRegistration, err := h.users.RegistrationOpen(c.Context(), h.cfg.AllowRegistration)
	if err != nil {
		return internalError(c, err)
	}

	user, err := h.users.Register(c.Context(), CurrentUser(c), service.RegisterInput{
		Username:    req.User.Username,
		DisplayName: req.User.DisplayName,
		Password:    req.User.Password,
		Role:        req.User.Role,
	}, allowRegistration)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUsername):
			return badRequest(c, "invalid username")
		case errors.Is(err, service.ErrInvalidDisplayName):
			return badRequest(c, "invalid displayName")
		case errors.Is(err, service.ErrInvalidPassword):
			return badRequest(c, "invalid password")
		case errors.Is(err, service.ErrInvalidRole):
			return badRequest(c, "invalid role")
		case errors.Is(err, service.ErrUsernameAlreadyExists):
			return conflict(c, "username already exists")
		case errors.Is(err, service.ErrRegistrationDisabled):
			return forbidden(c, "user registration is not allowed")
		default:
			return internalError(c, err)
		}
	}
	return c.JSON(toAPIUser(user))
}
