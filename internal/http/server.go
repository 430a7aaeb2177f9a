package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/shinyes/vidbox/internal/config"
	"github.com/shinyes/vidbox/internal/media"
	"github.com/shinyes/vidbox/internal/service"
)

// multipartOverhead is the body allowance on top of the upload limit for
// form fields, boundaries and an optional thumbnail.
const multipartOverhead = 9 << 20

type handler struct {
	cfg       config.Config
	users     *service.UserService
	videos    *service.VideoService
	responder *media.Responder
}

func NewRouter(cfg config.Config, userService *service.UserService, videoService *service.VideoService) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "vidbox",
		BodyLimit:             int(videoService.UploadLimit()) + multipartOverhead,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		ExposeHeaders: "Content-Range,Accept-Ranges,Content-Length,ETag,X-Request-ID",
	}))

	h := &handler{
		cfg:       cfg,
		users:     userService,
		videos:    videoService,
		responder: media.NewResponder(videoService.Storage(), cfg.CacheMaxAge),
	}
	required := AuthMiddleware(userService)
	optional := OptionalAuthMiddleware(userService)

	app.Get("/api/profile", func(c *fiber.Ctx) error {
		return c.JSON(profileResponse{
			Version:     cfg.Version,
			UploadLimit: videoService.UploadLimit(),
			Storage:     videoService.Storage().Type(),
		})
	})

	app.Post("/api/auth/signin", h.signIn)
	app.Get("/api/auth/me", required, h.me)
	app.Post("/api/auth/signout", required, h.signOut)
	app.Post("/api/users", optional, h.createUser)

	app.Post("/api/upload", required, h.upload)
	app.Get("/api/videos", optional, h.listVideos)
	app.Post("/api/videos", required, h.saveVideo)
	app.Delete("/api/videos", required, h.deleteVideo)
	app.Get("/api/videos/:id", optional, h.getVideo)
	app.Patch("/api/videos/:id", required, h.updateVideo)
	app.Delete("/api/videos/:id", required, h.deleteVideo)
	app.Post("/api/videos/:id/views", optional, h.recordView)

	// Fiber also routes HEAD to GET handlers.
	app.Get("/videos/:filename/thumbnail", optional, h.thumbnail)
	app.Get("/videos/:filename", optional, h.playback)

	return app
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(c *fiber.Ctx, status int, code string, message string) error {
	return c.Status(status).JSON(errorResponse{
		Code:      code,
		Message:   message,
		RequestID: c.GetRespHeader(fiber.HeaderXRequestID),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", message)
}

func unauthorized(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", message)
}

func forbidden(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusForbidden, "FORBIDDEN", message)
}

func notFound(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusNotFound, "NOT_FOUND", message)
}

func conflict(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusConflict, "CONFLICT", message)
}

func tooLarge(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", message)
}

func internalError(c *fiber.Ctx, err error) error {
	log.Errorf("%s %s: %v", c.Method(), c.Path(), err)
	return writeError(c, fiber.StatusInternalServerError, "INTERNAL", err.Error())
}
