package app

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/vidbox/internal/config"
	"github.com/shinyes/vidbox/internal/db"
	httpserver "github.com/shinyes/vidbox/internal/http"
	"github.com/shinyes/vidbox/internal/markdown"
	"github.com/shinyes/vidbox/internal/service"
	"github.com/shinyes/vidbox/internal/storage"
	"github.com/shinyes/vidbox/internal/store"
)

type Container struct {
	Config         config.Config
	Store          *store.SQLStore
	UserService    *service.UserService
	StorageService *service.StorageSettingsService
	VideoService   *service.VideoService
	Router         *fiber.App
}

// Build wires the services without running the bootstrap step or the HTTP
// router. Admin commands use it directly.
func Build(ctx context.Context, cfg config.Config) (*Container, func() error, error) {
	sqliteDB, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		return sqliteDB.Close()
	}

	if err := db.Migrate(sqliteDB); err != nil {
		_ = cleanup()
		return nil, nil, err
	}

	sqlStore := store.New(sqliteDB)
	storageService := service.NewStorageSettingsService(sqlStore, cfg)
	resolved, err := storageService.Resolve(ctx)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("resolve storage settings: %w", err)
	}
	cfg.Storage = resolved.Backend
	cfg.S3 = resolved.S3

	fileStorage, err := OpenStorage(ctx, cfg)
	if err != nil {
		_ = cleanup()
		return nil, nil, err
	}

	userService := service.NewUserService(sqlStore)
	videoService := service.NewVideoService(sqlStore, fileStorage, markdown.NewService(), cfg.UploadLimitBytes())

	return &Container{
		Config:         cfg,
		Store:          sqlStore,
		UserService:    userService,
		StorageService: storageService,
		VideoService:   videoService,
	}, cleanup, nil
}

// BuildServer extends Build with the bootstrap account and the router.
func BuildServer(ctx context.Context, cfg config.Config) (*Container, func() error, error) {
	container, cleanup, err := Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cfg = container.Config
	if err := container.UserService.EnsureBootstrap(ctx, cfg.BootstrapUser, cfg.BootstrapPassword, cfg.BootstrapToken); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("bootstrap setup: %w", err)
	}
	container.Router = httpserver.NewRouter(cfg, container.UserService, container.VideoService)
	return container, cleanup, nil
}

func OpenStorage(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageBackendLocal:
		return storage.NewLocalStore(cfg.VideosDir)
	case config.StorageBackendS3:
		return storage.NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend %s", cfg.Storage)
	}
}
