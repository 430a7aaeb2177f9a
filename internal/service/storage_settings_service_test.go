package service

import (
	"context"
	"strings"
	"testing"

	"github.com/shinyes/vidbox/internal/config"
)

func testS3Config() config.S3Config {
	return config.S3Config{
		Endpoint:     "https://account.r2.cloudflarestorage.com",
		Region:       "auto",
		Bucket:       "videos",
		AccessKeyID:  "test-access-key-id",
		AccessSecret: "test-access-key-secret",
		UsePathStyle: true,
	}
}

func TestStorageSettingsResolveFallsBackToConfig(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	resolved, err := NewStorageSettingsService(services.store, config.Defaults()).Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Backend != config.StorageBackendLocal {
		t.Fatalf("expected local backend, got %s", resolved.Backend)
	}

	cfg := config.Defaults()
	cfg.Storage = config.StorageBackendS3
	cfg.S3 = testS3Config()
	resolved, err = NewStorageSettingsService(services.store, cfg).Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve(s3 config) error = %v", err)
	}
	if resolved.Backend != config.StorageBackendS3 || resolved.S3 != cfg.S3 {
		t.Fatalf("unexpected resolved settings: %+v", resolved)
	}

	cfg.S3.Bucket = ""
	if _, err := NewStorageSettingsService(services.store, cfg).Resolve(ctx); err == nil {
		t.Fatalf("expected Resolve() error for incomplete s3 config")
	}
}

func TestStorageSettingsSetS3AndResolve(t *testing.T) {
	services := setupTestServices(t)
	storageService := NewStorageSettingsService(services.store, config.Defaults())
	ctx := context.Background()

	want := testS3Config()
	if err := storageService.SetS3(ctx, want); err != nil {
		t.Fatalf("SetS3() error = %v", err)
	}

	resolved, err := storageService.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Backend != config.StorageBackendS3 {
		t.Fatalf("expected s3 backend, got %s", resolved.Backend)
	}
	if resolved.S3 != want {
		t.Fatalf("resolved s3 config mismatch: got %+v want %+v", resolved.S3, want)
	}
}

func TestStorageSettingsSetLocalOverridesConfig(t *testing.T) {
	services := setupTestServices(t)
	cfg := config.Defaults()
	cfg.Storage = config.StorageBackendS3
	cfg.S3 = testS3Config()
	storageService := NewStorageSettingsService(services.store, cfg)
	ctx := context.Background()

	if err := storageService.SetLocal(ctx); err != nil {
		t.Fatalf("SetLocal() error = %v", err)
	}

	resolved, err := storageService.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Backend != config.StorageBackendLocal {
		t.Fatalf("expected local backend, got %s", resolved.Backend)
	}
}

func TestStorageSettingsResolveS3MissingField(t *testing.T) {
	services := setupTestServices(t)
	storageService := NewStorageSettingsService(services.store, config.Defaults())
	ctx := context.Background()

	settings := map[string]string{
		settingKeyStorageBackend:  string(config.StorageBackendS3),
		settingKeyStorageS3Region: "auto",
		settingKeyStorageS3Bucket: "videos",
		settingKeyStorageS3KeyID:  "id",
		settingKeyStorageS3Secret: "secret",
	}
	for key, value := range settings {
		if err := services.store.UpsertSetting(ctx, key, value); err != nil {
			t.Fatalf("UpsertSetting(%s) error = %v", key, err)
		}
	}

	_, err := storageService.Resolve(ctx)
	if err == nil {
		t.Fatalf("expected Resolve() error when endpoint is missing")
	}
	if !strings.Contains(err.Error(), settingKeyStorageS3Endpoint) {
		t.Fatalf("expected missing endpoint error, got %v", err)
	}
}

func TestStorageSettingsResolveUnknownBackend(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	if err := services.store.UpsertSetting(ctx, settingKeyStorageBackend, "ftp"); err != nil {
		t.Fatalf("UpsertSetting() error = %v", err)
	}
	if _, err := NewStorageSettingsService(services.store, config.Defaults()).Resolve(ctx); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
