package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shinyes/vidbox/internal/config"
	"github.com/shinyes/vidbox/internal/store"
)

const (
	settingPrefixStorage        = "storage_"
	settingKeyStorageBackend    = "storage_backend"
	settingKeyStorageS3Endpoint = "storage_s3_endpoint"
	settingKeyStorageS3Region   = "storage_s3_region"
	settingKeyStorageS3Bucket   = "storage_s3_bucket"
	settingKeyStorageS3KeyID    = "storage_s3_access_key_id"
	settingKeyStorageS3Secret   = "storage_s3_access_key_secret"
	settingKeyStorageS3Path     = "storage_s3_use_path_style"
)

type StorageSettings struct {
	Backend config.StorageBackend
	S3      config.S3Config
}

// StorageSettingsService resolves the active object storage. Settings stored
// in the database win over the process configuration.
type StorageSettingsService struct {
	store    *store.SQLStore
	fallback StorageSettings
}

func NewStorageSettingsService(s *store.SQLStore, cfg config.Config) *StorageSettingsService {
	backend := cfg.Storage
	if !backend.IsValid() {
		backend = config.StorageBackendLocal
	}
	return &StorageSettingsService{
		store: s,
		fallback: StorageSettings{
			Backend: backend,
			S3:      cfg.S3,
		},
	}
}

func (s *StorageSettingsService) Resolve(ctx context.Context) (StorageSettings, error) {
	values, err := s.store.ListSettings(ctx, settingPrefixStorage)
	if err != nil {
		return StorageSettings{}, err
	}

	raw, ok := values[settingKeyStorageBackend]
	if !ok {
		if s.fallback.Backend == config.StorageBackendS3 {
			if err := s.fallback.S3.Validate(); err != nil {
				return StorageSettings{}, err
			}
		}
		return s.fallback, nil
	}

	backend := config.StorageBackend(strings.ToLower(strings.TrimSpace(raw)))
	switch backend {
	case config.StorageBackendLocal:
		return StorageSettings{Backend: backend}, nil
	case config.StorageBackendS3:
		s3Cfg, err := s3ConfigFromSettings(values)
		if err != nil {
			return StorageSettings{}, err
		}
		return StorageSettings{Backend: backend, S3: s3Cfg}, nil
	default:
		return StorageSettings{}, fmt.Errorf("unsupported storage backend %q in setting %s", raw, settingKeyStorageBackend)
	}
}

func (s *StorageSettingsService) SetLocal(ctx context.Context) error {
	return s.store.UpsertSetting(ctx, settingKeyStorageBackend, string(config.StorageBackendLocal))
}

func (s *StorageSettingsService) SetS3(ctx context.Context, cfg config.S3Config) error {
	normalized := config.S3Config{
		Endpoint:     strings.TrimSpace(cfg.Endpoint),
		Region:       strings.TrimSpace(cfg.Region),
		Bucket:       strings.TrimSpace(cfg.Bucket),
		AccessKeyID:  strings.TrimSpace(cfg.AccessKeyID),
		AccessSecret: strings.TrimSpace(cfg.AccessSecret),
		UsePathStyle: cfg.UsePathStyle,
	}
	if err := normalized.Validate(); err != nil {
		return err
	}

	settings := []struct {
		key   string
		value string
	}{
		{settingKeyStorageS3Endpoint, normalized.Endpoint},
		{settingKeyStorageS3Region, normalized.Region},
		{settingKeyStorageS3Bucket, normalized.Bucket},
		{settingKeyStorageS3KeyID, normalized.AccessKeyID},
		{settingKeyStorageS3Secret, normalized.AccessSecret},
		{settingKeyStorageS3Path, strconv.FormatBool(normalized.UsePathStyle)},
	}
	for _, item := range settings {
		if err := s.store.UpsertSetting(ctx, item.key, item.value); err != nil {
			return err
		}
	}
	return s.store.UpsertSetting(ctx, settingKeyStorageBackend, string(config.StorageBackendS3))
}

func s3ConfigFromSettings(values map[string]string) (config.S3Config, error) {
	required := func(key string) (string, error) {
		value := strings.TrimSpace(values[key])
		if value == "" {
			return "", fmt.Errorf("setting %s is required when storage backend is s3", key)
		}
		return value, nil
	}

	var cfg config.S3Config
	var err error
	if cfg.Endpoint, err = required(settingKeyStorageS3Endpoint); err != nil {
		return config.S3Config{}, err
	}
	if cfg.Region, err = required(settingKeyStorageS3Region); err != nil {
		return config.S3Config{}, err
	}
	if cfg.Bucket, err = required(settingKeyStorageS3Bucket); err != nil {
		return config.S3Config{}, err
	}
	if cfg.AccessKeyID, err = required(settingKeyStorageS3KeyID); err != nil {
		return config.S3Config{}, err
	}
	if cfg.AccessSecret, err = required(settingKeyStorageS3Secret); err != nil {
		return config.S3Config{}, err
	}

	cfg.UsePathStyle = true
	if raw := strings.TrimSpace(values[settingKeyStorageS3Path]); raw != "" {
		parsed, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			return config.S3Config{}, fmt.Errorf("invalid bool in setting %s: %q", settingKeyStorageS3Path, raw)
		}
		cfg.UsePathStyle = parsed
	}

	if err := cfg.Validate(); err != nil {
		return config.S3Config{}, err
	}
	return cfg, nil
}
