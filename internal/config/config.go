package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type StorageBackend string

const (
	StorageBackendLocal StorageBackend = "local"
	StorageBackendS3    StorageBackend = "s3"
)

func (b StorageBackend) IsValid() bool {
	return b == StorageBackendLocal || b == StorageBackendS3
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKeyID  string `yaml:"access_key_id"`
	AccessSecret string `yaml:"access_key_secret"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type Config struct {
	Addr              string         `yaml:"addr"`
	BaseURL           string         `yaml:"base_url"`
	DBPath            string         `yaml:"db_path"`
	VideosDir         string         `yaml:"videos_dir"`
	UploadLimitMB     int            `yaml:"upload_limit_mb"`
	CacheMaxAge       time.Duration  `yaml:"-"`
	Storage           StorageBackend `yaml:"storage"`
	S3                S3Config       `yaml:"s3"`
	AllowRegistration bool           `yaml:"allow_registration"`
	BootstrapUser     string         `yaml:"bootstrap_user"`
	BootstrapPassword string         `yaml:"bootstrap_password"`
	BootstrapToken    string         `yaml:"bootstrap_token"`
	Version           string         `yaml:"-"`
}

type fileConfig struct {
	Config             `yaml:",inline"`
	CacheMaxAgeSeconds int `yaml:"cache_max_age"`
}

func Defaults() Config {
	return Config{
		Addr:          ":8000",
		BaseURL:       "http://localhost:8000",
		DBPath:        "./data/vidbox.db",
		VideosDir:     "./data/videos",
		UploadLimitMB: 10,
		CacheMaxAge:   365 * 24 * time.Hour,
		Storage:       StorageBackendLocal,
		BootstrapUser: "admin",
		Version:       "0.1.0",
	}
}

// Load reads the optional YAML file named by CONFIG_PATH and then applies
// environment overrides.
func Load() (Config, error) {
	cfg := Defaults()
	if path := env("CONFIG_PATH", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Addr = env("APP_ADDR", cfg.Addr)
	cfg.BaseURL = strings.TrimRight(env("BASE_URL", cfg.BaseURL), "/")
	cfg.DBPath = env("DB_PATH", cfg.DBPath)
	cfg.VideosDir = env("VIDEOS_DIR", cfg.VideosDir)
	cfg.UploadLimitMB = envInt("UPLOAD_LIMIT_MB", cfg.UploadLimitMB)
	cfg.CacheMaxAge = time.Duration(envInt("CACHE_MAX_AGE", int(cfg.CacheMaxAge/time.Second))) * time.Second
	cfg.Storage = StorageBackend(strings.ToLower(env("STORAGE_BACKEND", string(cfg.Storage))))
	cfg.S3 = S3Config{
		Endpoint:     env("S3_ENDPOINT", cfg.S3.Endpoint),
		Region:       env("S3_REGION", cfg.S3.Region),
		Bucket:       env("S3_BUCKET", cfg.S3.Bucket),
		AccessKeyID:  env("S3_ACCESS_KEY_ID", cfg.S3.AccessKeyID),
		AccessSecret: env("S3_ACCESS_KEY_SECRET", cfg.S3.AccessSecret),
		UsePathStyle: envBool("S3_USE_PATH_STYLE", cfg.S3.UsePathStyle),
	}
	cfg.AllowRegistration = envBool("ALLOW_REGISTRATION", cfg.AllowRegistration)
	cfg.BootstrapUser = env("BOOTSTRAP_USER", cfg.BootstrapUser)
	cfg.BootstrapPassword = env("BOOTSTRAP_PASSWORD", cfg.BootstrapPassword)
	cfg.BootstrapToken = env("BOOTSTRAP_TOKEN", cfg.BootstrapToken)

	if !cfg.Storage.IsValid() {
		return Config{}, fmt.Errorf("unsupported storage backend %q", cfg.Storage)
	}
	return cfg, nil
}

func (c Config) UploadLimitBytes() int64 {
	return int64(c.UploadLimitMB) * 1024 * 1024
}

func (c S3Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("s3 endpoint is required when storage backend is s3")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required when storage backend is s3")
	}
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required when storage backend is s3")
	}
	if c.AccessKeyID == "" {
		return fmt.Errorf("s3 access key id is required when storage backend is s3")
	}
	if c.AccessSecret == "" {
		return fmt.Errorf("s3 access key secret is required when storage backend is s3")
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	parsed := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	*cfg = parsed.Config
	if parsed.CacheMaxAgeSeconds > 0 {
		cfg.CacheMaxAge = time.Duration(parsed.CacheMaxAgeSeconds) * time.Second
	}
	return nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
