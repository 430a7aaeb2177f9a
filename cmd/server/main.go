package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2/log"

	"github.com/shinyes/vidbox/internal/app"
	"github.com/shinyes/vidbox/internal/config"
	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		runServe(nil)
		return
	}

	switch args[0] {
	case "serve":
		runServe(args[1:])
	case "admin":
		if err := runAdmin(args[1:]); err != nil {
			log.Fatal(err)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		printUsage()
		os.Exit(2)
	}
}

func runServe(args []string) {
	serveFlagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	serveFlagSet.SetOutput(io.Discard)
	consoleMode := serveFlagSet.Bool("console", false, "enable runtime admin console")
	if err := serveFlagSet.Parse(args); err != nil {
		log.Fatalf("parse serve args: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, cleanup, err := app.BuildServer(ctx, cfg)
	if err != nil {
		log.Fatalf("build app: %v", err)
	}
	defer cleanup() //nolint:errcheck

	log.Infof("vidbox listening on %s (storage=%s upload_limit=%s)", cfg.Addr, container.Config.Storage, humanize.IBytes(uint64(cfg.UploadLimitBytes())))
	if cfg.BootstrapToken != "" || cfg.BootstrapPassword != "" {
		log.Infof("bootstrap account enabled for user=%s", cfg.BootstrapUser)
	}
	if *consoleMode {
		log.Info("runtime admin console enabled")
		go runRuntimeConsole(container)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Router.ShutdownWithContext(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()
	if err := container.Router.Listen(cfg.Addr); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func runAdmin(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("invalid admin command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, cleanup, err := app.Build(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer cleanup() //nolint:errcheck

	return executeAdminCommand(context.Background(), container, args)
}

func executeAdminCommand(ctx context.Context, container *app.Container, args []string) error {
	switch args[0] {
	case "user":
		return runAdminUser(ctx, container.UserService, args[1:])
	case "token":
		return runAdminToken(ctx, container.UserService, args[1:])
	case "registration":
		return runAdminRegistration(ctx, container.UserService, container.Config.AllowRegistration, args[1:])
	case "video":
		return runAdminVideo(ctx, container.VideoService, args[1:])
	case "storage":
		return runAdminStorage(ctx, container, args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func runRuntimeConsole(container *app.Container) {
	fmt.Println("Runtime Console: enter a command, e.g. video list")
	fmt.Println("Runtime Console: type help for commands, exit to leave the console (the server keeps running)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("vidbox> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("console read error: %v\n", err)
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parsed, err := parseCommandLine(line)
		if err != nil {
			fmt.Printf("parse command error: %v\n", err)
			continue
		}
		if len(parsed) == 0 {
			continue
		}

		switch strings.ToLower(parsed[0]) {
		case "help":
			printRuntimeConsoleUsage()
			continue
		case "exit", "quit":
			fmt.Println("runtime console closed")
			return
		case "admin":
			parsed = parsed[1:]
			if len(parsed) == 0 {
				printRuntimeConsoleUsage()
				continue
			}
		}

		if err := executeAdminCommand(context.Background(), container, parsed); err != nil {
			fmt.Printf("command failed: %v\n", err)
		}
	}
}

func runAdminUser(ctx context.Context, userService *service.UserService, args []string) error {
	if len(args) < 3 || args[0] != "create" {
		printUsage()
		return fmt.Errorf("usage: admin user create <username> <password> [display_name] [role]")
	}

	username := strings.TrimSpace(args[1])
	password := strings.TrimSpace(args[2])
	displayName := ""
	if len(args) >= 4 {
		displayName = strings.TrimSpace(args[3])
	}
	role := service.RoleUser
	if len(args) >= 5 {
		role = strings.TrimSpace(args[4])
	}

	admin := &models.User{Role: service.RoleAdmin}
	user, err := userService.Register(ctx, admin, service.RegisterInput{
		Username:    username,
		DisplayName: displayName,
		Password:    password,
		Role:        role,
	}, true)
	if err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	fmt.Printf("user created: id=%d username=%s role=%s\n", user.ID, user.Username, user.Role)
	return nil
}

func runAdminToken(ctx context.Context, userService *service.UserService, args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("usage: admin token <create|list|revoke> ...")
	}
	switch args[0] {
	case "create":
		return runAdminTokenCreate(ctx, userService, args[1:])
	case "list":
		return runAdminTokenList(ctx, userService, args[1:])
	case "revoke":
		return runAdminTokenRevoke(ctx, userService, args[1:])
	default:
		printUsage()
		return fmt.Errorf("unknown token subcommand: %s", args[0])
	}
}

type tokenCreateArgs struct {
	identifier  string
	description string
	expiresAt   *time.Time
}

func parseTokenCreateArgs(args []string, now time.Time) (tokenCreateArgs, error) {
	if len(args) < 1 {
		return tokenCreateArgs{}, fmt.Errorf("usage: admin token create <username_or_id> [description] [--ttl 7d|24h] [--expires-at 2026-12-31T23:59:59Z]")
	}

	parsed := tokenCreateArgs{identifier: strings.TrimSpace(args[0])}
	flagSet := flag.NewFlagSet("admin token create", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	descriptionFlag := flagSet.String("description", "", "token description")
	ttlFlag := flagSet.String("ttl", "", "token ttl, e.g. 24h")
	expiresAtFlag := flagSet.String("expires-at", "", "token expiry in RFC3339")

	// Positional description words may appear before the flags.
	rest := args[1:]
	var positional []string
	for len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	if err := flagSet.Parse(rest); err != nil {
		return tokenCreateArgs{}, fmt.Errorf("parse token args failed: %w", err)
	}
	positional = append(positional, flagSet.Args()...)

	parsed.description = strings.TrimSpace(*descriptionFlag)
	if parsed.description != "" && len(positional) > 0 {
		return tokenCreateArgs{}, fmt.Errorf("description already set by --description, remove extra positional text")
	}
	if parsed.description == "" {
		parsed.description = strings.TrimSpace(strings.Join(positional, " "))
	}

	ttlRaw := strings.TrimSpace(*ttlFlag)
	expiresAtRaw := strings.TrimSpace(*expiresAtFlag)
	if ttlRaw != "" && expiresAtRaw != "" {
		return tokenCreateArgs{}, fmt.Errorf("--ttl and --expires-at cannot be used together")
	}
	if ttlRaw != "" {
		ttl, err := parseTTL(ttlRaw)
		if err != nil {
			return tokenCreateArgs{}, fmt.Errorf("invalid --ttl %q: %w", ttlRaw, err)
		}
		v := now.UTC().Add(ttl)
		parsed.expiresAt = &v
	}
	if expiresAtRaw != "" {
		v, err := time.Parse(time.RFC3339, expiresAtRaw)
		if err != nil {
			return tokenCreateArgs{}, fmt.Errorf("invalid --expires-at %q, expected RFC3339", expiresAtRaw)
		}
		v = v.UTC()
		parsed.expiresAt = &v
	}
	return parsed, nil
}

func runAdminTokenCreate(ctx context.Context, userService *service.UserService, args []string) error {
	parsed, err := parseTokenCreateArgs(args, time.Now())
	if err != nil {
		printUsage()
		return err
	}

	user, token, err := userService.IssueToken(ctx, parsed.identifier, parsed.description, parsed.expiresAt)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			return fmt.Errorf("user not found: %s", parsed.identifier)
		}
		if errors.Is(err, service.ErrTokenAlreadyExists) {
			return fmt.Errorf("create token failed: token collision, please retry")
		}
		if errors.Is(err, service.ErrInvalidTokenExpiry) {
			return fmt.Errorf("create token failed: expires-at must be in the future")
		}
		return fmt.Errorf("create token failed: %w", err)
	}
	fmt.Printf("token created: user=%s(%d)\n", user.Username, user.ID)
	fmt.Printf("accessToken=%s\n", token)
	if parsed.expiresAt != nil {
		fmt.Printf("expiresAt=%s (%s)\n", parsed.expiresAt.Format(time.RFC3339), humanize.Time(*parsed.expiresAt))
	}
	return nil
}

func runAdminTokenList(ctx context.Context, userService *service.UserService, args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("usage: admin token list <username_or_id>")
	}
	identifier := strings.TrimSpace(args[0])
	user, tokens, err := userService.Tokens(ctx, identifier)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			return fmt.Errorf("user not found: %s", identifier)
		}
		return fmt.Errorf("list tokens failed: %w", err)
	}

	fmt.Printf("tokens for user=%s(%d), count=%d\n", user.Username, user.ID, len(tokens))
	fmt.Println("id\tprefix\tcreatedAt\texpiresAt\trevokedAt\tlastUsedAt\tdescription")
	for _, token := range tokens {
		fmt.Printf(
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			token.ID,
			token.TokenPrefix,
			token.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(token.ExpiresAt),
			formatOptionalTime(token.RevokedAt),
			formatOptionalTime(token.LastUsedAt),
			strings.TrimSpace(token.Description),
		)
	}
	return nil
}

func runAdminTokenRevoke(ctx context.Context, userService *service.UserService, args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("usage: admin token revoke <token_id>")
	}
	tokenID, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || tokenID <= 0 {
		return fmt.Errorf("invalid token_id: %s", args[0])
	}

	token, err := userService.RevokeToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, service.ErrTokenNotFound) {
			return fmt.Errorf("token not found: %d", tokenID)
		}
		if errors.Is(err, service.ErrTokenAlreadyRevoked) {
			fmt.Printf("token already revoked: id=%d revokedAt=%s\n", tokenID, formatOptionalTime(token.RevokedAt))
			return nil
		}
		return fmt.Errorf("revoke token failed: %w", err)
	}
	fmt.Printf("token revoked: id=%d user_id=%d revokedAt=%s\n", token.ID, token.UserID, formatOptionalTime(token.RevokedAt))
	return nil
}

func runAdminRegistration(ctx context.Context, userService *service.UserService, fallback bool, args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("usage: admin registration <status|enable|disable>")
	}
	switch args[0] {
	case "status":
		allow, err := userService.RegistrationOpen(ctx, fallback)
		if err != nil {
			return fmt.Errorf("read registration setting failed: %w", err)
		}
		fmt.Printf("allow_registration=%t\n", allow)
		return nil
	case "enable", "disable":
		allow := args[0] == "enable"
		if err := userService.SetRegistrationOpen(ctx, allow); err != nil {
			return fmt.Errorf("%s registration failed: %w", args[0], err)
		}
		fmt.Printf("allow_registration=%t\n", allow)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown registration subcommand: %s", args[0])
	}
}

func runAdminVideo(ctx context.Context, videoService *service.VideoService, args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("usage: admin video <list|delete> ...")
	}
	switch args[0] {
	case "list":
		flagSet := flag.NewFlagSet("admin video list", flag.ContinueOnError)
		flagSet.SetOutput(io.Discard)
		filter := flagSet.String("filter", "", "CEL filter expression")
		limit := flagSet.Int("limit", 0, "maximum number of videos")
		if err := flagSet.Parse(args[1:]); err != nil {
			return fmt.Errorf("parse video list args failed: %w", err)
		}
		videos, err := videoService.List(ctx, service.ListVideosInput{
			Filter:         *filter,
			IncludePrivate: true,
			Limit:          *limit,
		})
		if err != nil {
			return fmt.Errorf("list videos failed: %w", err)
		}
		fmt.Printf("videos count=%d\n", len(videos))
		fmt.Println("id\tvisibility\tsize\tviews\tuploaded\tkey\ttitle")
		for _, video := range videos {
			fmt.Printf(
				"%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				video.ID,
				video.Visibility,
				humanize.IBytes(uint64(video.Size)),
				video.Views,
				humanize.Time(video.UploadDate),
				video.StorageKey,
				video.Title,
			)
		}
		return nil
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: admin video delete <id>")
		}
		video, err := videoService.Delete(ctx, strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("delete video failed: %w", err)
		}
		fmt.Printf("video deleted: id=%s key=%s\n", video.ID, video.StorageKey)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown video subcommand: %s", args[0])
	}
}

func runAdminStorage(ctx context.Context, container *app.Container, args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("usage: admin storage <status|reconcile|use-local|use-s3> ...")
	}
	switch args[0] {
	case "status":
		settings, err := container.StorageService.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("resolve storage failed: %w", err)
		}
		fmt.Printf("storage=%s\n", settings.Backend)
		if settings.Backend == config.StorageBackendS3 {
			fmt.Printf("endpoint=%s bucket=%s region=%s path_style=%t\n", settings.S3.Endpoint, settings.S3.Bucket, settings.S3.Region, settings.S3.UsePathStyle)
		}
		return nil
	case "reconcile":
		flagSet := flag.NewFlagSet("admin storage reconcile", flag.ContinueOnError)
		flagSet.SetOutput(io.Discard)
		prune := flagSet.Bool("prune", false, "delete objects no video references")
		if err := flagSet.Parse(args[1:]); err != nil {
			return fmt.Errorf("parse reconcile args failed: %w", err)
		}
		report, err := container.VideoService.Reconcile(ctx, *prune)
		printReconcileReport(report)
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		return nil
	case "use-local":
		if err := container.StorageService.SetLocal(ctx); err != nil {
			return fmt.Errorf("switch storage failed: %w", err)
		}
		fmt.Println("storage=local (restart the server to apply)")
		return nil
	case "use-s3":
		s3Cfg, err := parseS3Args(args[1:], container.Config.S3)
		if err != nil {
			return err
		}
		if err := container.StorageService.SetS3(ctx, s3Cfg); err != nil {
			return fmt.Errorf("switch storage failed: %w", err)
		}
		fmt.Printf("storage=s3 bucket=%s (restart the server to apply)\n", s3Cfg.Bucket)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown storage subcommand: %s", args[0])
	}
}

func parseS3Args(args []string, defaults config.S3Config) (config.S3Config, error) {
	flagSet := flag.NewFlagSet("admin storage use-s3", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	endpoint := flagSet.String("endpoint", defaults.Endpoint, "S3 endpoint")
	region := flagSet.String("region", defaults.Region, "S3 region")
	bucket := flagSet.String("bucket", defaults.Bucket, "S3 bucket")
	accessKeyID := flagSet.String("access-key-id", defaults.AccessKeyID, "S3 access key id")
	accessSecret := flagSet.String("access-key-secret", defaults.AccessSecret, "S3 access key secret")
	pathStyle := flagSet.Bool("path-style", defaults.UsePathStyle, "use path-style addressing")
	if err := flagSet.Parse(args); err != nil {
		return config.S3Config{}, fmt.Errorf("parse s3 args failed: %w", err)
	}
	return config.S3Config{
		Endpoint:     *endpoint,
		Region:       *region,
		Bucket:       *bucket,
		AccessKeyID:  *accessKeyID,
		AccessSecret: *accessSecret,
		UsePathStyle: *pathStyle,
	}, nil
}

func printReconcileReport(report service.ReconcileReport) {
	fmt.Printf("storage_keys=%d videos=%d orphans=%d missing=%d pruned=%d\n",
		report.StorageKeys, report.Videos, len(report.OrphanObjects), len(report.MissingObjects), len(report.Pruned))
	for _, key := range report.OrphanObjects {
		fmt.Printf("orphan\t%s\n", key)
	}
	for _, missing := range report.MissingObjects {
		fmt.Printf("missing\t%s\t%s\n", missing.VideoID, missing.Key)
	}
	for _, key := range report.Pruned {
		fmt.Printf("pruned\t%s\n", key)
	}
	for _, key := range report.Retained {
		fmt.Printf("retained\t%s\n", key)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  go run ./cmd/server")
	fmt.Println("  go run ./cmd/server serve [--console]")
	fmt.Println("  go run ./cmd/server admin user create <username> <password> [display_name] [role]")
	fmt.Println("  go run ./cmd/server admin token create <username_or_id> [description] [--ttl 7d|24h] [--expires-at 2026-12-31T23:59:59Z]")
	fmt.Println("  go run ./cmd/server admin token list <username_or_id>")
	fmt.Println("  go run ./cmd/server admin token revoke <token_id>")
	fmt.Println("  go run ./cmd/server admin registration status|enable|disable")
	fmt.Println("  go run ./cmd/server admin video list [--filter <cel>] [--limit N]")
	fmt.Println("  go run ./cmd/server admin video delete <id>")
	fmt.Println("  go run ./cmd/server admin storage status")
	fmt.Println("  go run ./cmd/server admin storage reconcile [--prune]")
	fmt.Println("  go run ./cmd/server admin storage use-local")
	fmt.Println("  go run ./cmd/server admin storage use-s3 --endpoint URL --region R --bucket B --access-key-id ID --access-key-secret SECRET [--path-style]")
}

func printRuntimeConsoleUsage() {
	fmt.Println("Runtime Console Commands:")
	fmt.Println("  user create <username> <password> [display_name] [role]")
	fmt.Println("  token create|list|revoke ...")
	fmt.Println("  registration status|enable|disable")
	fmt.Println("  video list|delete ...")
	fmt.Println("  storage status|reconcile [--prune]")
	fmt.Println("  help")
	fmt.Println("  exit")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTTL(raw string) (time.Duration, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return 0, fmt.Errorf("empty ttl")
	}

	if d, err := time.ParseDuration(normalized); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("ttl must be greater than 0")
		}
		return d, nil
	}

	for _, suffix := range []string{"days", "day", "d"} {
		if !strings.HasSuffix(normalized, suffix) {
			continue
		}
		dayPart := strings.TrimSpace(strings.TrimSuffix(normalized, suffix))
		if dayPart == "" {
			return 0, fmt.Errorf("invalid day ttl")
		}
		days, err := strconv.ParseFloat(dayPart, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day ttl")
		}
		if days <= 0 {
			return 0, fmt.Errorf("day ttl must be greater than 0")
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}

	return 0, fmt.Errorf("unsupported ttl format")
}

func parseCommandLine(input string) ([]string, error) {
	var args []string
	var current strings.Builder
	var quote rune

	for _, r := range input {
		switch r {
		case '\'', '"':
			if quote == 0 {
				// Quotes only open a quoted word at its start.
				if current.Len() == 0 {
					quote = r
					continue
				}
				current.WriteRune(r)
				continue
			}
			if quote == r {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case ' ', '\t':
			if quote != 0 {
				current.WriteRune(r)
				continue
			}
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args, nil
}
