package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shinyes/vidbox/internal/models"
)

func TestRegister(t *testing.T) {
	admin := &models.User{ID: 1, Role: RoleAdmin}
	viewer := &models.User{ID: 2, Role: RoleUser}

	tests := []struct {
		name     string
		seed     bool
		actor    *models.User
		input    RegisterInput
		open     bool
		wantRole string
		wantErr  error
	}{
		{name: "first account is admin", input: RegisterInput{Username: "Channel01", Password: "pass-123"}, wantRole: RoleAdmin},
		{name: "open registration", seed: true, input: RegisterInput{Username: "viewer01", Password: "pass-123"}, open: true, wantRole: RoleUser},
		{name: "closed registration", seed: true, input: RegisterInput{Username: "viewer01", Password: "pass-123"}, wantErr: ErrRegistrationDisabled},
		{name: "admin bypasses closed registration", seed: true, actor: admin, input: RegisterInput{Username: "editor01", Password: "pass-123", Role: "admin"}, wantRole: RoleAdmin},
		{name: "non-admin cannot pick role", seed: true, actor: viewer, input: RegisterInput{Username: "editor02", Password: "pass-123", Role: RoleAdmin}, open: true, wantRole: RoleUser},
		{name: "short username", input: RegisterInput{Username: "ab", Password: "pass-123"}, wantErr: ErrInvalidUsername},
		{name: "leading underscore", input: RegisterInput{Username: "_abc", Password: "pass-123"}, wantErr: ErrInvalidUsername},
		{name: "blank password", input: RegisterInput{Username: "viewer03", Password: "  "}, wantErr: ErrInvalidPassword},
		{name: "long display name", input: RegisterInput{Username: "viewer04", DisplayName: strings.Repeat("字", maxDisplayNameRunes+1), Password: "pass-123"}, wantErr: ErrInvalidDisplayName},
		{name: "unknown role", input: RegisterInput{Username: "viewer05", Password: "pass-123", Role: "owner"}, wantErr: ErrInvalidRole},
		{name: "taken username", seed: true, input: RegisterInput{Username: "seeded", Password: "pass-123"}, open: true, wantErr: ErrUsernameAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			services := setupTestServices(t)
			users := NewUserService(services.store)
			if tt.seed {
				mustCreateUser(t, services.store, "seeded")
			}

			user, err := users.Register(context.Background(), tt.actor, tt.input, tt.open)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if user.Role != tt.wantRole {
				t.Fatalf("Register() role = %s, want %s", user.Role, tt.wantRole)
			}
			if user.Username != strings.ToLower(tt.input.Username) || user.PasswordHash == tt.input.Password {
				t.Fatalf("unexpected stored account: %+v", user)
			}
		})
	}
}

func TestRegisterDefaultsDisplayName(t *testing.T) {
	services := setupTestServices(t)
	users := NewUserService(services.store)

	user, err := users.Register(context.Background(), nil, RegisterInput{Username: "studio", DisplayName: "  ", Password: "pass-123"}, false)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.DisplayName != "studio" {
		t.Fatalf("DisplayName = %q, want username", user.DisplayName)
	}
}

func TestRegistrationSettingOverridesConfig(t *testing.T) {
	services := setupTestServices(t)
	users := NewUserService(services.store)
	ctx := context.Background()

	if open, err := users.RegistrationOpen(ctx, true); err != nil || !open {
		t.Fatalf("RegistrationOpen() = %v, %v; want config fallback", open, err)
	}
	if err := users.SetRegistrationOpen(ctx, false); err != nil {
		t.Fatalf("SetRegistrationOpen() error = %v", err)
	}
	if open, err := users.RegistrationOpen(ctx, true); err != nil || open {
		t.Fatalf("RegistrationOpen() = %v, %v; want stored false", open, err)
	}
	if err := services.store.UpsertSetting(ctx, settingKeyAllowRegistration, "sometimes"); err != nil {
		t.Fatalf("UpsertSetting() error = %v", err)
	}
	if open, err := users.RegistrationOpen(ctx, true); err != nil || !open {
		t.Fatalf("unparseable setting should fall back, got %v, %v", open, err)
	}
}

func TestEnsureBootstrapKeepsExistingPassword(t *testing.T) {
	services := setupTestServices(t)
	users := NewUserService(services.store)
	ctx := context.Background()

	if err := users.EnsureBootstrap(ctx, "Operator", "secret-pass", "operator-token-123"); err != nil {
		t.Fatalf("EnsureBootstrap() error = %v", err)
	}
	if err := users.EnsureBootstrap(ctx, "operator", "other-pass", "operator-token-123"); err != nil {
		t.Fatalf("second EnsureBootstrap() error = %v", err)
	}

	user, err := users.Authenticate(ctx, "operator-token-123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.Username != "operator" || !IsAdmin(user) {
		t.Fatalf("unexpected operator account: %+v", user)
	}
	if _, _, err := users.SignIn(ctx, "operator", "secret-pass"); err != nil {
		t.Fatalf("first password should stay, got %v", err)
	}
	if _, _, err := users.SignIn(ctx, "operator", "other-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("second password must not replace the first, got %v", err)
	}
	_, tokens, err := users.Tokens(ctx, "operator")
	if err != nil {
		t.Fatalf("Tokens() error = %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected bootstrap token plus one sign-in token, got %d", len(tokens))
	}
}

func TestEnsureBootstrapWithoutCredentialsIsNoop(t *testing.T) {
	services := setupTestServices(t)
	users := NewUserService(services.store)

	if err := users.EnsureBootstrap(context.Background(), "operator", "", ""); err != nil {
		t.Fatalf("EnsureBootstrap() error = %v", err)
	}
	if has, err := services.store.HasUsers(context.Background()); err != nil || has {
		t.Fatalf("no account should be created, got %v, %v", has, err)
	}
}
