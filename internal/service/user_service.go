package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/store"
)

const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"

	settingKeyAllowRegistration = "allow_registration"
	maxDisplayNameRunes         = 64
)

var (
	ErrInvalidUsername       = errors.New("invalid username")
	ErrInvalidDisplayName    = errors.New("invalid display name")
	ErrInvalidPassword       = errors.New("invalid password")
	ErrInvalidRole           = errors.New("invalid role")
	ErrUsernameAlreadyExists = errors.New("username already exists")
	ErrRegistrationDisabled  = errors.New("registration is disabled")
	ErrAccountNotFound       = errors.New("account not found")

	usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)
)

// UserService manages the accounts that upload and curate videos, and the
// bearer tokens they sign in with.
type UserService struct {
	store *store.SQLStore
}

func NewUserService(s *store.SQLStore) *UserService {
	return &UserService{store: s}
}

type RegisterInput struct {
	Username    string
	DisplayName string
	Password    string
	Role        string
}

// Register creates an account. The very first account is always an admin.
// Later ones need open registration unless an admin is the actor, and only
// an admin may pick the role.
func (s *UserService) Register(ctx context.Context, actor *models.User, input RegisterInput, open bool) (models.User, error) {
	account, err := validateRegistration(input)
	if err != nil {
		return models.User{}, err
	}

	hasUsers, err := s.store.HasUsers(ctx)
	if err != nil {
		return models.User{}, err
	}
	actorIsAdmin := actor != nil && IsAdmin(*actor)
	switch {
	case !hasUsers:
		account.Role = RoleAdmin
	case !open && !actorIsAdmin:
		return models.User{}, ErrRegistrationDisabled
	case !actorIsAdmin || account.Role == "":
		account.Role = RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = string(hash)

	user, err := s.store.InsertUser(ctx, account)
	if isUniqueConstraintErr(err) {
		return models.User{}, ErrUsernameAlreadyExists
	}
	return user, err
}

func validateRegistration(input RegisterInput) (store.NewAccount, error) {
	account := store.NewAccount{
		Username:    normalizeUsername(input.Username),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Role:        normalizeUserRole(input.Role),
	}
	if !usernamePattern.MatchString(account.Username) {
		return store.NewAccount{}, ErrInvalidUsername
	}
	if account.DisplayName == "" {
		account.DisplayName = account.Username
	}
	if len([]rune(account.DisplayName)) > maxDisplayNameRunes {
		return store.NewAccount{}, ErrInvalidDisplayName
	}
	if strings.TrimSpace(input.Password) == "" {
		return store.NewAccount{}, ErrInvalidPassword
	}
	if account.Role == "" && strings.TrimSpace(input.Role) != "" {
		return store.NewAccount{}, ErrInvalidRole
	}
	return account, nil
}

// EnsureBootstrap provisions the operator account named in the config. An
// existing password is never overwritten and the token is only added once.
func (s *UserService) EnsureBootstrap(ctx context.Context, username string, password string, rawToken string) error {
	username = normalizeUsername(username)
	rawToken = strings.TrimSpace(rawToken)
	if username == "" || (password == "" && rawToken == "") {
		return nil
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		user, err = s.store.InsertUser(ctx, store.NewAccount{Username: username, DisplayName: username, Role: RoleAdmin})
	}
	if err != nil {
		return fmt.Errorf("bootstrap account %s: %w", username, err)
	}

	if password != "" && user.PasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash bootstrap password: %w", err)
		}
		if err := s.store.SetUserPassword(ctx, user.ID, string(hash)); err != nil {
			return fmt.Errorf("set bootstrap password: %w", err)
		}
	}

	if rawToken == "" {
		return nil
	}
	switch _, _, err := s.store.LookupSession(ctx, rawToken, now()); {
	case err == nil:
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}
	if _, err := s.store.InsertToken(ctx, store.NewToken{UserID: user.ID, Raw: rawToken, Label: "bootstrap token"}); err != nil {
		return fmt.Errorf("create bootstrap token: %w", err)
	}
	return nil
}

// RegistrationOpen reads the stored setting and falls back to the config
// value when it is unset or unreadable.
func (s *UserService) RegistrationOpen(ctx context.Context, fallback bool) (bool, error) {
	raw, err := s.store.GetSetting(ctx, settingKeyAllowRegistration)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	open, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback, nil
	}
	return open, nil
}

func (s *UserService) SetRegistrationOpen(ctx context.Context, open bool) error {
	return s.store.UpsertSetting(ctx, settingKeyAllowRegistration, strconv.FormatBool(open))
}

// findAccount accepts a numeric id or a username, as typed on the CLI.
func (s *UserService) findAccount(ctx context.Context, ref string) (models.User, error) {
	ref = strings.TrimSpace(ref)
	var (
		user models.User
		err  error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		user, err = s.store.GetUserByID(ctx, id)
	} else {
		user, err = s.store.GetUserByUsername(ctx, normalizeUsername(ref))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ref)
	}
	return user, err
}

func IsAdmin(user models.User) bool {
	return strings.EqualFold(strings.TrimSpace(user.Role), RoleAdmin)
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func normalizeUserRole(raw string) string {
	role := strings.ToUpper(strings.TrimSpace(raw))
	if role == RoleAdmin || role == RoleUser {
		return role
	}
	return ""
}
