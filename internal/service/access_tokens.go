package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shinyes/vidbox/internal/models"
	"github.com/shinyes/vidbox/internal/store"
)

const (
	tokenBytes        = 32
	tokenMintAttempts = 5
	signInTokenLabel  = "signin token"
	cliTokenLabel     = "admin generated token"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid access token")
	ErrTokenNotFound       = errors.New("access token not found")
	ErrTokenAlreadyExists  = errors.New("access token already exists")
	ErrTokenAlreadyRevoked = errors.New("access token already revoked")
	ErrInvalidTokenExpiry  = errors.New("invalid token expiry")
)

// now is the clock used for token expiry.
var now = func() time.Time { return time.Now().UTC() }

// Authenticate resolves a bearer token and records its use.
func (s *UserService) Authenticate(ctx context.Context, rawToken string) (models.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return models.User{}, ErrInvalidToken
	}
	user, token, err := s.store.LookupSession(ctx, rawToken, now())
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrInvalidToken
	}
	if err != nil {
		return models.User{}, err
	}
	_ = s.store.MarkTokenUsed(ctx, token.ID, now())
	return user, nil
}

// SignIn checks a password and mints a session token for the browser UI.
func (s *UserService) SignIn(ctx context.Context, username string, password string) (models.User, string, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return models.User{}, "", ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, "", err
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return models.User{}, "", ErrInvalidCredentials
	}
	token, err := s.mintToken(ctx, user.ID, signInTokenLabel, nil)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// SignOut revokes the presented token. Unknown tokens are ignored.
func (s *UserService) SignOut(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}
	_, token, err := s.store.LookupSession(ctx, rawToken, now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.RevokeToken(ctx, token.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return nil
}

// IssueToken mints a long-lived token for the account named by ref, for
// scripts and upload tools.
func (s *UserService) IssueToken(ctx context.Context, ref string, label string, expiresAt *time.Time) (models.User, string, error) {
	user, err := s.findAccount(ctx, ref)
	if err != nil {
		return models.User{}, "", err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = cliTokenLabel
	}
	token, err := s.mintToken(ctx, user.ID, label, expiresAt)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

func (s *UserService) Tokens(ctx context.Context, ref string) (models.User, []models.PersonalAccessToken, error) {
	user, err := s.findAccount(ctx, ref)
	if err != nil {
		return models.User{}, nil, err
	}
	tokens, err := s.store.ListTokens(ctx, user.ID)
	if err != nil {
		return models.User{}, nil, err
	}
	return user, tokens, nil
}

// RevokeToken returns the revoked token. Revoking twice yields
// ErrTokenAlreadyRevoked together with the stored token.
func (s *UserService) RevokeToken(ctx context.Context, id int64) (models.PersonalAccessToken, error) {
	token, err := s.store.GetToken(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PersonalAccessToken{}, ErrTokenNotFound
	}
	if err != nil {
		return models.PersonalAccessToken{}, err
	}
	if token.RevokedAt != nil {
		return token, ErrTokenAlreadyRevoked
	}
	switch err := s.store.RevokeToken(ctx, id); {
	case errors.Is(err, sql.ErrNoRows):
		return token, ErrTokenAlreadyRevoked
	case err != nil:
		return models.PersonalAccessToken{}, err
	}
	return s.store.GetToken(ctx, id)
}

func (s *UserService) mintToken(ctx context.Context, userID int64, label string, expiresAt *time.Time) (string, error) {
	if expiresAt != nil {
		expires := expiresAt.UTC()
		if !expires.After(now()) {
			return "", ErrInvalidTokenExpiry
		}
		expiresAt = &expires
	}

	for range tokenMintAttempts {
		raw, err := randomToken()
		if err != nil {
			return "", err
		}
		_, err = s.store.InsertToken(ctx, store.NewToken{UserID: userID, Raw: raw, Label: label, ExpiresAt: expiresAt})
		if err == nil {
			return raw, nil
		}
		if !isUniqueConstraintErr(err) {
			return "", err
		}
	}
	return "", ErrTokenAlreadyExists
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
