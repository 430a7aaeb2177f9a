package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/shinyes/vidbox/internal/models"
)

// Accounts are the people who upload and manage videos. Each holds any
// number of bearer tokens; only the SHA-256 digest of a token is stored.

const tokenPrefixLength = 8

type NewAccount struct {
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
}

type NewToken struct {
	UserID    int64
	Raw       string
	Label     string
	ExpiresAt *time.Time
}

type accountRow struct {
	user       models.User
	createTime string
	updateTime string
}

func (r *accountRow) fields() []any {
	return []any{&r.user.ID, &r.user.Username, &r.user.DisplayName, &r.user.PasswordHash, &r.user.Role, &r.createTime, &r.updateTime}
}

func (r *accountRow) decode() (models.User, error) {
	var err error
	if r.user.CreateTime, err = parseTime(r.createTime); err != nil {
		return models.User{}, err
	}
	if r.user.UpdateTime, err = parseTime(r.updateTime); err != nil {
		return models.User{}, err
	}
	return r.user, nil
}

type tokenRow struct {
	token      models.PersonalAccessToken
	createdAt  string
	lastUsedAt sql.NullString
	expiresAt  sql.NullString
	revokedAt  sql.NullString
}

func (r *tokenRow) fields() []any {
	return []any{&r.token.ID, &r.token.UserID, &r.token.TokenPrefix, &r.token.TokenHash, &r.token.Description, &r.createdAt, &r.lastUsedAt, &r.expiresAt, &r.revokedAt}
}

func (r *tokenRow) decode() (models.PersonalAccessToken, error) {
	var err error
	if r.token.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return models.PersonalAccessToken{}, err
	}
	for _, ts := range []struct {
		raw sql.NullString
		dst **time.Time
	}{
		{r.lastUsedAt, &r.token.LastUsedAt},
		{r.expiresAt, &r.token.ExpiresAt},
		{r.revokedAt, &r.token.RevokedAt},
	} {
		if *ts.dst, err = parseNullableTime(ts.raw); err != nil {
			return models.PersonalAccessToken{}, err
		}
	}
	return r.token, nil
}

const (
	accountSelect = `SELECT u.id, u.username, u.display_name, u.password_hash, u.role, u.create_time, u.update_time FROM users u`
	tokenSelect   = `SELECT t.id, t.user_id, t.token_prefix, t.token_hash, t.description, t.created_at, t.last_used_at, t.expires_at, t.revoked_at FROM personal_access_tokens t`
)

func (s *SQLStore) InsertUser(ctx context.Context, account NewAccount) (models.User, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, password_hash, role, create_time, update_time) VALUES (?, ?, ?, ?, ?, ?)`,
		account.Username, account.DisplayName, account.PasswordHash, account.Role, now, now,
	)
	if err != nil {
		return models.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLStore) SetUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	return execOne(s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, update_time = ? WHERE id = ?`,
		passwordHash, formatTime(time.Now()), userID,
	))
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	return s.queryAccount(ctx, accountSelect+` WHERE u.id = ?`, id)
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.queryAccount(ctx, accountSelect+` WHERE u.username = ? COLLATE NOCASE`, username)
}

func (s *SQLStore) HasUsers(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users)`).Scan(&exists)
	return exists, err
}

func (s *SQLStore) queryAccount(ctx context.Context, query string, args ...any) (models.User, error) {
	var row accountRow
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(row.fields()...); err != nil {
		return models.User{}, err
	}
	return row.decode()
}

func (s *SQLStore) InsertToken(ctx context.Context, token NewToken) (models.PersonalAccessToken, error) {
	prefix := token.Raw
	if len(prefix) > tokenPrefixLength {
		prefix = prefix[:tokenPrefixLength]
	}
	var expires any
	if token.ExpiresAt != nil {
		expires = formatTime(*token.ExpiresAt)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO personal_access_tokens (user_id, token_prefix, token_hash, description, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		token.UserID, prefix, tokenDigest(token.Raw), token.Label, formatTime(time.Now()), expires,
	)
	if err != nil {
		return models.PersonalAccessToken{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.PersonalAccessToken{}, err
	}
	return s.GetToken(ctx, id)
}

func (s *SQLStore) GetToken(ctx context.Context, id int64) (models.PersonalAccessToken, error) {
	var row tokenRow
	if err := s.db.QueryRowContext(ctx, tokenSelect+` WHERE t.id = ?`, id).Scan(row.fields()...); err != nil {
		return models.PersonalAccessToken{}, err
	}
	return row.decode()
}

// ListTokens returns the tokens of one account, newest first.
func (s *SQLStore) ListTokens(ctx context.Context, userID int64) ([]models.PersonalAccessToken, error) {
	rows, err := s.db.QueryContext(ctx, tokenSelect+` WHERE t.user_id = ? ORDER BY t.created_at DESC, t.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]models.PersonalAccessToken, 0)
	for rows.Next() {
		var row tokenRow
		if err := rows.Scan(row.fields()...); err != nil {
			return nil, err
		}
		token, err := row.decode()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// RevokeToken returns sql.ErrNoRows when the token is unknown or already
// revoked.
func (s *SQLStore) RevokeToken(ctx context.Context, id int64) error {
	return execOne(s.db.ExecContext(ctx,
		`UPDATE personal_access_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(time.Now()), id,
	))
}

// LookupSession resolves a raw bearer token that is neither revoked nor
// expired at now.
func (s *SQLStore) LookupSession(ctx context.Context, raw string, now time.Time) (models.User, models.PersonalAccessToken, error) {
	var account accountRow
	var token tokenRow
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.display_name, u.password_hash, u.role, u.create_time, u.update_time,
			t.id, t.user_id, t.token_prefix, t.token_hash, t.description, t.created_at, t.last_used_at, t.expires_at, t.revoked_at
		FROM personal_access_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ?
			AND t.revoked_at IS NULL
			AND (t.expires_at IS NULL OR t.expires_at > ?)`,
		tokenDigest(raw), formatTime(now),
	).Scan(append(account.fields(), token.fields()...)...)
	if err != nil {
		return models.User{}, models.PersonalAccessToken{}, err
	}
	user, err := account.decode()
	if err != nil {
		return models.User{}, models.PersonalAccessToken{}, err
	}
	pat, err := token.decode()
	if err != nil {
		return models.User{}, models.PersonalAccessToken{}, err
	}
	return user, pat, nil
}

func (s *SQLStore) MarkTokenUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?`, formatTime(at), id)
	return err
}

func tokenDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
