package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/common"
	"github.com/dmitrijs2005/tripkeeper/internal/dbx"
	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
	"github.com/google/uuid"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `token_id, family_id, user_id, expires_at, is_revoked, created_at, created_from_ip, user_agent`

func (r *PostgresRepository) Insert(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.TokenID,
		token.FamilyID,
		token.UserID,
		token.ExpiresAt,
		token.IsRevoked,
		token.CreatedAt,
		nullString(token.CreatedFromIP),
		nullString(token.UserAgent),
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("token %s: %w", token.TokenID, common.ErrorAlreadyExists)
		}
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByTokenIDAndUser(ctx context.Context, tokenID string, userID int64) (*models.RefreshToken, error) {
	// token_id is a UUID column; anything else cannot match and would only
	// produce a cast error from the server.
	if !isUUID(tokenID) {
		return nil, common.ErrorNotFound
	}

	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE token_id = $1 AND user_id = $2
	`
	token, err := scanToken(r.db.QueryRowContext(ctx, query, tokenID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) FindByFamilyAndUser(ctx context.Context, familyID string, userID int64) ([]models.RefreshToken, error) {
	if !isUUID(familyID) {
		return []models.RefreshToken{}, nil
	}

	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE family_id = $1 AND user_id = $2
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, familyID, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	tokens := []models.RefreshToken{}
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

func (r *PostgresRepository) MarkRevoked(ctx context.Context, tokenID string, userID int64) error {
	if !isUUID(tokenID) {
		return nil
	}
	query := `UPDATE refresh_tokens SET is_revoked = TRUE WHERE token_id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, tokenID, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeIfActive(ctx context.Context, tokenID string, userID int64) (bool, error) {
	if !isUUID(tokenID) {
		return false, nil
	}
	query := `
		UPDATE refresh_tokens SET is_revoked = TRUE
		WHERE token_id = $1 AND user_id = $2 AND is_revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, tokenID, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) MarkFamilyRevoked(ctx context.Context, familyID string, userID int64) error {
	if !isUUID(familyID) {
		return nil
	}
	query := `UPDATE refresh_tokens SET is_revoked = TRUE WHERE family_id = $1 AND user_id = $2 AND is_revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, familyID, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkAllUserRevoked(ctx context.Context, userID int64) error {
	query := `UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND is_revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteBefore(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
}

func (r *PostgresRepository) InsertReuseEvent(ctx context.Context, event *models.ReuseEvent) error {
	query := `
		INSERT INTO refresh_token_reuse_events (id, user_id, family_id, token_id, detected_at, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.FamilyID,
		event.TokenID,
		event.DetectedAt,
		event.ExpiresAt,
		nullString(event.IPAddress),
		nullString(event.UserAgent),
	)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) HasReuseEvent(ctx context.Context, familyID string, userID int64) (bool, error) {
	if !isUUID(familyID) {
		return false, nil
	}
	query := `
		SELECT EXISTS (
			SELECT 1 FROM refresh_token_reuse_events
			WHERE family_id = $1 AND user_id = $2
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, familyID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) DeleteExpiredReuseEventsBefore(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteBefore(ctx, `DELETE FROM refresh_token_reuse_events WHERE expires_at < $1`, now)
}

func (r *PostgresRepository) deleteBefore(ctx context.Context, query string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*models.RefreshToken, error) {
	var (
		token     models.RefreshToken
		ip, agent sql.NullString
	)
	err := s.Scan(
		&token.TokenID,
		&token.FamilyID,
		&token.UserID,
		&token.ExpiresAt,
		&token.IsRevoked,
		&token.CreatedAt,
		&ip,
		&agent,
	)
	if err != nil {
		return nil, err
	}
	token.CreatedFromIP = ip.String
	token.UserAgent = agent.String
	return &token, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
