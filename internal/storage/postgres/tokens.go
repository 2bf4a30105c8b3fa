package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetward/control-plane/internal/domain/enrollmenttoken"
	"github.com/fleetward/control-plane/internal/storage"
)

type tokenRow struct {
	ID           int64     `db:"id"`
	Token        string    `db:"token"`
	Description  sql.NullString `db:"description"`
	CreatedBy    sql.NullString `db:"created_by"`
	CreatedAt    time.Time `db:"created_at"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
	UsedAt       sql.NullTime `db:"used_at"`
	UsedByDevice sql.NullString `db:"used_by_device"`
	IsActive     bool      `db:"is_active"`
	UsageCount   int       `db:"usage_count"`
	MaxUsage     int       `db:"max_usage"`
}

func (r tokenRow) toDomain() enrollmenttoken.Token {
	t := enrollmenttoken.Token{
		ID:           r.ID,
		Token:        r.Token,
		Description:  r.Description.String,
		CreatedBy:    r.CreatedBy.String,
		CreatedAt:    r.CreatedAt,
		UsedByDevice: r.UsedByDevice.String,
		IsActive:     r.IsActive,
		UsageCount:   r.UsageCount,
		MaxUsage:     r.MaxUsage,
		Used:         r.UsageCount > 0,
	}
	if r.ExpiresAt.Valid {
		t.ExpiresAt = &r.ExpiresAt.Time
	}
	if r.UsedAt.Valid {
		t.UsedAt = &r.UsedAt.Time
	}
	return t
}

func (s *Store) CreateToken(ctx context.Context, t enrollmenttoken.Token) (enrollmenttoken.Token, error) {
	t.CreatedAt = time.Now().UTC()
	if t.MaxUsage == 0 {
		t.MaxUsage = 1
	}
	t.IsActive = true

	var expiresAt sql.NullTime
	if t.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *t.ExpiresAt, Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO enrollment_tokens (token, description, created_by, created_at, expires_at, is_active, usage_count, max_usage)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING id
	`, t.Token, nullString(t.Description), nullString(t.CreatedBy), t.CreatedAt, expiresAt, t.IsActive, t.MaxUsage).Scan(&id)
	if err != nil {
		return enrollmenttoken.Token{}, fmt.Errorf("create token: %w", err)
	}
	t.ID = id
	return t, nil
}

func (s *Store) GetToken(ctx context.Context, token string) (enrollmenttoken.Token, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, token, description, created_by, created_at, expires_at, used_at, used_by_device, is_active, usage_count, max_usage
		FROM enrollment_tokens WHERE token = $1
	`, token)
	if err != nil {
		return enrollmenttoken.Token{}, wrapNotFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListTokens(ctx context.Context) ([]enrollmenttoken.Token, error) {
	var rows []tokenRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, token, description, created_by, created_at, expires_at, used_at, used_by_device, is_active, usage_count, max_usage
		FROM enrollment_tokens ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	out := make([]enrollmenttoken.Token, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) RecordTokenUse(ctx context.Context, token, deviceID string, now time.Time) (enrollmenttoken.Token, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE enrollment_tokens
		SET usage_count = usage_count + 1, used_at = $2, used_by_device = $3
		WHERE token = $1
	`, token, now, deviceID)
	if err != nil {
		return enrollmenttoken.Token{}, fmt.Errorf("record token use: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return enrollmenttoken.Token{}, storage.ErrNotFound
	}
	return s.GetToken(ctx, token)
}

func (s *Store) DeactivateToken(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE enrollment_tokens SET is_active = false WHERE token = $1
	`, token)
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}
