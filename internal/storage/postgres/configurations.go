package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fleetward/control-plane/internal/domain/configuration"
	"github.com/fleetward/control-plane/internal/storage"
)

type configRow struct {
	ID        int64     `db:"id"`
	Scope     string    `db:"scope"`
	TargetID  sql.NullString `db:"target_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	UpdatedBy sql.NullString `db:"updated_by"`
}

func (r configRow) toDomain() configuration.Configuration {
	return configuration.Configuration{
		ID:        r.ID,
		Scope:     configuration.Scope(r.Scope),
		TargetID:  r.TargetID.String,
		Content:   []byte(r.Content),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		UpdatedBy: r.UpdatedBy.String,
	}
}

func (s *Store) UpsertConfiguration(ctx context.Context, cfg configuration.Configuration) (configuration.Configuration, error) {
	now := time.Now().UTC()
	cfg.UpdatedAt = now
	if len(cfg.Content) == 0 {
		cfg.Content = []byte("{}")
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO configurations (scope, target_id, content, created_at, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope, COALESCE(target_id, '')) DO UPDATE
		SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by
		RETURNING id
	`, string(cfg.Scope), nullString(cfg.TargetID), string(cfg.Content), now, now, nullString(cfg.UpdatedBy)).Scan(&id)
	if err != nil {
		return configuration.Configuration{}, fmt.Errorf("upsert configuration: %w", err)
	}
	cfg.ID = id
	return cfg, nil
}

func (s *Store) GetConfiguration(ctx context.Context, scope configuration.Scope, targetID string) (configuration.Configuration, error) {
	var row configRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, scope, target_id, content, created_at, updated_at, updated_by
		FROM configurations WHERE scope = $1 AND COALESCE(target_id, '') = $2
	`, string(scope), targetID)
	if err != nil {
		return configuration.Configuration{}, wrapNotFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListConfigurations(ctx context.Context, scope configuration.Scope) ([]configuration.Configuration, error) {
	var rows []configRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, scope, target_id, content, created_at, updated_at, updated_by
		FROM configurations WHERE scope = $1 ORDER BY target_id
	`, string(scope))
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}

	out := make([]configuration.Configuration, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteConfiguration(ctx context.Context, scope configuration.Scope, targetID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM configurations WHERE scope = $1 AND COALESCE(target_id, '') = $2
	`, string(scope), targetID)
	if err != nil {
		return fmt.Errorf("delete configuration: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}
