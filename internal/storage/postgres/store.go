// Package postgres implements the control plane's relational storage
// interfaces on top of PostgreSQL via sqlx and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetward/control-plane/internal/domain/configuration"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/domain/enrollmenttoken"
	"github.com/fleetward/control-plane/internal/domain/task"
	"github.com/fleetward/control-plane/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.DeviceStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.ConfigStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// --- device rows -------------------------------------------------------

type deviceRow struct {
	ID              string       `db:"id"`
	PublicKey       []byte       `db:"public_key"`
	Platform        string       `db:"platform"`
	Version         string       `db:"version"`
	EnrollmentToken sql.NullString `db:"enrollment_token"`
	MACAddress      sql.NullString `db:"mac_address"`
	Status          string       `db:"status"`
	LastSeen        sql.NullTime `db:"last_seen"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r deviceRow) toDomain() device.Device {
	d := device.Device{
		ID:              r.ID,
		PublicKey:       r.PublicKey,
		Platform:        device.Platform(r.Platform),
		Version:         r.Version,
		EnrollmentToken: r.EnrollmentToken.String,
		MACAddress:      r.MACAddress.String,
		Status:          device.Status(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.LastSeen.Valid {
		d.LastSeen = r.LastSeen.Time
	}
	return d
}

// --- DeviceStore ---------------------------------------------------------

func (s *Store) CreateDevice(ctx context.Context, d device.Device) (device.Device, error) {
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = device.StatusOffline
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, public_key, platform, version, enrollment_token, mac_address, status, last_seen, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, d.ID, d.PublicKey, string(d.Platform), d.Version, nullString(d.EnrollmentToken), nullString(d.MACAddress),
		string(d.Status), nullTime(d.LastSeen), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return device.Device{}, fmt.Errorf("create device: %w", err)
	}
	return d, nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (device.Device, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, public_key, platform, version, enrollment_token, mac_address, status, last_seen, created_at, updated_at
		FROM devices WHERE id = $1
	`, id)
	if err != nil {
		return device.Device{}, wrapNotFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetDeviceByMAC(ctx context.Context, mac string) (device.Device, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, public_key, platform, version, enrollment_token, mac_address, status, last_seen, created_at, updated_at
		FROM devices WHERE mac_address = $1
	`, mac)
	if err != nil {
		return device.Device{}, wrapNotFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateDevice(ctx context.Context, id string, upd device.Update) (device.Device, error) {
	existing, err := s.GetDevice(ctx, id)
	if err != nil {
		return device.Device{}, err
	}

	if upd.LastSeen != nil {
		existing.LastSeen = *upd.LastSeen
	}
	if upd.Status != nil {
		existing.Status = *upd.Status
	}
	if upd.Version != nil {
		existing.Version = *upd.Version
	}
	if upd.PublicKey != nil {
		existing.PublicKey = upd.PublicKey
	}
	if upd.EnrollmentToken != nil {
		existing.EnrollmentToken = *upd.EnrollmentToken
	}
	if upd.Platform != nil {
		existing.Platform = *upd.Platform
	}
	existing.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE devices
		SET public_key = $2, platform = $3, version = $4, enrollment_token = $5,
		    status = $6, last_seen = $7, updated_at = $8
		WHERE id = $1
	`, existing.ID, existing.PublicKey, string(existing.Platform), existing.Version, nullString(existing.EnrollmentToken),
		string(existing.Status), nullTime(existing.LastSeen), existing.UpdatedAt)
	if err != nil {
		return device.Device{}, fmt.Errorf("update device: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return device.Device{}, storage.ErrNotFound
	}
	return existing, nil
}

func (s *Store) ListDevices(ctx context.Context, enrollmentToken string) ([]device.Device, error) {
	var rows []deviceRow
	var err error
	if enrollmentToken == "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, public_key, platform, version, enrollment_token, mac_address, status, last_seen, created_at, updated_at
			FROM devices ORDER BY created_at
		`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, public_key, platform, version, enrollment_token, mac_address, status, last_seen, created_at, updated_at
			FROM devices WHERE enrollment_token = $1 ORDER BY created_at
		`, enrollmentToken)
	}
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	out := make([]device.Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func wrapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("query: %w", err)
}
