package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/fleetward/control-plane/internal/domain/device"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateDeviceInsertsRow(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO devices").
		WithArgs("dev_1", []byte("pubkey"), "linux", "1.0.0", nil, nil, "offline", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	d, err := s.CreateDevice(ctx, device.Device{
		ID:        "dev_1",
		PublicKey: []byte("pubkey"),
		Platform:  device.PlatformLinux,
		Version:   "1.0.0",
	})
	require.NoError(t, err)
	require.Equal(t, "dev_1", d.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM devices").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetDevice(ctx, "missing")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDeviceAppliesPartialFields(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	lastSeen := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "public_key", "platform", "version", "enrollment_token",
		"mac_address", "status", "last_seen", "created_at", "updated_at",
	}).AddRow("dev_1", []byte("pk"), "linux", "1.0.0", nil, nil, "offline", nil, lastSeen, lastSeen)

	mock.ExpectQuery("SELECT (.+) FROM devices WHERE id").WithArgs("dev_1").WillReturnRows(rows)
	mock.ExpectExec("UPDATE devices").WillReturnResult(sqlmock.NewResult(0, 1))

	newStatus := device.StatusOnline
	_, err := s.UpdateDevice(ctx, "dev_1", device.Update{Status: &newStatus})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
