package sqlite

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	CamerasTable    = "cameras"
	RecordingsTable = "recordings"
	SchedulesTable  = "schedules"
	EncoderTable    = "encoder_settings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// New opens the embedded database file and applies pending migrations.
// Migrations are forward-only and a no-op when the schema is current.
// All writes serialize through the single connection; sqlite handles
// concurrent readers on the same handle.
func New(path string) (*sqlx.DB, error) {
	const op = "storage.sqlite.New"

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_loc=UTC", path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := runMigrations(path); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return db, nil
}

func runMigrations(path string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+path)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
