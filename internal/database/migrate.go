// Package database はコンテンツデータベースへの接続とスキーママイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status は適用済みマイグレーションの状態。
type Status struct {
	Version uint
	Dirty   bool
	// Applied はマイグレーションが1つも適用されていない場合にfalse。
	Applied bool
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後の状態を返す。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) (Status, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return Status{}, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Status{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	return status(m)
}

// CurrentStatus は適用済みマイグレーションの状態を返す。
func CurrentStatus(databaseURL string) (Status, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return Status{}, err
	}
	defer m.Close()

	return status(m)
}

func status(m *migrate.Migrate) (Status, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return Status{Version: v, Dirty: dirty, Applied: true}, nil
}
