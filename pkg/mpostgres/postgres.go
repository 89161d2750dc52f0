// Package mpostgres manages the primary/replica postgres connection pool
// used by every postgres-backed repository in moneycore.
package mpostgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Connection is a hub for the primary/replica postgres connection pair.
type Connection struct {
	PrimaryDSN     string
	ReplicaDSN     string
	PrimaryDBName  string
	MigrationsPath string
	Logger         mlog.Logger

	db        *dbresolver.DB
	Connected bool
}

// Connect opens the primary and replica pools, runs migrations against
// the primary, and pings both. Safe to call once; subsequent GetDB calls
// reuse the pool.
func (c *Connection) Connect() error {
	c.Logger.Info("connecting to primary and replica postgres databases...")

	primary, err := sql.Open("pgx", c.PrimaryDSN)
	if err != nil {
		return fmt.Errorf("mpostgres: open primary: %w", err)
	}

	replica, err := sql.Open("pgx", c.ReplicaDSN)
	if err != nil {
		return fmt.Errorf("mpostgres: open replica: %w", err)
	}

	resolved := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if c.MigrationsPath != "" {
		if err := c.migrate(primary); err != nil {
			return err
		}
	}

	if err := resolved.Ping(); err != nil {
		return fmt.Errorf("mpostgres: ping: %w", err)
	}

	c.db = &resolved
	c.Connected = true

	c.Logger.Info("connected to postgres")

	return nil
}

func (c *Connection) migrate(primary *sql.DB) error {
	driver, err := postgres.WithInstance(primary, &postgres.Config{
		MultiStatementEnabled: true,
		DatabaseName:          c.PrimaryDBName,
		SchemaName:            "public",
	})
	if err != nil {
		return fmt.Errorf("mpostgres: migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+c.MigrationsPath, c.PrimaryDBName, driver)
	if err != nil {
		return fmt.Errorf("mpostgres: migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("mpostgres: migrate up: %w", err)
	}

	return nil
}

// GetDB returns the resolved connection, connecting lazily if needed.
//
//nolint:ireturn
func (c *Connection) GetDB(ctx context.Context) (dbresolver.DB, error) {
	if c.db == nil {
		if err := c.Connect(); err != nil {
			return nil, err
		}
	}

	return *c.db, nil
}
