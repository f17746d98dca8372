// Package database provides PostgreSQL access and schema migrations.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

func connString(cfg core.DatabaseConfig, admin bool, dbName string) string {
	sslMode := "require"
	if cfg.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	usr := url.UserPassword(cfg.User, cfg.Password)
	if admin {
		usr = url.UserPassword(cfg.AdminUser, cfg.AdminPassword)
	}
	u := url.URL{
		Scheme:   cfg.Engine,
		User:     usr,
		Host:     cfg.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open opens a connection pool to the configured application database.
func Open(cfg core.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Engine, connString(cfg, false, cfg.Name))
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// CreateIfNotExist creates the application database using the admin
// credentials. Safe to call when the database already exists.
func CreateIfNotExist(cfg core.DatabaseConfig) error {
	db, err := sql.Open(cfg.Engine, connString(cfg, true, cfg.Engine))
	if err != nil {
		return errors.Wrap(err, "opening admin database")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer db.Close()

	var exists bool
	err = db.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", cfg.Name).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking database existence")
	}
	if exists {
		return nil
	}
	if _, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", cfg.Name)); err != nil {
		return errors.Wrapf(err, "creating database %s", cfg.Name)
	}
	return nil
}

// StatusCheck waits for the database to be ready, retrying with backoff
// until the context expires.
func StatusCheck(ctx context.Context, db *sqlx.DB) error {
	var pingError error
	for attempts := 1; ; attempts++ {
		if pingError = db.Ping(); pingError == nil {
			break
		}
		select {
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		case <-ctx.Done():
			return errors.Wrap(pingError, "database not ready")
		}
	}

	var tmp bool
	return db.QueryRowContext(ctx, "SELECT true").Scan(&tmp)
}

// Migrate brings the schema up to date.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Down(db, "migrations")
}
