package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenSQL connects to a relational backend and returns it as a record store.
func OpenSQL(driver, uri string) (*SQLStore, error) {
	driver = normalizeDriver(driver)
	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case "sqlite3":
		if uri == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", uri)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	case "mysql":
		dsn, err := mysqlDSN(uri)
		if err != nil {
			return nil, err
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres":
		db, err = sql.Open("postgres", uri)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLStore(db, driver), nil
}

// mysqlDSN strips an optional mysql:// prefix and forces found-rows
// semantics so an unchanged UPDATE still reports the matched row.
func mysqlDSN(uri string) (string, error) {
	uri = strings.TrimPrefix(uri, "mysql://")
	cfg, err := mysql.ParseDSN(uri)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgresql", "postgres":
		return "postgres"
	default:
		return strings.ToLower(driver)
	}
}

// Migrate ensures the users table is present.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch normalizeDriver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				patient_id TEXT NOT NULL UNIQUE,
				username TEXT NOT NULL,
				password TEXT NOT NULL,
				role TEXT NOT NULL,
				age INTEGER NOT NULL,
				predictions TEXT,
				messages TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				seq BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				id CHAR(36) NOT NULL,
				patient_id VARCHAR(255) NOT NULL,
				username VARCHAR(255) NOT NULL,
				password VARCHAR(255) NOT NULL,
				role VARCHAR(50) NOT NULL,
				age INT NOT NULL,
				predictions MEDIUMTEXT,
				messages LONGTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (seq),
				UNIQUE KEY uniq_users_id (id),
				UNIQUE KEY uniq_users_patient (patient_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				seq BIGSERIAL PRIMARY KEY,
				id TEXT NOT NULL UNIQUE,
				patient_id TEXT NOT NULL UNIQUE,
				username TEXT NOT NULL,
				password TEXT NOT NULL,
				role TEXT NOT NULL,
				age INTEGER NOT NULL,
				predictions TEXT,
				messages TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
