package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

type Config struct {
	Dialect string // mysql | sqlite
	DSN     string
}

func Open(cfg Config) (*sqlx.DB, error) {
	switch cfg.Dialect {
	case DialectMySQL:
		dsn, err := normalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}

		db, err := sqlx.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}

		// Conservative defaults (tune later)
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(20)
		db.SetConnMaxLifetime(5 * time.Minute)
		return db, nil

	case DialectSQLite:
		db, err := sqlx.Open("sqlite", sqliteDSN(cfg.DSN))
		if err != nil {
			return nil, err
		}

		// SQLite allows a single writer; one connection also keeps ":memory:" databases alive.
		db.SetMaxOpenConns(1)
		return db, nil

	default:
		return nil, fmt.Errorf("unknown dialect %q", cfg.Dialect)
	}
}

func Ping(ctx context.Context, db *sqlx.DB) error {
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.PingContext(c)
}

// normalizeMySQLDSN forces the options the stores rely on: parsed
// timestamps in UTC.
func normalizeMySQLDSN(dsn string) (string, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DB_DSN: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

func sqliteDSN(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
