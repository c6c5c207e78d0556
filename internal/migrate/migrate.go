package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ETAnderson/productimporter/internal/db"
)

//go:embed sql/mysql/*.sql sql/sqlite/*.sql
var migrations embed.FS

// Apply runs the embedded migrations for dialect that are not yet recorded in
// schema_migrations, in file name order.
func Apply(ctx context.Context, conn *sqlx.DB, dialect string) error {
	dir, err := dirFor(dialect)
	if err != nil {
		return err
	}
	return ApplyFS(ctx, conn, dialect, migrations, dir)
}

func ApplyFS(ctx context.Context, conn *sqlx.DB, dialect string, fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, name)
		}
	}

	sort.Strings(files)

	if err := ensureSchemaMigrations(ctx, conn, dialect); err != nil {
		return err
	}

	for _, name := range files {
		applied, err := isApplied(ctx, conn, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return err
		}

		for _, stmt := range SplitStatements(string(sqlBytes)) {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
		}

		if err := markApplied(ctx, conn, name); err != nil {
			return err
		}
	}

	return nil
}

// SplitStatements breaks a migration file into single statements. Neither
// driver runs multi-statement strings by default.
func SplitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func dirFor(dialect string) (string, error) {
	switch dialect {
	case db.DialectMySQL:
		return "sql/mysql", nil
	case db.DialectSQLite:
		return "sql/sqlite", nil
	default:
		return "", fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

func ensureSchemaMigrations(ctx context.Context, conn *sqlx.DB, dialect string) error {
	ddl := `
CREATE TABLE IF NOT EXISTS schema_migrations (
  name VARCHAR(255) NOT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (name)
)`
	if dialect == db.DialectMySQL {
		ddl += " ENGINE=InnoDB"
	}
	_, err := conn.ExecContext(ctx, ddl)
	return err
}

func isApplied(ctx context.Context, conn *sqlx.DB, name string) (bool, error) {
	var v string
	err := conn.QueryRowxContext(ctx, `SELECT name FROM schema_migrations WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func markApplied(ctx context.Context, conn *sqlx.DB, name string) error {
	_, err := conn.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, name)
	return err
}
