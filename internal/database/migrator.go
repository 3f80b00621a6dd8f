package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir     = "migrations"
	noTransactionMark = "-- +no-transaction"
)

type migration struct {
	version string
	script  string
	noTx    bool
}

// RunMigrations applies the embedded schema once per version, tracked in
// schema_migrations. Files marked "-- +no-transaction" run statement by
// statement outside a transaction (needed for CREATE INDEX CONCURRENTLY).
func RunMigrations(ctx context.Context, connString string, logger zerolog.Logger) error {
	connConfig, err := pgx.ParseConfig(connString)
	if err != nil {
		return fmt.Errorf("parse connection string: %w", err)
	}
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return fmt.Errorf("connect database for migrations: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		var exists bool
		if err := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if exists {
			continue
		}

		if err := applyMigration(ctx, conn, m); err != nil {
			return err
		}
		applied++
		logger.Info().Str("migration", m.version).Bool("transactional", !m.noTx).Msg("Applied migration")
	}

	logger.Info().Int("applied", applied).Int("total", len(migrations)).Msg("Schema up to date")
	return nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		contents, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		script := strings.TrimSpace(string(contents))
		out = append(out, migration{
			version: strings.TrimSuffix(entry.Name(), ".sql"),
			script:  script,
			noTx:    hasNoTransactionMark(script),
		})
	}
	return out, nil
}

func hasNoTransactionMark(script string) bool {
	for _, line := range strings.Split(script, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), noTransactionMark) {
			return true
		}
	}
	return false
}

func applyMigration(ctx context.Context, conn *pgx.Conn, m migration) error {
	record := `INSERT INTO schema_migrations (version) VALUES ($1)`

	if m.noTx {
		for _, stmt := range splitSQLStatements(m.script) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.version, err)
			}
		}
		if _, err := conn.Exec(ctx, record, m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		return nil
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if m.script != "" {
		if _, err := tx.Exec(ctx, m.script); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
	}
	if _, err := tx.Exec(ctx, record, m.version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.version, err)
	}
	return nil
}

// splitSQLStatements drops comment lines and splits on semicolons. It is only
// used for no-transaction files, which must not contain function bodies.
func splitSQLStatements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	parts := strings.Split(b.String(), ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
