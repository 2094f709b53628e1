package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsGlob   = "sql/migrations/*.sql"
	migrationLockKey = int64(10824701)
	schemaTableDDL   = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	embeddedMigrations embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationStatus описывает состояние схемы.
type MigrationStatus struct {
	Current int64
	Applied int
	Pending []string
}

// Migrator применяет встроенные SQL-миграции под advisory lock.
type Migrator struct {
	db     *sql.DB
	source fs.FS
	logger *log.Entry
}

// NewMigrator создаёт мигратор для встроенных миграций.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{
		db:     db,
		source: embeddedMigrations,
		logger: log.WithField("component", "postgres-migrator"),
	}
}

// Up применяет до steps миграций; steps=0 применяет все.
func (m *Migrator) Up(ctx context.Context, steps int) error {
	return m.withLock(ctx, func(conn *sql.Conn, migrations []migration) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		done := 0
		for _, mg := range migrations {
			if applied[mg.Version] {
				continue
			}
			if err := m.apply(ctx, conn, mg, true); err != nil {
				return err
			}
			done++
			if steps > 0 && done >= steps {
				break
			}
		}
		return nil
	})
}

// Down откатывает steps последних миграций; steps<=0 означает один шаг.
func (m *Migrator) Down(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return m.withLock(ctx, func(conn *sql.Conn, migrations []migration) error {
		byVersion := make(map[int64]migration, len(migrations))
		for _, mg := range migrations {
			byVersion[mg.Version] = mg
		}

		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		if len(versions) > steps {
			versions = versions[:steps]
		}

		for _, v := range versions {
			mg, ok := byVersion[v]
			if !ok {
				return fmt.Errorf("cannot rollback unknown migration version %d", v)
			}
			if err := m.apply(ctx, conn, mg, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// Status возвращает текущую версию, число применённых и список ожидающих миграций.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	var status MigrationStatus
	err := m.withLock(ctx, func(conn *sql.Conn, migrations []migration) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mg := range migrations {
			if !applied[mg.Version] {
				status.Pending = append(status.Pending, fmt.Sprintf("%04d_%s", mg.Version, mg.Name))
			}
		}
		for v := range applied {
			status.Applied++
			if v > status.Current {
				status.Current = v
			}
		}
		return nil
	})
	return status, err
}

func (m *Migrator) withLock(ctx context.Context, fn func(conn *sql.Conn, migrations []migration) error) error {
	if m == nil || m.db == nil {
		return errors.New("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(m.source)
	if err != nil {
		return err
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn, migrations)
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, mg migration, up bool) error {
	direction, body := "down", mg.DownSQL
	record, args := `DELETE FROM schema_migrations WHERE version = $1`, []any{mg.Version}
	if up {
		direction, body = "up", mg.UpSQL
		record, args = `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`, []any{mg.Version, mg.Name}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %d): %w", direction, mg.Version, err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s migration %d_%s: %w", direction, mg.Version, mg.Name, err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s migration %d_%s: %w", direction, mg.Version, mg.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", direction, mg.Version, mg.Name, err)
	}

	m.logger.WithFields(log.Fields{
		"version":   mg.Version,
		"name":      mg.Name,
		"direction": direction,
	}).Info("migration applied")
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		result[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return result, nil
}

// loadMigrationsFromFS собирает пары up/down по версии и сортирует их по возрастанию.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		matches := migrationFilePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		mg, ok := byVersion[version]
		if !ok {
			mg = &migration{Version: version, Name: matches[2]}
			byVersion[version] = mg
		} else if mg.Name != matches[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, mg.Name, matches[2])
		}

		target := &mg.DownSQL
		if matches[3] == "up" {
			target = &mg.UpSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", matches[3], version)
		}
		*target = body
	}

	result := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		if mg.UpSQL == "" || mg.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", mg.Version, mg.Name)
		}
		result = append(result, *mg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}
