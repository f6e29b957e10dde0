// Package migrate applies the versioned PostgreSQL schema and the demo seed
// scripts. Each script runs in its own transaction together with its
// bookkeeping row, so a failed script leaves no record behind.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"assetdesk.org/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNoHistory is returned by Down when nothing has been applied.
var ErrNoHistory = errors.New("no migrations applied")

// Manager runs scripts from two file systems: migrations ("*.up.sql" with a
// matching "*.down.sql") and seeds (every "*.sql").
type Manager struct {
	db         *sql.DB
	migrations source
	seeds      source
}

// source is one script set and the table recording which of its files ran.
type source struct {
	kind   string
	fsys   fs.FS
	suffix string
	table  string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrations.table = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

// NewManager builds a Manager. Either file system may be nil.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		migrations: source{kind: "migration", fsys: migrations, suffix: upSuffix, table: defaultMigrationsTable},
		seeds:      source{kind: "seed", fsys: seeds, suffix: ".sql", table: defaultSeedsTable},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in file name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.apply(ctx, m.migrations)
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.apply(ctx, m.seeds)
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNoHistory
	}
	last := applied[len(applied)-1]
	name := strings.TrimSuffix(last, upSuffix) + downSuffix
	file, err := locate(m.migrations.fsys, name)
	if err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
	if err := m.run(ctx, m.migrations.fsys, file, forget, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	obs.Logger().Info("migration rolled back", zap.String("name", last))
	return nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.names(ctx, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.migrations.table))
}

func (m *Manager) apply(ctx context.Context, src source) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	done, err := m.names(ctx, fmt.Sprintf(`select name from %s`, src.table))
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
	}

	files, err := scripts(src.fsys, src.suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, src.table)
	for _, file := range files {
		name := path.Base(file)
		if _, ok := seen[name]; ok {
			continue
		}
		if err := m.run(ctx, src.fsys, file, record, name, time.Now().UTC()); err != nil {
			return fmt.Errorf("apply %s %s: %w", src.kind, name, err)
		}
		obs.Logger().Info("script applied", zap.String("kind", src.kind), zap.String("name", name))
	}
	return nil
}

// run executes the statements of file followed by the bookkeeping statement,
// all in one transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, file, bookkeeping string, args ...any) error {
	body, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("bookkeeping: %w", err)
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrations.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
	name text primary key,
	applied_at timestamptz not null default now()
)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) names(ctx context.Context, query string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// scripts lists files ending in suffix, ordered by base name.
func scripts(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return path.Base(files[i]) < path.Base(files[j]) })
	return files, nil
}

func locate(fsys fs.FS, base string) (string, error) {
	files, err := scripts(fsys, base)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if path.Base(f) == base {
			return f, nil
		}
	}
	return "", fs.ErrNotExist
}

// splitStatements cuts a script at semicolons outside single-quoted strings,
// $$-quoted bodies and "--" comments. Blank statements are dropped.
func splitStatements(script string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		dollar  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
			continue
		case !quoted && !dollar && c == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
			continue
		case !quoted && c == '$' && i+1 < len(script) && script[i+1] == '$':
			dollar = !dollar
			cur.WriteString("$$")
			i++
			continue
		case !dollar && c == '\'':
			quoted = !quoted
		case !quoted && !dollar && c == ';':
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return stmts
}
