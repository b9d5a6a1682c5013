// Package migrations holds the versioned schema of the buy archive and the
// trending tables, and applies it through a backend-neutral runner. Each
// backend records applied versions in its own schema_migrations table.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Dialect names a migration set.
type Dialect string

const (
	Postgres   Dialect = "postgres"
	Clickhouse Dialect = "clickhouse"
)

// Migration is one versioned schema file split into statements.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Executor is the database side of a migration run.
type Executor interface {
	// EnsureVersionTable creates schema_migrations if missing.
	EnsureVersionTable(ctx context.Context) error
	// AppliedVersions lists versions already recorded.
	AppliedVersions(ctx context.Context) ([]int, error)
	// Apply runs m and records its version.
	Apply(ctx context.Context, m Migration) error
}

// Load returns the embedded migrations of dialect ordered by version.
func Load(dialect Dialect) ([]Migration, error) {
	return load(files, string(dialect))
}

func load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", dir, err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, name, err := parseFileName(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		stmts, err := SplitStatements(string(data))
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		if len(stmts) == 0 {
			continue
		}
		out = append(out, Migration{Version: version, Name: name, Statements: stmts})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseFileName splits "002_trending.sql" into 2 and "trending".
func parseFileName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	num, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want NNN_name.sql", file)
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: bad version %q", file, num)
	}
	return version, name, nil
}

// Run applies every migration whose version exec has not recorded, in
// version order. It returns how many were applied.
func Run(ctx context.Context, exec Executor, migrations []Migration, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := exec.EnsureVersionTable(ctx); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	versions, err := exec.AppliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	n := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		start := time.Now()
		if err := exec.Apply(ctx, m); err != nil {
			return n, fmt.Errorf("apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		n++
		logger.Info("migration applied",
			zap.Int("version", m.Version),
			zap.String("name", m.Name),
			zap.Duration("took", time.Since(start)))
	}
	return n, nil
}

// SplitStatements breaks a SQL script into statements at semicolons outside
// quoted strings and identifiers. Line comments are dropped.
func SplitStatements(script string) ([]string, error) {
	var (
		stmts []string
		cur   strings.Builder
		quote byte
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		if quote != 0 {
			cur.WriteByte(ch)
			if ch == quote {
				// Doubled quote is an escaped quote.
				if i+1 < len(script) && script[i+1] == quote {
					cur.WriteByte(script[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			cur.WriteByte(ch)
		case ch == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return stmts, nil
}
