// Package migrations holds the embedded schema of the nudge tables and
// applies it in order, recording a checksum of every file it ran.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

// Migration is one embedded schema file and, once run, when it was applied.
type Migration struct {
	ID        string
	Checksum  string
	AppliedAt time.Time

	body string
}

// Applied reports whether the migration has run against the database.
func (m Migration) Applied() bool {
	return !m.AppliedAt.IsZero()
}

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	id TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

// Run applies every pending migration, each file whole inside its own
// transaction. It refuses to continue if a migration that already ran no
// longer matches its recorded checksum.
func Run(ctx context.Context, db *sql.DB) error {
	all, err := Status(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range all {
		if m.Applied() {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.ID, err)
		}
		log.Info().Str("migration", m.ID).Str("checksum", short(m.Checksum)).Msg("Applied migration")
	}
	return nil
}

// Status lists every embedded migration in order, with AppliedAt set for
// those already run.
func Status(ctx context.Context, db *sql.DB) ([]Migration, error) {
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("creating migration ledger: %w", err)
	}

	all, err := embedded()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	defer rows.Close()

	type row struct {
		checksum  string
		appliedAt time.Time
	}
	ran := make(map[string]row)
	for rows.Next() {
		var id, sum, at string
		if err := rows.Scan(&id, &sum, &at); err != nil {
			return nil, fmt.Errorf("scanning migration ledger: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("migration %s has malformed applied_at %q: %w", id, at, err)
		}
		ran[id] = row{checksum: sum, appliedAt: t}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range all {
		r, ok := ran[all[i].ID]
		if !ok {
			continue
		}
		if r.checksum != all[i].Checksum {
			return nil, fmt.Errorf("migration %s changed after it was applied (recorded %s, embedded %s)",
				all[i].ID, short(r.checksum), short(all[i].Checksum))
		}
		all[i].AppliedAt = r.appliedAt
	}
	return all, nil
}

func embedded() ([]Migration, error) {
	names, err := fs.Glob(sqlFS, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	all := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(sqlFS, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		all = append(all, Migration{
			ID:       strings.TrimSuffix(path.Base(name), ".sql"),
			Checksum: hex.EncodeToString(sum[:]),
			body:     string(body),
		})
	}
	return all, nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (id, checksum, applied_at) VALUES (?, ?, ?)`,
		m.ID, m.Checksum, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
