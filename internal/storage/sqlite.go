package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stoerbot/internal/disruption"
	logx "stoerbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Driver() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (*disruption.KnownState, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, summary, detail, category, lines_json, url, observed_at
		 FROM active_disruptions ORDER BY seq, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	k := disruption.NewKnownState()
	for rows.Next() {
		var (
			id, source, summary, detail, category, linesJSON, url, observed string
		)
		if err := rows.Scan(&id, &source, &summary, &detail, &category, &linesJSON, &url, &observed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		var lines []string
		if strings.TrimSpace(linesJSON) != "" {
			if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
				s.log.Warn("ignoring malformed lines column", logx.String("id", id), logx.Err(err))
				lines = nil
			}
		}
		k.Put(disruption.Notice{
			ID:         id,
			Summary:    summary,
			Detail:     detail,
			Category:   category,
			Source:     disruption.ParseSource(source),
			Lines:      lines,
			URL:        url,
			ObservedAt: parseTimestamp(observed),
		})
	}
	return k, rows.Err()
}

// Save replaces the stored set in one transaction.
func (s *sqliteStore) Save(ctx context.Context, k *disruption.KnownState) (err error) {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM active_disruptions`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO active_disruptions(id, seq, source, summary, detail, category, lines_json, url, observed_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, n := range k.Notices() {
		lines := n.Lines
		if lines == nil {
			lines = []string{}
		}
		lj, _ := json.Marshal(lines)
		observed := ""
		if !n.ObservedAt.IsZero() {
			observed = n.ObservedAt.Format(time.RFC3339Nano)
		}
		if _, err = stmt.ExecContext(ctx, n.ID, i, string(n.Source), n.Summary, n.Detail, n.Category, string(lj), n.URL, observed); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO state_meta(key, value) VALUES('updated_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		s.now().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}
