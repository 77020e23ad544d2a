// Package behavior implements BehaviorStore (spec §4.5): per-user history,
// per-query selection preferences, global popularity, and pairwise sequence
// counters. No operation here fails the caller; every internal error is
// logged and swallowed, degrading to an empty/zero result, since a
// personalization miss is never worse than a request failure.
package behavior

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite"

	"github.com/amanbi/qassist/internal/model"
)

// Config controls retention and bounds, matching spec §6's `behavior`
// section.
type Config struct {
	// HistoryCap bounds a single user's history list (N_hist).
	HistoryCap int
	// PreferenceTTL bounds how long last_selection_for entries stay live
	// (T_pref).
	PreferenceTTL time.Duration
	// TopPreferences bounds get_user_preferences' result size (top-M).
	TopPreferences int
	// SequenceLimit bounds get_sequences' next/previous result size (L).
	SequenceLimit int
	// LastSelectionCacheSize bounds the in-process TTL cache fronting the
	// last_selection_for hot read path.
	LastSelectionCacheSize int
}

// DefaultConfig returns spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCap:             100,
		PreferenceTTL:          24 * time.Hour,
		TopPreferences:         20,
		SequenceLimit:          10,
		LastSelectionCacheSize: 10000,
	}
}

// Store is the BehaviorStore component, backed by SQLite in WAL mode
// (modernc.org/sqlite, cgo-free) the way internal/store/sqlite_bm25.go
// configures its database, plus an expirable LRU cache so the hot
// get_last_selection read path avoids a SQL scan per lookup.
type Store struct {
	db     *sql.DB
	config Config
	lastSel *expirable.LRU[string, string]
	closed  bool
}

// New opens an in-memory behavior store, useful for tests and for running
// without persistence.
func New(cfg Config) (*Store, error) {
	return Open("", cfg)
}

// Open opens (creating if needed) a SQLite-backed behavior store at path.
// An empty path opens an in-memory database.
func Open(path string, cfg Config) (*Store, error) {
	cfg = withDefaults(cfg)

	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open behavior database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	s := &Store{
		db:      db,
		config:  cfg,
		lastSel: expirable.NewLRU[string, string](cfg.LastSelectionCacheSize, nil, cfg.PreferenceTTL),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize behavior schema: %w", err)
	}
	return s, nil
}

func withDefaults(cfg Config) Config {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	if cfg.PreferenceTTL <= 0 {
		cfg.PreferenceTTL = 24 * time.Hour
	}
	if cfg.TopPreferences <= 0 {
		cfg.TopPreferences = 20
	}
	if cfg.SequenceLimit <= 0 {
		cfg.SequenceLimit = 10
	}
	if cfg.LastSelectionCacheSize <= 0 {
		cfg.LastSelectionCacheSize = 10000
	}
	return cfg
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user TEXT NOT NULL,
		query TEXT NOT NULL,
		selected TEXT NOT NULL,
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_history_user ON user_history(user, id DESC);

	CREATE TABLE IF NOT EXISTS last_selection (
		user TEXT NOT NULL,
		query TEXT NOT NULL,
		selected TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (user, query)
	);

	CREATE TABLE IF NOT EXISTS user_pref_scores (
		user TEXT NOT NULL,
		selected TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (user, selected)
	);

	CREATE TABLE IF NOT EXISTS global_popularity (
		query TEXT NOT NULL,
		selected TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (query, selected)
	);

	CREATE TABLE IF NOT EXISTS global_sequence (
		prev_query TEXT NOT NULL,
		next_query TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (prev_query, next_query)
	);

	CREATE TABLE IF NOT EXISTS user_sequence (
		user TEXT NOT NULL,
		prev_query TEXT NOT NULL,
		next_query TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (user, prev_query, next_query)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordSelection is record_selection(user, query, selected, timestamp)
// (spec §4.5 steps 1-5), run as a single transaction. Failures are logged
// and swallowed; the caller's request never fails because personalization
// bookkeeping failed.
func (s *Store) RecordSelection(ctx context.Context, user, query, selected string, timestamp time.Time) {
	if err := s.recordSelection(ctx, user, query, selected, timestamp); err != nil {
		slog.Error("record_selection_failed",
			slog.String("user", user), slog.String("query", query), slog.String("error", err.Error()))
	}
}

func (s *Store) recordSelection(ctx context.Context, user, query, selected string, timestamp time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevQuery string
	row := tx.QueryRowContext(ctx, `SELECT query FROM user_history WHERE user = ? ORDER BY id DESC LIMIT 1`, user)
	switch err := row.Scan(&prevQuery); {
	case err == sql.ErrNoRows:
		prevQuery = ""
	case err != nil:
		return fmt.Errorf("query prior history entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_history(user, query, selected, ts) VALUES (?, ?, ?, ?)`,
		user, query, selected, timestamp.UnixNano()); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_history
		WHERE user = ? AND id NOT IN (
			SELECT id FROM user_history WHERE user = ? ORDER BY id DESC LIMIT ?
		)`, user, user, s.config.HistoryCap); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}

	expiresAt := timestamp.Add(s.config.PreferenceTTL).UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO last_selection(user, query, selected, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user, query) DO UPDATE SET selected = excluded.selected, expires_at = excluded.expires_at
	`, user, query, selected, expiresAt); err != nil {
		return fmt.Errorf("upsert last selection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_pref_scores(user, selected, score) VALUES (?, ?, 1)
		ON CONFLICT(user, selected) DO UPDATE SET score = score + 1
	`, user, selected); err != nil {
		return fmt.Errorf("increment user preference score: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO global_popularity(query, selected, score) VALUES (?, ?, 1)
		ON CONFLICT(query, selected) DO UPDATE SET score = score + 1
	`, query, selected); err != nil {
		return fmt.Errorf("increment global popularity: %w", err)
	}

	if prevQuery != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO global_sequence(prev_query, next_query, score) VALUES (?, ?, 1)
			ON CONFLICT(prev_query, next_query) DO UPDATE SET score = score + 1
		`, prevQuery, query); err != nil {
			return fmt.Errorf("increment global sequence edge: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_sequence(user, prev_query, next_query, score) VALUES (?, ?, ?, 1)
			ON CONFLICT(user, prev_query, next_query) DO UPDATE SET score = score + 1
		`, user, prevQuery, query); err != nil {
			return fmt.Errorf("increment user sequence edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if expiresAt > time.Now().UnixNano() {
		s.lastSel.Add(lastSelKey(user, query), selected)
	} else {
		s.lastSel.Remove(lastSelKey(user, query))
	}
	return nil
}

// GetUserPreferences is get_user_preferences(user), bounded to top-M,
// descending by score with lexicographic-ascending tiebreak.
func (s *Store) GetUserPreferences(ctx context.Context, user string) []model.ScoredText {
	rows, err := s.db.QueryContext(ctx, `
		SELECT selected, score FROM user_pref_scores WHERE user = ?
		ORDER BY score DESC, selected ASC LIMIT ?
	`, user, s.config.TopPreferences)
	if err != nil {
		slog.Error("get_user_preferences_failed", slog.String("user", user), slog.String("error", err.Error()))
		return nil
	}
	defer rows.Close()

	var out []model.ScoredText
	for rows.Next() {
		var st model.ScoredText
		if err := rows.Scan(&st.Text, &st.Score); err != nil {
			slog.Error("get_user_preferences_scan_failed", slog.String("error", err.Error()))
			return out
		}
		out = append(out, st)
	}
	return out
}

// GetLastSelection is get_last_selection(user, query). A non-expired entry
// in the in-process cache resolves the call without touching SQLite.
func (s *Store) GetLastSelection(ctx context.Context, user, query string) (string, bool) {
	if selected, ok := s.lastSel.Get(lastSelKey(user, query)); ok {
		return selected, true
	}

	var selected string
	var expiresAt int64
	row := s.db.QueryRowContext(ctx,
		`SELECT selected, expires_at FROM last_selection WHERE user = ? AND query = ?`, user, query)
	switch err := row.Scan(&selected, &expiresAt); {
	case err == sql.ErrNoRows:
		return "", false
	case err != nil:
		slog.Error("get_last_selection_failed", slog.String("user", user), slog.String("error", err.Error()))
		return "", false
	}

	if time.Now().UnixNano() >= expiresAt {
		return "", false
	}
	s.lastSel.Add(lastSelKey(user, query), selected)
	return selected, true
}

// SequenceEdges holds the next/previous query suggestions returned by
// GetSequences.
type SequenceEdges struct {
	Next     []model.ScoredText
	Previous []model.ScoredText
}

// GetSequences is get_sequences(query, user?). When user is non-empty, the
// per-user sequence edges are used so personalization reflects one user's
// own navigation pattern; otherwise the cross-user global edges are used.
func (s *Store) GetSequences(ctx context.Context, query, user string) SequenceEdges {
	next, err := s.sequenceNext(ctx, query, user)
	if err != nil {
		slog.Error("get_sequences_next_failed", slog.String("query", query), slog.String("error", err.Error()))
		next = nil
	}
	previous, err := s.sequencePrevious(ctx, query, user)
	if err != nil {
		slog.Error("get_sequences_previous_failed", slog.String("query", query), slog.String("error", err.Error()))
		previous = nil
	}
	return SequenceEdges{Next: next, Previous: previous}
}

func (s *Store) sequenceNext(ctx context.Context, query, user string) ([]model.ScoredText, error) {
	var rows *sql.Rows
	var err error
	if user != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT next_query, score FROM user_sequence WHERE user = ? AND prev_query = ?
			ORDER BY score DESC, next_query ASC LIMIT ?
		`, user, query, s.config.SequenceLimit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT next_query, score FROM global_sequence WHERE prev_query = ?
			ORDER BY score DESC, next_query ASC LIMIT ?
		`, query, s.config.SequenceLimit)
	}
	if err != nil {
		return nil, err
	}
	return scanScoredTexts(rows)
}

func (s *Store) sequencePrevious(ctx context.Context, query, user string) ([]model.ScoredText, error) {
	var rows *sql.Rows
	var err error
	if user != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT prev_query, score FROM user_sequence WHERE user = ? AND next_query = ?
			ORDER BY score DESC, prev_query ASC LIMIT ?
		`, user, query, s.config.SequenceLimit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT prev_query, score FROM global_sequence WHERE next_query = ?
			ORDER BY score DESC, prev_query ASC LIMIT ?
		`, query, s.config.SequenceLimit)
	}
	if err != nil {
		return nil, err
	}
	return scanScoredTexts(rows)
}

func scanScoredTexts(rows *sql.Rows) ([]model.ScoredText, error) {
	defer rows.Close()
	var out []model.ScoredText
	for rows.Next() {
		var st model.ScoredText
		if err := rows.Scan(&st.Text, &st.Score); err != nil {
			return out, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetHistory returns a user's selection history, newest first, used by the
// Orchestrator's history-based suggestion source.
func (s *Store) GetHistory(ctx context.Context, user string, limit int) []model.UserHistoryEntry {
	if limit <= 0 || limit > s.config.HistoryCap {
		limit = s.config.HistoryCap
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, selected, ts FROM user_history WHERE user = ? ORDER BY id DESC LIMIT ?
	`, user, limit)
	if err != nil {
		slog.Error("get_history_failed", slog.String("user", user), slog.String("error", err.Error()))
		return nil
	}
	defer rows.Close()

	var out []model.UserHistoryEntry
	for rows.Next() {
		var entry model.UserHistoryEntry
		var ts int64
		if err := rows.Scan(&entry.Query, &entry.Selected, &ts); err != nil {
			slog.Error("get_history_scan_failed", slog.String("error", err.Error()))
			return out
		}
		entry.Timestamp = time.Unix(0, ts)
		out = append(out, entry)
	}
	return out
}

// GetGlobalPopularity returns the top selections globally made for query,
// used when no per-user signal is available.
func (s *Store) GetGlobalPopularity(ctx context.Context, query string, limit int) []model.ScoredText {
	if limit <= 0 {
		limit = s.config.TopPreferences
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT selected, score FROM global_popularity WHERE query = ?
		ORDER BY score DESC, selected ASC LIMIT ?
	`, query, limit)
	if err != nil {
		slog.Error("get_global_popularity_failed", slog.String("query", query), slog.String("error", err.Error()))
		return nil
	}
	out, err := scanScoredTexts(rows)
	if err != nil {
		slog.Error("get_global_popularity_scan_failed", slog.String("error", err.Error()))
	}
	return out
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func lastSelKey(user, query string) string {
	return user + "\x00" + query
}
