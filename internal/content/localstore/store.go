// Package localstore reads random records from the pre-populated sqlite
// content database.
package localstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"funbot/internal/content"
	"funbot/internal/content/normalize"
	logx "funbot/pkg/logx"
)

// Store is safe for concurrent use. database/sql owns the pool: at most
// PoolSize connections are open and callers block until one is free.
type Store struct {
	db     *sql.DB
	log    logx.Logger
	tables map[string]Table

	queries   atomic.Uint64
	discarded atomic.Uint64
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	Queries         uint64 `json:"queries"`
	Discarded       uint64 `json:"discarded"`
}

// Open opens the content database at cfg.Path. A missing file yields an
// error matching content.ErrStoreUnavailable.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: no database path configured", content.ErrStoreUnavailable)
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		return nil, fmt.Errorf("%w: database file not found at %s", content.ErrStoreUnavailable, path)
	}

	tables := make(map[string]Table, len(cfg.Tables))
	for cat, t := range cfg.Tables {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("localstore: table for %q: %w", cat, err)
		}
		t.Kind = t.kind()
		tables[cat] = t
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", content.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", content.ErrStoreUnavailable, err)
	}

	log.Info("content store opened", logx.String("path", path), logx.Int("pool", cfg.PoolSize), logx.Int("tables", len(tables)))
	return &Store{db: db, log: log, tables: tables}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Supports reports whether category has a table mapping.
func (s *Store) Supports(category string) bool {
	if s == nil {
		return false
	}
	_, ok := s.tables[category]
	return ok
}

// Categories returns the mapped categories, sorted.
func (s *Store) Categories() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.tables))
	for k := range s.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Stats() Stats {
	if s == nil || s.db == nil {
		return Stats{}
	}
	ds := s.db.Stats()
	return Stats{
		OpenConnections: ds.OpenConnections,
		InUse:           ds.InUse,
		Idle:            ds.Idle,
		WaitCount:       ds.WaitCount,
		Queries:         s.queries.Load(),
		Discarded:       s.discarded.Load(),
	}
}

// GetRandom returns one uniformly random record for category.
// content.ErrNotFound is returned for an empty table.
func (s *Store) GetRandom(ctx context.Context, category string) (content.Result, error) {
	t, ok := s.tables[category]
	if !ok {
		return content.Result{}, content.UnknownCategory(category)
	}
	if t.Kind == TableQA {
		qa, err := s.getQA(ctx, category, t)
		if err != nil {
			return content.Result{}, err
		}
		r := qa.Result()
		r.Source = "local"
		return r, nil
	}

	var raw sql.NullString
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY RANDOM() LIMIT 1", t.Column, t.Table)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, q).Scan(&raw)
	})
	if err != nil {
		return content.Result{}, s.wrap(category, err)
	}
	r := toResult(t, raw.String)
	if r.IsEmpty() {
		return content.Result{}, fmt.Errorf("%s: %w", category, content.ErrNotFound)
	}
	r.Source = "local"
	return r, nil
}

// GetRandomQA returns a random question/answer pair. category must map to a
// qa table.
func (s *Store) GetRandomQA(ctx context.Context, category string) (content.QA, error) {
	t, ok := s.tables[category]
	if !ok || t.Kind != TableQA {
		return content.QA{}, content.UnknownCategory(category)
	}
	return s.getQA(ctx, category, t)
}

func (s *Store) getQA(ctx context.Context, category string, t Table) (content.QA, error) {
	var q, a sql.NullString
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY RANDOM() LIMIT 1", t.QuestionColumn, t.AnswerColumn, t.Table)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, stmt).Scan(&q, &a)
	})
	if err != nil {
		return content.QA{}, s.wrap(category, err)
	}
	qa := content.QA{Question: strings.TrimSpace(q.String), Answer: strings.TrimSpace(a.String)}
	if t.ProcessBR {
		qa.Question = normalize.CleanMarkup(qa.Question)
		qa.Answer = normalize.CleanMarkup(qa.Answer)
	}
	if qa.Question == "" && qa.Answer == "" {
		return content.QA{}, fmt.Errorf("%s: %w", category, content.ErrNotFound)
	}
	return qa, nil
}

// BatchRandom returns up to n random records per category over a single
// connection. Unmapped categories are skipped; a failing category maps to an
// empty slice and the remaining categories are still read.
func (s *Store) BatchRandom(ctx context.Context, categories []string, n int) (map[string][]content.Result, error) {
	if n <= 0 {
		n = DefaultBatchSize
	}
	out := make(map[string][]content.Result, len(categories))
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var firstErr error
		for _, cat := range categories {
			t, ok := s.tables[cat]
			if !ok {
				continue
			}
			rs, err := batchFrom(ctx, conn, t, n)
			if err != nil {
				s.log.Warn("batch read failed", logx.String("category", cat), logx.Err(err))
				out[cat] = []content.Result{}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			out[cat] = rs
		}
		return firstErr
	})
	if err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

func batchFrom(ctx context.Context, conn *sql.Conn, t Table, n int) ([]content.Result, error) {
	var q string
	if t.Kind == TableQA {
		q = fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY RANDOM() LIMIT %d", t.QuestionColumn, t.AnswerColumn, t.Table, n)
	} else {
		q = fmt.Sprintf("SELECT %s FROM %s ORDER BY RANDOM() LIMIT %d", t.Column, t.Table, n)
	}
	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]content.Result, 0, n)
	for rows.Next() {
		var r content.Result
		if t.Kind == TableQA {
			var qs, as sql.NullString
			if err := rows.Scan(&qs, &as); err != nil {
				return nil, err
			}
			r = content.QA{Question: qs.String, Answer: as.String}.Result()
		} else {
			var v sql.NullString
			if err := rows.Scan(&v); err != nil {
				return nil, err
			}
			r = toResult(t, v.String)
		}
		if !r.IsEmpty() {
			r.Source = "local"
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// withConn runs fn on one pooled connection. When fn fails with anything but
// sql.ErrNoRows the connection is discarded instead of returned to the pool.
func (s *Store) withConn(ctx context.Context, fn func(*sql.Conn) error) error {
	if s == nil || s.db == nil {
		return content.ErrStoreUnavailable
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.queries.Add(1)
	err = fn(conn)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		s.discarded.Add(1)
	}
	return err
}

func (s *Store) wrap(category string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", category, content.ErrNotFound)
	}
	s.log.Error("content store query failed", logx.String("category", category), logx.Err(err))
	return fmt.Errorf("localstore %s: %w", category, err)
}

func toResult(t Table, raw string) content.Result {
	switch t.Kind {
	case TableImage:
		return content.ImageURL(strings.TrimSpace(raw))
	default:
		if t.ProcessBR {
			raw = normalize.CleanMarkup(raw)
		}
		return content.Text(strings.TrimSpace(raw))
	}
}
