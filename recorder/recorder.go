// Package recorder persists sensing decisions and ranking results to SQLite
// for offline analysis without slowing the sensing loop.
//
// Entries are buffered on a bounded channel and written by a single
// goroutine. When the queue is full the entry is dropped and counted.
package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cogradio/internal/ratelimit"
	"cogradio/qrank"
	"cogradio/session"
	"cogradio/sqliteutil"
)

const (
	defaultQueueSize     = 8192
	schemaVersionKey     = "schema_version"
	currentSchemaVersion = "2"
)

// Config controls the analysis database.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

// DefaultConfig keeps recording off.
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		Path:      "data/analysis/sensing.db",
		QueueSize: defaultQueueSize,
	}
}

type scoreBatch struct {
	sessionID string
	ts        time.Time
	ranked    []qrank.Score
}

type entry struct {
	decision *session.Record
	scores   *scoreBatch
}

// Recorder implements session.Sink. A nil *Recorder discards everything.
type Recorder struct {
	path  string
	queue chan entry

	mu     sync.RWMutex // guards closed against concurrent enqueue
	closed bool

	db           *sql.DB
	decisionStmt *sql.Stmt
	scoreStmt    *sql.Stmt

	wg        sync.WaitGroup
	closeOnce sync.Once

	dropped   atomic.Int64
	written   atomic.Int64
	dropLog   *ratelimit.Counter
	errorLog  *ratelimit.Counter
	closeErr  error
	lastError atomic.Pointer[writeError]
}

type writeError struct{ err error }

// Open preflights and opens the database at cfg.Path and starts the writer.
func Open(cfg Config) (*Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("recorder: path is empty")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if _, err := sqliteutil.Preflight(path, 2*time.Second, log.Printf); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	r := newRecorder(path, queueSize)
	if err := r.openDB(); err != nil {
		return nil, err
	}
	r.start()
	return r, nil
}

func newRecorder(path string, queueSize int) *Recorder {
	return &Recorder{
		path:     path,
		queue:    make(chan entry, queueSize),
		dropLog:  ratelimit.NewCounter(time.Minute),
		errorLog: ratelimit.NewCounter(time.Minute),
	}
}

func (r *Recorder) start() {
	r.wg.Add(1)
	go r.run()
}

// Path returns the database file.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// RecordDecision buffers one sensing cycle without blocking.
func (r *Recorder) RecordDecision(rec session.Record) {
	if r == nil {
		return
	}
	r.enqueue(entry{decision: &rec})
}

// RecordScores buffers one ranking pass without blocking.
func (r *Recorder) RecordScores(sessionID string, ts time.Time, ranked []qrank.Score) {
	if r == nil || len(ranked) == 0 {
		return
	}
	r.enqueue(entry{scores: &scoreBatch{
		sessionID: sessionID,
		ts:        ts,
		ranked:    append([]qrank.Score(nil), ranked...),
	}})
}

func (r *Recorder) enqueue(e entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- e:
	default:
		d := r.dropped.Add(1)
		if _, ok := r.dropLog.Inc(); ok {
			log.Printf("recorder backpressure: dropped %d entries", d)
		}
	}
}

// Dropped returns how many entries were discarded.
func (r *Recorder) Dropped() int64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Written returns how many entries reached the database.
func (r *Recorder) Written() int64 {
	if r == nil {
		return 0
	}
	return r.written.Load()
}

// LastError returns the most recent write failure, if any.
func (r *Recorder) LastError() error {
	if r == nil {
		return nil
	}
	if we := r.lastError.Load(); we != nil {
		return we.err
	}
	return nil
}

// Close flushes the queue and releases database handles.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
		r.closeErr = r.closeDB()
	})
	return r.closeErr
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		if err := r.write(e); err != nil {
			r.lastError.Store(&writeError{err: err})
			if total, ok := r.errorLog.Inc(); ok {
				log.Printf("recorder: write failed (%d total): %v", total, err)
			}
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) write(e entry) error {
	err := r.writeOnce(e)
	if err == nil || !sqliteutil.IsCorrupted(err) {
		return err
	}
	// one rebuild attempt on a damaged file; writeOnce reopens it
	_ = r.closeDB()
	_ = os.Remove(r.path)
	return r.writeOnce(e)
}

// ensureDB reopens the database after a failed rebuild left no handles.
func (r *Recorder) ensureDB() error {
	if r.db != nil {
		return nil
	}
	return r.openDB()
}

func (r *Recorder) writeOnce(e entry) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	switch {
	case e.decision != nil:
		return r.insertDecision(*e.decision)
	case e.scores != nil:
		return r.insertScores(*e.scores)
	}
	return nil
}

func (r *Recorder) insertDecision(rec session.Record) error {
	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	outcome := ""
	if rec.Labeled {
		outcome = rec.Outcome.String()
	}
	_, err := r.decisionStmt.Exec(
		rec.SessionID,
		int64(rec.Cycle),
		ts.UTC().UnixMilli(),
		rec.Energy,
		rec.Threshold,
		rec.Hypothesis.String(),
		rec.Final.String(),
		boolToInt(rec.Consulted),
		boolToInt(rec.Labeled),
		outcome,
		rec.Risk,
		rec.PD,
		rec.PF,
		rec.PM,
	)
	if err != nil {
		return fmt.Errorf("recorder: insert decision: %w", err)
	}
	return nil
}

func (r *Recorder) insertScores(b scoreBatch) error {
	ts := b.ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("recorder: begin scores: %w", err)
	}
	stmt := tx.Stmt(r.scoreStmt)
	for i, s := range b.ranked {
		if _, err := stmt.Exec(b.sessionID, ts.UTC().UnixMilli(), i+1, int64(s.Channel), s.Score, s.Noise, s.Historic, s.Final.String(), s.Updates); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recorder: insert score: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recorder: commit scores: %w", err)
	}
	return nil
}

func (r *Recorder) openDB() error {
	db, err := sqliteutil.OpenWAL(r.path)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return err
	}
	decisionStmt, err := db.Prepare(`
INSERT INTO decisions (
    session_id, cycle, ts_ms, energy, threshold,
    hypothesis, final, consulted, labeled, outcome,
    risk, pd, pf, pm
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return fmt.Errorf("recorder: prepare decisions: %w", err)
	}
	scoreStmt, err := db.Prepare(`
INSERT INTO channel_scores (
    session_id, ts_ms, rank_pos, channel, score, noise_q, historic_q, final, updates
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		decisionStmt.Close()
		db.Close()
		return fmt.Errorf("recorder: prepare scores: %w", err)
	}
	r.db = db
	r.decisionStmt = decisionStmt
	r.scoreStmt = scoreStmt
	return nil
}

func (r *Recorder) closeDB() error {
	var firstErr error
	for _, stmt := range []*sql.Stmt{r.decisionStmt, r.scoreStmt} {
		if stmt != nil {
			if err := stmt.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.decisionStmt = nil
	r.scoreStmt = nil
	if r.db != nil {
		if err := r.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.db = nil
	}
	return firstErr
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    cycle INTEGER NOT NULL,
    ts_ms INTEGER NOT NULL,
    energy REAL,
    threshold REAL,
    hypothesis TEXT,
    final TEXT,
    consulted INTEGER,
    labeled INTEGER,
    outcome TEXT,
    risk REAL,
    pd REAL,
    pf REAL,
    pm REAL
);
CREATE TABLE IF NOT EXISTS channel_scores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    ts_ms INTEGER NOT NULL,
    rank_pos INTEGER NOT NULL,
    channel INTEGER NOT NULL,
    score REAL,
    noise_q REAL,
    historic_q REAL,
    final TEXT,
    updates INTEGER
);
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, cycle);
CREATE INDEX IF NOT EXISTS idx_scores_channel ON channel_scores(channel, ts_ms);
`); err != nil {
		return fmt.Errorf("recorder: init schema: %w", err)
	}
	if err := addMissingColumns(db, "decisions", []column{
		{"risk", "REAL"}, {"pd", "REAL"}, {"pf", "REAL"}, {"pm", "REAL"},
	}); err != nil {
		return err
	}
	if err := addMissingColumns(db, "channel_scores", []column{{"updates", "INTEGER"}}); err != nil {
		return err
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO metadata(key, value) VALUES (?, ?)`, schemaVersionKey, currentSchemaVersion); err != nil {
		return fmt.Errorf("recorder: set schema version: %w", err)
	}
	return nil
}

type column struct {
	name, ctype string
}

// addMissingColumns upgrades tables created by an older schema version in
// place; existing rows get NULL in the new columns.
func addMissingColumns(db *sql.DB, table string, want []column) error {
	have, err := fetchColumns(db, table)
	if err != nil {
		return fmt.Errorf("recorder: inspect %s: %w", table, err)
	}
	for _, c := range want {
		if _, ok := have[c.name]; ok {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.ctype)); err != nil {
			return fmt.Errorf("recorder: add %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

func fetchColumns(db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.Query(fmt.Sprintf("pragma table_info(%s);", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]struct{})
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = struct{}{}
	}
	return cols, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
