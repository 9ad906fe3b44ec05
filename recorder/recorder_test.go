package recorder

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cogradio/confusion"
	"cogradio/qrank"
	"cogradio/session"

	_ "modernc.org/sqlite"
)

var _ session.Sink = (*Recorder)(nil)

func TestRecorderPersistsDecisionsAndScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis", "sensing.db")
	r, err := Open(Config{Enabled: true, Path: path, QueueSize: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ts := time.Unix(1700000000, 0)
	r.RecordDecision(session.Record{
		SessionID: "s1", Cycle: 0, Time: ts, Energy: 3.5, Threshold: 2,
		Hypothesis: confusion.Occupied, Final: confusion.Free,
		Consulted: true, Labeled: true, Outcome: confusion.Outcome10,
		Risk: 0.25, PD: 0.5, PF: 0.25, PM: 0.5,
	})
	r.RecordDecision(session.Record{SessionID: "s1", Cycle: 1, Time: ts.Add(time.Second), Hypothesis: confusion.Free, Final: confusion.Free})
	r.RecordScores("s1", ts, []qrank.Score{
		{Channel: 4, Score: 0.6, Noise: 0.5, Historic: 0.7, Final: confusion.Free, Updates: 7},
		{Channel: 2, Score: 0.1, Final: confusion.Occupied},
	})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Written() != 3 || r.Dropped() != 0 {
		t.Fatalf("expected 3 written and 0 dropped, got %d/%d", r.Written(), r.Dropped())
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM decisions`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("expected 2 decisions, got %d (%v)", n, err)
	}
	var hyp, final, outcome string
	var labeled int
	if err := db.QueryRow(`SELECT hypothesis, final, outcome, labeled FROM decisions WHERE cycle = 0`).Scan(&hyp, &final, &outcome, &labeled); err != nil {
		t.Fatalf("query decision: %v", err)
	}
	if hyp != "occupied" || final != "free" || outcome != "10" || labeled != 1 {
		t.Fatalf("unexpected decision row: %s %s %s %d", hyp, final, outcome, labeled)
	}
	var risk, pd, pf, pm float64
	if err := db.QueryRow(`SELECT risk, pd, pf, pm FROM decisions WHERE cycle = 0`).Scan(&risk, &pd, &pf, &pm); err != nil {
		t.Fatalf("query threshold stats: %v", err)
	}
	if risk != 0.25 || pd != 0.5 || pf != 0.25 || pm != 0.5 {
		t.Fatalf("unexpected threshold stats: risk=%v pd=%v pf=%v pm=%v", risk, pd, pf, pm)
	}
	if err := db.QueryRow(`SELECT outcome FROM decisions WHERE cycle = 1`).Scan(&outcome); err != nil || outcome != "" {
		t.Fatalf("expected empty outcome for unlabeled cycle, got %q (%v)", outcome, err)
	}
	var channel, rank, updates int
	if err := db.QueryRow(`SELECT channel, rank_pos, updates FROM channel_scores ORDER BY rank_pos LIMIT 1`).Scan(&channel, &rank, &updates); err != nil {
		t.Fatalf("query scores: %v", err)
	}
	if channel != 4 || rank != 1 || updates != 7 {
		t.Fatalf("expected channel 4 ranked first with 7 updates, got channel=%d rank=%d updates=%d", channel, rank, updates)
	}
	var version string
	if err := db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, schemaVersionKey).Scan(&version); err != nil || version != currentSchemaVersion {
		t.Fatalf("expected schema version %s, got %q (%v)", currentSchemaVersion, version, err)
	}
}

func TestRecorderDropsAfterClose(t *testing.T) {
	r, err := Open(Config{Enabled: true, Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r.RecordDecision(session.Record{SessionID: "late"})
	if r.Dropped() != 1 {
		t.Fatalf("expected late record to be dropped, got %d", r.Dropped())
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordDecision(session.Record{})
	r.RecordScores("x", time.Now(), []qrank.Score{{Channel: 1}})
	if r.Dropped() != 0 || r.Written() != 0 || r.Close() != nil {
		t.Fatalf("nil recorder must be inert")
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(Config{Enabled: true, Path: "  "}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestWriterSurvivesUnopenableDatabase(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	// the parent of the database path is a regular file, so every open fails
	r := newRecorder(filepath.Join(blocker, "sensing.db"), 8)
	r.start()
	r.RecordDecision(session.Record{SessionID: "s1", Time: time.Unix(1, 0)})
	r.RecordScores("s1", time.Unix(1, 0), []qrank.Score{{Channel: 1}})
	r.RecordDecision(session.Record{SessionID: "s1", Cycle: 1, Time: time.Unix(2, 0)})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Written() != 0 {
		t.Fatalf("expected nothing written, got %d", r.Written())
	}
	if r.LastError() == nil {
		t.Fatalf("expected the open failure to be reported")
	}
}

func TestWriterOpensDatabaseLazily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazy", "sensing.db")
	r := newRecorder(path, 8)
	r.start()
	r.RecordDecision(session.Record{SessionID: "s1", Time: time.Unix(1, 0)})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.Written() != 1 || r.LastError() != nil {
		t.Fatalf("expected one row after a lazy open, got written=%d err=%v", r.Written(), r.LastError())
	}
}

func TestOpenUpgradesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := old.Exec(`
CREATE TABLE decisions (
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
    outcome TEXT
);
INSERT INTO decisions (session_id, cycle, ts_ms) VALUES ('old', 0, 1);`); err != nil {
		t.Fatalf("seed old schema: %v", err)
	}
	old.Close()

	r, err := Open(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r.RecordDecision(session.Record{SessionID: "new", Cycle: 1, Time: time.Unix(2, 0), Risk: 0.5})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM decisions`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("expected old and new rows, got %d (%v)", n, err)
	}
	var risk float64
	if err := db.QueryRow(`SELECT risk FROM decisions WHERE session_id = 'new'`).Scan(&risk); err != nil || risk != 0.5 {
		t.Fatalf("expected risk column on the upgraded table, got %v (%v)", risk, err)
	}
}
