// Package sqliteutil holds the SQLite open path shared by the analysis
// recorder: a bounded startup health check that moves damaged files aside,
// and a WAL-mode opener.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// PreflightResult reports the outcome of a preflight check.
type PreflightResult struct {
	Healthy        bool   // nothing to do; the file is usable or absent
	Quarantined    bool   // the file was renamed so startup can use a fresh one
	QuarantinePath string // new name of the main file
	Elapsed        time.Duration
	CheckError     error // checkpoint or quick_check failure that triggered quarantine
}

// Preflight checkpoints the WAL and runs quick_check on an existing database
// within timeout. A damaged file and its sidecars are renamed with a
// ".bad-<timestamp>" suffix. A missing file is healthy.
func Preflight(path string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	res := PreflightResult{}
	if strings.TrimSpace(path) == "" {
		return res, errors.New("sqlite preflight: empty path")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		res.Healthy = true
		return res, nil
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	checkErr := check(ctx, path, timeout)
	res.Elapsed = time.Since(start)
	if checkErr == nil {
		res.Healthy = true
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("sqlite preflight: %s timed out after %s", path, timeout)
	}

	res.CheckError = checkErr
	dest, err := quarantine(path)
	if err != nil {
		return res, fmt.Errorf("sqlite preflight: quarantine %s: %w (check=%v)", path, err, checkErr)
	}
	res.Quarantined = true
	res.QuarantinePath = dest
	logf("sqlite preflight: %s failed (%v); quarantined to %s after %s", path, checkErr, dest, res.Elapsed)
	return res, nil
}

func check(ctx context.Context, path string, timeout time.Duration) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return fmt.Errorf("quick_check: %w", err)
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

func quarantine(path string) (string, error) {
	suffix := ".bad-" + time.Now().UTC().Format("20060102T150405Z")
	for _, p := range append([]string{path}, sidecars(path)...) {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(p, p+suffix); err != nil {
			return "", err
		}
	}
	return path + suffix, nil
}

func sidecars(path string) []string {
	out := make([]string, 0, len(sidecarSuffixes))
	for _, s := range sidecarSuffixes {
		out = append(out, path+s)
	}
	return out
}

// OpenWAL opens path with a single connection in WAL mode, creating the
// parent directory if needed.
func OpenWAL(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragmas %s: %w", path, err)
	}
	return db, nil
}

// IsCorrupted reports whether err is SQLite's damaged-file error.
func IsCorrupted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database disk image is malformed") ||
		strings.Contains(msg, "file is encrypted or is not a database")
}
