package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/shape.search/internal/timeutil"
)

// setupTestDB creates a migrated database in a temporary directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesPragmas(t *testing.T) {
	db := setupTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to read journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to read foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("foreign_keys = %d, want 1", foreignKeys)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to read busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", busyTimeout)
	}
}

func TestNewDB_CreatesTables(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"shapes", "descriptors", "evaluation_runs", "schema_migrations"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		if err != nil {
			t.Fatalf("Failed to query sqlite_master: %v", err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
	db.Close()

	db, err = NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 clean", version, dirty)
	}
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	if err == nil {
		t.Fatal("expected an error opening a database in a missing directory")
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("constraint failed"), false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database is locked"), true},
	}
	for _, tt := range tests {
		if got := isSQLiteBusy(tt.err); got != tt.want {
			t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("retryOnBusy: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
		if got := clock.Sleeps(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("backoff = %v, want %v", got, want)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		want := errors.New("syntax error")
		err := retryOnBusy(clock, func() error {
			calls++
			return want
		})
		if !errors.Is(err, want) {
			t.Errorf("err = %v, want %v", err, want)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if n := len(clock.Sleeps()); n != 0 {
			t.Errorf("slept %d times, want 0", n)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		if !isSQLiteBusy(err) {
			t.Errorf("err = %v, want busy error", err)
		}
		if calls != 5 {
			t.Errorf("calls = %d, want 5", calls)
		}
		if got := clock.Since(time.Unix(0, 0)); got != 310*time.Millisecond {
			t.Errorf("total backoff = %v, want 310ms", got)
		}
	})
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)

	httpMux := http.NewServeMux()
	if err := db.AttachAdminRoutes(httpMux); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	for _, route := range []string{"/debug/backup", "/debug/tailsql/"} {
		t.Run(route, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, route, nil)
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			// Might return 403 from the debug access check, never 404.
			if w.Code == http.StatusNotFound {
				t.Errorf("Route %s should be registered, got 404", route)
			}
		})
	}
}

func TestServeBackup(t *testing.T) {
	db := setupTestDB(t)
	if err := db.UpsertShape(t.Context(), ShapeRecord{
		ShapeID: "Cup/a.obj", Category: "Cup", Filename: "a.obj", Path: "Cup/a.obj",
	}); err != nil {
		t.Fatalf("UpsertShape: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	w := httptest.NewRecorder()
	db.serveBackup(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q, want application/gzip", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "backup-") {
		t.Errorf("Content-Disposition = %q, want a backup filename", cd)
	}

	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}

	// The decompressed payload is itself a usable database.
	restored := filepath.Join(t.TempDir(), "restored.db")
	if err := os.WriteFile(restored, raw, 0o644); err != nil {
		t.Fatalf("write restored db: %v", err)
	}
	rdb, err := Open(restored)
	if err != nil {
		t.Fatalf("open restored db: %v", err)
	}
	defer rdb.Close()
	got, err := rdb.GetShape(t.Context(), "Cup/a.obj")
	if err != nil {
		t.Fatalf("GetShape on restored db: %v", err)
	}
	if got.Category != "Cup" {
		t.Errorf("restored category = %q, want Cup", got.Category)
	}
}
