package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(filepath.Join(t.TempDir(), "workspaces"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func TestManagerCreateWipesLeftovers(t *testing.T) {
	mgr := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "task-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stale := filepath.Join(ws.Dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("leftover"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// Re-creating the same task workspace starts from empty.
	ws2, err := mgr.Create(context.Background(), "task-a")
	if err != nil {
		t.Fatalf("Create() again error = %v", err)
	}
	if ws2.Dir != ws.Dir {
		t.Fatalf("workspace dir changed: %q vs %q", ws2.Dir, ws.Dir)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file survived re-create: %v", err)
	}
}

func TestManagerWipe(t *testing.T) {
	mgr := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "task-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mgr.Wipe(context.Background(), "task-a"); err != nil {
		t.Fatalf("Wipe() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace survived wipe: %v", err)
	}
}

func TestManagerCollectAppliesCaps(t *testing.T) {
	mgr := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "task-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(ws.Dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", rel, err)
		}
	}

	write("small.txt", "ok")
	write("sub/nested.txt", "also ok")
	write("huge.bin", strings.Repeat("x", 100))

	files, err := mgr.Collect(context.Background(), ws, Caps{MaxFileBytes: 50, MaxTotalBytes: 1000})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if files["small.txt"] != "ok" {
		t.Fatalf("small.txt = %q", files["small.txt"])
	}
	if files[filepath.Join("sub", "nested.txt")] != "also ok" {
		t.Fatalf("nested file missing: %#v", files)
	}
	want := fmt.Sprintf("<file too large, %d bytes>", 100)
	if files["huge.bin"] != want {
		t.Fatalf("huge.bin = %q, want placeholder %q", files["huge.bin"], want)
	}
}

func TestManagerCollectAggregateCap(t *testing.T) {
	mgr := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "task-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Each file fits alone; together they exceed the aggregate cap.
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("part%d.txt", i)
		if err := os.WriteFile(filepath.Join(ws.Dir, name), []byte(strings.Repeat("y", 30)), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	files, err := mgr.Collect(context.Background(), ws, Caps{MaxFileBytes: 50, MaxTotalBytes: 70})
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected all 4 files accounted for, got %d", len(files))
	}

	var kept, placeholders int
	for _, content := range files {
		if strings.HasPrefix(content, "<file too large") {
			placeholders++
		} else {
			kept += len(content)
		}
	}
	if kept > 70 {
		t.Fatalf("aggregate cap exceeded: %d bytes kept", kept)
	}
	if placeholders != 2 {
		t.Fatalf("expected 2 placeholders, got %d", placeholders)
	}
}

func TestManagerCleanupRemovesStaleDirs(t *testing.T) {
	mgr := newTestManager(t)

	if _, err := mgr.Create(context.Background(), "old-task"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	mgr.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("DeletedDirs = %d, want 1", report.DeletedDirs)
	}
}

func TestValidateTaskID(t *testing.T) {
	mgr := newTestManager(t)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a/../b"} {
		if _, err := mgr.Create(context.Background(), bad); err == nil {
			t.Fatalf("Create(%q) accepted invalid task ID", bad)
		}
	}
}
