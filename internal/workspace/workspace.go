// Package workspace manages per-task working directories for worker mode:
// created clean before a task, harvested under size caps after it, wiped
// when done.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace is one task-scoped directory.
type Workspace struct {
	TaskID string
	Dir    string
}

// Caps bounds how much file content Collect returns.
type Caps struct {
	// MaxFileBytes is the per-file content limit.
	MaxFileBytes int64
	// MaxTotalBytes is the aggregate limit across all collected files.
	MaxTotalBytes int64
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager manages task workspaces on local disk.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// NewManager creates a Manager rooted at baseDir.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	return &Manager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// Create initializes an empty workspace for taskID, wiping any leftover
// directory from a previous run first.
func (m *Manager) Create(ctx context.Context, taskID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.path(taskID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.RemoveAll(path); err != nil {
		return Workspace{}, fmt.Errorf("wipe stale workspace for task %q: %w", taskID, err)
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for task %q: %w", taskID, err)
	}

	return Workspace{TaskID: taskID, Dir: path}, nil
}

// Wipe removes a task's workspace directory.
func (m *Manager) Wipe(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := m.path(taskID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("wipe workspace for task %q: %w", taskID, err)
	}
	return nil
}

// Collect harvests regular files produced in the workspace, keyed by path
// relative to the workspace root. Files over the per-file cap, and files that
// would push the aggregate over its cap, are replaced by a placeholder naming
// their size; nothing is silently dropped.
func (m *Manager) Collect(ctx context.Context, ws Workspace, caps Caps) (map[string]string, error) {
	files := make(map[string]string)
	var total int64

	err := filepath.WalkDir(ws.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read entry info for %q: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(ws.Dir, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}

		size := info.Size()
		if size > caps.MaxFileBytes || total+size > caps.MaxTotalBytes {
			files[rel] = oversizePlaceholder(size)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read produced file %q: %w", rel, err)
		}
		files[rel] = string(data)
		total += size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect workspace files for task %q: %w", ws.TaskID, err)
	}
	return files, nil
}

// Cleanup removes workspace directories older than olderThan based on
// directory modification time.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func oversizePlaceholder(size int64) string {
	return fmt.Sprintf("<file too large, %d bytes>", size)
}

func (m *Manager) path(taskID string) (string, error) {
	if err := validateTaskID(taskID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, taskID), nil
}

func validateTaskID(taskID string) error {
	trimmed := strings.TrimSpace(taskID)
	if trimmed == "" {
		return fmt.Errorf("taskID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("taskID %q is invalid", taskID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("taskID %q must not contain path separators", taskID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("taskID %q is invalid", taskID)
	}
	return nil
}
