package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/mbox-archive/fileutil"
	"github.com/dhcgn/mbox-archive/model"
)

// sameContent reports whether path is a regular file holding exactly data.
// A symlink never matches, so it gets replaced by a real copy.
func sameContent(path string, data []byte) bool {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() != int64(len(data)) {
		return false
	}
	existing, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(existing) == string(data)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &model.IOError{Op: "create directory", Path: path, Err: err}
	}
	return nil
}

// prune removes files in dir that keep does not list, plus leftover temp
// files. Subdirectories are left alone. It returns the removed names.
func prune(dir string, keep map[string]bool, match func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &model.IOError{Op: "read directory", Path: dir, Err: err}
	}
	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || keep[name] {
			continue
		}
		if !fileutil.IsTemp(name) && (match == nil || !match(name)) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, &model.IOError{Op: "remove stale file", Path: filepath.Join(dir, name), Err: err}
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func writeString(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// pruneDirs removes subdirectories of dir that keep does not list. Dot
// directories are left alone.
func pruneDirs(dir string, keep map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &model.IOError{Op: "read directory", Path: dir, Err: err}
	}
	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || keep[name] || strings.HasPrefix(name, ".") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return removed, &model.IOError{Op: "remove stale directory", Path: filepath.Join(dir, name), Err: err}
		}
		removed = append(removed, name)
	}
	return removed, nil
}
