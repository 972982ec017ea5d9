// Package fileutil holds the file writing primitives shared by the export and
// dedup phases.
package fileutil

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhcgn/mbox-archive/model"
)

// TempPrefix starts the name of every in-flight file.
const TempPrefix = ".tmp-"

// WriteAtomic writes path through a temporary file in the same directory
// that is synced and renamed into place, so readers see either the old file
// or the complete new one.
func WriteAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, TempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return &model.IOError{Op: "create temp file", Path: dir, Err: err}
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return &model.IOError{Op: "write", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &model.IOError{Op: "fsync", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return &model.IOError{Op: "chmod", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &model.IOError{Op: "close", Path: tmp.Name(), Err: err}
	}
	name := tmp.Name()
	tmp = nil

	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return &model.IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// IsTemp reports whether name is a leftover in-flight file.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}

// TempSibling returns an unused path next to path for building a
// replacement that is later renamed over it.
func TempSibling(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), TempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return "", &model.IOError{Op: "create temp file", Path: filepath.Dir(path), Err: err}
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return "", &model.IOError{Op: "remove temp file", Path: name, Err: err}
	}
	return name, nil
}
