// Package fileutil writes files atomically so readers never see a partial
// config or export.
package fileutil

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Permissions used for lyricreel files and directories.
const (
	PermPrivateFile os.FileMode = 0600
	PermPrivateDir  os.FileMode = 0700
)

// ErrAtomicWriteFailed is returned when the final rename fails.
var ErrAtomicWriteFailed = errors.New("fileutil: atomic write failed")

// AtomicWriter writes to a temporary file beside the destination and renames
// it into place on Commit.
type AtomicWriter struct {
	path     string
	tempFile *os.File
	tempPath string
	done     bool
}

// NewAtomicWriter creates the destination directory if needed and opens a
// temporary file with perm.
func NewAtomicWriter(path string, perm os.FileMode) (*AtomicWriter, error) {
	cleanPath := filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(cleanPath), PermPrivateDir); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tempPath := cleanPath + ".tmp." + randomSuffix()
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("create temporary file: %w", err)
	}

	return &AtomicWriter{
		path:     cleanPath,
		tempFile: tempFile,
		tempPath: tempPath,
	}, nil
}

// Write writes data to the temporary file.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.tempFile.Write(p)
}

// Commit syncs the temporary file and renames it over the destination.
func (w *AtomicWriter) Commit() error {
	if w.done {
		return errors.New("fileutil: writer already finished")
	}
	w.done = true

	if err := w.tempFile.Sync(); err != nil {
		w.tempFile.Close()
		os.Remove(w.tempPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (w *AtomicWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteFile writes data to path atomically.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	w, err := NewAtomicWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}
