// Package filestore is a file-backed store.Store good enough to drive
// the phase runner and tests end-to-end without a real versioned
// relational store behind it.
//
// Grounded on the teacher's internal/storage.LocalSink directory
// layout and hashing conventions (pkg/hashutil, pkg/fileutil), but
// with a real write-temp-then-rename step: LocalSink.Write's own
// "atomic write" docstring only ever calls os.WriteFile directly, so
// this is the actual atomic-write pattern its comments promised.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amalresearch/evalpipeline/pkg/failure"
	"github.com/amalresearch/evalpipeline/pkg/fileutil"
	"github.com/amalresearch/evalpipeline/pkg/hashutil"
)

// FileStore persists each (table, key) row as its own JSON file under
// root/<table>/<key>.json, with writes going through a temp file and
// an atomic rename.
type FileStore struct {
	root string

	mu      sync.Mutex
	commits []commitRecord
	tags    map[string]tagRecord
}

type commitRecord struct {
	Hash      string
	Message   string
	CreatedAt time.Time
}

type tagRecord struct {
	Name    string
	Message string
	Ref     string
}

// New returns a FileStore rooted at dir, creating it if necessary.
func New(dir string) (*FileStore, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return &FileStore{root: dir, tags: make(map[string]tagRecord)}, nil
}

func (f *FileStore) pathFor(table, key string) string {
	safeKey := sanitizeKey(key)
	return filepath.Join(f.root, table, safeKey+".json")
}

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch r {
		case '/', '\\', ':', ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (f *FileStore) Get(_ context.Context, table, key string, dst any) (bool, error) {
	path := f.pathFor(table, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("filestore: decode %s/%s: %w", table, key, err)
	}
	return true, nil
}

func (f *FileStore) Upsert(_ context.Context, table, key string, value any) error {
	path := f.pathFor(table, key)
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s/%s: %w", table, key, err)
	}

	return atomicWrite(path, data)
}

// atomicWrite writes data to a sibling temp file then renames it onto
// path, so a reader never observes a partially written document.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StoreError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteFailure}
	}
	return nil
}

func (f *FileStore) Delete(_ context.Context, table, key string) error {
	path := f.pathFor(table, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &StoreError{Message: err.Error(), Retryable: false, Cause: ErrCauseWriteFailure}
	}
	return nil
}

// Commit records a durable checkpoint. FileStore rows are already
// durable on disk per-write, so Commit's job is to mint and record an
// opaque commit identifier future Tag calls can reference.
func (f *FileStore) Commit(_ context.Context, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash, err := hashutil.HashBytes([]byte(fmt.Sprintf("%s|%d|%s", message, len(f.commits), f.root)), hashutil.HashAlgoSHA256)
	if err != nil {
		return "", err
	}
	hash = hash[:12]

	f.commits = append(f.commits, commitRecord{Hash: hash, Message: message, CreatedAt: time.Now()})
	return hash, nil
}

func (f *FileStore) Tag(_ context.Context, name, message, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tags[name] = tagRecord{Name: name, Message: message, Ref: ref}
	return nil
}

// StoreError classifies filestore failures for the failure.ClassifiedError boundary.
type StoreError struct {
	Message   string
	Retryable bool
	Cause     StoreErrorCause
}

type StoreErrorCause string

const (
	ErrCauseWriteFailure StoreErrorCause = "write failure"
)

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s: %s", e.Cause, e.Message)
}

func (e *StoreError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}
