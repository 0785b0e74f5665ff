// Package store implements the shared record store: mutual exclusion and
// atomic merge-on-write semantics over single JSON documents on disk.
// Multiple agent processes coordinate only through these files, so every
// mutation goes through Write.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/bobmcallan/vigil/internal/common"
)

// Document is a decoded top-level JSON object. Values stay raw so a writer
// never re-encodes (and possibly mangles) keys it does not own.
type Document map[string]json.RawMessage

// Store provides safe read/write access to shared JSON documents. The
// in-process lock manager serializes same-process callers; an OS-level
// advisory lock on a sidecar file serializes separate agent processes.
type Store struct {
	locks  *LockManager
	logger *common.Logger
}

// NewStore creates a record store with lock tuning from config.
func NewStore(logger *common.Logger, cfg common.StoreConfig) *Store {
	return &Store{
		locks:  NewLockManager(cfg.GetLockTimeout(), cfg.GetLockMaxHold()),
		logger: logger,
	}
}

// Read acquires the path lock, decodes the document, and releases the lock.
// A missing file or undecodable content degrades to an empty document: both
// are indistinguishable from the state immediately after a daily wipe, so
// callers must tolerate them rather than crash.
func (s *Store) Read(path string) (Document, error) {
	token, err := s.locks.Acquire(path)
	if err != nil {
		return nil, err
	}
	defer s.locks.Release(path, token)

	return s.readLocked(path), nil
}

// ReadStrict is Read for callers whose contract requires the file to exist.
func (s *Store) ReadStrict(path string) (Document, error) {
	token, err := s.locks.Acquire(path)
	if err != nil {
		return nil, err
	}
	defer s.locks.Release(path, token)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return doc, nil
}

// Write acquires the path lock, re-reads the current on-disk document,
// shallow-merges partial over it (top-level keys in partial win), and writes
// the result atomically. The re-read immediately before merging is what
// keeps concurrent writers of disjoint keys from erasing each other.
//
// The merge is shallow: a caller updating one field of a nested record must
// pass the full updated sub-object.
func (s *Store) Write(path string, partial Document) error {
	token, err := s.locks.Acquire(path)
	if err != nil {
		return err
	}
	defer s.locks.Release(path, token)

	release, err := s.lockSidecar(path)
	if err != nil {
		return err
	}
	defer release()

	current := s.readLocked(path)
	for k, v := range partial {
		current[k] = v
	}

	return writeAtomic(path, current)
}

// Replace atomically overwrites the whole document, bypassing the merge.
// Used for single-owner files (processed sets) and the daily wipe.
func (s *Store) Replace(path string, value interface{}) error {
	token, err := s.locks.Acquire(path)
	if err != nil {
		return err
	}
	defer s.locks.Release(path, token)

	release, err := s.lockSidecar(path)
	if err != nil {
		return err
	}
	defer release()

	return writeAtomic(path, value)
}

// readLocked reads and decodes the on-disk document without touching the
// lock manager; Write calls it mid-critical-section to avoid recursive
// locking.
func (s *Store) readLocked(path string) Document {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Str("path", path).Err(err).Msg("Record read failed, using empty document")
		}
		return Document{}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Str("path", path).Err(err).Msg("Record decode failed, using empty document")
		return Document{}
	}
	if doc == nil {
		doc = Document{}
	}
	return doc
}

// lockSidecar takes an exclusive OS-level advisory lock on <path>.lock,
// guarding against other agent processes writing the same file. The
// in-process lock alone cannot do that.
func (s *Store) lockSidecar(path string) (func(), error) {
	fl := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.locks.timeout)
	defer cancel()

	ok, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring file lock for %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquiring file lock for %s: %w", path, ErrLockTimeout)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn().Str("path", path).Err(err).Msg("File lock release failed")
		}
	}, nil
}

// writeAtomic serializes value and renames a temp file over the target so a
// reader never observes a partial document.
func writeAtomic(path string, value interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	jsonData, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(jsonData); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Encode marshals a value into a Document entry.
func Encode(value interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return json.RawMessage(data), nil
}
