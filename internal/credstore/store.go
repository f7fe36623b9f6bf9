// Package credstore implements the credential file: a persisted JSON
// mapping of usernames to salted UID hashes, reloaded whenever its mtime
// advances and rewritten only by callers running at the peer's own
// privilege level.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Entry is a single (username, hashed UID) association.
type Entry struct {
	Username  string
	HashedUID string
}

// ErrMalformed is returned by Load when the file's JSON does not decode as
// an array of two-element string arrays. The caller must treat the store as
// empty on this error, per the credential-store error-handling contract.
var ErrMalformed = errors.New("credential file is not a JSON array of [username, hash] pairs")

// LoadResult reports what Load actually did.
type LoadResult uint8

const (
	// Unchanged means the file's mtime did not advance since the last load.
	Unchanged LoadResult = iota
	// Reloaded means the file was re-read and parsed successfully.
	Reloaded
	// Failed means the file could not be read or parsed; the in-memory
	// store is now empty.
	Failed
)

// Store is the in-memory, mtime-tracked view of the credential file.
//
// Store is not safe for concurrent use. In this daemon it is owned
// exclusively by the Coordinator, which is single-threaded by design; the
// Session Handler only ever receives a point-in-time snapshot to persist.
type Store struct {
	path      string
	entries   []Entry
	lastMtime time.Time
	everLoad  bool
}

// New returns a Store bound to path. The store holds no entries until the
// first successful Load.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the bound file path.
func (s *Store) Path() string {
	return s.path
}

// Entries returns the current in-memory entries. The slice is owned by the
// Store and must not be mutated by the caller.
func (s *Store) Entries() []Entry {
	return s.entries
}

// Load re-reads the file if its mtime has advanced since the last
// successful or failed load attempt. On any structural error the in-memory
// store becomes empty and Failed is returned; the daemon keeps serving,
// answering every WaitAuth with a negative result.
func (s *Store) Load() (LoadResult, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		s.entries = nil
		s.everLoad = true
		return Failed, fmt.Errorf("stat credential file: %w", err)
	}

	mtime := info.ModTime()
	if s.everLoad && !mtime.After(s.lastMtime) {
		return Unchanged, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.entries = nil
		s.lastMtime = mtime
		s.everLoad = true
		return Failed, fmt.Errorf("read credential file: %w", err)
	}

	entries, err := decode(raw)
	if err != nil {
		s.entries = nil
		s.lastMtime = mtime
		s.everLoad = true
		return Failed, err
	}

	s.entries = entries
	s.lastMtime = mtime
	s.everLoad = true
	return Reloaded, nil
}

// decode parses the credential file's JSON array-of-pairs format.
func decode(raw []byte) ([]Entry, error) {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: row with %d elements", ErrMalformed, len(row))
		}
		entries = append(entries, Entry{Username: row[0], HashedUID: row[1]})
	}
	return entries, nil
}

// Encode serializes entries as pretty JSON in the on-disk array-of-pairs
// format, preserving order.
func Encode(entries []Entry) ([]byte, error) {
	rows := make([][2]string, len(entries))
	for i, e := range entries {
		rows[i] = [2]string{e.Username, e.HashedUID}
	}
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode credential entries: %w", err)
	}
	return out, nil
}

// Write overwrites the file at path with entries, serialized as pretty
// JSON. This must be called by a process running at the peer's privilege
// level, never by the Coordinator itself: filesystem permissions on the
// credential file are the actual access-control boundary for writes.
func Write(path string, entries []Entry) error {
	out, err := Encode(entries)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o620); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}
