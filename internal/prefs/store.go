// Package prefs is the typed key-value settings store. Snapshots are
// exported and imported wholesale: an import clears the destination and
// copies every entry, it never merges per key.
package prefs

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

type ValueType string

const (
	TypeString    ValueType = "string"
	TypeStringSet ValueType = "string_set"
	TypeInt       ValueType = "int"
	TypeLong      ValueType = "long"
	TypeFloat     ValueType = "float"
	TypeBool      ValueType = "bool"
)

var ErrCorruptStore = errors.New("prefs store payload is invalid")

// Value is one typed settings entry.
type Value struct {
	Type      ValueType `json:"type"`
	String    string    `json:"string,omitempty"`
	StringSet []string  `json:"string_set,omitempty"`
	Int       int       `json:"int,omitempty"`
	Long      int64     `json:"long,omitempty"`
	Float     float64   `json:"float,omitempty"`
	Bool      bool      `json:"bool,omitempty"`
}

type persistedState struct {
	Version int              `json:"version"`
	Entries map[string]Value `json:"entries"`
}

// Store persists typed settings entries as a JSON snapshot file. A Store
// with an empty path is purely in-memory.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]Value
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]Value)}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, ErrCorruptStore
	}
	if state.Version != 1 {
		return nil, ErrCorruptStore
	}
	if state.Entries != nil {
		s.entries = state.Entries
	}
	return s, nil
}

// GetAll returns a copy of every entry.
func (s *Store) GetAll() map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

// ReplaceAll discards every current entry and installs the given snapshot.
func (s *Store) ReplaceAll(entries map[string]Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneEntries(entries)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *Store) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok || v.Type != TypeString {
		return "", false
	}
	return v.String, true
}

func (s *Store) PutString(key, value string) error {
	return s.put(key, Value{Type: TypeString, String: value})
}

func (s *Store) GetBool(key string, fallback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok || v.Type != TypeBool {
		return fallback
	}
	return v.Bool
}

func (s *Store) PutBool(key string, value bool) error {
	return s.put(key, Value{Type: TypeBool, Bool: value})
}

func (s *Store) PutStringSet(key string, value []string) error {
	return s.put(key, Value{Type: TypeStringSet, StringSet: append([]string(nil), value...)})
}

func (s *Store) PutInt(key string, value int) error {
	return s.put(key, Value{Type: TypeInt, Int: value})
}

func (s *Store) PutLong(key string, value int64) error {
	return s.put(key, Value{Type: TypeLong, Long: value})
}

func (s *Store) PutFloat(key string, value float64) error {
	return s.put(key, Value{Type: TypeFloat, Float: value})
}

// Remove deletes a key; removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	next := cloneEntries(s.entries)
	delete(next, key)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *Store) put(key string, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneEntries(s.entries)
	next[key] = value
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *Store) persistLocked(entries map[string]Value) error {
	if s.path == "" {
		return nil
	}
	state := persistedState{Version: 1, Entries: entries}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func cloneEntries(entries map[string]Value) map[string]Value {
	next := make(map[string]Value, len(entries))
	for k, v := range entries {
		if v.StringSet != nil {
			v.StringSet = append([]string(nil), v.StringSet...)
		}
		next[k] = v
	}
	return next
}
