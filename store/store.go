// Package store persists named remote connection records.
//
// The file is a JSON object keyed by connection name. It holds only what
// is needed to reconnect; runtime state such as the connected flag is
// never written.
//
// The file is created with mode 0600 in a 0700 directory. Passwords are
// stored in plain text unless a Sealer is configured, in which case they
// are written as age ciphertext prefixed with SealedPrefix. Comments and
// trailing commas are tolerated when reading, so the file may be edited
// by hand.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tidwall/jsonc"
)

// AppDir is the per-user directory name under os.UserConfigDir.
const AppDir = "WinOpsTool"

// FileName is the store's file name inside AppDir.
const FileName = "connections.json"

var (
	// ErrStore indicates the store file could not be read or written.
	ErrStore = errors.New("store: persistence failed")

	// ErrDuplicateName indicates a record with the same name exists.
	ErrDuplicateName = errors.New("store: connection name already exists")

	// ErrNotFound indicates no record has the given name.
	ErrNotFound = errors.New("store: connection not found")
)

// Record is the persisted form of a connection.
type Record struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LogValue implements slog.LogValuer so the password never reaches a log.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", r.Name),
		slog.String("hostname", r.Hostname),
		slog.String("username", r.Username),
	)
}

// Validate checks the fields needed to connect.
func (r Record) Validate() error {
	switch {
	case r.Name == "":
		return errors.New("store: name is required")
	case r.Hostname == "":
		return errors.New("store: hostname is required")
	case r.Username == "":
		return errors.New("store: username is required")
	}
	return nil
}

// DefaultPath returns the per-user store location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: locate config dir: %w", ErrStore, err)
	}
	return filepath.Join(dir, AppDir, FileName), nil
}

// Store is an in-memory registry of records mirrored to a JSON file.
// It is safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger
	sealer Sealer

	mu      sync.RWMutex
	records map[string]Record
}

// Option configures a Store.
type Option func(*Store)

// WithSealer seals passwords on Save and opens them on Load.
func WithSealer(sealer Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

// New creates an empty Store backed by path. Call Load to read the file.
func New(path string, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:    path,
		logger:  logger,
		records: make(map[string]Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory records with the file's content. A missing
// file yields an empty store. A malformed file is logged and also yields
// an empty store; the file is left untouched until the next Save.
//
// Sealed passwords are opened with the configured Sealer. Without one, or
// if opening fails, the record keeps its sealed value so that a later Save
// writes it back unchanged.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.replace(map[string]Record{})
			return nil
		}
		s.logger.Error("failed to read connection store", "path", s.path, "error", err)
		s.replace(map[string]Record{})
		return fmt.Errorf("%w: read %s: %w", ErrStore, s.path, err)
	}

	records := map[string]Record{}
	if len(data) > 0 {
		if err := json.Unmarshal(jsonc.ToJSON(data), &records); err != nil {
			s.logger.Error("malformed connection store, starting empty", "path", s.path, "error", err)
			s.replace(map[string]Record{})
			return nil
		}
	}
	for key, rec := range records {
		if rec.Name == "" {
			rec.Name = key
		}
		rec.Password = s.open(rec)
		records[key] = rec
	}

	s.replace(records)
	s.logger.Debug("connection store loaded", "path", s.path, "count", len(records))
	return nil
}

func (s *Store) open(rec Record) string {
	if !IsSealed(rec.Password) {
		return rec.Password
	}
	if s.sealer == nil {
		s.logger.Warn("password is sealed but no identity is configured", "connection", rec.Name)
		return rec.Password
	}
	plain, err := s.sealer.Open(rec.Password)
	if err != nil {
		s.logger.Error("failed to open sealed password", "connection", rec.Name, "error", err)
		return rec.Password
	}
	return plain
}

func (s *Store) replace(records map[string]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
}

// Save writes every record to the file atomically with mode 0600.
func (s *Store) Save() error {
	s.mu.RLock()
	out, err := s.persisted()
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrStore, err)
	}

	if err := writeAtomic(s.path, data); err != nil {
		s.logger.Error("failed to save connection store", "path", s.path, "error", err)
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// persisted returns the records as written to disk. The caller holds mu.
func (s *Store) persisted() (map[string]Record, error) {
	if s.sealer == nil {
		return s.records, nil
	}
	out := make(map[string]Record, len(s.records))
	for name, rec := range s.records {
		if rec.Password != "" && !IsSealed(rec.Password) {
			sealed, err := s.sealer.Seal(rec.Password)
			if err != nil {
				return nil, fmt.Errorf("%w: seal %q: %w", ErrStore, name, err)
			}
			rec.Password = sealed
		}
		out[name] = rec
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Get returns the record named name.
func (s *Store) Get(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[name]
	return r, ok
}

// Has reports whether a record named name exists.
func (s *Store) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// List returns all records sorted by name.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Put inserts r. It fails with ErrDuplicateName if the name is taken,
// leaving the store unchanged. Put does not save.
func (s *Store) Put(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, r.Name)
	}
	s.records[r.Name] = r
	return nil
}

// Delete removes the record named name. Delete does not save.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(s.records, name)
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
