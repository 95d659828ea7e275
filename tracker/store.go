package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"traceiq/api"
)

// FailedRequestsSlot names the durable slot holding failed deliveries.
const FailedRequestsSlot = "errortracker_failed_requests"

// FailedRequestEntry is one event that could not be delivered.
type FailedRequestEntry struct {
	ErrorEvent api.ErrorEvent `json:"errorEvent"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Store is an append-only buffer of failed deliveries. Implementations
// must not lose entries when Append is called concurrently.
type Store interface {
	Append(entry FailedRequestEntry) error
	Load() ([]FailedRequestEntry, error)
}

// MemoryStore keeps entries for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries []FailedRequestEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(entry FailedRequestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) Load() ([]FailedRequestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FailedRequestEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// FileStore keeps the slot as a JSON array in a single file, replaced
// atomically on every append.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore stores the slot under dir, creating dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create store directory")
	}
	return &FileStore{path: filepath.Join(dir, FailedRequestsSlot+".json")}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(entry FailedRequestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "encode failed requests")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write failed requests")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace failed requests")
}

func (s *FileStore) Load() ([]FailedRequestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() ([]FailedRequestEntry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []FailedRequestEntry{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read failed requests")
	}
	return decodeEntries(data)
}

// decodeEntries parses a slot value. An empty value is an empty list.
func decodeEntries(data []byte) ([]FailedRequestEntry, error) {
	entries := []FailedRequestEntry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "decode failed requests")
	}
	return entries, nil
}
