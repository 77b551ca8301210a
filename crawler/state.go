package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateFileName is the name of the resume state file inside the output dir.
const StateFileName = "crawl_state.json"

// ErrNoState is returned by StateStore.Load when no state was saved.
var ErrNoState = errors.New("no saved crawl state")

// FrontierState is the snapshot persisted when a crawl is stopped.
type FrontierState struct {
	PendingURLs      []string  `json:"pending_urls"`
	CurrentIteration int       `json:"current_iteration"`
	PageCount        int       `json:"page_count"`
	URLsTaken        []string  `json:"urls_taken"`
	IsPaused         bool      `json:"is_paused"`
	Timestamp        time.Time `json:"timestamp"`
}

var _ StateStore = (*FileStateStore)(nil)

// FileStateStore keeps the frontier state in <dir>/crawl_state.json.
type FileStateStore struct {
	path string
}

// NewFileStateStore returns a StateStore writing into dir.
func NewFileStateStore(dir string) *FileStateStore {
	return &FileStateStore{path: filepath.Join(dir, StateFileName)}
}

// Save writes state to a temporary file and renames it over the previous
// state.
func (s *FileStateStore) Save(state *FrontierState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("save crawl state: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("save crawl state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("save crawl state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save crawl state: %w", err)
	}

	return nil
}

// Load reads the saved state.
func (s *FileStateStore) Load() (*FrontierState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoState
	} else if err != nil {
		return nil, fmt.Errorf("load crawl state: %w", err)
	}

	state := new(FrontierState)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("load crawl state: %w", err)
	}

	return state, nil
}

// Clear removes the state file.
func (s *FileStateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear crawl state: %w", err)
	}

	return nil
}
