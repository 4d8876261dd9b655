package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a run record doesn't exist.
var ErrNotFound = errors.New("run not found")

// EnvRunDir overrides the record directory.
const EnvRunDir = "NBSMOKE_RUN_DIR"

// Store manages run records, one JSON file per run.
type Store struct {
	Dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// DefaultDir returns ~/.nbsmoke/runs.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".nbsmoke", "runs")
	}
	return filepath.Join(home, ".nbsmoke", "runs")
}

// ResolveDir picks the record directory: configured value, then
// NBSMOKE_RUN_DIR, then the default.
func ResolveDir(configured string, environ []string) string {
	if configured != "" {
		return configured
	}
	for _, env := range environ {
		if v, ok := strings.CutPrefix(env, EnvRunDir+"="); ok && v != "" {
			return v
		}
	}
	return DefaultDir()
}

// Save writes rec and returns the file path.
func (s *Store) Save(rec Record) (string, error) {
	if !ValidRunID(rec.RunID) {
		return "", fmt.Errorf("invalid run id %q", rec.RunID)
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}

	path := s.Path(rec.RunID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the record for runID.
func (s *Store) Load(runID string) (Record, error) {
	if !ValidRunID(runID) {
		return Record{}, ErrNotFound
	}
	data, err := os.ReadFile(s.Path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%s: %w", runID, err)
	}
	return rec, nil
}

// List returns summaries of all readable records, newest first.
func (s *Store) List() ([]Summary, error) {
	records, err := s.records()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, r.rec.Summarize())
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries, nil
}

// Delete removes the record for runID.
func (s *Store) Delete(runID string) error {
	if !ValidRunID(runID) {
		return ErrNotFound
	}
	if err := os.Remove(s.Path(runID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Prune removes records started before now minus olderThan and returns
// how many were deleted.
func (s *Store) Prune(olderThan time.Duration, now time.Time) (int, error) {
	records, err := s.records()
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-olderThan)
	deleted := 0
	for _, r := range records {
		if r.rec.StartedAt.Before(cutoff) {
			if err := os.Remove(r.path); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

// Path returns the file path for runID.
func (s *Store) Path(runID string) string {
	return filepath.Join(s.Dir, runID+".json")
}

type storedRecord struct {
	path string
	rec  Record
}

// records reads every record in the directory, skipping unreadable or
// invalid files.
func (s *Store) records() ([]storedRecord, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []storedRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, storedRecord{path: path, rec: rec})
	}
	return out, nil
}
