package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore persists the registry as one JSON document that is read and
// rewritten whole on every mutation. A single mutex serializes all access:
// the document format is not safe under concurrent writers, so every
// operation holds the lock for its full read-modify-write cycle.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

type document struct {
	Runs map[string]json.RawMessage `json:"runs"`
}

func (s *FileStore) Create(ctx context.Context, record RunRecord) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, _, err := s.loadLocked()
	if err != nil {
		return RunRecord{}, err
	}
	if _, exists := runs[record.RunID]; exists {
		return RunRecord{}, fmt.Errorf("run %s: %w", record.RunID, ErrDuplicateRun)
	}

	now := s.now()
	record.CreatedAt = now
	record.UpdatedAt = now
	runs[record.RunID] = record

	if err := s.saveLocked(runs); err != nil {
		return RunRecord{}, err
	}
	return record, nil
}

func (s *FileStore) Get(ctx context.Context, runID string) (RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, dirty, err := s.loadLocked()
	if err != nil {
		return RunRecord{}, false, err
	}
	if dirty {
		if err := s.saveLocked(runs); err != nil {
			return RunRecord{}, false, err
		}
	}
	rec, ok := runs[runID]
	return rec, ok, nil
}

func (s *FileStore) List(ctx context.Context) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, dirty, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if dirty {
		if err := s.saveLocked(runs); err != nil {
			return nil, err
		}
	}

	out := make([]RunRecord, 0, len(runs))
	for _, rec := range runs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func (s *FileStore) Update(ctx context.Context, runID string, patch Patch) (RunRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, _, err := s.loadLocked()
	if err != nil {
		return RunRecord{}, false, err
	}
	rec, ok := runs[runID]
	if !ok {
		return RunRecord{}, false, nil
	}

	patch.apply(&rec)
	rec.UpdatedAt = s.now()
	backfillResultObject(&rec)
	runs[runID] = rec

	if err := s.saveLocked(runs); err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// loadLocked reads the whole document and runs the schema upgrade pass over
// every record. dirty reports whether the pass changed anything and the
// document should be rewritten.
func (s *FileStore) loadLocked() (map[string]RunRecord, bool, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]RunRecord{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("decode state file: %w", err)
	}

	runs := make(map[string]RunRecord, len(doc.Runs))
	dirty := false
	for key, rawRec := range doc.Runs {
		var d diskRun
		if err := json.Unmarshal(rawRec, &d); err != nil {
			// Unreadable entry: keep the key so the id stays reserved.
			runs[key] = RunRecord{RunID: key}
			dirty = true
			continue
		}
		rec, recDirty := upgradeRecord(key, d)
		if recDirty {
			dirty = true
		}
		runs[rec.RunID] = rec
	}
	return runs, dirty, nil
}

// saveLocked rewrites the document atomically: full marshal to a temp file
// in the same directory, then rename over the old one.
func (s *FileStore) saveLocked(runs map[string]RunRecord) error {
	doc := document{Runs: make(map[string]json.RawMessage, len(runs))}
	for id, rec := range runs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode run %s: %w", id, err)
		}
		doc.Runs[id] = raw
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".exray-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
