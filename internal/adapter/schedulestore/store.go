package schedulestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/semmidev/strongbox/internal/domain"
)

type Logger interface {
	Errorf(template string, args ...interface{})
}

// Store persists schedule definitions as one JSON object keyed by id.
// Writers serialize on "<path>.lock" and replace the file atomically, so
// readers never need the lock.
type Store struct {
	path   string
	logger Logger
}

func New(path string, logger Logger) *Store {
	return &Store{path: path, logger: logger}
}

func (s *Store) Path() string { return s.path }

// List returns all schedules ordered by name, then id. A corrupt store reads
// as empty and is reported through the logger.
func (s *Store) List() ([]domain.ScheduleDefinition, error) {
	defs, err := s.load()
	if errors.Is(err, domain.ErrScheduleStoreCorrupt) {
		s.logger.Errorf("schedule store %s is unreadable, treating it as empty: %v", s.path, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sorted(defs), nil
}

func (s *Store) Get(id domain.ScheduleID) (domain.ScheduleDefinition, error) {
	defs, err := s.load()
	if errors.Is(err, domain.ErrScheduleStoreCorrupt) {
		s.logger.Errorf("schedule store %s is unreadable, treating it as empty: %v", s.path, err)
		return domain.ScheduleDefinition{}, fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
	}
	if err != nil {
		return domain.ScheduleDefinition{}, err
	}
	def, ok := defs[id]
	if !ok {
		return domain.ScheduleDefinition{}, fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
	}
	return def, nil
}

// Put inserts or replaces a schedule.
func (s *Store) Put(def domain.ScheduleDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return s.update(func(defs map[domain.ScheduleID]domain.ScheduleDefinition) error {
		defs[def.ID] = def
		return nil
	})
}

func (s *Store) Delete(id domain.ScheduleID) error {
	return s.update(func(defs map[domain.ScheduleID]domain.ScheduleDefinition) error {
		if _, ok := defs[id]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
		}
		delete(defs, id)
		return nil
	})
}

// MarkRun records a successful run.
func (s *Store) MarkRun(id domain.ScheduleID, at time.Time) error {
	return s.update(func(defs map[domain.ScheduleID]domain.ScheduleDefinition) error {
		def, ok := defs[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
		}
		def.LastRunAt = &at
		defs[id] = def
		return nil
	})
}

func (s *Store) SetEnabled(id domain.ScheduleID, enabled bool, at time.Time) error {
	return s.update(func(defs map[domain.ScheduleID]domain.ScheduleDefinition) error {
		def, ok := defs[id]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
		}
		def.Enabled = enabled
		def.ModifiedAt = at
		defs[id] = def
		return nil
	})
}

// load reads the store strictly. A missing file is an empty store.
func (s *Store) load() (map[domain.ScheduleID]domain.ScheduleDefinition, error) {
	defs := make(map[domain.ScheduleID]domain.ScheduleDefinition)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return defs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedule store: %w", err)
	}
	if len(data) == 0 {
		return defs, nil
	}

	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrScheduleStoreCorrupt, err)
	}
	for id, def := range defs {
		if def.ID != id {
			return nil, fmt.Errorf("%w: entry %s carries id %q", domain.ErrScheduleStoreCorrupt, id, def.ID)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrScheduleStoreCorrupt, err)
		}
	}
	return defs, nil
}

// update applies fn under the write lock. It refuses to touch a corrupt
// store so an operator can repair it by hand.
func (s *Store) update(fn func(map[domain.ScheduleID]domain.ScheduleDefinition) error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create schedule store directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock schedule store: %w", err)
	}
	defer lock.Unlock()

	defs, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(defs); err != nil {
		return err
	}

	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule store: %w", err)
	}
	return writeAtomic(s.path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".schedules-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write schedule store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync schedule store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close schedule store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace schedule store: %w", err)
	}
	return nil
}

func sorted(defs map[domain.ScheduleID]domain.ScheduleDefinition) []domain.ScheduleDefinition {
	out := make([]domain.ScheduleDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
