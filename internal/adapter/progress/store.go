package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/semmidev/strongbox/internal/domain"
)

const (
	stateExt = ".json"
	lockName = ".lock"

	// sweepAfter is how long finished or abandoned job states are kept.
	sweepAfter = 24 * time.Hour
)

// Store keeps one JSON slot per job in a directory so that a polling process
// can read what a job process writes. Slots are replaced atomically and never
// appended to.
type Store struct {
	dir        string
	staleAfter time.Duration
	throttle   time.Duration
	now        func() time.Time

	// mu serializes claims inside one process; the flock covers other processes.
	mu sync.Mutex
}

func NewStore(dir string, staleAfter, throttle time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.ConfigurationError{Field: "progress.dir", Err: err}
	}
	return &Store{
		dir:        dir,
		staleAfter: staleAfter,
		throttle:   throttle,
		now:        time.Now,
	}, nil
}

func (s *Store) StaleAfter() time.Duration { return s.staleAfter }

// Now is the store's clock, used for every timestamp it writes.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, jobID+stateExt)
}

// Read returns the last written state of a job. It has no side effects.
func (s *Store) Read(jobID string) (domain.ProgressState, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.ProgressState{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}

	data, err := os.ReadFile(s.path(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return domain.ProgressState{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if err != nil {
		return domain.ProgressState{}, fmt.Errorf("read progress: %w", err)
	}

	var state domain.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.ProgressState{}, fmt.Errorf("decode progress %s: %w", jobID, err)
	}
	return state, nil
}

// Write replaces the job's slot and then yields for the throttle interval so
// tight loops cannot saturate the disk.
func (s *Store) Write(state domain.ProgressState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create progress temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close progress: %w", err)
	}
	if err := os.Rename(tmpName, s.path(state.JobID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace progress: %w", err)
	}

	if s.throttle > 0 {
		time.Sleep(s.throttle)
	}
	return nil
}

// List returns every readable job state. Entries that vanish or cannot be
// decoded while listing are skipped.
func (s *Store) List() ([]domain.ProgressState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read progress directory: %w", err)
	}

	var states []domain.ProgressState
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, stateExt) || strings.HasPrefix(name, ".") {
			continue
		}
		state, err := s.Read(strings.TrimSuffix(name, stateExt))
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// Active returns the state of a job that still holds the archive directory,
// or nil when none does.
func (s *Store) Active() (*domain.ProgressState, error) {
	states, err := s.List()
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range states {
		if states[i].Active(now, s.staleAfter) {
			return &states[i], nil
		}
	}
	return nil, nil
}

// Claim registers a new queued job unless another job is active. The check
// and the write happen under an exclusive file lock.
func (s *Store) Claim(jobID string, trigger domain.Trigger) (domain.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := flock.New(filepath.Join(s.dir, lockName))
	if err := lock.Lock(); err != nil {
		return domain.ProgressState{}, fmt.Errorf("lock progress directory: %w", err)
	}
	defer lock.Unlock()

	states, err := s.List()
	if err != nil {
		return domain.ProgressState{}, err
	}

	now := s.now()
	for _, st := range states {
		if st.Active(now, s.staleAfter) {
			return domain.ProgressState{}, &domain.JobRunningError{JobID: st.JobID}
		}
	}
	s.sweep(states, now)

	state := domain.ProgressState{
		JobID:     jobID,
		Trigger:   trigger,
		Stage:     domain.StageQueued,
		Message:   "queued",
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.Write(state); err != nil {
		return domain.ProgressState{}, err
	}
	return state, nil
}

// sweep removes slots of jobs that ended, or were abandoned, long ago.
func (s *Store) sweep(states []domain.ProgressState, now time.Time) {
	for _, st := range states {
		if now.Sub(st.UpdatedAt) > sweepAfter {
			os.Remove(s.path(st.JobID))
		}
	}
}
