package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/semmidev/strongbox/internal/domain"
)

// Reporter is the single writer of one job's progress slot.
type Reporter struct {
	store *Store

	mu       sync.Mutex
	state    domain.ProgressState
	firstErr error

	hbStop chan struct{}
	hbDone chan struct{}
}

func (s *Store) Reporter(state domain.ProgressState) *Reporter {
	return &Reporter{store: s, state: state}
}

func (r *Reporter) JobID() string { return r.state.JobID }

func (r *Reporter) State() domain.ProgressState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the first write failure, if any. Progress failures never stop
// a job; the runner reports them once at the end.
func (r *Reporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}

// Update moves the job forward. Stages never go backwards and percent never
// decreases within a job.
func (r *Reporter) Update(stage domain.Stage, percent int, message, item string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stage != r.state.Stage && !r.state.Stage.CanAdvanceTo(stage) {
		return fmt.Errorf("progress: cannot move from %s to %s", r.state.Stage, stage)
	}
	if r.state.Stage.Terminal() {
		return fmt.Errorf("progress: job %s already %s", r.state.JobID, r.state.Stage)
	}

	percent = clampPercent(percent)
	if percent < r.state.Percent {
		percent = r.state.Percent
	}

	r.state.Stage = stage
	r.state.Percent = percent
	r.state.Message = message
	r.state.CurrentItem = item
	return r.writeLocked()
}

// Complete marks the job finished at 100%.
func (r *Reporter) Complete(archive, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Stage.Terminal() {
		return fmt.Errorf("progress: job %s already %s", r.state.JobID, r.state.Stage)
	}
	r.state.Stage = domain.StageComplete
	r.state.Percent = 100
	r.state.Message = message
	r.state.CurrentItem = ""
	r.state.Archive = archive
	return r.writeLocked()
}

// Fail moves the job to the terminal failed stage, keeping the percent it
// reached and the causing message.
func (r *Reporter) Fail(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Stage.Terminal() {
		return fmt.Errorf("progress: job %s already %s", r.state.JobID, r.state.Stage)
	}
	r.state.Stage = domain.StageFailed
	r.state.Message = "backup failed"
	r.state.Error = cause.Error()
	return r.writeLocked()
}

func (r *Reporter) writeLocked() error {
	r.state.UpdatedAt = r.store.now()
	err := r.store.Write(r.state)
	if err != nil && r.firstErr == nil {
		r.firstErr = err
	}
	return err
}

// StartHeartbeat refreshes updated_at every interval so that a step which
// reports nothing for a while, such as a slow external dump, is not taken
// for an abandoned job. It stops with StopHeartbeat or when the process dies.
func (r *Reporter) StartHeartbeat(interval time.Duration) {
	if interval <= 0 || r.hbStop != nil {
		return
	}
	r.hbStop = make(chan struct{})
	r.hbDone = make(chan struct{})

	go func() {
		defer close(r.hbDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.hbStop:
				return
			case <-ticker.C:
				r.mu.Lock()
				if !r.state.Stage.Terminal() {
					_ = r.writeLocked()
				}
				r.mu.Unlock()
			}
		}
	}()
}

func (r *Reporter) StopHeartbeat() {
	if r.hbStop == nil {
		return
	}
	close(r.hbStop)
	<-r.hbDone
	r.hbStop = nil
}

// Span maps a step's 0..1 fraction onto [from, to] of the job's percentage.
func (r *Reporter) Span(stage domain.Stage, from, to int) *Span {
	return &Span{reporter: r, stage: stage, from: from, to: to}
}

type Span struct {
	reporter *Reporter
	stage    domain.Stage
	from, to int
}

// Enter switches the job to the span's stage at its starting percentage.
func (s *Span) Enter(message string) error {
	return s.reporter.Update(s.stage, s.from, message, "")
}

func (s *Span) Advance(fraction float64, message, item string) {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	percent := s.from + int(math.Floor(fraction*float64(s.to-s.from)))
	_ = s.reporter.Update(s.stage, percent, message, item)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
