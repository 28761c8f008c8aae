package domain

import "time"

type Stage string

const (
	StageQueued            Stage = "queued"
	StageDumpingDatabase   Stage = "dumping_database"
	StageArchivingFiles    Stage = "archiving_files"
	StageArchivingDatabase Stage = "archiving_database"
	StageCleaningUp        Stage = "cleaning_up"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageQueued:            0,
	StageDumpingDatabase:   1,
	StageArchivingFiles:    2,
	StageArchivingDatabase: 3,
	StageCleaningUp:        4,
	StageComplete:          5,
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok || s == StageFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the job moving
// forward. Failed is reachable from every non-terminal stage.
func (s Stage) CanAdvanceTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	return stageOrder[next] >= stageOrder[s]
}

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

type ProgressState struct {
	JobID       string    `json:"job_id"`
	Trigger     Trigger   `json:"trigger"`
	Stage       Stage     `json:"stage"`
	Percent     int       `json:"percent"`
	Message     string    `json:"message"`
	CurrentItem string    `json:"current_item"`
	Archive     string    `json:"archive,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stale reports whether the state has not been refreshed within threshold,
// whatever its stage.
func (p ProgressState) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(p.UpdatedAt) > threshold
}

// Active reports whether the state belongs to a job that still holds the
// archive directory.
func (p ProgressState) Active(now time.Time, threshold time.Duration) bool {
	return !p.Stage.Terminal() && !p.Stale(now, threshold)
}

// ProgressSink receives fractional progress from a long-running step.
// fraction is in [0, 1].
type ProgressSink interface {
	Advance(fraction float64, message, item string)
}

type NopSink struct{}

func (NopSink) Advance(float64, string, string) {}
