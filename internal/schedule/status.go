package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"gorm.io/gorm"
)

// Milestone status values.
const (
	StatusPlanned   = "planned"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusPaused    = "paused"

	// StatusResume is an instruction, not a state: restore the status held
	// immediately before pausing.
	StatusResume = "resume"
)

// ValidTransitions maps each status to its valid next statuses. Pausing is
// additionally gated by the configured pause allow-list, and paused
// milestones only move again through a resume.
var ValidTransitions = map[string][]string{
	StatusPlanned:   {StatusActive, StatusCompleted, StatusPaused},
	StatusActive:    {StatusCompleted, StatusPaused},
	StatusPaused:    {StatusResume},
	StatusCompleted: {},
}

// KnownStatus reports whether s is a persistable milestone status.
func KnownStatus(s string) bool {
	_, ok := ValidTransitions[s]
	return ok
}

// StatusChange is a requested status transition.
type StatusChange struct {
	Status string
	// Comment is mandatory when pausing; it is persisted as the history
	// annotation for the pause.
	Comment string
	// CompletionDate optionally overrides the completion date when moving to
	// completed. Defaults to today.
	CompletionDate *time.Time
}

// StateMachine validates status transitions and computes the date fields a
// transition implies. It never writes milestone rows itself; it returns the
// column updates for the caller's transaction to apply.
type StateMachine struct {
	// PauseFrom lists the statuses pausing is allowed from.
	PauseFrom []string

	now func() time.Time
}

// NewStateMachine builds a state machine with the given pause allow-list.
func NewStateMachine(pauseFrom []string) StateMachine {
	if len(pauseFrom) == 0 {
		pauseFrom = []string{StatusPlanned, StatusActive}
	}
	return StateMachine{PauseFrom: pauseFrom, now: time.Now}
}

// Apply validates the requested transition for m and returns the implied
// column updates. The returned map always contains "status"; date fields are
// present only when the transition changes them. History rows are appended by
// the caller in the same transaction.
func (sm StateMachine) Apply(tx *gorm.DB, m *models.Milestone, change StatusChange) (map[string]interface{}, error) {
	if change.Status == StatusResume {
		return sm.resume(tx, m)
	}
	if !KnownStatus(change.Status) {
		return nil, fmt.Errorf("schedule: unknown status %q: %w", change.Status, ErrInvalidTransition)
	}
	if !slices.Contains(ValidTransitions[m.Status], change.Status) {
		return nil, fmt.Errorf("schedule: milestone %d cannot move from %q to %q: %w",
			m.ID, m.Status, change.Status, ErrInvalidTransition)
	}

	updates := map[string]interface{}{"status": change.Status}

	switch change.Status {
	case StatusActive:
		// Activation records when work really began; the scheduled start is
		// left alone.
		if m.ActualStartDate == nil {
			updates["actual_start_date"] = DateOnly(sm.now())
		}

	case StatusCompleted:
		completion := DateOnly(sm.now())
		if change.CompletionDate != nil {
			completion = DateOnly(*change.CompletionDate)
		}
		start := effectiveStart(m)
		if completion.Before(start) {
			return nil, fmt.Errorf("schedule: milestone %d completion %s before start %s: %w",
				m.ID, completion.Format(time.DateOnly), start.Format(time.DateOnly), ErrInvalidDateRange)
		}
		updates["completion_date"] = completion
		updates["duration"] = daysBetween(start, completion) + 1
		updates["end_date"] = completion

	case StatusPaused:
		if !slices.Contains(sm.PauseFrom, m.Status) {
			return nil, fmt.Errorf("schedule: milestone %d cannot pause from %q (allowed: %v): %w",
				m.ID, m.Status, sm.PauseFrom, ErrInvalidTransition)
		}
		if strings.TrimSpace(change.Comment) == "" {
			return nil, fmt.Errorf("schedule: pausing milestone %d requires a comment: %w",
				m.ID, ErrInvalidTransition)
		}
	}

	return updates, nil
}

// resume restores the status held immediately before the pause, read from the
// two most recent history rows: the pause itself and its predecessor.
func (sm StateMachine) resume(tx *gorm.DB, m *models.Milestone) (map[string]interface{}, error) {
	if m.Status != StatusPaused {
		return nil, fmt.Errorf("schedule: milestone %d is %q, only paused milestones resume: %w",
			m.ID, m.Status, ErrInvalidTransition)
	}

	var entries []models.StatusHistory
	err := tx.Where("milestone_id = ?", m.ID).
		Order("created_at DESC, id DESC").
		Limit(2).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: load history for milestone %d: %w", m.ID, err)
	}
	if len(entries) < 2 {
		return nil, fmt.Errorf("schedule: milestone %d has %d history entries, need 2 to resume: %w",
			m.ID, len(entries), ErrHistoryUnavailable)
	}

	return map[string]interface{}{"status": entries[1].Status}, nil
}
