// Package schedule implements the milestone scheduling and cascade engine:
// contiguous ordering of milestones within a timeline, the status state
// machine with its date side-effects, and forward propagation of schedule
// changes through later milestones up to the owning timeline. All mutations
// run inside one transaction; a failure after writes have begun rolls the
// whole mutation back.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Actor identifies the caller of a mutation. Authorization is the caller's
// concern except for one intrinsic check: rewriting an already-recorded
// completion or actual-start date requires CanEditLockedDates.
type Actor struct {
	ID                 int
	CanEditLockedDates bool
}

// Options tunes a Scheduler.
type Options struct {
	// PauseFrom lists the statuses pausing is allowed from. Defaults to
	// planned and active.
	PauseFrom []string
	// CompactOnDelete renumbers later siblings down when a milestone is
	// deleted. Off by default: a delete leaves a gap in the order range.
	CompactOnDelete bool
}

// Scheduler owns the transactional milestone operations of one store.
type Scheduler struct {
	db              *gorm.DB
	sm              StateMachine
	compactOnDelete bool
	now             func() time.Time
}

// New builds a Scheduler over db.
func New(db *gorm.DB, opts Options) *Scheduler {
	s := &Scheduler{
		db:              db,
		compactOnDelete: opts.CompactOnDelete,
		now:             time.Now,
	}
	s.sm = NewStateMachine(opts.PauseFrom)
	s.sm.now = func() time.Time { return s.now() }
	return s
}

// CreateInput holds the caller-supplied fields of a new milestone.
type CreateInput struct {
	Name        string
	Description string
	SortOrder   int
	Duration    int
	StartDate   time.Time
	Status      string // defaults to planned
	Hidden      bool
	Details     string // JSON object, optional
}

// CreateResult is a created milestone plus the siblings whose order shifted
// to make room for it.
type CreateResult struct {
	Created models.Milestone
	Shifted []MilestoneChange
}

// UpdateInput holds a partial milestone edit. Nil pointers leave the field
// alone. Details, when present, deep-merges into the stored document instead
// of replacing it.
type UpdateInput struct {
	Name            *string
	Description     *string
	SortOrder       *int
	Duration        *int
	StartDate       *time.Time
	ActualStartDate *time.Time
	CompletionDate  *time.Time
	Status          *string
	Comment         string
	Hidden          *bool
	Details         string
}

// UpdateResult reports the updated milestone, every other row the update
// touched (order shifts and cascade moves), and the timeline when its end
// date followed.
type UpdateResult struct {
	Target   MilestoneChange
	Others   []MilestoneChange
	Timeline *TimelineChange
	// Mutated reports whether the target row itself was written. A fully
	// redundant edit leaves it false and writes nothing.
	Mutated bool
}

// Create inserts a milestone at in.SortOrder, shifting every sibling at or
// past that order up by one. Fails with ErrOutOfTimelineBounds when the start
// date falls before the timeline's start.
func (s *Scheduler) Create(actor Actor, timelineID uint, in CreateInput) (*CreateResult, error) {
	var out *CreateResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tl, err := lockTimeline(tx, timelineID)
		if err != nil {
			return err
		}
		out, err = s.createTx(tx, tl, actor, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scheduler) createTx(tx *gorm.DB, tl *models.Timeline, actor Actor, in CreateInput) (*CreateResult, error) {
	if in.Duration < 1 {
		return nil, fmt.Errorf("schedule: duration %d, must be at least 1 day: %w", in.Duration, ErrInvalidDateRange)
	}
	if in.SortOrder < 1 {
		return nil, fmt.Errorf("schedule: order %d, must be positive: %w", in.SortOrder, ErrOrderConflict)
	}
	if in.Status == "" {
		in.Status = StatusPlanned
	}
	if !KnownStatus(in.Status) {
		return nil, fmt.Errorf("schedule: unknown status %q: %w", in.Status, ErrInvalidTransition)
	}

	start := DateOnly(in.StartDate)
	if start.Before(DateOnly(tl.StartDate)) {
		return nil, fmt.Errorf("schedule: milestone start %s before timeline start %s: %w",
			start.Format(time.DateOnly), DateOnly(tl.StartDate).Format(time.DateOnly), ErrOutOfTimelineBounds)
	}

	details := in.Details
	if details == "" {
		details = "{}"
	}

	m := models.Milestone{
		TimelineID:  tl.ID,
		Name:        in.Name,
		Description: in.Description,
		SortOrder:   in.SortOrder,
		Duration:    in.Duration,
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, in.Duration-1),
		Status:      in.Status,
		Hidden:      in.Hidden,
		Details:     details,
		CreatedBy:   actor.ID,
		UpdatedBy:   actor.ID,
	}
	if err := tx.Create(&m).Error; err != nil {
		return nil, fmt.Errorf("schedule: create milestone: %w", err)
	}

	shifted, err := shiftForInsert(tx, tl.ID, in.SortOrder, m.ID)
	if err != nil {
		return nil, err
	}
	if err := appendHistory(tx, m.ID, m.Status, "", actor.ID); err != nil {
		return nil, err
	}

	return &CreateResult{Created: m, Shifted: shifted}, nil
}

// Update applies a partial edit to a milestone. Status changes run through
// the state machine; order changes shift the affected siblings; duration,
// actual-start, or completion changes cascade through every later milestone
// and may move the timeline's end date.
func (s *Scheduler) Update(actor Actor, milestoneID uint, in UpdateInput) (*UpdateResult, error) {
	var out *UpdateResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		m, tl, err := loadForMutation(tx, milestoneID)
		if err != nil {
			return err
		}
		out, err = s.updateTx(tx, tl, actor, m, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scheduler) updateTx(tx *gorm.DB, tl *models.Timeline, actor Actor, m *models.Milestone, in UpdateInput) (*UpdateResult, error) {
	original := *m
	updates := map[string]interface{}{}
	var (
		historyStatus     string
		historyComment    string
		recordHistory     bool
		durationChanged   bool
		actualChanged     bool
		completionChanged bool
	)

	if in.Name != nil && *in.Name != m.Name {
		m.Name = *in.Name
		updates["name"] = m.Name
	}
	if in.Description != nil && *in.Description != m.Description {
		m.Description = *in.Description
		updates["description"] = m.Description
	}
	if in.Hidden != nil && *in.Hidden != m.Hidden {
		m.Hidden = *in.Hidden
		updates["hidden"] = m.Hidden
	}
	if in.Details != "" {
		merged, err := mergeDetails(m.Details, in.Details)
		if err != nil {
			return nil, err
		}
		if merged != m.Details {
			m.Details = merged
			updates["details"] = merged
		}
	}

	if in.StartDate != nil {
		start := DateOnly(*in.StartDate)
		if !start.Equal(DateOnly(m.StartDate)) {
			if start.Before(DateOnly(tl.StartDate)) {
				return nil, fmt.Errorf("schedule: milestone start %s before timeline start %s: %w",
					start.Format(time.DateOnly), DateOnly(tl.StartDate).Format(time.DateOnly), ErrOutOfTimelineBounds)
			}
			m.StartDate = start
			updates["start_date"] = start
		}
	}

	if in.Duration != nil && *in.Duration != m.Duration {
		if *in.Duration < 1 {
			return nil, fmt.Errorf("schedule: duration %d, must be at least 1 day: %w", *in.Duration, ErrInvalidDateRange)
		}
		m.Duration = *in.Duration
		updates["duration"] = m.Duration
		durationChanged = true
	}

	if in.ActualStartDate != nil {
		actual := DateOnly(*in.ActualStartDate)
		if m.ActualStartDate == nil || !DateOnly(*m.ActualStartDate).Equal(actual) {
			if m.ActualStartDate != nil && !actor.CanEditLockedDates {
				return nil, fmt.Errorf("schedule: actual start of milestone %d already recorded: %w", m.ID, ErrForbidden)
			}
			m.ActualStartDate = &actual
			updates["actual_start_date"] = actual
			actualChanged = true
		}
	}

	completingNow := in.Status != nil && *in.Status == StatusCompleted && m.Status != StatusCompleted
	if in.CompletionDate != nil && !completingNow {
		completion := DateOnly(*in.CompletionDate)
		if m.CompletionDate == nil || !DateOnly(*m.CompletionDate).Equal(completion) {
			if m.CompletionDate != nil && !actor.CanEditLockedDates {
				return nil, fmt.Errorf("schedule: completion of milestone %d already recorded: %w", m.ID, ErrForbidden)
			}
			start := effectiveStart(m)
			if completion.Before(start) {
				return nil, fmt.Errorf("schedule: completion %s before start %s: %w",
					completion.Format(time.DateOnly), start.Format(time.DateOnly), ErrInvalidDateRange)
			}
			m.CompletionDate = &completion
			m.Duration = daysBetween(start, completion) + 1
			m.EndDate = completion
			updates["completion_date"] = completion
			updates["duration"] = m.Duration
			updates["end_date"] = completion
			completionChanged = true
		}
	}

	if in.Status != nil && *in.Status != m.Status {
		change := StatusChange{Status: *in.Status, Comment: in.Comment, CompletionDate: in.CompletionDate}
		statusUpdates, err := s.sm.Apply(tx, m, change)
		if err != nil {
			return nil, err
		}
		for col, v := range statusUpdates {
			updates[col] = v
			switch col {
			case "status":
				m.Status = v.(string)
			case "actual_start_date":
				d := v.(time.Time)
				m.ActualStartDate = &d
				actualChanged = true
			case "completion_date":
				d := v.(time.Time)
				m.CompletionDate = &d
				completionChanged = true
			case "duration":
				m.Duration = v.(int)
				durationChanged = true
			case "end_date":
				m.EndDate = v.(time.Time)
			}
		}
		historyStatus = m.Status
		historyComment = in.Comment
		recordHistory = true
	}

	// End date follows a moved start or duration unless a completion pins it.
	if m.CompletionDate == nil {
		if end := scheduledEnd(m); !DateOnly(m.EndDate).Equal(end) {
			m.EndDate = end
			updates["end_date"] = end
		}
	}

	var shifted []MilestoneChange
	if in.SortOrder != nil && *in.SortOrder != m.SortOrder {
		if *in.SortOrder < 1 {
			return nil, fmt.Errorf("schedule: order %d, must be positive: %w", *in.SortOrder, ErrOrderConflict)
		}
		var err error
		shifted, err = shiftForMove(tx, tl.ID, m.ID, m.SortOrder, *in.SortOrder)
		if err != nil {
			return nil, err
		}
		m.SortOrder = *in.SortOrder
		updates["sort_order"] = m.SortOrder
	}

	if len(updates) > 0 {
		updates["updated_by"] = actor.ID
		m.UpdatedBy = actor.ID
		if err := tx.Model(&models.Milestone{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("schedule: update milestone %d: %w", m.ID, err)
		}
	}
	if recordHistory {
		if err := appendHistory(tx, m.ID, historyStatus, historyComment, actor.ID); err != nil {
			return nil, err
		}
	}

	res := &UpdateResult{
		Target:  MilestoneChange{Original: original, Updated: *m},
		Others:  shifted,
		Mutated: len(updates) > 0,
	}

	// Order, name, and metadata edits do not move dates; only duration,
	// actual start, and completion changes propagate.
	if durationChanged || actualChanged || completionChanged {
		casc, err := s.cascade(tx, tl, m, completionChanged, actor.ID)
		if err != nil {
			return nil, err
		}
		res.Others = mergeChanges(append(res.Others, casc.Milestones...))
		res.Timeline = casc.Timeline
	}

	return res, nil
}

// Delete soft-deletes a milestone: the deleter is stamped, then the row is
// marked deleted. Later siblings keep their orders unless compaction is
// enabled.
func (s *Scheduler) Delete(actor Actor, milestoneID uint) ([]MilestoneChange, error) {
	var compacted []MilestoneChange
	err := s.db.Transaction(func(tx *gorm.DB) error {
		m, tl, err := loadForMutation(tx, milestoneID)
		if err != nil {
			return err
		}
		compacted, err = s.deleteTx(tx, tl, actor, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	return compacted, nil
}

func (s *Scheduler) deleteTx(tx *gorm.DB, tl *models.Timeline, actor Actor, m *models.Milestone) ([]MilestoneChange, error) {
	err := tx.Model(&models.Milestone{}).Where("id = ?", m.ID).
		Update("deleted_by", actor.ID).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: stamp deleter on milestone %d: %w", m.ID, err)
	}
	if err := tx.Delete(&models.Milestone{}, m.ID).Error; err != nil {
		return nil, fmt.Errorf("schedule: delete milestone %d: %w", m.ID, err)
	}

	if !s.compactOnDelete {
		return nil, nil
	}
	return compactAfterDelete(tx, tl.ID, m.SortOrder)
}

// lockTimeline loads the timeline row under a write lock. The timeline row is
// the serialization anchor for all multi-row mutations of its milestones.
func lockTimeline(tx *gorm.DB, id uint) (*models.Timeline, error) {
	var tl models.Timeline
	err := lockForUpdate(tx).Where("id = ?", id).First(&tl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("schedule: timeline %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: lock timeline %d: %w", id, err)
	}
	return &tl, nil
}

// loadForMutation resolves a milestone and locks its owning timeline, then
// re-reads the milestone to defend against a concurrent delete racing the
// lock acquisition.
func loadForMutation(tx *gorm.DB, milestoneID uint) (*models.Milestone, *models.Timeline, error) {
	var m models.Milestone
	err := tx.Where("id = ?", milestoneID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("schedule: milestone %d: %w", milestoneID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("schedule: load milestone %d: %w", milestoneID, err)
	}

	tl, err := lockTimeline(tx, m.TimelineID)
	if err != nil {
		return nil, nil, err
	}

	err = tx.Where("id = ?", milestoneID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("schedule: milestone %d: %w", milestoneID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("schedule: reload milestone %d: %w", milestoneID, err)
	}
	return &m, tl, nil
}

// lockForUpdate applies SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
