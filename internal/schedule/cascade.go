package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"gorm.io/gorm"
)

// CascadeResult reports everything a cascade touched: the later milestones
// whose schedule moved, and the timeline when its end date had to follow.
type CascadeResult struct {
	Milestones []MilestoneChange
	Timeline   *TimelineChange
}

// cascade recomputes the schedule of every milestone in the same timeline
// with a greater sort order, in ascending order, after changed's duration,
// actual start, or completion date moved.
//
// The walk keeps a cursor start date beginning one day after changed's
// effective end. Each later milestone is pulled to the cursor and its end
// recomputed (a recorded completion pins the end). Hidden milestones are
// rescheduled but do not advance the cursor: they are transparent to schedule
// continuity. When the trigger was a completion change, the first non-hidden
// successor is auto-activated, at most once per cascade.
//
// Rows are persisted only when a field actually changed, so an identical
// re-application writes nothing and reports nothing.
func (s *Scheduler) cascade(tx *gorm.DB, tl *models.Timeline, changed *models.Milestone, completionChanged bool, actorID int) (*CascadeResult, error) {
	var later []models.Milestone
	err := tx.Where("timeline_id = ? AND sort_order > ?", tl.ID, changed.SortOrder).
		Order("sort_order ASC").
		Find(&later).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: load milestones after order %d: %w", changed.SortOrder, err)
	}

	res := &CascadeResult{}
	cursor := effectiveEnd(changed).AddDate(0, 0, 1)
	lastEnd := effectiveEnd(changed)
	seenVisible := !changed.Hidden
	activationSpent := false

	if changed.Hidden {
		// A hidden milestone must not drag the timeline's end onto itself.
		// The convergence anchor is the nearest non-hidden milestone at or
		// before it; the walk below supersedes this with any later one.
		var prev models.Milestone
		err := tx.Where("timeline_id = ? AND sort_order <= ? AND hidden = ? AND id <> ?",
			tl.ID, changed.SortOrder, false, changed.ID).
			Order("sort_order DESC").First(&prev).Error
		switch {
		case err == nil:
			seenVisible = true
			lastEnd = DateOnly(prev.EndDate)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Nothing visible before it; lastEnd keeps tracking hidden ends.
		default:
			return nil, fmt.Errorf("schedule: visible milestone before order %d: %w", changed.SortOrder, err)
		}
	}

	for i := range later {
		m := &later[i]
		original := *m
		updates := map[string]interface{}{}

		if !DateOnly(m.StartDate).Equal(cursor) {
			m.StartDate = cursor
			updates["start_date"] = cursor
		}
		if m.CompletionDate == nil {
			if end := scheduledEnd(m); !DateOnly(m.EndDate).Equal(end) {
				m.EndDate = end
				updates["end_date"] = end
			}
		}

		statusChanged := false
		if completionChanged && !activationSpent && !m.Hidden {
			// The completed predecessor hands work to its successor. A
			// successor that already moved past planned keeps its recorded
			// dates; the activation is still spent.
			activationSpent = true
			if m.Status == StatusPlanned {
				today := DateOnly(s.now())
				m.Status = StatusActive
				updates["status"] = StatusActive
				statusChanged = true
				if m.ActualStartDate == nil {
					m.ActualStartDate = &today
					updates["actual_start_date"] = today
				}
			}
		}

		if len(updates) > 0 {
			updates["updated_by"] = actorID
			m.UpdatedBy = actorID
			if err := tx.Model(&models.Milestone{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("schedule: cascade update milestone %d: %w", m.ID, err)
			}
			if statusChanged {
				if err := appendHistory(tx, m.ID, m.Status, "", actorID); err != nil {
					return nil, err
				}
			}
			res.Milestones = append(res.Milestones, MilestoneChange{Original: original, Updated: *m})
		}

		// The successor's persisted end is authoritative here: a completion
		// pins it, otherwise it was just recomputed from the new start. An
		// auto-activation's actual start must not bend the cursor.
		if !m.Hidden {
			seenVisible = true
			lastEnd = DateOnly(m.EndDate)
			cursor = lastEnd.AddDate(0, 0, 1)
		} else if !seenVisible {
			// A timeline with no visible milestone at all converges on the
			// end of its last milestone.
			lastEnd = DateOnly(m.EndDate)
		}
	}

	timelineChange, err := s.convergeTimelineEnd(tx, tl, lastEnd, actorID)
	if err != nil {
		return nil, err
	}
	res.Timeline = timelineChange
	return res, nil
}

// convergeTimelineEnd moves the timeline's end date to lastEnd, the end of
// the last non-hidden milestone the cascade saw, when it differs. Returns nil
// when the timeline already converged.
func (s *Scheduler) convergeTimelineEnd(tx *gorm.DB, tl *models.Timeline, lastEnd time.Time, actorID int) (*TimelineChange, error) {
	if tl.EndDate != nil && DateOnly(*tl.EndDate).Equal(lastEnd) {
		return nil, nil
	}

	original := *tl
	err := tx.Model(&models.Timeline{}).Where("id = ?", tl.ID).Updates(map[string]interface{}{
		"end_date":   lastEnd,
		"updated_by": actorID,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: move timeline %d end date: %w", tl.ID, err)
	}
	tl.EndDate = &lastEnd
	tl.UpdatedBy = actorID
	return &TimelineChange{Original: original, Updated: *tl}, nil
}
