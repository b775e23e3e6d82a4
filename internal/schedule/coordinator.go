package schedule

import (
	"fmt"

	"github.com/phaseline/phaseline/internal/models"
)

// Coordinator drives whole-timeline batch mutations. It verifies every
// to-keep identity before any write, delegates to BulkApply, and answers with
// a fresh read of the persisted ordered list, never with state reassembled
// from the mutation results.
type Coordinator struct {
	s *Scheduler
}

// NewCoordinator wraps a scheduler.
func NewCoordinator(s *Scheduler) *Coordinator {
	return &Coordinator{s: s}
}

// BatchResult is the coordinator's answer: the mutation union plus the
// authoritative post-commit milestone list of the timeline.
type BatchResult struct {
	Result     *BulkResult
	Milestones []models.Milestone
}

// Apply validates and applies a batch against timelineID.
func (c *Coordinator) Apply(actor Actor, timelineID uint, items []BulkItem) (*BatchResult, error) {
	if err := c.precheck(timelineID, items); err != nil {
		return nil, err
	}

	res, err := c.s.BulkApply(actor, timelineID, items)
	if err != nil {
		return nil, err
	}

	fresh, err := ListByTimeline(c.s.db, timelineID)
	if err != nil {
		return nil, err
	}
	return &BatchResult{Result: res, Milestones: fresh}, nil
}

// precheck fails fast when any referenced milestone does not belong to the
// timeline, before a transaction is even opened. BulkApply re-validates under
// the transaction; this check just rejects doomed batches cheaply.
func (c *Coordinator) precheck(timelineID uint, items []BulkItem) error {
	var ids []uint
	for _, item := range items {
		if item.ID != 0 {
			ids = append(ids, item.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var count int64
	err := c.s.db.Model(&models.Milestone{}).
		Where("timeline_id = ? AND id IN ?", timelineID, ids).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("schedule: precheck batch against timeline %d: %w", timelineID, err)
	}
	if int(count) != len(ids) {
		return fmt.Errorf("schedule: batch references %d milestones, %d belong to timeline %d: %w",
			len(ids), count, timelineID, ErrNotFound)
	}
	return nil
}
