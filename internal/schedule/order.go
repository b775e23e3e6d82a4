package schedule

import (
	"fmt"

	"github.com/phaseline/phaseline/internal/models"
	"gorm.io/gorm"
)

// The order indexer keeps sort_order contiguous among the non-deleted
// milestones of one timeline. Callers run it inside the mutation's
// transaction; any transient duplicate is resolved before commit.
//
// Both shift functions snapshot the affected window before the range update
// and return (original, updated) pairs so callers can report the siblings that
// were also touched.

// shiftForInsert makes room at newOrder: every sibling with sort_order >=
// newOrder moves up by one. excludeID keeps the freshly inserted row out of
// the shift.
func shiftForInsert(tx *gorm.DB, timelineID uint, newOrder int, excludeID uint) ([]MilestoneChange, error) {
	var window []models.Milestone
	err := tx.Where("timeline_id = ? AND sort_order >= ? AND id <> ?", timelineID, newOrder, excludeID).
		Order("sort_order ASC").
		Find(&window).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: read insert window at order %d: %w", newOrder, err)
	}
	if len(window) == 0 {
		return nil, nil
	}

	err = tx.Model(&models.Milestone{}).
		Where("timeline_id = ? AND sort_order >= ? AND id <> ?", timelineID, newOrder, excludeID).
		Update("sort_order", gorm.Expr("sort_order + 1")).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: shift orders for insert at %d: %w", newOrder, err)
	}

	changes := make([]MilestoneChange, len(window))
	for i, row := range window {
		updated := row
		updated.SortOrder++
		changes[i] = MilestoneChange{Original: row, Updated: updated}
	}
	return changes, nil
}

// shiftForMove closes the gap a milestone leaves at fromOrder and opens one at
// toOrder. Moving later decrements the siblings in (fromOrder, toOrder];
// moving earlier increments the siblings in [toOrder, fromOrder). No-op when
// the orders are equal.
func shiftForMove(tx *gorm.DB, timelineID, milestoneID uint, fromOrder, toOrder int) ([]MilestoneChange, error) {
	if fromOrder == toOrder {
		return nil, nil
	}

	var (
		low, high int
		delta     int
	)
	if fromOrder < toOrder {
		low, high, delta = fromOrder+1, toOrder, -1
	} else {
		low, high, delta = toOrder, fromOrder-1, +1
	}

	var window []models.Milestone
	err := tx.Where("timeline_id = ? AND id <> ? AND sort_order BETWEEN ? AND ?",
		timelineID, milestoneID, low, high).
		Order("sort_order ASC").
		Find(&window).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: read move window [%d,%d]: %w", low, high, err)
	}
	if len(window) == 0 {
		return nil, nil
	}

	err = tx.Model(&models.Milestone{}).
		Where("timeline_id = ? AND id <> ? AND sort_order BETWEEN ? AND ?",
			timelineID, milestoneID, low, high).
		Update("sort_order", gorm.Expr("sort_order + ?", delta)).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: shift orders for move %d -> %d: %w", fromOrder, toOrder, err)
	}

	changes := make([]MilestoneChange, len(window))
	for i, row := range window {
		updated := row
		updated.SortOrder += delta
		changes[i] = MilestoneChange{Original: row, Updated: updated}
	}
	return changes, nil
}

// compactAfterDelete renumbers every sibling past the removed order down by
// one. Only used when compaction is enabled; the historical behavior leaves
// the gap.
func compactAfterDelete(tx *gorm.DB, timelineID uint, removedOrder int) ([]MilestoneChange, error) {
	var window []models.Milestone
	err := tx.Where("timeline_id = ? AND sort_order > ?", timelineID, removedOrder).
		Order("sort_order ASC").
		Find(&window).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: read compaction window after order %d: %w", removedOrder, err)
	}
	if len(window) == 0 {
		return nil, nil
	}

	err = tx.Model(&models.Milestone{}).
		Where("timeline_id = ? AND sort_order > ?", timelineID, removedOrder).
		Update("sort_order", gorm.Expr("sort_order - 1")).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: compact orders after %d: %w", removedOrder, err)
	}

	changes := make([]MilestoneChange, len(window))
	for i, row := range window {
		updated := row
		updated.SortOrder--
		changes[i] = MilestoneChange{Original: row, Updated: updated}
	}
	return changes, nil
}
