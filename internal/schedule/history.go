package schedule

import (
	"fmt"

	"github.com/phaseline/phaseline/internal/models"
	"gorm.io/gorm"
)

// appendHistory records a status in the milestone's append-only history. It
// must run inside the same transaction as the status change itself so the
// resume lookup stays correct.
func appendHistory(tx *gorm.DB, milestoneID uint, status, comment string, actorID int) error {
	entry := models.StatusHistory{
		MilestoneID: milestoneID,
		Status:      status,
		Comment:     comment,
		CreatedBy:   actorID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("schedule: append status history for milestone %d: %w", milestoneID, err)
	}
	return nil
}

// History returns a milestone's status history, most recent first.
func History(db *gorm.DB, milestoneID uint) ([]models.StatusHistory, error) {
	var entries []models.StatusHistory
	err := db.Where("milestone_id = ?", milestoneID).
		Order("created_at DESC, id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: load status history for milestone %d: %w", milestoneID, err)
	}
	return entries, nil
}
