package schedule

import (
	"errors"
	"fmt"

	"github.com/phaseline/phaseline/internal/models"
	"gorm.io/gorm"
)

// Get retrieves a milestone by ID.
func Get(db *gorm.DB, id uint) (*models.Milestone, error) {
	var m models.Milestone
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule: milestone %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("schedule: get milestone %d: %w", id, err)
	}
	return &m, nil
}

// ListByTimeline returns the non-deleted milestones of a timeline in order.
func ListByTimeline(db *gorm.DB, timelineID uint) ([]models.Milestone, error) {
	var milestones []models.Milestone
	err := db.Where("timeline_id = ?", timelineID).
		Order("sort_order ASC").
		Find(&milestones).Error
	if err != nil {
		return nil, fmt.Errorf("schedule: list milestones of timeline %d: %w", timelineID, err)
	}
	return milestones, nil
}
