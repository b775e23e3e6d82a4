package models

import (
	"time"

	"gorm.io/gorm"
)

// Reference kinds a timeline can be attached to.
const (
	ReferenceProject = "project"
	ReferencePhase   = "phase"
	ReferenceProduct = "product"
)

// Timeline is the ordered scheduling container for milestones. Its EndDate
// tracks the end of its last visible milestone once any milestone carries a
// completion or duration change.
type Timeline struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"size:255;not null"`
	Description string    `gorm:"type:text"`
	StartDate   time.Time `gorm:"not null"`
	EndDate     *time.Time
	Reference   string `gorm:"size:45;not null;index:idx_timelines_reference"`
	ReferenceID uint   `gorm:"not null;index:idx_timelines_reference"`
	CreatedBy   int    `gorm:"not null"`
	UpdatedBy   int    `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`

	Milestones []Milestone `gorm:"foreignKey:TimelineID"`
}
