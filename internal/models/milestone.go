package models

import (
	"time"

	"gorm.io/gorm"
)

// Milestone is one scheduled unit of work within a timeline.
//
// SortOrder is unique among the non-deleted milestones of one timeline and
// forms a contiguous 1..N range at rest. EndDate is derived: start plus
// duration minus one day, unless CompletionDate pins it.
type Milestone struct {
	ID              uint           `gorm:"primaryKey;autoIncrement"`
	TimelineID      uint           `gorm:"not null;index:idx_milestones_timeline"`
	Name            string         `gorm:"size:255;not null"`
	Description     string         `gorm:"type:text"`
	SortOrder       int            `gorm:"column:sort_order;not null;index:idx_milestones_timeline"`
	Duration        int            `gorm:"not null"`
	StartDate       time.Time      `gorm:"not null"`
	EndDate         time.Time      `gorm:"not null"`
	ActualStartDate *time.Time
	CompletionDate  *time.Time
	Status          string `gorm:"size:16;not null;default:planned;index"`
	Hidden          bool   `gorm:"not null;default:false"`
	Details         string `gorm:"type:json"`
	CreatedBy       int    `gorm:"not null"`
	UpdatedBy       int    `gorm:"not null"`
	DeletedBy       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       gorm.DeletedAt `gorm:"index"`

	History []StatusHistory `gorm:"foreignKey:MilestoneID"`
}
