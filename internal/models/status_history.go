package models

import "time"

// StatusHistory is the append-only record of a milestone's statuses. A row is
// written in the same transaction as every status change, so the two most
// recent rows are always (current status, status before it), which is the
// lookup a resume relies on.
type StatusHistory struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	MilestoneID uint   `gorm:"not null;index"`
	Status      string `gorm:"size:16;not null"`
	Comment     string `gorm:"type:text"`
	CreatedBy   int    `gorm:"not null"`
	CreatedAt   time.Time
}
