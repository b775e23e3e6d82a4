// Package timeline provides timeline lifecycle operations.
package timeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"github.com/phaseline/phaseline/internal/schedule"
	"gorm.io/gorm"
)

// CreateOpts holds parameters for creating a new timeline.
type CreateOpts struct {
	Name        string
	Description string
	StartDate   time.Time
	Reference   string // project, phase, or product
	ReferenceID uint
	// Milestones optionally seeds the timeline with an ordered template list.
	Milestones []MilestoneTemplate
}

// MilestoneTemplate is one seeded milestone. Seeded starts are laid
// end-to-end from the timeline start; hidden templates do not consume
// schedule room.
type MilestoneTemplate struct {
	Name        string
	Description string
	Duration    int
	Hidden      bool
	Details     string
}

// UpdateOpts holds a partial timeline edit.
type UpdateOpts struct {
	Name        *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time
}

func validReference(r string) bool {
	switch r {
	case models.ReferenceProject, models.ReferencePhase, models.ReferenceProduct:
		return true
	}
	return false
}

// Create creates a timeline and, when templates are given, its seeded
// milestone sequence, all in one transaction.
func Create(db *gorm.DB, actor schedule.Actor, opts CreateOpts) (*models.Timeline, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("timeline: name is required")
	}
	if !validReference(opts.Reference) {
		return nil, fmt.Errorf("timeline: reference %q must be one of project, phase, product", opts.Reference)
	}
	if opts.ReferenceID == 0 {
		return nil, fmt.Errorf("timeline: reference id is required")
	}

	start := schedule.DateOnly(opts.StartDate)
	tl := models.Timeline{
		Name:        opts.Name,
		Description: opts.Description,
		StartDate:   start,
		Reference:   opts.Reference,
		ReferenceID: opts.ReferenceID,
		CreatedBy:   actor.ID,
		UpdatedBy:   actor.ID,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tl).Error; err != nil {
			return fmt.Errorf("timeline: create: %w", err)
		}

		cursor := start
		var lastEnd *time.Time
		for i, tpl := range opts.Milestones {
			if tpl.Duration < 1 {
				return fmt.Errorf("timeline: milestones[%d] duration %d, must be at least 1 day", i, tpl.Duration)
			}
			details := tpl.Details
			if details == "" {
				details = "{}"
			}
			end := cursor.AddDate(0, 0, tpl.Duration-1)
			m := models.Milestone{
				TimelineID:  tl.ID,
				Name:        tpl.Name,
				Description: tpl.Description,
				SortOrder:   i + 1,
				Duration:    tpl.Duration,
				StartDate:   cursor,
				EndDate:     end,
				Status:      schedule.StatusPlanned,
				Hidden:      tpl.Hidden,
				Details:     details,
				CreatedBy:   actor.ID,
				UpdatedBy:   actor.ID,
			}
			if err := tx.Create(&m).Error; err != nil {
				return fmt.Errorf("timeline: seed milestone %d: %w", i+1, err)
			}
			history := models.StatusHistory{
				MilestoneID: m.ID,
				Status:      m.Status,
				CreatedBy:   actor.ID,
			}
			if err := tx.Create(&history).Error; err != nil {
				return fmt.Errorf("timeline: seed history for milestone %d: %w", i+1, err)
			}
			if !tpl.Hidden {
				cursor = end.AddDate(0, 0, 1)
				lastEnd = &end
			}
		}

		if lastEnd != nil {
			if err := tx.Model(&models.Timeline{}).Where("id = ?", tl.ID).
				Update("end_date", *lastEnd).Error; err != nil {
				return fmt.Errorf("timeline: set seeded end date: %w", err)
			}
			tl.EndDate = lastEnd
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tl, nil
}

// Get retrieves a timeline by ID with its ordered milestones preloaded.
func Get(db *gorm.DB, id uint) (*models.Timeline, error) {
	var tl models.Timeline
	err := db.Preload("Milestones", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC")
	}).Where("id = ?", id).First(&tl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("timeline: %d: %w", id, schedule.ErrNotFound)
		}
		return nil, fmt.Errorf("timeline: get %d: %w", id, err)
	}
	return &tl, nil
}

// List returns timelines attached to the given reference.
func List(db *gorm.DB, reference string, referenceID uint) ([]models.Timeline, error) {
	if !validReference(reference) {
		return nil, fmt.Errorf("timeline: reference %q must be one of project, phase, product", reference)
	}
	var timelines []models.Timeline
	err := db.Where("reference = ? AND reference_id = ?", reference, referenceID).
		Order("id ASC").
		Find(&timelines).Error
	if err != nil {
		return nil, fmt.Errorf("timeline: list %s %d: %w", reference, referenceID, err)
	}
	return timelines, nil
}

// Update applies a rename or explicit date edit. Moving the start date past
// the earliest milestone start fails with ErrOutOfTimelineBounds.
func Update(db *gorm.DB, actor schedule.Actor, id uint, opts UpdateOpts) (*models.Timeline, error) {
	var tl models.Timeline
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&tl).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("timeline: %d: %w", id, schedule.ErrNotFound)
			}
			return fmt.Errorf("timeline: get %d for update: %w", id, err)
		}

		updates := map[string]interface{}{}
		if opts.Name != nil && *opts.Name != tl.Name {
			updates["name"] = *opts.Name
			tl.Name = *opts.Name
		}
		if opts.Description != nil && *opts.Description != tl.Description {
			updates["description"] = *opts.Description
			tl.Description = *opts.Description
		}
		if opts.StartDate != nil {
			start := schedule.DateOnly(*opts.StartDate)
			if !start.Equal(schedule.DateOnly(tl.StartDate)) {
				var earliest models.Milestone
				err := tx.Where("timeline_id = ?", id).Order("start_date ASC").First(&earliest).Error
				if err == nil && start.After(schedule.DateOnly(earliest.StartDate)) {
					return fmt.Errorf("timeline: start %s after first milestone start %s: %w",
						start.Format(time.DateOnly), schedule.DateOnly(earliest.StartDate).Format(time.DateOnly),
						schedule.ErrOutOfTimelineBounds)
				}
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("timeline: find earliest milestone of %d: %w", id, err)
				}
				updates["start_date"] = start
				tl.StartDate = start
			}
		}
		if opts.EndDate != nil {
			end := schedule.DateOnly(*opts.EndDate)
			if tl.EndDate == nil || !end.Equal(schedule.DateOnly(*tl.EndDate)) {
				if end.Before(schedule.DateOnly(tl.StartDate)) {
					return fmt.Errorf("timeline: end %s before start %s: %w",
						end.Format(time.DateOnly), schedule.DateOnly(tl.StartDate).Format(time.DateOnly),
						schedule.ErrInvalidDateRange)
				}
				updates["end_date"] = end
				tl.EndDate = &end
			}
		}

		if len(updates) == 0 {
			return nil
		}
		updates["updated_by"] = actor.ID
		tl.UpdatedBy = actor.ID
		if err := tx.Model(&models.Timeline{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("timeline: update %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tl, nil
}
