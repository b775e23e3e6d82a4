// Package reconcile repairs timeline end-date drift and reports overdue
// milestones on a cron schedule. The scheduling engine keeps end dates
// convergent on its own; this job defends against out-of-band writes.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/phaseline/phaseline/internal/events"
	"github.com/phaseline/phaseline/internal/models"
	"github.com/phaseline/phaseline/internal/schedule"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler scans all timelines for inconsistencies.
type Reconciler struct {
	db     *gorm.DB
	sink   events.Sink
	logger *zap.Logger
	now    func() time.Time
}

// New builds a Reconciler.
func New(db *gorm.DB, sink events.Sink, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, sink: sink, logger: logger, now: time.Now}
}

// Schedule registers the reconciler on c with a 5-field cron expression.
func (r *Reconciler) Schedule(c *cron.Cron, expr string) error {
	_, err := c.AddFunc(expr, func() {
		if err := r.Run(); err != nil {
			r.logger.Error("reconcile run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("reconcile: schedule %q: %w", expr, err)
	}
	return nil
}

// Run performs one full scan: end-date drift repair, then the overdue report.
func (r *Reconciler) Run() error {
	drifted, err := r.RepairEndDates()
	if err != nil {
		return err
	}
	overdue, err := r.ReportOverdue()
	if err != nil {
		return err
	}
	if drifted > 0 || overdue > 0 {
		r.logger.Info("reconcile pass finished",
			zap.Int("end_dates_repaired", drifted),
			zap.Int("overdue_milestones", overdue))
	}
	return nil
}

// RepairEndDates moves each timeline's end date onto the end of its last
// visible milestone, and returns how many needed moving.
func (r *Reconciler) RepairEndDates() (int, error) {
	var timelines []models.Timeline
	if err := r.db.Find(&timelines).Error; err != nil {
		return 0, fmt.Errorf("reconcile: load timelines: %w", err)
	}

	repaired := 0
	for i := range timelines {
		tl := &timelines[i]
		want, ok, err := r.lastVisibleEnd(tl.ID)
		if err != nil {
			return repaired, err
		}
		if !ok {
			continue
		}
		if tl.EndDate != nil && schedule.DateOnly(*tl.EndDate).Equal(want) {
			continue
		}

		original := *tl
		err = r.db.Model(&models.Timeline{}).Where("id = ?", tl.ID).
			Update("end_date", want).Error
		if err != nil {
			return repaired, fmt.Errorf("reconcile: repair timeline %d end date: %w", tl.ID, err)
		}
		tl.EndDate = &want
		repaired++

		err = r.sink.Publish(events.Event{
			Topic: events.TopicTimelineAdjusted,
			Payload: events.TimelinePayload{
				TimelineID: tl.ID,
				Original:   original,
				Updated:    *tl,
			},
		})
		if err != nil {
			r.logger.Warn("publish adjusted timeline failed",
				zap.Uint("timeline_id", tl.ID), zap.Error(err))
		}
	}
	return repaired, nil
}

// ReportOverdue publishes an event for every active milestone whose end date
// has passed, and returns how many there were.
func (r *Reconciler) ReportOverdue() (int, error) {
	today := schedule.DateOnly(r.now())
	var overdue []models.Milestone
	err := r.db.Where("status = ? AND end_date < ?", schedule.StatusActive, today).
		Order("timeline_id ASC, sort_order ASC").
		Find(&overdue).Error
	if err != nil {
		return 0, fmt.Errorf("reconcile: find overdue milestones: %w", err)
	}

	for i := range overdue {
		err := r.sink.Publish(events.Event{
			Topic: events.TopicMilestoneOverdue,
			Payload: events.MilestonePayload{
				MilestoneID: overdue[i].ID,
				TimelineID:  overdue[i].TimelineID,
				Updated:     overdue[i],
			},
		})
		if err != nil {
			r.logger.Warn("publish overdue milestone failed",
				zap.Uint("milestone_id", overdue[i].ID), zap.Error(err))
		}
	}
	return len(overdue), nil
}

// lastVisibleEnd finds the end date of a timeline's last non-hidden
// milestone, falling back to the last milestone when every one is hidden.
func (r *Reconciler) lastVisibleEnd(timelineID uint) (time.Time, bool, error) {
	var m models.Milestone
	err := r.db.Where("timeline_id = ? AND hidden = ?", timelineID, false).
		Order("sort_order DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = r.db.Where("timeline_id = ?", timelineID).
			Order("sort_order DESC").First(&m).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reconcile: last milestone of timeline %d: %w", timelineID, err)
	}
	return schedule.DateOnly(m.EndDate), true, nil
}
