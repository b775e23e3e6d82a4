package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"gorm.io/gorm"
)

// BulkItem is one entry of a whole-timeline batch. A zero ID means create; a
// non-zero ID must belong to an existing milestone of the timeline, which is
// updated to the item's state. Existing milestones absent from the batch are
// deleted.
type BulkItem struct {
	ID              uint
	Name            string
	Description     string
	SortOrder       int
	Duration        int
	StartDate       time.Time
	Status          string
	Comment         string
	Hidden          bool
	Details         string
	ActualStartDate *time.Time
	CompletionDate  *time.Time
}

// BulkResult is the union of everything one batch changed.
type BulkResult struct {
	Created  []CreateResult
	Updated  []UpdateResult
	Deleted  []models.Milestone
	Others   []MilestoneChange
	Timeline *TimelineChange
}

// BulkApply reconciles a timeline's milestones against items inside one
// transaction: creates first, then deletes, then updates, each through the
// single-item operations. Any item referencing a milestone that does not
// belong to the timeline fails the whole batch with ErrNotFound before any
// write.
func (s *Scheduler) BulkApply(actor Actor, timelineID uint, items []BulkItem) (*BulkResult, error) {
	var out *BulkResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tl, err := lockTimeline(tx, timelineID)
		if err != nil {
			return err
		}

		existing, err := ListByTimeline(tx, timelineID)
		if err != nil {
			return err
		}
		byID := make(map[uint]models.Milestone, len(existing))
		for _, m := range existing {
			byID[m.ID] = m
		}

		var creates, updates []BulkItem
		referenced := make(map[uint]bool, len(items))
		for _, item := range items {
			if item.ID == 0 {
				creates = append(creates, item)
				continue
			}
			if _, ok := byID[item.ID]; !ok {
				return fmt.Errorf("schedule: milestone %d not in timeline %d: %w",
					item.ID, timelineID, ErrNotFound)
			}
			referenced[item.ID] = true
			updates = append(updates, item)
		}
		var deletes []models.Milestone
		for _, m := range existing {
			if !referenced[m.ID] {
				deletes = append(deletes, m)
			}
		}

		out = &BulkResult{}

		for _, item := range creates {
			res, err := s.createTx(tx, tl, actor, CreateInput{
				Name:        item.Name,
				Description: item.Description,
				SortOrder:   item.SortOrder,
				Duration:    item.Duration,
				StartDate:   item.StartDate,
				Status:      item.Status,
				Hidden:      item.Hidden,
				Details:     item.Details,
			})
			if err != nil {
				return err
			}
			out.Created = append(out.Created, *res)
			out.Others = append(out.Others, res.Shifted...)
		}

		for _, m := range deletes {
			row := m
			compacted, err := s.deleteTx(tx, tl, actor, &row)
			if err != nil {
				return err
			}
			out.Deleted = append(out.Deleted, row)
			out.Others = append(out.Others, compacted...)
		}

		for _, item := range updates {
			// Earlier creates, deletes, or cascades may have moved this row;
			// update from its current persisted state.
			var m models.Milestone
			if err := tx.Where("id = ?", item.ID).First(&m).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("schedule: milestone %d vanished during batch: %w", item.ID, ErrNotFound)
				}
				return fmt.Errorf("schedule: reload milestone %d: %w", item.ID, err)
			}
			res, err := s.updateTx(tx, tl, actor, &m, bulkItemUpdate(item))
			if err != nil {
				return err
			}
			if res.Mutated {
				out.Updated = append(out.Updated, *res)
			}
			out.Others = append(out.Others, res.Others...)
			if res.Timeline != nil {
				out.Timeline = res.Timeline
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// bulkItemUpdate converts a batch item's full state into a partial update.
// Every field is supplied; the update layer writes only real differences, so
// re-applying an identical batch mutates nothing.
func bulkItemUpdate(item BulkItem) UpdateInput {
	in := UpdateInput{
		Name:        &item.Name,
		Description: &item.Description,
		SortOrder:   &item.SortOrder,
		Duration:    &item.Duration,
		StartDate:   &item.StartDate,
		Hidden:      &item.Hidden,
		Comment:     item.Comment,
		Details:     item.Details,
	}
	if item.Status != "" {
		in.Status = &item.Status
	}
	if item.ActualStartDate != nil {
		in.ActualStartDate = item.ActualStartDate
	}
	if item.CompletionDate != nil {
		in.CompletionDate = item.CompletionDate
	}
	return in
}
