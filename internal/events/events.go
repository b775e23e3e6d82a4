// Package events turns the scheduling engine's (original, updated) change
// pairs into domain events for post-commit publishing. The engine itself
// never publishes; callers collect events from a committed mutation's results
// and hand them to a Sink afterwards, so no external call ever holds the
// transaction open.
package events

import (
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"github.com/phaseline/phaseline/internal/schedule"
)

// Event topics.
const (
	TopicMilestoneCreated = "milestone.created"
	TopicMilestoneUpdated = "milestone.updated"
	TopicMilestoneDeleted = "milestone.deleted"
	TopicMilestoneOverdue = "milestone.overdue"
	TopicTimelineAdjusted = "timeline.adjusted"
)

// Event is one domain change notification.
type Event struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Sink delivers events somewhere after commit. Implementations must tolerate
// being called with zero events.
type Sink interface {
	Publish(events ...Event) error
}

// MilestonePayload describes one milestone change.
type MilestonePayload struct {
	MilestoneID   uint              `json:"milestoneId"`
	TimelineID    uint              `json:"timelineId"`
	ChangedFields []string          `json:"changedFields,omitempty"`
	Original      *models.Milestone `json:"original,omitempty"`
	Updated       models.Milestone  `json:"updated"`
}

// TimelinePayload describes a timeline end-date adjustment.
type TimelinePayload struct {
	TimelineID uint            `json:"timelineId"`
	Original   models.Timeline `json:"original"`
	Updated    models.Timeline `json:"updated"`
}

// FromCreate builds the events a milestone creation implies: one created
// event plus an updated event per order-shifted sibling.
func FromCreate(res *schedule.CreateResult) []Event {
	evts := []Event{{
		Topic: TopicMilestoneCreated,
		Payload: MilestonePayload{
			MilestoneID: res.Created.ID,
			TimelineID:  res.Created.TimelineID,
			Updated:     res.Created,
		},
	}}
	return append(evts, fromChanges(res.Shifted)...)
}

// FromUpdate builds the events an update implies. Only rows that actually
// changed appear; a redundant edit produces nothing.
func FromUpdate(res *schedule.UpdateResult) []Event {
	var evts []Event
	if res.Mutated {
		evts = append(evts, fromChanges([]schedule.MilestoneChange{res.Target})...)
	}
	evts = append(evts, fromChanges(res.Others)...)
	if res.Timeline != nil {
		evts = append(evts, timelineAdjusted(*res.Timeline))
	}
	return evts
}

// FromDelete builds the events a deletion implies.
func FromDelete(deleted models.Milestone, compacted []schedule.MilestoneChange) []Event {
	evts := []Event{{
		Topic: TopicMilestoneDeleted,
		Payload: MilestonePayload{
			MilestoneID: deleted.ID,
			TimelineID:  deleted.TimelineID,
			Updated:     deleted,
		},
	}}
	return append(evts, fromChanges(compacted)...)
}

// FromBulk builds the events of a whole batch.
func FromBulk(res *schedule.BulkResult) []Event {
	var evts []Event
	for i := range res.Created {
		evts = append(evts, Event{
			Topic: TopicMilestoneCreated,
			Payload: MilestonePayload{
				MilestoneID: res.Created[i].Created.ID,
				TimelineID:  res.Created[i].Created.TimelineID,
				Updated:     res.Created[i].Created,
			},
		})
	}
	for i := range res.Deleted {
		evts = append(evts, Event{
			Topic: TopicMilestoneDeleted,
			Payload: MilestonePayload{
				MilestoneID: res.Deleted[i].ID,
				TimelineID:  res.Deleted[i].TimelineID,
				Updated:     res.Deleted[i],
			},
		})
	}
	for i := range res.Updated {
		evts = append(evts, fromChanges([]schedule.MilestoneChange{res.Updated[i].Target})...)
	}
	evts = append(evts, fromChanges(res.Others)...)
	if res.Timeline != nil {
		evts = append(evts, timelineAdjusted(*res.Timeline))
	}
	return evts
}

func fromChanges(changes []schedule.MilestoneChange) []Event {
	evts := make([]Event, 0, len(changes))
	for _, ch := range changes {
		original := ch.Original
		evts = append(evts, Event{
			Topic: TopicMilestoneUpdated,
			Payload: MilestonePayload{
				MilestoneID:   ch.Updated.ID,
				TimelineID:    ch.Updated.TimelineID,
				ChangedFields: diffFields(ch.Original, ch.Updated),
				Original:      &original,
				Updated:       ch.Updated,
			},
		})
	}
	return evts
}

func timelineAdjusted(ch schedule.TimelineChange) Event {
	return Event{
		Topic: TopicTimelineAdjusted,
		Payload: TimelinePayload{
			TimelineID: ch.Updated.ID,
			Original:   ch.Original,
			Updated:    ch.Updated,
		},
	}
}

// diffFields names the fields that differ between two milestone snapshots.
func diffFields(a, b models.Milestone) []string {
	var fields []string
	if a.Name != b.Name {
		fields = append(fields, "name")
	}
	if a.Description != b.Description {
		fields = append(fields, "description")
	}
	if a.SortOrder != b.SortOrder {
		fields = append(fields, "order")
	}
	if a.Duration != b.Duration {
		fields = append(fields, "duration")
	}
	if !sameDate(&a.StartDate, &b.StartDate) {
		fields = append(fields, "startDate")
	}
	if !sameDate(&a.EndDate, &b.EndDate) {
		fields = append(fields, "endDate")
	}
	if !sameDate(a.ActualStartDate, b.ActualStartDate) {
		fields = append(fields, "actualStartDate")
	}
	if !sameDate(a.CompletionDate, b.CompletionDate) {
		fields = append(fields, "completionDate")
	}
	if a.Status != b.Status {
		fields = append(fields, "status")
	}
	if a.Hidden != b.Hidden {
		fields = append(fields, "hidden")
	}
	if a.Details != b.Details {
		fields = append(fields, "details")
	}
	return fields
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return schedule.DateOnly(*a).Equal(schedule.DateOnly(*b))
}
