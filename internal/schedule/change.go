package schedule

import "github.com/phaseline/phaseline/internal/models"

// MilestoneChange pairs a milestone's persisted state before and after one
// mutation. Callers use these pairs to publish per-entity change events after
// the transaction commits; the engine itself never publishes.
type MilestoneChange struct {
	Original models.Milestone
	Updated  models.Milestone
}

// TimelineChange pairs the owning timeline's state before and after a cascade
// moved its end date.
type TimelineChange struct {
	Original models.Timeline
	Updated  models.Timeline
}

// mergeChanges collapses repeated snapshots of one milestone into a single
// pair: the earliest original with the latest updated state. An order shift
// and a cascade inside the same mutation can both touch a sibling.
func mergeChanges(changes []MilestoneChange) []MilestoneChange {
	if len(changes) < 2 {
		return changes
	}
	index := make(map[uint]int, len(changes))
	out := make([]MilestoneChange, 0, len(changes))
	for _, c := range changes {
		if i, ok := index[c.Updated.ID]; ok {
			out[i].Updated = c.Updated
			continue
		}
		index[c.Updated.ID] = len(out)
		out = append(out, c)
	}
	return out
}
