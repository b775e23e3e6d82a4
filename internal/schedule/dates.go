package schedule

import (
	"time"

	"github.com/phaseline/phaseline/internal/models"
)

// DateOnly truncates t to midnight UTC. All schedule arithmetic works on
// whole days.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the number of whole days from a to b. Negative when b
// precedes a.
func daysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)) / (24 * time.Hour))
}

// effectiveStart is the date a milestone's work is measured from: the actual
// start when recorded, the scheduled start otherwise.
func effectiveStart(m *models.Milestone) time.Time {
	if m.ActualStartDate != nil {
		return DateOnly(*m.ActualStartDate)
	}
	return DateOnly(m.StartDate)
}

// effectiveEnd is the date a milestone's schedule ends on: the completion
// date when recorded, otherwise effective start plus duration minus one day.
func effectiveEnd(m *models.Milestone) time.Time {
	if m.CompletionDate != nil {
		return DateOnly(*m.CompletionDate)
	}
	return effectiveStart(m).AddDate(0, 0, m.Duration-1)
}

// scheduledEnd derives the stored end date from the scheduled start and the
// duration. It ignores the actual start: the scheduled window only moves when
// a cascade moves it.
func scheduledEnd(m *models.Milestone) time.Time {
	return DateOnly(m.StartDate).AddDate(0, 0, m.Duration-1)
}
