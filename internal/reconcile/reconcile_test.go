package reconcile

import (
	"testing"
	"time"

	"github.com/phaseline/phaseline/internal/events"
	"github.com/phaseline/phaseline/internal/models"
	"github.com/phaseline/phaseline/internal/schedule"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Timeline{},
		&models.Milestone{},
		&models.StatusHistory{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// recordingSink captures published events.
type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) Publish(evts ...events.Event) error {
	s.events = append(s.events, evts...)
	return nil
}

func (s *recordingSink) topics() []string {
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Topic
	}
	return out
}

func seed(t *testing.T, db *gorm.DB, tl *models.Timeline, milestones ...*models.Milestone) {
	t.Helper()
	if err := db.Create(tl).Error; err != nil {
		t.Fatalf("seed timeline: %v", err)
	}
	for _, m := range milestones {
		m.TimelineID = tl.ID
		if err := db.Create(m).Error; err != nil {
			t.Fatalf("seed milestone %s: %v", m.Name, err)
		}
	}
}

func TestRepairEndDates_MovesDriftedTimeline(t *testing.T) {
	db := testDB(t)
	sink := &recordingSink{}

	stale := date(2024, 1, 5)
	tl := &models.Timeline{Name: "x", StartDate: date(2024, 1, 1), Reference: "project", ReferenceID: 1, EndDate: &stale}
	seed(t, db, tl,
		&models.Milestone{Name: "a", SortOrder: 1, Duration: 5, StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 5), Status: "completed", Details: "{}"},
		&models.Milestone{Name: "b", SortOrder: 2, Duration: 3, StartDate: date(2024, 1, 6), EndDate: date(2024, 1, 8), Status: "planned", Details: "{}"},
	)

	r := New(db, sink, zap.NewNop())
	repaired, err := r.RepairEndDates()
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired = %d, want 1", repaired)
	}

	var got models.Timeline
	if err := db.First(&got, tl.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.EndDate == nil || !got.EndDate.Equal(date(2024, 1, 8)) {
		t.Errorf("end date = %v, want 2024-01-08", got.EndDate)
	}
	if len(sink.events) != 1 || sink.events[0].Topic != events.TopicTimelineAdjusted {
		t.Errorf("events = %v", sink.topics())
	}
}

func TestRepairEndDates_SkipsHiddenTail(t *testing.T) {
	db := testDB(t)
	sink := &recordingSink{}

	tl := &models.Timeline{Name: "x", StartDate: date(2024, 1, 1), Reference: "project", ReferenceID: 1}
	seed(t, db, tl,
		&models.Milestone{Name: "a", SortOrder: 1, Duration: 4, StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 4), Status: "planned", Details: "{}"},
		&models.Milestone{Name: "retro", SortOrder: 2, Duration: 1, StartDate: date(2024, 1, 5), EndDate: date(2024, 1, 5), Status: "planned", Hidden: true, Details: "{}"},
	)

	r := New(db, sink, zap.NewNop())
	if _, err := r.RepairEndDates(); err != nil {
		t.Fatalf("repair: %v", err)
	}

	var got models.Timeline
	if err := db.First(&got, tl.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.EndDate == nil || !got.EndDate.Equal(date(2024, 1, 4)) {
		t.Errorf("end date = %v, want 2024-01-04 (last visible)", got.EndDate)
	}
}

func TestRepairEndDates_ConvergedTimelineUntouched(t *testing.T) {
	db := testDB(t)
	sink := &recordingSink{}

	end := date(2024, 1, 4)
	tl := &models.Timeline{Name: "x", StartDate: date(2024, 1, 1), Reference: "project", ReferenceID: 1, EndDate: &end}
	seed(t, db, tl,
		&models.Milestone{Name: "a", SortOrder: 1, Duration: 4, StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 4), Status: "planned", Details: "{}"},
	)

	r := New(db, sink, zap.NewNop())
	repaired, err := r.RepairEndDates()
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if repaired != 0 || len(sink.events) != 0 {
		t.Errorf("repaired = %d, events = %v; converged timeline must be left alone", repaired, sink.topics())
	}
}

func TestRepairEndDates_EmptyTimelineSkipped(t *testing.T) {
	db := testDB(t)
	sink := &recordingSink{}
	tl := &models.Timeline{Name: "empty", StartDate: date(2024, 1, 1), Reference: "project", ReferenceID: 1}
	seed(t, db, tl)

	r := New(db, sink, zap.NewNop())
	repaired, err := r.RepairEndDates()
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if repaired != 0 {
		t.Errorf("repaired = %d for a milestone-less timeline", repaired)
	}
}

func TestReportOverdue(t *testing.T) {
	db := testDB(t)
	sink := &recordingSink{}

	tl := &models.Timeline{Name: "x", StartDate: date(2024, 1, 1), Reference: "project", ReferenceID: 1}
	seed(t, db, tl,
		&models.Milestone{Name: "late", SortOrder: 1, Duration: 2, StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 2), Status: schedule.StatusActive, Details: "{}"},
		&models.Milestone{Name: "due-today", SortOrder: 2, Duration: 2, StartDate: date(2024, 1, 9), EndDate: date(2024, 1, 10), Status: schedule.StatusActive, Details: "{}"},
		&models.Milestone{Name: "past-but-planned", SortOrder: 3, Duration: 1, StartDate: date(2024, 1, 3), EndDate: date(2024, 1, 3), Status: schedule.StatusPlanned, Details: "{}"},
	)

	r := New(db, sink, zap.NewNop())
	r.now = func() time.Time { return date(2024, 1, 10) }

	overdue, err := r.ReportOverdue()
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if overdue != 1 {
		t.Fatalf("overdue = %d, want 1 (active and past due only)", overdue)
	}
	if sink.events[0].Topic != events.TopicMilestoneOverdue {
		t.Errorf("topic = %q", sink.events[0].Topic)
	}
	p := sink.events[0].Payload.(events.MilestonePayload)
	if p.Updated.Name != "late" {
		t.Errorf("overdue milestone = %q, want late", p.Updated.Name)
	}
}

func TestRun_CombinesBothPasses(t *testing.T) {
	db := testDB(t)
	sink := &recordingSink{}

	tl := &models.Timeline{Name: "x", StartDate: date(2024, 1, 1), Reference: "project", ReferenceID: 1}
	seed(t, db, tl,
		&models.Milestone{Name: "late", SortOrder: 1, Duration: 2, StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 2), Status: schedule.StatusActive, Details: "{}"},
	)

	r := New(db, sink, zap.NewNop())
	r.now = func() time.Time { return date(2024, 1, 10) }
	if err := r.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	topics := sink.topics()
	if len(topics) != 2 ||
		topics[0] != events.TopicTimelineAdjusted ||
		topics[1] != events.TopicMilestoneOverdue {
		t.Errorf("topics = %v, want [timeline.adjusted milestone.overdue]", topics)
	}
}
