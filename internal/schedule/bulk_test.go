package schedule

import (
	"errors"
	"testing"
	"time"
)

// itemsFrom converts the persisted list into a same-state batch.
func itemsFrom(t *testing.T, s *Scheduler, timelineID uint) []BulkItem {
	t.Helper()
	milestones, err := ListByTimeline(s.db, timelineID)
	if err != nil {
		t.Fatalf("list milestones: %v", err)
	}
	items := make([]BulkItem, len(milestones))
	for i, m := range milestones {
		items[i] = BulkItem{
			ID:              m.ID,
			Name:            m.Name,
			Description:     m.Description,
			SortOrder:       m.SortOrder,
			Duration:        m.Duration,
			StartDate:       m.StartDate,
			Status:          m.Status,
			Hidden:          m.Hidden,
			Details:         m.Details,
			ActualStartDate: m.ActualStartDate,
			CompletionDate:  m.CompletionDate,
		}
	}
	return items
}

func TestBulkApply_CreateUpdateDelete(t *testing.T) {
	db := testDB(t)
	tl := seedTimeline(t, db, date(2024, 1, 1))
	s := testScheduler(db, date(2024, 1, 1))

	a := addMilestone(t, s, tl.ID, "a", 1, 2, date(2024, 1, 1))
	b := addMilestone(t, s, tl.ID, "b", 2, 2, date(2024, 1, 3))

	items := []BulkItem{
		{ID: a.ID, Name: "a-renamed", SortOrder: 1, Duration: 2, StartDate: date(2024, 1, 1)},
		// b omitted: deleted.
		{Name: "c", SortOrder: 2, Duration: 3, StartDate: date(2024, 1, 3)},
	}
	res, err := s.BulkApply(Actor{ID: 5}, tl.ID, items)
	if err != nil {
		t.Fatalf("bulk apply: %v", err)
	}

	if len(res.Created) != 1 || res.Created[0].Created.Name != "c" {
		t.Errorf("created = %+v, want one milestone c", res.Created)
	}
	if len(res.Deleted) != 1 || res.Deleted[0].ID != b.ID {
		t.Errorf("deleted = %+v, want b", res.Deleted)
	}
	if len(res.Updated) != 1 || res.Updated[0].Target.Updated.Name != "a-renamed" {
		t.Errorf("updated = %+v, want a renamed", res.Updated)
	}

	remaining, err := ListByTimeline(db, tl.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d milestones, want 2", len(remaining))
	}
	if remaining[0].Name != "a-renamed" || remaining[1].Name != "c" {
		t.Errorf("remaining = %s, %s", remaining[0].Name, remaining[1].Name)
	}
	assertContiguous(t, db, tl.ID)
}

func TestBulkApply_UnknownIDFailsWholeBatch(t *testing.T) {
	db := testDB(t)
	tl := seedTimeline(t, db, date(2024, 1, 1))
	s := testScheduler(db, date(2024, 1, 1))
	a := addMilestone(t, s, tl.ID, "a", 1, 2, date(2024, 1, 1))

	items := []BulkItem{
		{ID: a.ID, Name: "a", SortOrder: 1, Duration: 2, StartDate: date(2024, 1, 1)},
		{Name: "new", SortOrder: 2, Duration: 1, StartDate: date(2024, 1, 3)},
		{ID: 9999, Name: "ghost", SortOrder: 3, Duration: 1, StartDate: date(2024, 1, 4)},
	}
	_, err := s.BulkApply(Actor{ID: 1}, tl.ID, items)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	// Nothing from the batch may have landed.
	remaining, err := ListByTimeline(db, tl.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Name != "a" {
		t.Errorf("batch was not atomic: %+v", remaining)
	}
}

func TestBulkApply_Idempotent(t *testing.T) {
	db := testDB(t)
	tl := seedTimeline(t, db, date(2024, 1, 1))
	s := testScheduler(db, date(2024, 1, 1))

	addMilestone(t, s, tl.ID, "a", 1, 2, date(2024, 1, 1))
	addMilestone(t, s, tl.ID, "b", 2, 3, date(2024, 1, 3))

	items := itemsFrom(t, s, tl.ID)
	res, err := s.BulkApply(Actor{ID: 1}, tl.ID, items)
	if err != nil {
		t.Fatalf("same-state batch: %v", err)
	}
	if len(res.Created) != 0 || len(res.Deleted) != 0 {
		t.Errorf("same-state batch created %d, deleted %d", len(res.Created), len(res.Deleted))
	}
	if len(res.Updated) != 0 {
		t.Errorf("same-state batch reported %d updates, want 0", len(res.Updated))
	}
	if len(res.Others) != 0 || res.Timeline != nil {
		t.Error("same-state batch must not move anything")
	}
}

func TestBulkApply_ReorderWholeTimeline(t *testing.T) {
	db := testDB(t)
	tl := seedTimeline(t, db, date(2024, 1, 1))
	s := testScheduler(db, date(2024, 1, 1))

	a := addMilestone(t, s, tl.ID, "a", 1, 1, date(2024, 1, 1))
	b := addMilestone(t, s, tl.ID, "b", 2, 1, date(2024, 1, 2))
	c := addMilestone(t, s, tl.ID, "c", 3, 1, date(2024, 1, 3))

	items := itemsFrom(t, s, tl.ID)
	// Rotate: c first, then a, then b.
	items[0].SortOrder = 2 // a
	items[1].SortOrder = 3 // b
	items[2].SortOrder = 1 // c
	if _, err := s.BulkApply(Actor{ID: 1}, tl.ID, items); err != nil {
		t.Fatalf("reorder batch: %v", err)
	}

	assertContiguous(t, db, tl.ID)
	wantOrder := map[uint]int{c.ID: 1, a.ID: 2, b.ID: 3}
	for id, want := range wantOrder {
		if got := reload(t, db, id).SortOrder; got != want {
			t.Errorf("milestone %d order = %d, want %d", id, got, want)
		}
	}
}

func TestCoordinator_Precheck(t *testing.T) {
	db := testDB(t)
	tlA := seedTimeline(t, db, date(2024, 1, 1))
	tlB := seedTimeline(t, db, date(2024, 1, 1))
	s := testScheduler(db, date(2024, 1, 1))
	coord := NewCoordinator(s)

	foreign := addMilestone(t, s, tlB.ID, "other", 1, 1, date(2024, 1, 1))

	_, err := coord.Apply(Actor{ID: 1}, tlA.ID, []BulkItem{
		{ID: foreign.ID, Name: "other", SortOrder: 1, Duration: 1, StartDate: date(2024, 1, 1)},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-timeline reference error = %v, want ErrNotFound", err)
	}
}

func TestCoordinator_AnswersWithFreshRead(t *testing.T) {
	db := testDB(t)
	tl := seedTimeline(t, db, date(2024, 1, 1))
	s := testScheduler(db, date(2024, 1, 1))
	coord := NewCoordinator(s)

	addMilestone(t, s, tl.ID, "a", 1, 2, date(2024, 1, 1))

	res, err := coord.Apply(Actor{ID: 1}, tl.ID, append(itemsFrom(t, s, tl.ID), BulkItem{
		Name: "b", SortOrder: 2, Duration: 3, StartDate: date(2024, 1, 3),
	}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(res.Milestones) != 2 {
		t.Fatalf("fresh read has %d milestones, want 2", len(res.Milestones))
	}
	for i, m := range res.Milestones {
		if m.SortOrder != i+1 {
			t.Errorf("fresh read position %d has order %d", i, m.SortOrder)
		}
		if m.ID == 0 {
			t.Error("fresh read must carry persisted IDs")
		}
	}
	if !res.Milestones[1].EndDate.Equal(date(2024, 1, 5)) {
		t.Errorf("b end = %s, want 2024-01-05", res.Milestones[1].EndDate.Format(time.DateOnly))
	}
}
