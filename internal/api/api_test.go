package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
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

type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) Publish(evts ...events.Event) error {
	s.events = append(s.events, evts...)
	return nil
}

func testRouter(t *testing.T) (*gin.Engine, *gorm.DB, *recordingSink) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testDB(t)
	sink := &recordingSink{}
	s := schedule.New(db, schedule.Options{})
	h := &handlers{
		db:          db,
		scheduler:   s,
		coordinator: schedule.NewCoordinator(s),
		sink:        sink,
		logger:      zap.NewNop(),
	}
	router := gin.New()
	registerRoutes(router, h)
	return router, db, sink
}

func do(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %s: %v", w.Body.String(), err)
	}
	return out
}

func createTimeline(t *testing.T, router *gin.Engine) uint {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/timelines", map[string]any{
		"name":        "launch",
		"startDate":   "2024-01-01",
		"reference":   "project",
		"referenceId": 1,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create timeline: %d %s", w.Code, w.Body.String())
	}
	return uint(decode(t, w)["ID"].(float64))
}

func createMilestone(t *testing.T, router *gin.Engine, tlID uint, name string, order, duration int, start string) uint {
	t.Helper()
	w := do(t, router, http.MethodPost, fmt.Sprintf("/api/timelines/%d/milestones", tlID), map[string]any{
		"name":      name,
		"order":     order,
		"duration":  duration,
		"startDate": start,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create milestone %s: %d %s", name, w.Code, w.Body.String())
	}
	body := decode(t, w)
	return uint(body["milestone"].(map[string]any)["ID"].(float64))
}

func TestTimelineLifecycle(t *testing.T) {
	router, _, _ := testRouter(t)

	id := createTimeline(t, router)

	w := do(t, router, http.MethodGet, fmt.Sprintf("/api/timelines/%d", id), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get timeline: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["Name"]; got != "launch" {
		t.Errorf("name = %v", got)
	}

	w = do(t, router, http.MethodPatch, fmt.Sprintf("/api/timelines/%d", id), map[string]any{
		"name": "launch-v2",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("patch timeline: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/api/timelines?reference=project&referenceId=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list timelines: %d", w.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0]["Name"] != "launch-v2" {
		t.Errorf("list = %v", list)
	}
}

func TestTimeline_NotFoundAndBadID(t *testing.T) {
	router, _, _ := testRouter(t)

	if w := do(t, router, http.MethodGet, "/api/timelines/999", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing timeline status = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/api/timelines/abc", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func TestMilestoneCreate_PublishesEvent(t *testing.T) {
	router, _, sink := testRouter(t)
	tlID := createTimeline(t, router)

	createMilestone(t, router, tlID, "design", 1, 5, "2024-01-01")

	if len(sink.events) != 1 || sink.events[0].Topic != events.TopicMilestoneCreated {
		t.Errorf("events = %+v, want one milestone.created", sink.events)
	}
}

func TestMilestoneUpdate_CompletionCascadesInResponse(t *testing.T) {
	router, _, sink := testRouter(t)
	tlID := createTimeline(t, router)
	aID := createMilestone(t, router, tlID, "a", 1, 5, "2024-01-01")
	createMilestone(t, router, tlID, "b", 2, 3, "2024-01-06")
	sink.events = nil

	w := do(t, router, http.MethodPatch, fmt.Sprintf("/api/milestones/%d", aID), map[string]any{
		"status":         "completed",
		"completionDate": "2024-01-10",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}

	body := decode(t, w)
	target := body["milestone"].(map[string]any)
	if target["Status"] != "completed" {
		t.Errorf("status = %v", target["Status"])
	}
	if target["Duration"].(float64) != 10 {
		t.Errorf("duration = %v, want 10", target["Duration"])
	}

	also := body["also"].([]any)
	if len(also) != 1 {
		t.Fatalf("also = %v, want the cascaded successor", also)
	}
	successor := also[0].(map[string]any)
	if successor["Status"] != "active" {
		t.Errorf("successor status = %v, want active", successor["Status"])
	}
	if !strings.HasPrefix(successor["StartDate"].(string), "2024-01-11") {
		t.Errorf("successor start = %v, want 2024-01-11", successor["StartDate"])
	}

	tl := body["timeline"].(map[string]any)
	if !strings.HasPrefix(tl["EndDate"].(string), "2024-01-13") {
		t.Errorf("timeline end = %v, want 2024-01-13", tl["EndDate"])
	}

	// Events: target updated, successor updated, timeline adjusted.
	topics := map[string]int{}
	for _, e := range sink.events {
		topics[e.Topic]++
	}
	if topics[events.TopicMilestoneUpdated] != 2 || topics[events.TopicTimelineAdjusted] != 1 {
		t.Errorf("published topics = %v", topics)
	}
}

func TestMilestoneUpdate_ErrorMapping(t *testing.T) {
	router, _, _ := testRouter(t)
	tlID := createTimeline(t, router)
	aID := createMilestone(t, router, tlID, "a", 1, 5, "2024-01-01")

	// Invalid transition: pause without comment.
	w := do(t, router, http.MethodPatch, fmt.Sprintf("/api/milestones/%d", aID), map[string]any{
		"status": "paused",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("commentless pause status = %d, want 400", w.Code)
	}

	// Out of bounds start.
	w = do(t, router, http.MethodPatch, fmt.Sprintf("/api/milestones/%d", aID), map[string]any{
		"startDate": "2023-12-01",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-bounds status = %d, want 400", w.Code)
	}

	// Locked date without admin header, then with it.
	w = do(t, router, http.MethodPatch, fmt.Sprintf("/api/milestones/%d", aID), map[string]any{
		"status":         "completed",
		"completionDate": "2024-01-05",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPatch, fmt.Sprintf("/api/milestones/%d", aID), map[string]any{
		"completionDate": "2024-01-04",
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("locked date status = %d, want 403", w.Code)
	}
	w = do(t, router, http.MethodPatch, fmt.Sprintf("/api/milestones/%d", aID), map[string]any{
		"completionDate": "2024-01-04",
	}, map[string]string{"X-Admin": "true"})
	if w.Code != http.StatusOK {
		t.Errorf("admin locked-date edit status = %d, want 200: %s", w.Code, w.Body.String())
	}

	// Missing milestone.
	w = do(t, router, http.MethodPatch, "/api/milestones/999", map[string]any{"name": "x"}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing milestone status = %d, want 404", w.Code)
	}
}

func TestMilestoneDelete(t *testing.T) {
	router, _, sink := testRouter(t)
	tlID := createTimeline(t, router)
	aID := createMilestone(t, router, tlID, "a", 1, 2, "2024-01-01")
	sink.events = nil

	w := do(t, router, http.MethodDelete, fmt.Sprintf("/api/milestones/%d", aID), nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	if len(sink.events) != 1 || sink.events[0].Topic != events.TopicMilestoneDeleted {
		t.Errorf("events = %+v", sink.events)
	}

	if w := do(t, router, http.MethodGet, fmt.Sprintf("/api/milestones/%d", aID), nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("get deleted milestone status = %d, want 404", w.Code)
	}
}

func TestMilestoneHistory(t *testing.T) {
	router, _, _ := testRouter(t)
	tlID := createTimeline(t, router)
	aID := createMilestone(t, router, tlID, "a", 1, 2, "2024-01-01")

	w := do(t, router, http.MethodPatch, fmt.Sprintf("/api/milestones/%d", aID), map[string]any{
		"status": "active",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate: %d", w.Code)
	}

	w = do(t, router, http.MethodGet, fmt.Sprintf("/api/milestones/%d/history", aID), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 2 || entries[0]["Status"] != "active" || entries[1]["Status"] != "planned" {
		t.Errorf("history = %v", entries)
	}
}

func TestBulkApply_RespondsWithFreshList(t *testing.T) {
	router, _, _ := testRouter(t)
	tlID := createTimeline(t, router)
	aID := createMilestone(t, router, tlID, "a", 1, 2, "2024-01-01")

	w := do(t, router, http.MethodPost, fmt.Sprintf("/api/timelines/%d/milestones/bulk", tlID), map[string]any{
		"milestones": []map[string]any{
			{"id": aID, "name": "a", "order": 1, "duration": 2, "startDate": "2024-01-01"},
			{"name": "b", "order": 2, "duration": 3, "startDate": "2024-01-03"},
		},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: %d %s", w.Code, w.Body.String())
	}

	body := decode(t, w)
	milestones := body["milestones"].([]any)
	if len(milestones) != 2 {
		t.Fatalf("fresh list has %d entries, want 2", len(milestones))
	}
	second := milestones[1].(map[string]any)
	if second["Name"] != "b" || second["SortOrder"].(float64) != 2 {
		t.Errorf("second entry = %v", second)
	}
	if second["ID"].(float64) == 0 {
		t.Error("fresh list must carry persisted IDs")
	}
}

func TestBulkApply_CrossTimelineReferenceFails(t *testing.T) {
	router, _, _ := testRouter(t)
	tlA := createTimeline(t, router)
	tlB := createTimeline(t, router)
	foreign := createMilestone(t, router, tlB, "other", 1, 1, "2024-01-01")

	w := do(t, router, http.MethodPost, fmt.Sprintf("/api/timelines/%d/milestones/bulk", tlA), map[string]any{
		"milestones": []map[string]any{
			{"id": foreign, "name": "other", "order": 1, "duration": 1, "startDate": "2024-01-01"},
		},
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("cross-timeline bulk status = %d, want 404", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{schedule.ErrNotFound, http.StatusNotFound},
		{schedule.ErrForbidden, http.StatusForbidden},
		{schedule.ErrOutOfTimelineBounds, http.StatusBadRequest},
		{schedule.ErrInvalidTransition, http.StatusBadRequest},
		{schedule.ErrInvalidDateRange, http.StatusBadRequest},
		{schedule.ErrOrderConflict, http.StatusBadRequest},
		{schedule.ErrHistoryUnavailable, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", schedule.ErrNotFound), http.StatusNotFound},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
