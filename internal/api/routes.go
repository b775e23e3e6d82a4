package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phaseline/phaseline/internal/events"
	"github.com/phaseline/phaseline/internal/models"
	"github.com/phaseline/phaseline/internal/notify"
	"github.com/phaseline/phaseline/internal/schedule"
	"github.com/phaseline/phaseline/internal/timeline"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type handlers struct {
	db          *gorm.DB
	scheduler   *schedule.Scheduler
	coordinator *schedule.Coordinator
	sink        events.Sink
	notifier    *notify.Notifier
	logger      *zap.Logger
}

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	apiGroup := router.Group("/api")

	apiGroup.POST("/timelines", h.createTimeline)
	apiGroup.GET("/timelines", h.listTimelines)
	apiGroup.GET("/timelines/:id", h.getTimeline)
	apiGroup.PATCH("/timelines/:id", h.updateTimeline)

	apiGroup.POST("/timelines/:id/milestones", h.createMilestone)
	apiGroup.POST("/timelines/:id/milestones/bulk", h.bulkApply)

	apiGroup.GET("/milestones/:id", h.getMilestone)
	apiGroup.PATCH("/milestones/:id", h.updateMilestone)
	apiGroup.DELETE("/milestones/:id", h.deleteMilestone)
	apiGroup.GET("/milestones/:id/history", h.milestoneHistory)
}

type milestoneTemplateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	Hidden      bool   `json:"hidden"`
	Details     string `json:"details"`
}

type timelineCreateRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	StartDate   apiDate                    `json:"startDate"`
	Reference   string                     `json:"reference"`
	ReferenceID uint                       `json:"referenceId"`
	Milestones  []milestoneTemplateRequest `json:"milestones"`
}

func (h *handlers) createTimeline(c *gin.Context) {
	var req timelineCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	opts := timeline.CreateOpts{
		Name:        req.Name,
		Description: req.Description,
		StartDate:   req.StartDate.Time,
		Reference:   req.Reference,
		ReferenceID: req.ReferenceID,
	}
	for _, tpl := range req.Milestones {
		opts.Milestones = append(opts.Milestones, timeline.MilestoneTemplate{
			Name:        tpl.Name,
			Description: tpl.Description,
			Duration:    tpl.Duration,
			Hidden:      tpl.Hidden,
			Details:     tpl.Details,
		})
	}

	tl, err := timeline.Create(h.db, actorFrom(c), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tl)
}

func (h *handlers) listTimelines(c *gin.Context) {
	var query struct {
		Reference   string `form:"reference"`
		ReferenceID uint   `form:"referenceId"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}
	timelines, err := timeline.List(h.db, query.Reference, query.ReferenceID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, timelines)
}

func (h *handlers) getTimeline(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	tl, err := timeline.Get(h.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tl)
}

type timelineUpdateRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	StartDate   *apiDate `json:"startDate"`
	EndDate     *apiDate `json:"endDate"`
}

func (h *handlers) updateTimeline(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req timelineUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tl, err := timeline.Update(h.db, actorFrom(c), id, timeline.UpdateOpts{
		Name:        req.Name,
		Description: req.Description,
		StartDate:   req.StartDate.ptr(),
		EndDate:     req.EndDate.ptr(),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tl)
}

type milestoneCreateRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Order       int     `json:"order"`
	Duration    int     `json:"duration"`
	StartDate   apiDate `json:"startDate"`
	Status      string  `json:"status"`
	Hidden      bool    `json:"hidden"`
	Details     string  `json:"details"`
}

func (h *handlers) createMilestone(c *gin.Context) {
	timelineID, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req milestoneCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.scheduler.Create(actorFrom(c), timelineID, schedule.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.Order,
		Duration:    req.Duration,
		StartDate:   req.StartDate.Time,
		Status:      req.Status,
		Hidden:      req.Hidden,
		Details:     req.Details,
	})
	if err != nil {
		fail(c, err)
		return
	}

	h.publish(events.FromCreate(res)...)
	c.JSON(http.StatusCreated, gin.H{
		"milestone": res.Created,
		"shifted":   updatedOf(res.Shifted),
	})
}

type milestoneUpdateRequest struct {
	Name            *string  `json:"name"`
	Description     *string  `json:"description"`
	Order           *int     `json:"order"`
	Duration        *int     `json:"duration"`
	StartDate       *apiDate `json:"startDate"`
	ActualStartDate *apiDate `json:"actualStartDate"`
	CompletionDate  *apiDate `json:"completionDate"`
	Status          *string  `json:"status"`
	Comment         string   `json:"comment"`
	Hidden          *bool    `json:"hidden"`
	Details         string   `json:"details"`
}

func (h *handlers) updateMilestone(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req milestoneUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.scheduler.Update(actorFrom(c), id, schedule.UpdateInput{
		Name:            req.Name,
		Description:     req.Description,
		SortOrder:       req.Order,
		Duration:        req.Duration,
		StartDate:       req.StartDate.ptr(),
		ActualStartDate: req.ActualStartDate.ptr(),
		CompletionDate:  req.CompletionDate.ptr(),
		Status:          req.Status,
		Comment:         req.Comment,
		Hidden:          req.Hidden,
		Details:         req.Details,
	})
	if err != nil {
		fail(c, err)
		return
	}

	h.publish(events.FromUpdate(res)...)
	h.notifyCompletion(res)

	out := gin.H{"milestone": res.Target.Updated, "also": updatedOf(res.Others)}
	if res.Timeline != nil {
		out["timeline"] = res.Timeline.Updated
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) deleteMilestone(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	deleted, err := schedule.Get(h.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	compacted, err := h.scheduler.Delete(actorFrom(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	h.publish(events.FromDelete(*deleted, compacted)...)
	c.Status(http.StatusNoContent)
}

func (h *handlers) getMilestone(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	m, err := schedule.Get(h.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handlers) milestoneHistory(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	entries, err := schedule.History(h.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type bulkItemRequest struct {
	ID              uint     `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Order           int      `json:"order"`
	Duration        int      `json:"duration"`
	StartDate       apiDate  `json:"startDate"`
	Status          string   `json:"status"`
	Comment         string   `json:"comment"`
	Hidden          bool     `json:"hidden"`
	Details         string   `json:"details"`
	ActualStartDate *apiDate `json:"actualStartDate"`
	CompletionDate  *apiDate `json:"completionDate"`
}

type bulkRequest struct {
	Milestones []bulkItemRequest `json:"milestones"`
}

func (h *handlers) bulkApply(c *gin.Context) {
	timelineID, err := paramID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	items := make([]schedule.BulkItem, 0, len(req.Milestones))
	for _, item := range req.Milestones {
		items = append(items, schedule.BulkItem{
			ID:              item.ID,
			Name:            item.Name,
			Description:     item.Description,
			SortOrder:       item.Order,
			Duration:        item.Duration,
			StartDate:       item.StartDate.Time,
			Status:          item.Status,
			Comment:         item.Comment,
			Hidden:          item.Hidden,
			Details:         item.Details,
			ActualStartDate: item.ActualStartDate.ptr(),
			CompletionDate:  item.CompletionDate.ptr(),
		})
	}

	res, err := h.coordinator.Apply(actorFrom(c), timelineID, items)
	if err != nil {
		fail(c, err)
		return
	}

	h.publish(events.FromBulk(res.Result)...)
	// The response body is always the fresh post-commit read, never state
	// assembled from the mutation results.
	c.JSON(http.StatusOK, gin.H{"milestones": res.Milestones})
}

// publish delivers post-commit events; failures are logged, the mutation has
// already committed.
func (h *handlers) publish(evts ...events.Event) {
	if len(evts) == 0 {
		return
	}
	if err := h.sink.Publish(evts...); err != nil {
		h.logger.Warn("event publish failed", zap.Error(err))
	}
}

// notifyCompletion sends the Slack message when an update completed the
// milestone, naming the successor the cascade activated, if any.
func (h *handlers) notifyCompletion(res *schedule.UpdateResult) {
	if h.notifier == nil {
		return
	}
	m := res.Target
	if m.Updated.Status != schedule.StatusCompleted || m.Original.Status == schedule.StatusCompleted {
		return
	}
	tl, err := timeline.Get(h.db, m.Updated.TimelineID)
	if err != nil {
		h.logger.Warn("load timeline for notification failed", zap.Error(err))
		return
	}

	var next *models.Milestone
	for i := range res.Others {
		ch := res.Others[i]
		if ch.Updated.Status == schedule.StatusActive && ch.Original.Status != schedule.StatusActive {
			next = &res.Others[i].Updated
			break
		}
	}
	h.notifier.MilestoneCompleted(*tl, m.Updated, next)
}

// updatedOf projects change pairs onto their updated rows for response
// bodies.
func updatedOf(changes []schedule.MilestoneChange) []models.Milestone {
	out := make([]models.Milestone, 0, len(changes))
	for _, ch := range changes {
		out = append(out, ch.Updated)
	}
	return out
}
