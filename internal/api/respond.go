package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phaseline/phaseline/internal/schedule"
)

// statusFor maps the engine's error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schedule.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, schedule.ErrOutOfTimelineBounds),
		errors.Is(err, schedule.ErrInvalidTransition),
		errors.Is(err, schedule.ErrInvalidDateRange),
		errors.Is(err, schedule.ErrOrderConflict):
		return http.StatusBadRequest
	default:
		// ErrHistoryUnavailable is a data integrity gap, not caller error.
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// actorFrom reads the already-authenticated caller identity the fronting
// gateway injects. Authentication itself is not this service's concern; the
// admin header feeds the engine's locked-date capability check.
func actorFrom(c *gin.Context) schedule.Actor {
	id, _ := strconv.Atoi(c.GetHeader("X-User-Id"))
	return schedule.Actor{
		ID:                 id,
		CanEditLockedDates: c.GetHeader("X-Admin") == "true",
	}
}

func paramID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("api: invalid %s %q", name, c.Param(name))
	}
	return uint(id), nil
}

// apiDate marshals as a bare 2006-01-02 date.
type apiDate struct {
	time.Time
}

func (d *apiDate) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		return nil
	}
	t, err := time.Parse(`"`+time.DateOnly+`"`, s)
	if err != nil {
		return fmt.Errorf("api: parse date %s: %w", s, err)
	}
	d.Time = t
	return nil
}

func (d apiDate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *apiDate) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
