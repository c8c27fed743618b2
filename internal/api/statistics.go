package api

import (
	"context"
	"net/http"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// DailyStats reads daily statistics
type DailyStats interface {
	Daily(ctx context.Context, userID, day string) (*models.DailyStatistic, error)
}

type StatisticsHandler struct {
	stats DailyStats
	now   func() time.Time
}

func NewStatisticsHandler(stats DailyStats) *StatisticsHandler {
	return &StatisticsHandler{stats: stats, now: time.Now}
}

// GetDaily returns the acting user's counters for ?day=YYYY-MM-DD, today
// (UTC) by default
func (h *StatisticsHandler) GetDaily(c *gin.Context) {
	userID, ok := actingUser(c)
	if !ok {
		return
	}

	day := c.Query("day")
	if day == "" {
		day = models.DayOf(h.now())
	} else if _, err := time.Parse(models.DayFormat, day); err != nil {
		_ = c.Error(errors.NewValidationError("day must be formatted as YYYY-MM-DD"))
		return
	}

	stat, err := h.stats.Daily(c.Request.Context(), userID, day)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stat)
}
