package stats

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes read access to the registration counters.
type Handler struct {
	collector *Collector
}

// NewHandler creates the HTTP handler for the stats service.
func NewHandler(collector *Collector) *Handler {
	return &Handler{collector: collector}
}

// Register mounts the stats routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/stats/events/:eventId", h.eventStats)
}

func (h *Handler) eventStats(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("eventId"), 10, 64)
	if err != nil || eventID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid eventId"})
		return
	}

	total, err := h.collector.EventRegistrations(c.Request.Context(), eventID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eventId": eventID, "registrations": total})
}
