package events

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// Handler exposes the event service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the HTTP handler for the event service.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterInternal mounts the service-to-service capacity API. These
// routes are not authenticated; they are reachable only on the internal
// network.
func (h *Handler) RegisterInternal(r gin.IRouter) {
	internal := r.Group("/events/internal")
	internal.GET("/:eventId", h.snapshot)
	internal.PUT("/:eventId/increment-confirmed", h.incrementConfirmed)
}

// RegisterUser mounts the user-facing surface; callers must be
// authenticated before these run.
func (h *Handler) RegisterUser(r gin.IRouter) {
	r.POST("/events", h.create)
	r.PATCH("/admin/events/:eventId", h.moderate)

	owner := r.Group("/users/:userId/events/:eventId/requests")
	owner.GET("", h.eventRequests)
	owner.PATCH("", h.approveRequests)
}

func (h *Handler) snapshot(c *gin.Context) {
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}

	snap, err := h.svc.Snapshot(c.Request.Context(), eventID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) incrementConfirmed(c *gin.Context) {
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}

	snap, err := h.svc.IncrementConfirmed(c.Request.Context(), eventID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) create(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		return
	}

	var in NewEvent
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	e, err := h.svc.Create(c.Request.Context(), userID, in)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, e.Snapshot())
}

func (h *Handler) moderate(c *gin.Context) {
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}

	var in struct {
		StateAction string `json:"stateAction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	e, err := h.svc.Moderate(c.Request.Context(), eventID, in.StateAction)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, e.Snapshot())
}

func (h *Handler) eventRequests(c *gin.Context) {
	ownerID, eventID, ok := ownerAndEvent(c)
	if !ok {
		return
	}

	reqs, err := h.svc.EventRequests(c.Request.Context(), ownerID, eventID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) approveRequests(c *gin.Context) {
	ownerID, eventID, ok := ownerAndEvent(c)
	if !ok {
		return
	}

	var upd dto.StatusUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if upd.Status != dto.StatusConfirmed && upd.Status != dto.StatusRejected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be CONFIRMED or REJECTED"})
		return
	}

	result, err := h.svc.ApproveRequests(c.Request.Context(), ownerID, eventID, upd)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func ownerAndEvent(c *gin.Context) (ownerID, eventID int64, ok bool) {
	ownerID, ok = authedUser(c)
	if !ok {
		return 0, 0, false
	}
	pathUser, okUser := pathID(c, "userId")
	if !okUser {
		return 0, 0, false
	}
	if pathUser != ownerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
		return 0, 0, false
	}
	eventID, ok = pathID(c, "eventId")
	if !ok {
		return 0, 0, false
	}
	return ownerID, eventID, true
}

func authedUser(c *gin.Context) (int64, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return 0, false
	}
	id, ok := v.(int64)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func abortWith(c *gin.Context, err error) {
	c.JSON(apperr.Status(err), gin.H{"error": err.Error()})
}
