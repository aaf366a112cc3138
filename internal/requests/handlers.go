package requests

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/terminal-bench/eventhub/pkg/apperr"
	"github.com/terminal-bench/eventhub/shared/dto"
)

// Handler exposes the request service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the HTTP handler for the request service.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterInternal mounts the service-to-service API. These routes are
// not authenticated; they are reachable only on the internal network.
func (h *Handler) RegisterInternal(r gin.IRouter) {
	internal := r.Group("/internal/requests")
	internal.GET("/events/:eventId", h.eventRequests)
	internal.GET("/by-ids", h.byIDs)
	internal.PUT("/status", h.updateStatuses)
}

// RegisterUser mounts the user-facing surface; callers must be
// authenticated before these run.
func (h *Handler) RegisterUser(r gin.IRouter) {
	user := r.Group("/users/:userId/requests")
	user.POST("", h.join)
	user.GET("", h.list)
	user.PATCH("/:requestId/cancel", h.cancel)
}

func (h *Handler) join(c *gin.Context) {
	userID, ok := matchedUser(c)
	if !ok {
		return
	}

	eventID, err := strconv.ParseInt(c.Query("eventId"), 10, 64)
	if err != nil || eventID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid eventId"})
		return
	}

	req, err := h.svc.Join(c.Request.Context(), userID, eventID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) list(c *gin.Context) {
	userID, ok := matchedUser(c)
	if !ok {
		return
	}

	reqs, err := h.svc.ListByRequester(c.Request.Context(), userID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) cancel(c *gin.Context) {
	userID, ok := matchedUser(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "requestId")
	if !ok {
		return
	}

	req, err := h.svc.Cancel(c.Request.Context(), userID, requestID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) eventRequests(c *gin.Context) {
	eventID, ok := pathID(c, "eventId")
	if !ok {
		return
	}

	// The userId query parameter is accepted for interface compatibility
	// but listing is by event only.
	reqs, err := h.svc.EventRequests(c.Request.Context(), eventID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) byIDs(c *gin.Context) {
	raw := c.Query("requestIds")
	if raw == "" {
		c.JSON(http.StatusOK, []dto.ParticipationRequest{})
		return
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid requestIds"})
			return
		}
		ids = append(ids, id)
	}

	reqs, err := h.svc.ByIDs(c.Request.Context(), ids)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) updateStatuses(c *gin.Context) {
	var upd dto.StatusUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	reqs, err := h.svc.UpdateStatuses(c.Request.Context(), upd)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// matchedUser requires the authenticated user to match the path userId.
func matchedUser(c *gin.Context) (int64, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return 0, false
	}
	userID, ok := v.(int64)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return 0, false
	}

	pathUser, ok := pathID(c, "userId")
	if !ok {
		return 0, false
	}
	if pathUser != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
		return 0, false
	}
	return userID, true
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
