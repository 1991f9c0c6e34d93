package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-tracker/internal/domain/anpr"
	"anpr-tracker/internal/service"
)

var errPersistenceDisabled = errors.New("plate history is not available: database disabled")

type Handler struct {
	engine *service.Engine
	plates *service.PlateService
	hub    *Hub
	log    zerolog.Logger
}

// NewHandler wires the API. plates may be nil when persistence is disabled.
func NewHandler(
	engine *service.Engine,
	plates *service.PlateService,
	hub *Hub,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		engine: engine,
		plates: plates,
		hub:    hub,
		log:    log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	public := r.Group("/api/v1")
	{
		public.POST("/detections", h.postDetections)
		public.POST("/readings", h.postLiveReadings)
		public.POST("/tracks/:id/readings", h.postTrackReadings)
		public.POST("/captures/:id/readings", h.postCaptureReadings)
		public.GET("/tracks", h.listTracks)
		public.GET("/tracks/:id", h.getTrack)
		public.GET("/captures/pending", h.getPendingCapture)
		public.GET("/target", h.getTarget)
		public.GET("/plates", h.listPlates)
		public.GET("/alerts", h.listAlerts)
		if h.hub != nil {
			public.GET("/alerts/ws", h.hub.Serve)
		}
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.DELETE("/captures/pending", h.releaseCapture)
		protected.PUT("/target", h.putTarget)
		protected.DELETE("/target", h.deleteTarget)
		protected.POST("/session/reset", h.resetSession)
	}
}

type detectionsRequest struct {
	Rects []anpr.Rect `json:"rects"`
}

type readingsRequest struct {
	Readings []anpr.CandidateReading `json:"readings"`
}

type targetRequest struct {
	Target string `json:"target"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) postDetections(c *gin.Context) {
	var req detectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	plates := h.engine.OnDetections(req.Rects)
	c.JSON(http.StatusOK, successResponse(nonNil(plates)))
}

func (h *Handler) postLiveReadings(c *gin.Context) {
	var req readingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, successResponse(h.engine.OnCandidateReadings(uuid.Nil, req.Readings)))
}

func (h *Handler) postTrackReadings(c *gin.Context) {
	trackID, ok := parseID(c)
	if !ok {
		return
	}
	var req readingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, successResponse(h.engine.OnCandidateReadings(trackID, req.Readings)))
}

func (h *Handler) postCaptureReadings(c *gin.Context) {
	requestID, ok := parseID(c)
	if !ok {
		return
	}
	var req readingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, successResponse(h.engine.CompleteCapture(requestID, req.Readings)))
}

func (h *Handler) listTracks(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(nonNil(h.engine.CurrentPlates())))
}

func (h *Handler) getTrack(c *gin.Context) {
	trackID, ok := parseID(c)
	if !ok {
		return
	}
	plate, err := h.engine.Plate(trackID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(plate))
}

func (h *Handler) getPendingCapture(c *gin.Context) {
	req, ok := h.engine.PendingCapture()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, successResponse(req))
}

func (h *Handler) releaseCapture(c *gin.Context) {
	released := h.engine.ReleaseCapture()
	h.log.Info().Str("operator", operator(c)).Bool("released", released).Msg("capture release requested")
	c.JSON(http.StatusOK, successResponse(gin.H{"released": released}))
}

func (h *Handler) getTarget(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.engine.Target()))
}

func (h *Handler) putTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	status := h.engine.SetTarget(req.Target)
	h.log.Info().Str("operator", operator(c)).Str("target", status.Target).Msg("target updated")
	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) deleteTarget(c *gin.Context) {
	h.engine.ClearTarget()
	h.log.Info().Str("operator", operator(c)).Msg("target cleared")
	c.JSON(http.StatusOK, successResponse(h.engine.Target()))
}

func (h *Handler) resetSession(c *gin.Context) {
	h.engine.Reset()
	h.log.Info().Str("operator", operator(c)).Msg("session reset")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listPlates(c *gin.Context) {
	if h.plates == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse(errPersistenceDisabled.Error()))
		return
	}
	plateQuery := strings.TrimSpace(c.Query("plate"))
	if plateQuery == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}

	plates, err := h.plates.FindPlates(c.Request.Context(), plateQuery)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(plates))
}

func (h *Handler) listAlerts(c *gin.Context) {
	if h.plates == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse(errPersistenceDisabled.Error()))
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	alerts, err := h.plates.FindAlerts(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(alerts))
}

// parseID reads the :id path parameter. The nil uuid is rejected because it
// addresses the live path, which has its own endpoint.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// operator names the authenticated caller, or "anonymous" when auth is off.
func operator(c *gin.Context) string {
	if sub := c.GetString(SubjectKey); sub != "" {
		return sub
	}
	return "anonymous"
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func nonNil(plates []anpr.TrackedPlate) []anpr.TrackedPlate {
	if plates == nil {
		return []anpr.TrackedPlate{}
	}
	return plates
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
