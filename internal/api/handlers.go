package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/benmeehan/knock-agent/internal/models"
	"github.com/benmeehan/knock-agent/internal/services"
	"github.com/benmeehan/knock-agent/internal/store"
	"github.com/benmeehan/knock-agent/internal/utils"
	"github.com/benmeehan/knock-agent/pkg/location"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// KnockLogger runs the knock flow.
type KnockLogger interface {
	LogKnock(ctx context.Context, req services.LogKnockRequest) (services.LogResult, error)
}

// PositionReader is the one-shot acquisition surface.
type PositionReader interface {
	AcquireBest(ctx context.Context, maxWait time.Duration, minAccuracy float64) (location.Position, error)
	AcquireQuick(ctx context.Context) (location.Position, error)
}

// Handlers carries the dependencies of every route.
type Handlers struct {
	Knocks     store.KnockRepository
	KnockFlow  KnockLogger
	Positions  PositionReader
	Thresholds location.Thresholds
	Hub        *KnockHub
	Logger     zerolog.Logger

	// OriginPatterns lists the hosts allowed to open the WebSocket feed
	// cross-origin. AllowAnyOrigin disables the check for local development.
	OriginPatterns []string
	AllowAnyOrigin bool

	now func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type positionResponse struct {
	Position      location.Position `json:"position"`
	Rating        location.Rating   `json:"rating"`
	AccuracyLabel string            `json:"accuracy_label"`
}

type boundsQuery struct {
	MinLat *float64 `form:"min_lat" binding:"required"`
	MaxLat *float64 `form:"max_lat" binding:"required"`
	MinLng *float64 `form:"min_lng" binding:"required"`
	MaxLng *float64 `form:"max_lng" binding:"required"`
	Limit  int      `form:"limit"`
}

type distanceQuery struct {
	Lat1 *float64 `form:"lat1" binding:"required"`
	Lng1 *float64 `form:"lng1" binding:"required"`
	Lat2 *float64 `form:"lat2" binding:"required"`
	Lng2 *float64 `form:"lng2" binding:"required"`
}

func (h *Handlers) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *Handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) handleLogKnock(c *gin.Context) {
	var req services.LogKnockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad json")
		return
	}

	res, err := h.KnockFlow.LogKnock(c.Request.Context(), req)
	if err != nil {
		h.writeKnockError(c, err)
		return
	}
	if res.NeedsConfirmation {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handlers) writeKnockError(c *gin.Context, err error) {
	var locErr *location.LocationError
	switch {
	case errors.As(err, &locErr):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: locErr.Message, Code: locErr.Code.String()})
	case errors.Is(err, store.ErrInvalidOutcome), errors.Is(err, services.ErrInvalidPosition):
		badRequest(c, err.Error())
	case errors.Is(err, store.ErrKnockNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("Knock request failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handlers) handleKnocksInBounds(c *gin.Context) {
	var q boundsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "min_lat, max_lat, min_lng and max_lng are required")
		return
	}
	b := models.Bounds{MinLat: *q.MinLat, MaxLat: *q.MaxLat, MinLng: *q.MinLng, MaxLng: *q.MaxLng}
	if err := b.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"knocks": nonNil(h.Knocks.InBounds(b, q.Limit))})
}

func (h *Handlers) handleKnocksToday(c *gin.Context) {
	start, end := utils.DayBounds(h.clock())
	c.JSON(http.StatusOK, gin.H{"knocks": nonNil(h.Knocks.Between(start.UTC(), end.UTC()))})
}

func (h *Handlers) handleGetKnock(c *gin.Context) {
	k, err := h.Knocks.Get(c.Param("id"))
	if err != nil {
		h.writeKnockError(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (h *Handlers) handleUpdateKnock(c *gin.Context) {
	var upd models.KnockUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "bad json")
		return
	}
	k, err := h.Knocks.Update(c.Param("id"), upd)
	if err != nil {
		h.writeKnockError(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (h *Handlers) handleDeleteKnock(c *gin.Context) {
	if err := h.Knocks.Delete(c.Param("id")); err != nil {
		h.writeKnockError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) handleCanvasserKnocks(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"knocks": nonNil(h.Knocks.ByCanvasser(c.Param("id"), limit))})
}

func (h *Handlers) handleStats(c *gin.Context) {
	start, end := utils.DayBounds(h.clock())
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "from must be RFC3339")
			return
		}
		start = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "to must be RFC3339")
			return
		}
		end = t
	}
	if !end.After(start) {
		badRequest(c, "to must be after from")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":  start.UTC(),
		"to":    end.UTC(),
		"stats": h.Knocks.Stats(start.UTC(), end.UTC()),
	})
}

func (h *Handlers) handlePosition(c *gin.Context) {
	var (
		pos location.Position
		err error
	)
	switch mode := c.DefaultQuery("mode", location.ModeBest); mode {
	case location.ModeQuick:
		pos, err = h.Positions.AcquireQuick(c.Request.Context())
	case location.ModeBest:
		// zero values fall back to the configured defaults
		pos, err = h.Positions.AcquireBest(c.Request.Context(), 0, 0)
	default:
		badRequest(c, "mode must be quick or best")
		return
	}
	if err != nil {
		locErr := location.AsLocationError(err)
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: locErr.Message, Code: locErr.Code.String()})
		return
	}
	c.JSON(http.StatusOK, positionResponse{
		Position:      pos,
		Rating:        h.Thresholds.Classify(pos.Accuracy),
		AccuracyLabel: location.FormatAccuracy(pos.Accuracy),
	})
}

func (h *Handlers) handleDistance(c *gin.Context) {
	var q distanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "lat1, lng1, lat2 and lng2 are required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"meters": location.Distance(*q.Lat1, *q.Lng1, *q.Lat2, *q.Lng2)})
}

func nonNil(knocks []models.Knock) []models.Knock {
	if knocks == nil {
		return []models.Knock{}
	}
	return knocks
}
