package api

import (
	"net/http"
	"time"

	"github.com/benmeehan/knock-agent/internal/observability"
	"github.com/benmeehan/knock-agent/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ClaimsKey is the gin context key holding the caller's token claims.
const ClaimsKey = "claims"

// NewRouter builds the HTTP API. A nil auth leaves /v1 open.
func NewRouter(h *Handlers, metrics *observability.Metrics, auth jwt.JWTManagerInterface) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Logger))

	r.GET("/healthz", h.handleHealth)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	v1 := r.Group("/v1")
	if auth != nil {
		v1.Use(requireToken(auth))
	}
	{
		v1.POST("/knocks", h.handleLogKnock)
		v1.GET("/knocks", h.handleKnocksInBounds)
		v1.GET("/knocks/today", h.handleKnocksToday)
		v1.GET("/knocks/:id", h.handleGetKnock)
		v1.PATCH("/knocks/:id", h.handleUpdateKnock)
		v1.DELETE("/knocks/:id", h.handleDeleteKnock)
		v1.GET("/canvassers/:id/knocks", h.handleCanvasserKnocks)
		v1.GET("/stats", h.handleStats)
		v1.GET("/position", h.handlePosition)
		v1.GET("/distance", h.handleDistance)
		v1.GET("/ws/knocks", h.handleKnockFeed)
	}
	return r
}

func requireToken(auth jwt.JWTManagerInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.ParseRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
