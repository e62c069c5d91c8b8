package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"solbot/internal/hours"
	"solbot/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	dbOK := s.repo.HealthCheck(ctx) == nil
	cacheOK := s.cache != nil && s.cache.IsHealthy()

	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"database": dbOK,
		"cache":    cacheOK,
		"engine":   s.eng.Status().State,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.eng.Status()
	if s.cache != nil {
		if err := s.cache.SetStatus(c.Request.Context(), status); err != nil && !errors.Is(err, store.ErrCacheUnavailable) {
			s.logger.Warn().Err(err).Msg("status cache update failed")
		}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.eng.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.eng.Status().State})
}

func (s *Server) handleStop(c *gin.Context) {
	s.eng.Stop()
	c.JSON(http.StatusOK, gin.H{"state": s.eng.Status().State})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"positions": s.eng.Manager().OpenPositions(),
		"cooldowns": s.eng.Manager().Cooldowns(),
	})
}

type closeRequest struct {
	Price float64 `json:"price" binding:"required,gt=0"`
}

func (s *Server) handleClosePosition(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trade, err := s.eng.ClosePosition(c.Request.Context(), c.Param("id"), req.Price)
	if err != nil {
		if errors.Is(err, store.ErrPersistence) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	trades, err := s.repo.GetTradeHistory(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleSignals(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	signals, err := s.repo.GetRecentSignals(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) handleBalanceHistory(c *gin.Context) {
	days := intQuery(c, "days", 30)
	history, err := s.repo.GetBalanceHistory(c.Request.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// handleHourStats recomputes per-hour win rates from trade history.
func (s *Server) handleHourStats(c *gin.Context) {
	days := intQuery(c, "days", 30)
	trades, err := s.repo.GetTradesSince(c.Request.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours.AnalyzeTradesByHour(trades)})
}

func (s *Server) handleListSettings(c *gin.Context) {
	ctx := c.Request.Context()
	if s.cache != nil {
		if cached, err := s.cache.GetSettings(ctx); err == nil {
			c.JSON(http.StatusOK, gin.H{"settings": cached, "cached": true})
			return
		}
	}
	settings, err := s.repo.ListSettings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.cache != nil {
		if err := s.cache.SetSettings(ctx, settings); err != nil && !errors.Is(err, store.ErrCacheUnavailable) {
			s.logger.Warn().Err(err).Msg("settings cache update failed")
		}
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) handleGetSetting(c *gin.Context) {
	setting, err := s.repo.GetSetting(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, store.ErrSettingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, setting)
}

type setSettingRequest struct {
	Value string          `json:"value" binding:"required"`
	Type  store.ValueType `json:"type" binding:"required"`
	Actor string          `json:"actor"`
}

func (s *Server) handleSetSetting(c *gin.Context) {
	var req setSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}
	key := c.Param("key")
	if err := s.repo.SetSetting(c.Request.Context(), key, req.Type, req.Value, actor); err != nil {
		if errors.Is(err, store.ErrPersistence) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.cache != nil {
		s.cache.InvalidateSettings(c.Request.Context())
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
