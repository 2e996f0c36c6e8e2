package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solharbor/airmend/internal/store"
)

// handleListStations returns all station metadata.
// GET /api/v1/stations
func (s *Server) handleListStations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	stations, err := s.store.ListStations(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stations,
		"meta": gin.H{"count": len(stations)},
	})
}

// handleGetStation returns one station.
// GET /api/v1/stations/:id
func (s *Server) handleGetStation(c *gin.Context) {
	stationID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	station, err := s.store.GetStation(ctx, stationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if station == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": station})
}

type completenessQuery struct {
	Parameter string `form:"parameter" binding:"required"`
	Start     string `form:"start" binding:"omitempty"`
	End       string `form:"end" binding:"omitempty"`
}

// handleCompleteness returns total/missing/imputed counts and percentages for
// one station and parameter.
// GET /api/v1/stations/:id/completeness?parameter=pm25&start=...&end=...
func (s *Server) handleCompleteness(c *gin.Context) {
	stationID := c.Param("id")

	var q completenessQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC().Truncate(time.Hour)
	from := now.Add(-time.Duration(s.cfg.APIDefaultDays) * 24 * time.Hour)
	to := now

	if q.Start != "" {
		t, err := time.Parse(time.RFC3339, q.Start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
		from = t.UTC()
	}
	if q.End != "" {
		t, err := time.Parse(time.RFC3339, q.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
		to = t.UTC()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	summary, err := s.audit.Completeness(ctx, stationID, q.Parameter, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

type auditQuery struct {
	Parameter       string `form:"parameter" binding:"omitempty"`
	Start           string `form:"start" binding:"omitempty"`
	End             string `form:"end" binding:"omitempty"`
	IncludeReverted bool   `form:"include_reverted"`
	Limit           int    `form:"limit" binding:"omitempty,gt=0"`
}

// handleAuditTrail returns the imputation audit trail for one station.
// GET /api/v1/stations/:id/audit
func (s *Server) handleAuditTrail(c *gin.Context) {
	stationID := c.Param("id")

	var q auditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eq := store.EventQuery{
		StationID:       stationID,
		Parameter:       q.Parameter,
		IncludeReverted: q.IncludeReverted,
		Limit:           q.Limit,
	}
	if eq.Limit == 0 {
		eq.Limit = 200
	}
	if q.Start != "" {
		t, err := time.Parse(time.RFC3339, q.Start)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
		tt := t.UTC()
		eq.From = &tt
	}
	if q.End != "" {
		t, err := time.Parse(time.RFC3339, q.End)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
		tt := t.UTC()
		eq.To = &tt
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	events, err := s.audit.Trail(ctx, eq)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": events,
		"meta": gin.H{"count": len(events)},
	})
}

// handleListRuns returns recent ingestion runs.
// GET /api/v1/runs
func (s *Server) handleListRuns(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	runs, err := s.store.ListRuns(ctx, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
		"meta": gin.H{"count": len(runs)},
	})
}

// handleGetRun returns one ingestion run.
// GET /api/v1/runs/:id
func (s *Server) handleGetRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	run, err := s.store.GetRun(ctx, c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}

type rollbackRequest struct {
	StationID string `json:"station_id" binding:"required"`
	TS        string `json:"ts" binding:"required"`
	Parameter string `json:"parameter" binding:"required"`
}

// handleRollback reverts one imputed hour to null and soft-deletes its audit
// event.
// POST /api/v1/rollback
func (s *Server) handleRollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts, err := time.Parse(time.RFC3339, req.TS)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ts timestamp"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	err = s.audit.Rollback(ctx, req.StationID, ts, req.Parameter)
	if errors.Is(err, store.ErrNoLiveEvent) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live imputation for that hour"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reverted"})
}
