package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AndriyKy/spot-gazer/internal/occupancy"
	"github.com/AndriyKy/spot-gazer/internal/state"
)

const maxOccupancyLimit = 1000

// handleHealth returns the full health report
func (s *Server) handleHealth(c *gin.Context) {
	report := s.health.Check(c.Request.Context())

	statusCode := http.StatusOK
	if !report.Ready() {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

// handleLiveness handles the liveness probe
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// handleReadiness handles the readiness probe
func (s *Server) handleReadiness(c *gin.Context) {
	report := s.health.Check(c.Request.Context())

	statusCode := http.StatusOK
	if !report.Ready() {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"ready":     report.Ready(),
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	lots := s.scheduler.Lots()
	if lots == nil {
		lots = []occupancy.LotStatus{}
	}
	rejected := make([]string, 0)
	for _, err := range s.scheduler.Rejected() {
		rejected = append(rejected, err.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"services":       s.health.Services(),
		"lots":           lots,
		"rejected_lots":  rejected,
	})
}

// handleListLots lists lots with their latest occupancy
func (s *Server) handleListLots(c *gin.Context) {
	summaries, err := s.lots.LotSummaries(c.Request.Context())
	if err != nil {
		s.LogError("Failed to list lots", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list lots"})
		return
	}
	if summaries == nil {
		summaries = []state.LotSummary{}
	}

	c.JSON(http.StatusOK, gin.H{
		"lots":  summaries,
		"count": len(summaries),
	})
}

// handleGetLot returns a lot with its streams
func (s *Server) handleGetLot(c *gin.Context) {
	id, ok := lotID(c)
	if !ok {
		return
	}

	lot, err := s.lots.GetLot(c.Request.Context(), id)
	if err != nil {
		s.LogError("Failed to get lot", err, "lot_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get lot"})
		return
	}
	if lot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lot not found"})
		return
	}

	streams, err := s.lots.ListStreams(c.Request.Context(), id)
	if err != nil {
		s.LogError("Failed to list streams", err, "lot_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list streams"})
		return
	}
	if streams == nil {
		streams = []state.StreamState{}
	}

	c.JSON(http.StatusOK, gin.H{
		"lot":     lot,
		"streams": streams,
	})
}

// handleLotOccupancy returns the newest occupancy records of a lot
func (s *Server) handleLotOccupancy(c *gin.Context) {
	id, ok := lotID(c)
	if !ok {
		return
	}

	limit := state.DefaultOccupancyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if n > maxOccupancyLimit {
			n = maxOccupancyLimit
		}
		limit = n
	}

	lot, err := s.lots.GetLot(c.Request.Context(), id)
	if err != nil {
		s.LogError("Failed to get lot", err, "lot_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get lot"})
		return
	}
	if lot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lot not found"})
		return
	}

	records, err := s.lots.ListOccupancy(c.Request.Context(), id, limit)
	if err != nil {
		s.LogError("Failed to list occupancy", err, "lot_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list occupancy"})
		return
	}
	if records == nil {
		records = []state.OccupancyState{}
	}

	c.JSON(http.StatusOK, gin.H{
		"lot_id":    id,
		"occupancy": records,
		"count":     len(records),
	})
}

func lotID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lot id"})
		return 0, false
	}
	return id, true
}
