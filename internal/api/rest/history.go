package rest

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// recentLimit reads ?limit=, falling back to the default for missing or
// non-positive values and capping at maxRecentLimit.
func recentLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

// GET /api/history/recent
func (s *Server) recentHistory(c *gin.Context) {
	entries, err := s.lm.History().RecentRunHistory(c.Request.Context(), recentLimit(c))
	if err != nil {
		s.logger.Error("Failed to load run history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeHistoryStore, "Failed to load run history", nil))
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GET /api/alarms/recent
// Served from memory, so it keeps working while the database is down.
func (s *Server) recentAlarms(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Alarms().GetRecent(recentLimit(c)))
}
