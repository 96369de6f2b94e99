package rest

import (
	"net/http"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/pump"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type startPumpRequest struct {
	RunSeconds *int `json:"runSeconds" binding:"required"`
}

// POST /api/pump/start
func (s *Server) startPump(c *gin.Context) {
	var req startPumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodePumpInvalid, "Invalid request body", "runSeconds is required"))
		return
	}

	requestedAt := s.now().UTC()
	result := s.lm.Pump().StartManual(c.Request.Context(), *req.RunSeconds)
	s.recordManualRun(c, requestedAt, *req.RunSeconds, result)

	s.respondCommand(c, result)
}

// POST /api/pump/stop
func (s *Server) stopPump(c *gin.Context) {
	requestedAt := s.now().UTC()
	result := s.lm.Pump().StopManual(c.Request.Context())
	s.recordManualRun(c, requestedAt, 0, result)

	s.respondCommand(c, result)
}

func (s *Server) respondCommand(c *gin.Context, result types.CommandResult) {
	switch {
	case result.Success:
		c.JSON(http.StatusOK, result)
	case result.Reason == pump.ReasonInvalidDuration:
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodePumpInvalid, result.Error, result))
	default:
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodePumpBlocked, result.Error, result))
	}
}

// recordManualRun writes the outcome of a manual request to the run history.
// A failed write is logged; the command outcome stands.
func (s *Server) recordManualRun(c *gin.Context, requestedAt time.Time, runSeconds int, result types.CommandResult) {
	entry := storage.RunHistoryEntry{
		RequestedAt: requestedAt,
		RunSeconds:  runSeconds,
		Allowed:     result.Success,
		Reason:      result.Reason,
	}
	if _, err := s.lm.History().AddRunHistory(c.Request.Context(), entry); err != nil {
		s.logger.Error("Failed to record manual run", zap.String("reason", result.Reason), zap.Error(err))
	}
}

// GET /api/pump/latest
func (s *Server) latestPumpState(c *gin.Context) {
	snap, ok := s.lm.PumpStates().GetLatest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, snap.Update())
}

// GET /api/waterlevel/latest
func (s *Server) latestWaterLevel(c *gin.Context) {
	snap, ok := s.lm.WaterLevels().GetLatest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, snap.Update())
}
