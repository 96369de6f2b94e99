package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenWateringCore/internal/schedule"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type scheduleRequest struct {
	Enabled      bool    `json:"enabled"`
	StartTimeUTC string  `json:"startTimeUtc"`
	RunSeconds   int     `json:"runSeconds"`
	DaysOfWeek   *string `json:"daysOfWeek"`
}

// validate returns a message naming the offending field.
func (r *scheduleRequest) validate() string {
	if r.RunSeconds <= 0 {
		return "runSeconds must be greater than zero."
	}
	if _, err := schedule.ParseStartTime(r.StartTimeUTC); err != nil {
		return "startTimeUtc must be a time of day (HH:MM or HH:MM:SS)."
	}
	if r.DaysOfWeek != nil {
		if _, err := schedule.ParseDays(*r.DaysOfWeek); err != nil {
			return "daysOfWeek must be a comma separated list of Mon..Sun."
		}
	}
	return ""
}

func (r *scheduleRequest) toSchedule(id int64) storage.Schedule {
	days := r.DaysOfWeek
	if days != nil && strings.TrimSpace(*days) == "" {
		days = nil
	}
	return storage.Schedule{
		ID:           id,
		Enabled:      r.Enabled,
		StartTimeUTC: strings.TrimSpace(r.StartTimeUTC),
		RunSeconds:   r.RunSeconds,
		DaysOfWeek:   days,
	}
}

func (s *Server) bindSchedule(c *gin.Context) (*scheduleRequest, bool) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeScheduleBad, "Invalid request body", err.Error()))
		return nil, false
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeScheduleBad, msg, nil))
		return nil, false
	}
	return &req, true
}

func scheduleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeScheduleBad, "Invalid schedule id", c.Param("id")))
		return 0, false
	}
	return id, true
}

// GET /api/schedules
func (s *Server) listSchedules(c *gin.Context) {
	schedules, err := s.lm.Schedules().ListSchedules(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list schedules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeScheduleStore, "Failed to list schedules", nil))
		return
	}
	c.JSON(http.StatusOK, schedules)
}

// POST /api/schedules
func (s *Server) createSchedule(c *gin.Context) {
	req, ok := s.bindSchedule(c)
	if !ok {
		return
	}

	id, err := s.lm.Schedules().AddSchedule(c.Request.Context(), req.toSchedule(0))
	if err != nil {
		s.logger.Error("Failed to create schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeScheduleStore, "Failed to create schedule", nil))
		return
	}

	s.logger.Info("Schedule created", zap.Int64("schedule_id", id))
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// PUT /api/schedules/:id
// Moving the start time clears lastRunDateUtc so the new time can fire today.
func (s *Server) updateSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	req, ok := s.bindSchedule(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	store := s.lm.Schedules()

	existing, err := store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeScheduleAbsent, "Schedule not found", id))
			return
		}
		s.logger.Error("Failed to load schedule", zap.Int64("schedule_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeScheduleStore, "Failed to update schedule", nil))
		return
	}

	updated := req.toSchedule(id)
	found, err := store.UpdateSchedule(ctx, updated)
	if err != nil {
		s.logger.Error("Failed to update schedule", zap.Int64("schedule_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeScheduleStore, "Failed to update schedule", nil))
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeScheduleAbsent, "Schedule not found", id))
		return
	}

	if existing.StartTimeUTC != updated.StartTimeUTC {
		if err := store.ClearLastRunDate(ctx, id); err != nil {
			s.logger.Warn("Failed to clear last run date", zap.Int64("schedule_id", id), zap.Error(err))
		}
	}

	s.logger.Info("Schedule updated", zap.Int64("schedule_id", id))
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// DELETE /api/schedules/:id
func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}

	found, err := s.lm.Schedules().DeleteSchedule(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("Failed to delete schedule", zap.Int64("schedule_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeScheduleStore, "Failed to delete schedule", nil))
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeScheduleAbsent, "Schedule not found", id))
		return
	}

	s.logger.Info("Schedule deleted", zap.Int64("schedule_id", id))
	c.JSON(http.StatusOK, gin.H{"id": id})
}
