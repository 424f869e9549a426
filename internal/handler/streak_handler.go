package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
)

type streakPayload struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Length    int    `json:"length"`
}

// GetHabitStreaks 返回当前连胜、最佳连胜与全部区间
func (a *API) GetHabitStreaks(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	result, err := a.stats.Streaks(c.Request.Context(), currentUser(c), habitID, a.clock())
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}

	intervals := make([]streakPayload, 0, len(result.Intervals))
	for _, interval := range result.Intervals {
		intervals = append(intervals, engineStreakToPayload(interval))
	}
	var best *streakPayload
	if result.BestInterval != nil {
		payload := engineStreakToPayload(*result.BestInterval)
		best = &payload
	}

	c.JSON(http.StatusOK, gin.H{
		"habit_id":       habitID,
		"current_streak": result.Current,
		"best_streak":    result.Best,
		"best":           best,
		"streaks":        intervals,
	})
}

// RecalculateHabitStreaks 完整重写派生行并返回存储的连胜区间
func (a *API) RecalculateHabitStreaks(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	userID := currentUser(c)
	if _, err := a.derived.Recalculate(c.Request.Context(), userID, habitID, a.clock()); err != nil {
		a.handleHabitError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), habitID)

	rows, err := a.derived.StoredStreaks(c.Request.Context(), userID, habitID)
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}
	intervals := make([]streakPayload, 0, len(rows))
	for _, row := range rows {
		intervals = append(intervals, storedStreakToPayload(row))
	}

	c.JSON(http.StatusOK, gin.H{"habit_id": habitID, "streaks": intervals})
}

func engineStreakToPayload(s engine.Streak) streakPayload {
	return streakPayload{StartDate: s.Start.Format(dateFormat), EndDate: s.End.Format(dateFormat), Length: s.Length}
}

func storedStreakToPayload(s db.Streak) streakPayload {
	return streakPayload{StartDate: s.StartDate.UTC().Format(dateFormat), EndDate: s.EndDate.UTC().Format(dateFormat), Length: s.Length}
}
