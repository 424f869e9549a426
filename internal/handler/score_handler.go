package handler

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habito/internal/engine"
)

type scorePointPayload struct {
	Date            string  `json:"date"`
	Score           float64 `json:"score"`
	ScorePercentage float64 `json:"score_percentage"`
}

// GetCurrentScore 返回今天的强度分
func (a *API) GetCurrentScore(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	now := a.clock()
	score, err := a.stats.CurrentScore(c.Request.Context(), currentUser(c), habitID, now)
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"habit_id":         habitID,
		"date":             now.Format(dateFormat),
		"score":            score,
		"score_percentage": percentage(score),
	})
}

// GetScoreHistory 返回最近 days 天（默认 90，最多 365）的强度分
func (a *API) GetScoreHistory(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}
	days, ok := parseIntQuery(c, "days", 0)
	if !ok {
		respondError(c, http.StatusBadRequest, "days 参数无效")
		return
	}

	points, err := a.stats.ScoreHistory(c.Request.Context(), currentUser(c), habitID, days, a.clock())
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit_id": habitID, "scores": scorePointsToPayload(points)})
}

// RecalculateScores 完整重写派生行并返回今天的强度分
func (a *API) RecalculateScores(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	userID := currentUser(c)
	now := a.clock()
	if _, err := a.derived.Recalculate(c.Request.Context(), userID, habitID, now); err != nil {
		a.handleHabitError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), habitID)

	score, err := a.stats.CurrentScore(c.Request.Context(), userID, habitID, now)
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"habit_id":         habitID,
		"score":            score,
		"score_percentage": percentage(score),
		"recalculated":     true,
	})
}

func scorePointsToPayload(points []engine.ScorePoint) []scorePointPayload {
	items := make([]scorePointPayload, 0, len(points))
	for _, point := range points {
		items = append(items, scorePointPayload{
			Date:            point.Date.Format(dateFormat),
			Score:           point.Value,
			ScorePercentage: percentage(point.Value),
		})
	}
	return items
}

func percentage(score float64) float64 {
	return math.Round(score*10000) / 100
}
