package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/habito/internal/service"
)

// GetOverviewStatistics 汇总当前用户的全部习惯
func (a *API) GetOverviewStatistics(c *gin.Context) {
	overview, err := a.stats.Overview(c.Request.Context(), currentUser(c), a.clock())
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// GetHabitStatistics 返回单个习惯的概要统计
func (a *API) GetHabitStatistics(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	stats, err := a.stats.Basic(c.Request.Context(), currentUser(c), habitID, a.clock())
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetDetailedHabitStatistics 返回习惯详情页的图表数据
func (a *API) GetDetailedHabitStatistics(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	stats, err := a.stats.Detailed(c.Request.Context(), currentUser(c), habitID, a.clock())
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) handleStatisticsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrInvalidRange):
		respondError(c, http.StatusBadRequest, "查询区间无效")
	default:
		a.log.Error("statistics failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "统计数据暂时不可用，请稍后重试")
	}
}
