package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habito/internal/db"
	"github.com/habito/internal/service"
)

type habitPayload struct {
	Name            *string  `json:"name"`
	Description     *string  `json:"description"`
	Question        *string  `json:"question"`
	HabitType       *string  `json:"habit_type"`
	TargetValue     *float64 `json:"target_value"`
	TargetType      *string  `json:"target_type"`
	Unit            *string  `json:"unit"`
	FreqNum         *int     `json:"freq_num"`
	FreqDen         *int     `json:"freq_den"`
	WeekdaySchedule *int     `json:"weekday_schedule"`
	Color           *int     `json:"color"`
	Position        *int     `json:"position"`
}

func (p habitPayload) toInput() service.HabitInput {
	return service.HabitInput{
		Name:            p.Name,
		Description:     p.Description,
		Question:        p.Question,
		HabitType:       p.HabitType,
		TargetValue:     p.TargetValue,
		TargetType:      p.TargetType,
		Unit:            p.Unit,
		FreqNum:         p.FreqNum,
		FreqDen:         p.FreqDen,
		WeekdaySchedule: p.WeekdaySchedule,
		Color:           p.Color,
		Position:        p.Position,
	}
}

// ListHabits 返回习惯列表 JSON，archived 参数可选
func (a *API) ListHabits(c *gin.Context) {
	var filter service.HabitFilter
	if raw := strings.TrimSpace(c.Query("archived")); raw != "" {
		archived, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "archived 参数无效")
			return
		}
		filter.Archived = &archived
	}

	habits, err := a.habits.List(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		a.log.Error("list habits failed", "error", err)
		respondError(c, http.StatusInternalServerError, "获取习惯列表失败")
		return
	}

	items := make([]gin.H, 0, len(habits))
	for _, habit := range habits {
		items = append(items, habitToPayload(habit))
	}

	c.JSON(http.StatusOK, gin.H{"habits": items})
}

// GetHabit 返回单个习惯详情
func (a *API) GetHabit(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		a.handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// GetHabitWithStats 返回习惯及其概要统计
func (a *API) GetHabitWithStats(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	userID := currentUser(c)
	habit, err := a.habits.Get(c.Request.Context(), userID, id)
	if err != nil {
		a.handleHabitError(c, err)
		return
	}

	stats, err := a.stats.Basic(c.Request.Context(), userID, id, a.clock())
	if err != nil {
		a.handleStatisticsError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit), "statistics": stats})
}

// CreateHabit 创建习惯
func (a *API) CreateHabit(c *gin.Context) {
	var payload habitPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	habit, err := a.habits.Create(c.Request.Context(), currentUser(c), payload.toInput())
	if err != nil {
		a.handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"habit": habitToPayload(*habit)})
}

// UpdateHabit 更新习惯，未提供的字段保持不变
func (a *API) UpdateHabit(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	var payload habitPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	habit, err := a.habits.Update(c.Request.Context(), currentUser(c), id, payload.toInput(), a.clock())
	if err != nil {
		a.handleHabitError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), id)

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// DeleteHabit 删除习惯
func (a *API) DeleteHabit(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	if err := a.habits.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		a.handleHabitError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), id)

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ArchiveHabit 归档习惯
func (a *API) ArchiveHabit(c *gin.Context) {
	a.setArchived(c, true)
}

// UnarchiveHabit 取消归档
func (a *API) UnarchiveHabit(c *gin.Context) {
	a.setArchived(c, false)
}

func (a *API) setArchived(c *gin.Context, archived bool) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.SetArchived(c.Request.Context(), currentUser(c), id, archived)
	if err != nil {
		a.handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

func habitToPayload(habit db.Habit) gin.H {
	item := gin.H{
		"id":               habit.ID,
		"user_id":          habit.UserID,
		"name":             habit.Name,
		"description":      habit.Description,
		"question":         habit.Question,
		"habit_type":       habit.HabitType,
		"target_value":     habit.TargetValue,
		"target_type":      habit.TargetType,
		"unit":             habit.Unit,
		"freq_num":         habit.FreqNum,
		"freq_den":         habit.FreqDen,
		"weekday_schedule": habit.WeekdaySchedule,
		"color":            habit.Color,
		"position":         habit.Position,
		"archived":         habit.Archived,
		"created_at":       habit.CreatedAt.Format(time.RFC3339),
		"updated_at":       habit.UpdatedAt.Format(time.RFC3339),
	}

	if rendered, err := service.RenderMarkdown(habit.Description); err == nil && rendered != "" {
		item["description_html"] = rendered
	}

	return item
}

func (a *API) handleHabitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrInvalidSchedule):
		respondError(c, http.StatusBadRequest, "频率配置无效")
	case errors.Is(err, service.ErrInvalidHabit):
		respondError(c, http.StatusBadRequest, "习惯参数无效")
	default:
		a.log.Error("habit operation failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
