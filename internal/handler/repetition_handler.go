package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/habito/internal/db"
	"github.com/habito/internal/service"
)

type repetitionPayload struct {
	HabitID        string   `json:"habit_id" binding:"required"`
	Date           string   `json:"date" binding:"required"` // 2006-01-02
	Status         string   `json:"status"`
	Value          *float64 `json:"value"`
	Notes          string   `json:"notes"`
	CompletionTime *string  `json:"completion_time"` // RFC3339，可选
}

type repetitionPatchPayload struct {
	Status         *string  `json:"status"`
	Value          *float64 `json:"value"`
	Notes          *string  `json:"notes"`
	CompletionTime *string  `json:"completion_time"`
}

// ListRepetitions 按日期倒序分页返回打卡记录
func (a *API) ListRepetitions(c *gin.Context) {
	var filter service.RepetitionFilter

	if raw := strings.TrimSpace(c.Query("habit_id")); raw != "" {
		habitID, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "无效的习惯ID")
			return
		}
		filter.HabitID = &habitID
	}

	start, ok := parseOptionalDate(c.Query("start_date"), a.loc)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的开始日期")
		return
	}
	end, ok := parseOptionalDate(c.Query("end_date"), a.loc)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的结束日期")
		return
	}
	filter.Start, filter.End = start, end

	limit, ok := parseIntQuery(c, "limit", 0)
	if !ok {
		respondError(c, http.StatusBadRequest, "limit 参数无效")
		return
	}
	offset, ok := parseIntQuery(c, "offset", 0)
	if !ok {
		respondError(c, http.StatusBadRequest, "offset 参数无效")
		return
	}
	filter.Limit, filter.Offset = limit, offset

	reps, err := a.reps.List(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		a.handleRepetitionError(c, err)
		return
	}

	items := make([]gin.H, 0, len(reps))
	for _, rep := range reps {
		items = append(items, repetitionToPayload(rep))
	}
	c.JSON(http.StatusOK, gin.H{"repetitions": items})
}

// GetRepetition 返回单条打卡
func (a *API) GetRepetition(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	rep, err := a.reps.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		a.handleRepetitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repetition": repetitionToPayload(*rep)})
}

// CreateRepetition 幂等打卡：同一习惯同一天重复提交会覆盖已有记录
func (a *API) CreateRepetition(c *gin.Context) {
	var payload repetitionPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	habitID, err := uuid.Parse(strings.TrimSpace(payload.HabitID))
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}
	date, ok := parseOptionalDate(payload.Date, a.loc)
	if !ok || date == nil {
		respondError(c, http.StatusBadRequest, "无效的打卡日期")
		return
	}
	completion, ok := parseOptionalTimestamp(payload.CompletionTime)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的完成时间")
		return
	}

	rep, err := a.reps.Upsert(c.Request.Context(), currentUser(c), service.RepetitionInput{
		HabitID:        habitID,
		Date:           *date,
		Status:         payload.Status,
		Value:          payload.Value,
		Notes:          payload.Notes,
		CompletionTime: completion,
	}, a.clock())
	if err != nil {
		a.handleRepetitionError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), habitID)

	c.JSON(http.StatusOK, gin.H{"repetition": repetitionToPayload(*rep)})
}

// UpdateRepetition 修改打卡
func (a *API) UpdateRepetition(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	var payload repetitionPatchPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}
	completion, ok := parseOptionalTimestamp(payload.CompletionTime)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的完成时间")
		return
	}

	rep, err := a.reps.Update(c.Request.Context(), currentUser(c), id, service.RepetitionPatch{
		Status:         payload.Status,
		Value:          payload.Value,
		Notes:          payload.Notes,
		CompletionTime: completion,
	}, a.clock())
	if err != nil {
		a.handleRepetitionError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), rep.HabitID)

	c.JSON(http.StatusOK, gin.H{"repetition": repetitionToPayload(*rep)})
}

// DeleteRepetition 删除打卡
func (a *API) DeleteRepetition(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	rep, err := a.reps.Delete(c.Request.Context(), currentUser(c), id, a.clock())
	if err != nil {
		a.handleRepetitionError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), rep.HabitID)

	c.JSON(http.StatusOK, gin.H{"deleted": true, "habit_id": rep.HabitID})
}

// GetTodayRepetition 返回习惯今天的打卡，没有时 repetition 为 null
func (a *API) GetTodayRepetition(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	rep, err := a.reps.Today(c.Request.Context(), currentUser(c), habitID, a.clock())
	if err != nil {
		a.handleRepetitionError(c, err)
		return
	}
	if rep == nil {
		c.JSON(http.StatusOK, gin.H{"repetition": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"repetition": repetitionToPayload(*rep)})
}

// ToggleRepetition 切换今天的完成状态
func (a *API) ToggleRepetition(c *gin.Context) {
	habitID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	rep, err := a.reps.Toggle(c.Request.Context(), currentUser(c), habitID, a.clock())
	if err != nil {
		a.handleRepetitionError(c, err)
		return
	}
	a.stats.Invalidate(c.Request.Context(), habitID)

	if rep == nil {
		c.JSON(http.StatusOK, gin.H{"completed": false, "repetition": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": true, "repetition": repetitionToPayload(*rep)})
}

func parseOptionalTimestamp(value *string) (*time.Time, bool) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*value))
	if err != nil {
		return nil, false
	}
	return &t, true
}

func repetitionToPayload(rep db.Repetition) gin.H {
	return gin.H{
		"id":              rep.ID,
		"habit_id":        rep.HabitID,
		"user_id":         rep.UserID,
		"date":            rep.Date.UTC().Format(dateFormat),
		"status":          rep.Status,
		"value":           rep.Value,
		"notes":           rep.Notes,
		"completion_time": formatOptionalTime(rep.CompletionTime),
		"created_at":      rep.CreatedAt.Format(time.RFC3339),
		"updated_at":      rep.UpdatedAt.Format(time.RFC3339),
	}
}

func (a *API) handleRepetitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRepetitionNotFound):
		respondError(c, http.StatusNotFound, "打卡记录不存在")
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrInvalidRepetition):
		respondError(c, http.StatusBadRequest, "打卡参数无效")
	default:
		a.log.Error("repetition operation failed", "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
