package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
	"gorm.io/gorm"
)

var (
	// ErrHabitNotFound 在指定习惯不存在或不属于当前用户时返回
	ErrHabitNotFound = errors.New("habit not found")
	// ErrInvalidSchedule 当频率配置异常时返回
	ErrInvalidSchedule = errors.New("invalid habit schedule")
	// ErrInvalidHabit 当其他字段校验失败时返回
	ErrInvalidHabit = errors.New("invalid habit")
)

const (
	maxFrequency   = 365
	maxColor       = 19
	defaultColor   = 8
	maxNameLength  = 255
	maxQuestionLen = 500
	maxUnitLength  = 50
)

// HabitService 负责 Habit 数据的增删改查
// 所有查询都按 user_id 过滤，其他用户的数据与不存在无法区分
type HabitService struct {
	db      *gorm.DB
	derived *DerivedService
}

// HabitFilter 描述列表过滤条件，Archived 为 nil 时返回全部
type HabitFilter struct {
	Archived *bool
}

// HabitInput 定义创建/更新习惯时可配置字段，nil 表示未提供
type HabitInput struct {
	Name            *string
	Description     *string
	Question        *string
	HabitType       *string
	TargetValue     *float64
	TargetType      *string
	Unit            *string
	FreqNum         *int
	FreqDen         *int
	WeekdaySchedule *int
	Color           *int
	Position        *int
}

// NewHabitService 构造 HabitService
func NewHabitService(gdb *gorm.DB, derived *DerivedService) *HabitService {
	return &HabitService{db: gdb, derived: derived}
}

// List 返回用户的习惯集合，按 position 与创建时间排序
func (s *HabitService) List(ctx context.Context, userID uuid.UUID, filter HabitFilter) ([]db.Habit, error) {
	var habits []db.Habit

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Archived != nil {
		query = query.Where("archived = ?", *filter.Archived)
	}

	if err := query.Order("position ASC").Order("created_at ASC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return habits, nil
}

// Get 根据 ID 获取习惯
func (s *HabitService) Get(ctx context.Context, userID, id uuid.UUID) (*db.Habit, error) {
	return findHabit(s.db.WithContext(ctx), userID, id)
}

func findHabit(tx *gorm.DB, userID, id uuid.UUID) (*db.Habit, error) {
	var habit db.Habit
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&habit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitNotFound
		}
		return nil, fmt.Errorf("get habit: %w", err)
	}
	return &habit, nil
}

// Create 新建习惯，未提供的字段使用默认值
func (s *HabitService) Create(ctx context.Context, userID uuid.UUID, input HabitInput) (*db.Habit, error) {
	habit := db.Habit{
		UserID:          userID,
		HabitType:       string(engine.HabitBoolean),
		TargetType:      string(engine.TargetAtLeast),
		FreqNum:         1,
		FreqDen:         1,
		WeekdaySchedule: engine.AllWeekdays,
		Color:           defaultColor,
	}
	applyHabitInput(&habit, input)

	if err := validateHabit(&habit); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(&habit).Error; err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}
	return &habit, nil
}

// Update 按提供的字段更新习惯；调度相关字段变化时在同一事务内重算派生数据
func (s *HabitService) Update(ctx context.Context, userID, id uuid.UUID, input HabitInput, today time.Time) (*db.Habit, error) {
	var updated *db.Habit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findHabit(tx, userID, id)
		if err != nil {
			return err
		}

		before := scheduleKey(*existing)
		applyHabitInput(existing, input)
		if err := validateHabit(existing); err != nil {
			return err
		}

		if err := tx.Save(existing).Error; err != nil {
			return fmt.Errorf("update habit: %w", err)
		}

		if scheduleKey(*existing) != before && s.derived != nil {
			if err := s.derived.Rebuild(ctx, tx, existing, today); err != nil {
				return err
			}
		}

		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetArchived 归档或取消归档
func (s *HabitService) SetArchived(ctx context.Context, userID, id uuid.UUID, archived bool) (*db.Habit, error) {
	habit, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(habit).Update("archived", archived).Error; err != nil {
		return nil, fmt.Errorf("archive habit: %w", err)
	}
	habit.Archived = archived
	return habit, nil
}

// Delete 删除习惯及其打卡和派生数据
func (s *HabitService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		habit, err := findHabit(tx, userID, id)
		if err != nil {
			return err
		}
		for _, model := range []any{&db.Repetition{}, &db.Streak{}, &db.Score{}} {
			if err := tx.Where("habit_id = ?", habit.ID).Delete(model).Error; err != nil {
				return fmt.Errorf("delete habit data: %w", err)
			}
		}
		if err := tx.Delete(habit).Error; err != nil {
			return fmt.Errorf("delete habit: %w", err)
		}
		return nil
	})
}

// CountArchived 返回用户已归档习惯数
func (s *HabitService) CountArchived(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.Habit{}).
		Where("user_id = ? AND archived = ?", userID, true).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count archived habits: %w", err)
	}
	return int(count), nil
}

func applyHabitInput(h *db.Habit, input HabitInput) {
	if input.Name != nil {
		h.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		h.Description = strings.TrimSpace(*input.Description)
	}
	if input.Question != nil {
		h.Question = strings.TrimSpace(*input.Question)
	}
	if input.HabitType != nil {
		h.HabitType = strings.ToLower(strings.TrimSpace(*input.HabitType))
	}
	if input.TargetValue != nil {
		v := *input.TargetValue
		h.TargetValue = &v
	}
	if input.TargetType != nil {
		h.TargetType = strings.ToLower(strings.TrimSpace(*input.TargetType))
	}
	if input.Unit != nil {
		h.Unit = strings.TrimSpace(*input.Unit)
	}
	if input.FreqNum != nil {
		h.FreqNum = *input.FreqNum
	}
	if input.FreqDen != nil {
		h.FreqDen = *input.FreqDen
	}
	if input.WeekdaySchedule != nil {
		h.WeekdaySchedule = *input.WeekdaySchedule
	}
	if input.Color != nil {
		h.Color = *input.Color
	}
	if input.Position != nil {
		h.Position = *input.Position
	}
}

func validateHabit(h *db.Habit) error {
	if h.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidHabit)
	}
	if utf8.RuneCountInString(h.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidHabit, maxNameLength)
	}
	if utf8.RuneCountInString(h.Question) > maxQuestionLen {
		return fmt.Errorf("%w: question exceeds %d characters", ErrInvalidHabit, maxQuestionLen)
	}
	if utf8.RuneCountInString(h.Unit) > maxUnitLength {
		return fmt.Errorf("%w: unit exceeds %d characters", ErrInvalidHabit, maxUnitLength)
	}

	switch engine.HabitType(h.HabitType) {
	case engine.HabitBoolean:
		h.TargetValue = nil
	case engine.HabitNumerical, engine.HabitDuration:
		if h.TargetValue == nil {
			return fmt.Errorf("%w: target_value is required for %s habits", ErrInvalidHabit, h.HabitType)
		}
		if v := *h.TargetValue; math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: target_value must be a non-negative number", ErrInvalidHabit)
		}
	default:
		return fmt.Errorf("%w: unsupported habit_type %q", ErrInvalidHabit, h.HabitType)
	}

	if h.TargetType == "" {
		h.TargetType = string(engine.TargetAtLeast)
	}
	if t := engine.TargetType(h.TargetType); t != engine.TargetAtLeast && t != engine.TargetAtMost {
		return fmt.Errorf("%w: unsupported target_type %q", ErrInvalidHabit, h.TargetType)
	}

	if h.FreqNum < 1 || h.FreqNum > maxFrequency || h.FreqDen < 1 || h.FreqDen > maxFrequency {
		return fmt.Errorf("%w: freq_num and freq_den must be between 1 and %d", ErrInvalidSchedule, maxFrequency)
	}
	if h.FreqNum > h.FreqDen {
		return fmt.Errorf("%w: freq_num must not exceed freq_den", ErrInvalidSchedule)
	}
	if h.WeekdaySchedule < 0 || h.WeekdaySchedule > engine.AllWeekdays {
		return fmt.Errorf("%w: weekday_schedule must be between 0 and %d", ErrInvalidSchedule, engine.AllWeekdays)
	}
	if h.WeekdaySchedule == 0 {
		h.WeekdaySchedule = engine.AllWeekdays
	}

	if h.Color < 0 || h.Color > maxColor {
		return fmt.Errorf("%w: color must be between 0 and %d", ErrInvalidHabit, maxColor)
	}
	if h.Position < 0 {
		return fmt.Errorf("%w: position must not be negative", ErrInvalidHabit)
	}
	return nil
}

// scheduleKey 汇总影响统计结果的字段
func scheduleKey(h db.Habit) string {
	target := "nil"
	if h.TargetValue != nil {
		target = fmt.Sprintf("%g", *h.TargetValue)
	}
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d", h.HabitType, target, h.TargetType, h.FreqNum, h.FreqDen, h.WeekdaySchedule)
}
