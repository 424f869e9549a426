package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRepetitionNotFound 在打卡记录不存在或不属于当前用户时返回
	ErrRepetitionNotFound = errors.New("repetition not found")
	// ErrInvalidRepetition 当状态或数值非法时返回
	ErrInvalidRepetition = errors.New("invalid repetition")
)

const (
	defaultRepetitionLimit = 100
	maxRepetitionLimit     = 1000
)

// RepetitionService 负责打卡写入与查询
// 每次写入与派生行重算处于同一事务，请求返回前统计即已一致
type RepetitionService struct {
	db      *gorm.DB
	derived *DerivedService
}

// RepetitionInput 定义打卡时的输入对象
type RepetitionInput struct {
	HabitID        uuid.UUID
	Date           time.Time
	Status         string
	Value          *float64
	Notes          string
	CompletionTime *time.Time
}

// RepetitionPatch 描述部分更新，nil 表示不修改
type RepetitionPatch struct {
	Status         *string
	Value          *float64
	Notes          *string
	CompletionTime *time.Time
}

// RepetitionFilter 指定列表查询条件
type RepetitionFilter struct {
	HabitID *uuid.UUID
	Start   *time.Time
	End     *time.Time
	Limit   int
	Offset  int
}

// NewRepetitionService 构造 RepetitionService
func NewRepetitionService(gdb *gorm.DB, derived *DerivedService) *RepetitionService {
	return &RepetitionService{db: gdb, derived: derived}
}

// Upsert 处理幂等打卡逻辑：同一习惯同一天若存在则覆盖，否则创建
func (s *RepetitionService) Upsert(ctx context.Context, userID uuid.UUID, input RepetitionInput, today time.Time) (*db.Repetition, error) {
	status, err := normalizeRepetitionStatus(input.Status)
	if err != nil {
		return nil, err
	}
	value := 1.0
	if input.Value != nil {
		value = *input.Value
	}
	if err := validateRepetitionValue(value); err != nil {
		return nil, err
	}

	date := normalizeToDate(input.Date)
	record := db.Repetition{
		HabitID:        input.HabitID,
		UserID:         userID,
		Date:           date,
		Status:         status,
		Value:          value,
		Notes:          StripHTML(input.Notes),
		CompletionTime: input.CompletionTime,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		habit, err := findHabit(tx, userID, input.HabitID)
		if err != nil {
			return err
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "habit_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "value", "notes", "completion_time", "updated_at"}),
		}).Create(&record).Error; err != nil {
			return fmt.Errorf("upsert repetition: %w", err)
		}

		// 冲突时主键沿用已有记录，需按唯一键重新读取
		var stored db.Repetition
		if err := tx.Where("habit_id = ? AND date = ?", input.HabitID, date).First(&stored).Error; err != nil {
			return fmt.Errorf("reload repetition: %w", err)
		}
		record = stored

		return s.refresh(ctx, tx, habit, date, today)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Get 根据 ID 获取打卡记录
func (s *RepetitionService) Get(ctx context.Context, userID, id uuid.UUID) (*db.Repetition, error) {
	return findRepetition(s.db.WithContext(ctx), userID, id)
}

func findRepetition(tx *gorm.DB, userID, id uuid.UUID) (*db.Repetition, error) {
	var rep db.Repetition
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&rep).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepetitionNotFound
		}
		return nil, fmt.Errorf("get repetition: %w", err)
	}
	return &rep, nil
}

// Update 修改打卡状态、数值或备注
func (s *RepetitionService) Update(ctx context.Context, userID, id uuid.UUID, patch RepetitionPatch, today time.Time) (*db.Repetition, error) {
	var updated *db.Repetition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rep, err := findRepetition(tx, userID, id)
		if err != nil {
			return err
		}

		if patch.Status != nil {
			status, err := normalizeRepetitionStatus(*patch.Status)
			if err != nil {
				return err
			}
			rep.Status = status
		}
		if patch.Value != nil {
			if err := validateRepetitionValue(*patch.Value); err != nil {
				return err
			}
			rep.Value = *patch.Value
		}
		if patch.Notes != nil {
			rep.Notes = StripHTML(*patch.Notes)
		}
		if patch.CompletionTime != nil {
			rep.CompletionTime = patch.CompletionTime
		}

		if err := tx.Save(rep).Error; err != nil {
			return fmt.Errorf("update repetition: %w", err)
		}

		habit, err := findHabit(tx, userID, rep.HabitID)
		if err != nil {
			return err
		}
		updated = rep
		return s.refresh(ctx, tx, habit, storedDay(rep.Date), today)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete 删除指定打卡记录（撤销打卡）
func (s *RepetitionService) Delete(ctx context.Context, userID, id uuid.UUID, today time.Time) (*db.Repetition, error) {
	var deleted *db.Repetition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rep, err := findRepetition(tx, userID, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(rep).Error; err != nil {
			return fmt.Errorf("delete repetition: %w", err)
		}
		habit, err := findHabit(tx, userID, rep.HabitID)
		if err != nil {
			return err
		}
		deleted = rep
		return s.refresh(ctx, tx, habit, storedDay(rep.Date), today)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// List 按日期倒序分页返回打卡记录
func (s *RepetitionService) List(ctx context.Context, userID uuid.UUID, filter RepetitionFilter) ([]db.Repetition, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRepetitionLimit
	}
	if limit > maxRepetitionLimit {
		limit = maxRepetitionLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.HabitID != nil {
		query = query.Where("habit_id = ?", *filter.HabitID)
	}
	if filter.Start != nil {
		query = query.Where("date >= ?", normalizeToDate(*filter.Start))
	}
	if filter.End != nil {
		query = query.Where("date <= ?", normalizeToDate(*filter.End))
	}

	var reps []db.Repetition
	if err := query.Order("date DESC").Limit(limit).Offset(offset).Find(&reps).Error; err != nil {
		return nil, fmt.Errorf("list repetitions: %w", err)
	}
	return reps, nil
}

// ListForHabit 返回习惯在区间内的打卡记录，按日期升序；区间端点为 nil 表示不限
func (s *RepetitionService) ListForHabit(ctx context.Context, userID, habitID uuid.UUID, from, to *time.Time) ([]db.Repetition, error) {
	query := s.db.WithContext(ctx).Where("user_id = ? AND habit_id = ?", userID, habitID)
	if from != nil {
		query = query.Where("date >= ?", normalizeToDate(*from))
	}
	if to != nil {
		query = query.Where("date <= ?", normalizeToDate(*to))
	}

	var reps []db.Repetition
	if err := query.Order("date ASC").Find(&reps).Error; err != nil {
		return nil, fmt.Errorf("list habit repetitions: %w", err)
	}
	return reps, nil
}

// ListForUser 一次性取出用户全部打卡记录，按习惯与日期升序
func (s *RepetitionService) ListForUser(ctx context.Context, userID uuid.UUID) ([]db.Repetition, error) {
	var reps []db.Repetition
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("habit_id ASC").Order("date ASC").
		Find(&reps).Error; err != nil {
		return nil, fmt.Errorf("list user repetitions: %w", err)
	}
	return reps, nil
}

// Today 返回习惯今天的打卡，没有时返回 nil
func (s *RepetitionService) Today(ctx context.Context, userID, habitID uuid.UUID, today time.Time) (*db.Repetition, error) {
	if _, err := s.habitFor(ctx, userID, habitID); err != nil {
		return nil, err
	}

	var rep db.Repetition
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND habit_id = ? AND date = ?", userID, habitID, normalizeToDate(today)).
		First(&rep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get today repetition: %w", err)
	}
	return &rep, nil
}

// Toggle 切换今天的完成状态：已有打卡则删除，否则创建一条完成记录
// 查询与写入处于同一事务，并锁定习惯行，使并发切换依次生效。返回值 rep 为 nil 表示已撤销
func (s *RepetitionService) Toggle(ctx context.Context, userID, habitID uuid.UUID, today time.Time) (*db.Repetition, error) {
	date := normalizeToDate(today)
	var toggled *db.Repetition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := tx
		if tx.Dialector.Name() == "postgres" {
			locked = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		habit, err := findHabit(locked, userID, habitID)
		if err != nil {
			return err
		}

		var existing db.Repetition
		err = tx.Where("user_id = ? AND habit_id = ? AND date = ?", userID, habitID, date).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Delete(&existing).Error; err != nil {
				return fmt.Errorf("delete repetition: %w", err)
			}
			return s.refresh(ctx, tx, habit, date, today)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("get today repetition: %w", err)
		}

		value := 1.0
		if habit.TargetValue != nil && engine.HabitType(habit.HabitType) != engine.HabitBoolean {
			value = *habit.TargetValue
		}
		now := time.Now()
		record := db.Repetition{
			HabitID:        habitID,
			UserID:         userID,
			Date:           date,
			Status:         string(engine.StatusCompleted),
			Value:          value,
			CompletionTime: &now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("create repetition: %w", err)
		}
		toggled = &record
		return s.refresh(ctx, tx, habit, date, today)
	})
	if err != nil {
		return nil, err
	}
	return toggled, nil
}

// Count 返回用户的打卡总数
func (s *RepetitionService) Count(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&db.Repetition{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count repetitions: %w", err)
	}
	return int(count), nil
}

func (s *RepetitionService) habitFor(ctx context.Context, userID, habitID uuid.UUID) (*db.Habit, error) {
	return findHabit(s.db.WithContext(ctx), userID, habitID)
}

func (s *RepetitionService) refresh(ctx context.Context, tx *gorm.DB, habit *db.Habit, date, today time.Time) error {
	if s.derived == nil {
		return nil
	}
	return s.derived.Refresh(ctx, tx, habit, date, today)
}

func normalizeRepetitionStatus(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return string(engine.StatusCompleted), nil
	}
	switch engine.Status(status) {
	case engine.StatusCompleted, engine.StatusPartial, engine.StatusSkipped, engine.StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unsupported status %q", ErrInvalidRepetition, status)
	}
}

func validateRepetitionValue(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return fmt.Errorf("%w: value must be a non-negative number", ErrInvalidRepetition)
	}
	return nil
}
