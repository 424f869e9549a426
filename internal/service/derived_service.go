package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
	"github.com/habito/internal/logger"
	"gorm.io/gorm"
)

const scoreBatchSize = 200

// DerivedService 维护连胜与强度分的派生行
// 打卡写入时在同一事务内同步重算；读取永远基于重新计算，派生行只用于核对与历史查询。
type DerivedService struct {
	db      *gorm.DB
	scoring engine.ScoreConfig
	loc     *time.Location
	log     *logger.Logger
}

// DriftReport 描述存储的派生行与重新计算结果的差异
type DriftReport struct {
	HabitID          uuid.UUID
	AsOf             time.Time
	StoredStreaks    int
	ExpectedStreaks  int
	StreaksDiffer    bool
	ScoresChecked    int
	ScoreMismatches  int
	FirstMismatchDay *time.Time
}

// Drifted 表示存在不一致
func (r DriftReport) Drifted() bool {
	return r.StreaksDiffer || r.ScoreMismatches > 0
}

// NewDerivedService 构造 DerivedService
func NewDerivedService(gdb *gorm.DB, scoring engine.ScoreConfig, loc *time.Location, log *logger.Logger) *DerivedService {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DerivedService{db: gdb, scoring: scoring, loc: loc, log: log.With("service", "DerivedService")}
}

// Scoring 返回当前使用的强度分参数
func (s *DerivedService) Scoring() engine.ScoreConfig {
	return s.scoring
}

// Refresh 在给定事务内重算派生行
// 连胜行整体替换；分数行只重写 from 当天及之后的部分，之前的行依赖的历史未变化。
func (s *DerivedService) Refresh(ctx context.Context, tx *gorm.DB, habit *db.Habit, from, today time.Time) error {
	return s.refresh(ctx, tx, habit, normalizeToDate(from), today, false)
}

// Rebuild 在给定事务内完整重写派生行，用于调度变更与手动重算
func (s *DerivedService) Rebuild(ctx context.Context, tx *gorm.DB, habit *db.Habit, today time.Time) error {
	return s.refresh(ctx, tx, habit, time.Time{}, today, true)
}

func (s *DerivedService) refresh(ctx context.Context, tx *gorm.DB, habit *db.Habit, from, today time.Time, full bool) error {
	tx = tx.WithContext(ctx)

	reps, err := loadRepetitions(tx, habit.ID)
	if err != nil {
		return err
	}

	ev := engine.Evaluate(toEngineHabit(*habit, s.loc), toEngineRepetitions(reps), normalizeToDate(today))
	streaks := engine.StreaksFromEvaluation(ev)
	series := engine.ScoreSeriesFromEvaluation(ev, s.scoring)

	if err := tx.Where("habit_id = ?", habit.ID).Delete(&db.Streak{}).Error; err != nil {
		return fmt.Errorf("clear streaks: %w", err)
	}
	if len(streaks.Intervals) > 0 {
		rows := make([]db.Streak, 0, len(streaks.Intervals))
		for _, interval := range streaks.Intervals {
			rows = append(rows, db.Streak{
				HabitID:   habit.ID,
				UserID:    habit.UserID,
				StartDate: interval.Start,
				EndDate:   interval.End,
				Length:    interval.Length,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("store streaks: %w", err)
		}
	}

	cutoff, err := s.scoreCutoff(tx, habit.ID, from, full)
	if err != nil {
		return err
	}

	stale := tx.Where("habit_id = ?", habit.ID)
	if !cutoff.IsZero() {
		if !ev.Anchor.IsZero() {
			stale = stale.Where("(date >= ? OR date < ?)", cutoff, ev.Anchor)
		} else {
			stale = stale.Where("date >= ?", cutoff)
		}
	}
	if err := stale.Delete(&db.Score{}).Error; err != nil {
		return fmt.Errorf("clear scores: %w", err)
	}

	rows := make([]db.Score, 0, len(series))
	for _, point := range series {
		if !cutoff.IsZero() && point.Date.Before(cutoff) {
			continue
		}
		rows = append(rows, db.Score{
			HabitID: habit.ID,
			UserID:  habit.UserID,
			Date:    point.Date,
			Score:   point.Fixed(),
		})
	}
	if len(rows) > 0 {
		if err := tx.CreateInBatches(&rows, scoreBatchSize).Error; err != nil {
			return fmt.Errorf("store scores: %w", err)
		}
	}

	if err := tx.Model(&db.Habit{}).Where("id = ?", habit.ID).
		UpdateColumn("revision", gorm.Expr("revision + 1")).Error; err != nil {
		return fmt.Errorf("bump habit revision: %w", err)
	}
	habit.Revision++

	s.log.Debug("derived rows refreshed",
		"habit_id", habit.ID.String(),
		"streaks", len(streaks.Intervals),
		"scores_written", len(rows),
		"full", full,
	)
	return nil
}

// scoreCutoff 计算需要重写的起始日：受影响日期与已存储最后一天的次日取较早者
func (s *DerivedService) scoreCutoff(tx *gorm.DB, habitID uuid.UUID, from time.Time, full bool) (time.Time, error) {
	if full {
		return time.Time{}, nil
	}

	var last db.Score
	err := tx.Where("habit_id = ?", habitID).Order("date DESC").Limit(1).Find(&last).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("find last score: %w", err)
	}
	if last.ID == 0 {
		return time.Time{}, nil
	}

	next := storedDay(last.Date).AddDate(0, 0, 1)
	if from.IsZero() || next.Before(from) {
		return next, nil
	}
	return from, nil
}

// Recalculate 完整重算指定习惯的派生行
func (s *DerivedService) Recalculate(ctx context.Context, userID, habitID uuid.UUID, today time.Time) (*db.Habit, error) {
	var habit *db.Habit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := findHabit(tx, userID, habitID)
		if err != nil {
			return err
		}
		habit = found
		return s.Rebuild(ctx, tx, found, today)
	})
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// StoredStreaks 返回存储的连胜区间，按开始日期升序
func (s *DerivedService) StoredStreaks(ctx context.Context, userID, habitID uuid.UUID) ([]db.Streak, error) {
	var rows []db.Streak
	if err := s.db.WithContext(ctx).
		Where("habit_id = ? AND user_id = ?", habitID, userID).
		Order("start_date ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}
	return rows, nil
}

// Verify 用全新计算结果核对存储行，核对截止到已存储的最后一天
func (s *DerivedService) Verify(ctx context.Context, habit db.Habit, today time.Time) (DriftReport, error) {
	gdb := s.db.WithContext(ctx)
	report := DriftReport{HabitID: habit.ID}

	var stored []db.Score
	if err := gdb.Where("habit_id = ?", habit.ID).Order("date ASC").Find(&stored).Error; err != nil {
		return report, fmt.Errorf("list scores: %w", err)
	}

	asOf := normalizeToDate(today)
	if len(stored) > 0 {
		asOf = storedDay(stored[len(stored)-1].Date)
	}
	report.AsOf = asOf

	reps, err := loadRepetitions(gdb, habit.ID)
	if err != nil {
		return report, err
	}
	ev := engine.Evaluate(toEngineHabit(habit, s.loc), toEngineRepetitions(reps), asOf)
	streaks := engine.StreaksFromEvaluation(ev)
	series := engine.ScoreSeriesFromEvaluation(ev, s.scoring)

	var storedStreaks []db.Streak
	if err := gdb.Where("habit_id = ?", habit.ID).Order("start_date ASC").Find(&storedStreaks).Error; err != nil {
		return report, fmt.Errorf("list streaks: %w", err)
	}
	report.StoredStreaks = len(storedStreaks)
	report.ExpectedStreaks = len(streaks.Intervals)
	report.StreaksDiffer = !sameStreaks(storedStreaks, streaks.Intervals)

	expected := make(map[time.Time]int, len(series))
	for _, point := range series {
		expected[point.Date] = point.Fixed()
	}
	seen := make(map[time.Time]bool, len(stored))
	for _, row := range stored {
		day := storedDay(row.Date)
		seen[day] = true
		report.ScoresChecked++
		if want, ok := expected[day]; !ok || want != row.Score {
			report.markMismatch(day)
		}
	}
	for _, point := range series {
		if !seen[point.Date] {
			report.markMismatch(point.Date)
		}
	}

	return report, nil
}

func (r *DriftReport) markMismatch(day time.Time) {
	r.ScoreMismatches++
	if r.FirstMismatchDay == nil || day.Before(*r.FirstMismatchDay) {
		d := day
		r.FirstMismatchDay = &d
	}
}

// VerifyAll 核对全部习惯，fix 为 true 时对存在差异的习惯完整重算
func (s *DerivedService) VerifyAll(ctx context.Context, today time.Time, fix bool) ([]DriftReport, error) {
	var habits []db.Habit
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&habits).Error; err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	var drifted []DriftReport
	for _, habit := range habits {
		report, err := s.Verify(ctx, habit, today)
		if err != nil {
			return drifted, err
		}
		if !report.Drifted() {
			continue
		}
		drifted = append(drifted, report)
		s.log.Warn("computation drift detected",
			"habit_id", habit.ID.String(),
			"score_mismatches", report.ScoreMismatches,
			"streaks_differ", report.StreaksDiffer,
		)
		if fix {
			if _, err := s.Recalculate(ctx, habit.UserID, habit.ID, today); err != nil {
				return drifted, err
			}
		}
	}
	return drifted, nil
}

func sameStreaks(stored []db.Streak, expected []engine.Streak) bool {
	if len(stored) != len(expected) {
		return false
	}
	for i := range stored {
		if !storedDay(stored[i].StartDate).Equal(expected[i].Start) ||
			!storedDay(stored[i].EndDate).Equal(expected[i].End) ||
			stored[i].Length != expected[i].Length {
			return false
		}
	}
	return true
}

func loadRepetitions(tx *gorm.DB, habitID uuid.UUID) ([]db.Repetition, error) {
	var reps []db.Repetition
	if err := tx.Where("habit_id = ?", habitID).Order("date ASC").Find(&reps).Error; err != nil {
		return nil, fmt.Errorf("list repetitions: %w", err)
	}
	return reps, nil
}
