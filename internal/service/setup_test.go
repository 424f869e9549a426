package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/habito/internal/cache"
	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 2024-03-04 是周一
var serviceBaseDay = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func serviceDay(n int) time.Time {
	return serviceBaseDay.AddDate(0, 0, n)
}

type testServices struct {
	db      *gorm.DB
	user    uuid.UUID
	habits  *HabitService
	reps    *RepetitionService
	derived *DerivedService
	stats   *StatisticsService
	cache   *cache.Memory
}

func setupServiceTestDB(t *testing.T) *testServices {
	t.Helper()

	gdb, err := db.Open(db.Options{Path: "file::memory:?cache=shared", Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	user := db.User{Username: "tester", Password: "x"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	derived := NewDerivedService(gdb, engine.DefaultScoreConfig(), time.UTC, nil)
	habits := NewHabitService(gdb, derived)
	reps := NewRepetitionService(gdb, derived)
	mem := cache.NewMemory()
	stats := NewStatisticsService(habits, reps, StatisticsOptions{
		Cache:    mem,
		CacheTTL: time.Hour,
		Scoring:  engine.DefaultScoreConfig(),
		Location: time.UTC,
	})

	return &testServices{db: gdb, user: user.ID, habits: habits, reps: reps, derived: derived, stats: stats, cache: mem}
}

// createHabitAt 创建习惯并把创建时间改到指定日期
func (s *testServices) createHabitAt(t *testing.T, name string, created time.Time, input HabitInput) *db.Habit {
	t.Helper()
	input.Name = &name
	habit, err := s.habits.Create(t.Context(), s.user, input)
	if err != nil {
		t.Fatalf("create habit %q: %v", name, err)
	}
	if err := s.db.Model(habit).UpdateColumn("created_at", created).Error; err != nil {
		t.Fatalf("backdate habit: %v", err)
	}
	habit.CreatedAt = created
	return habit
}

func (s *testServices) checkIn(t *testing.T, habitID uuid.UUID, date time.Time, status string, today time.Time) *db.Repetition {
	t.Helper()
	rep, err := s.reps.Upsert(t.Context(), s.user, RepetitionInput{HabitID: habitID, Date: date, Status: status}, today)
	if err != nil {
		t.Fatalf("upsert repetition on %s: %v", date.Format("2006-01-02"), err)
	}
	return rep
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func floatPtr(v float64) *float64 { return &v }
