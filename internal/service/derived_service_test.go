package service

import (
	"testing"

	"github.com/habito/internal/db"
)

func TestDerivedRowsFollowCheckIns(t *testing.T) {
	s := setupServiceTestDB(t)
	habit := s.createHabitAt(t, "跑步", serviceDay(0), HabitInput{})

	for d := 0; d < 5; d++ {
		s.checkIn(t, habit.ID, serviceDay(d), "completed", serviceDay(d))
	}

	streaks, scores := storedDerived(t, s, habit.ID)
	if len(streaks) != 1 || streaks[0].Length != 5 {
		t.Fatalf("expected a single streak of 5, got %+v", streaks)
	}
	if !streaks[0].StartDate.Equal(serviceDay(0)) || !streaks[0].EndDate.Equal(serviceDay(4)) {
		t.Fatalf("unexpected streak bounds %s..%s", streaks[0].StartDate, streaks[0].EndDate)
	}
	if len(scores) != 5 {
		t.Fatalf("expected one score row per day, got %d", len(scores))
	}
	for i := 1; i < len(scores); i++ {
		if scores[i].Score <= scores[i-1].Score {
			t.Fatalf("score should grow with consecutive completions: %d -> %d", scores[i-1].Score, scores[i].Score)
		}
	}

	stored, err := s.habits.Get(t.Context(), s.user, habit.ID)
	if err != nil {
		t.Fatalf("get habit: %v", err)
	}
	if stored.Revision != 5 {
		t.Fatalf("expected revision 5 after five writes, got %d", stored.Revision)
	}

	report, err := s.derived.Verify(t.Context(), *stored, serviceDay(4))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Drifted() || report.ScoresChecked != 5 {
		t.Fatalf("expected clean report over 5 rows, got %+v", report)
	}
}

func TestIncrementalRefreshMatchesFullRebuild(t *testing.T) {
	s := setupServiceTestDB(t)
	habit := s.createHabitAt(t, "读书", serviceDay(0), HabitInput{FreqNum: intPtr(2), FreqDen: intPtr(3)})

	s.checkIn(t, habit.ID, serviceDay(0), "completed", serviceDay(0))
	s.checkIn(t, habit.ID, serviceDay(1), "completed", serviceDay(1))
	s.checkIn(t, habit.ID, serviceDay(4), "completed", serviceDay(5))
	s.checkIn(t, habit.ID, serviceDay(8), "skipped", serviceDay(9))
	// 补录早于创建日的打卡会前移起算日
	s.checkIn(t, habit.ID, serviceDay(-2), "completed", serviceDay(10))
	s.checkIn(t, habit.ID, serviceDay(10), "completed", serviceDay(10))

	_, incremental := storedDerived(t, s, habit.ID)

	if _, err := s.derived.Recalculate(t.Context(), s.user, habit.ID, serviceDay(10)); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	_, rebuilt := storedDerived(t, s, habit.ID)

	if len(incremental) != len(rebuilt) {
		t.Fatalf("row count differs: incremental %d, rebuilt %d", len(incremental), len(rebuilt))
	}
	if !rebuilt[0].Date.Equal(serviceDay(-2)) {
		t.Fatalf("rebuilt series should start at the back-filled day, got %s", rebuilt[0].Date)
	}
	for i := range rebuilt {
		if !incremental[i].Date.Equal(rebuilt[i].Date) || incremental[i].Score != rebuilt[i].Score {
			t.Fatalf("row %d differs: incremental %s=%d, rebuilt %s=%d", i,
				incremental[i].Date.Format("2006-01-02"), incremental[i].Score,
				rebuilt[i].Date.Format("2006-01-02"), rebuilt[i].Score)
		}
	}
}

func TestVerifyDetectsAndFixesDrift(t *testing.T) {
	s := setupServiceTestDB(t)
	habit := s.createHabitAt(t, "跑步", serviceDay(0), HabitInput{})
	for d := 0; d < 4; d++ {
		s.checkIn(t, habit.ID, serviceDay(d), "completed", serviceDay(3))
	}

	if err := s.db.Model(&db.Score{}).
		Where("habit_id = ? AND date = ?", habit.ID, serviceDay(2)).
		UpdateColumn("score", 1).Error; err != nil {
		t.Fatalf("tamper score: %v", err)
	}
	if err := s.db.Where("habit_id = ?", habit.ID).Delete(&db.Streak{}).Error; err != nil {
		t.Fatalf("tamper streaks: %v", err)
	}

	stored, _ := s.habits.Get(t.Context(), s.user, habit.ID)
	report, err := s.derived.Verify(t.Context(), *stored, serviceDay(3))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Drifted() || !report.StreaksDiffer || report.ScoreMismatches != 1 {
		t.Fatalf("expected drift in streaks and one score, got %+v", report)
	}
	if report.FirstMismatchDay == nil || !report.FirstMismatchDay.Equal(serviceDay(2)) {
		t.Fatalf("expected first mismatch on day 2, got %v", report.FirstMismatchDay)
	}

	drifted, err := s.derived.VerifyAll(t.Context(), serviceDay(3), true)
	if err != nil {
		t.Fatalf("verify all: %v", err)
	}
	if len(drifted) != 1 || drifted[0].HabitID != habit.ID {
		t.Fatalf("expected one drifted habit, got %+v", drifted)
	}

	drifted, err = s.derived.VerifyAll(t.Context(), serviceDay(3), false)
	if err != nil {
		t.Fatalf("verify all after fix: %v", err)
	}
	if len(drifted) != 0 {
		t.Fatalf("expected no drift after fix, got %+v", drifted)
	}
}

func TestVerifyUsesLastStoredDay(t *testing.T) {
	s := setupServiceTestDB(t)
	habit := s.createHabitAt(t, "跑步", serviceDay(0), HabitInput{})
	for d := 0; d < 3; d++ {
		s.checkIn(t, habit.ID, serviceDay(d), "completed", serviceDay(d))
	}

	// 一周没有写入时，存储行仍停留在最后一次写入的日期
	stored, _ := s.habits.Get(t.Context(), s.user, habit.ID)
	report, err := s.derived.Verify(t.Context(), *stored, serviceDay(10))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Drifted() {
		t.Fatalf("stale but consistent rows should not drift: %+v", report)
	}
	if !report.AsOf.Equal(serviceDay(2)) {
		t.Fatalf("expected verification as of day 2, got %s", report.AsOf)
	}
}
