package engine

import (
	"math"
	"testing"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestQualifies(t *testing.T) {
	pages := Habit{Type: HabitNumerical, TargetValue: floatPtr(20), TargetType: TargetAtLeast, FreqNum: 1, FreqDen: 1}
	limit := Habit{Type: HabitNumerical, TargetValue: floatPtr(20), TargetType: TargetAtMost, FreqNum: 1, FreqDen: 1}
	boolean := Habit{Type: HabitBoolean, FreqNum: 1, FreqDen: 1}

	tests := []struct {
		name  string
		habit Habit
		rep   Repetition
		want  bool
	}{
		{name: "completed always qualifies", habit: boolean, rep: Repetition{Status: StatusCompleted}, want: true},
		{name: "partial above target", habit: pages, rep: Repetition{Status: StatusPartial, Value: 25}, want: true},
		{name: "partial at target", habit: pages, rep: Repetition{Status: StatusPartial, Value: 20}, want: true},
		{name: "partial below target", habit: pages, rep: Repetition{Status: StatusPartial, Value: 10}, want: false},
		{name: "at most under limit", habit: limit, rep: Repetition{Status: StatusPartial, Value: 15}, want: true},
		{name: "at most over limit", habit: limit, rep: Repetition{Status: StatusPartial, Value: 25}, want: false},
		{name: "boolean partial", habit: boolean, rep: Repetition{Status: StatusPartial, Value: 1}, want: false},
		{name: "nan value", habit: pages, rep: Repetition{Status: StatusPartial, Value: math.NaN()}, want: false},
		{name: "negative value", habit: limit, rep: Repetition{Status: StatusPartial, Value: -1}, want: false},
		{name: "skipped", habit: boolean, rep: Repetition{Status: StatusSkipped}, want: false},
		{name: "failed", habit: pages, rep: Repetition{Status: StatusFailed, Value: 30}, want: false},
		{name: "unknown status", habit: boolean, rep: Repetition{Status: "done"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Qualifies(tt.habit, tt.rep); got != tt.want {
				t.Fatalf("Qualifies = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsScheduledDailyMask(t *testing.T) {
	habit := dailyHabit()
	// 仅周一、周三
	habit.WeekdaySchedule = 1<<1 | 1<<3

	want := map[int]bool{0: true, 1: false, 2: true, 3: false, 4: false, 5: false, 6: false, 7: true}
	for offset, expected := range want {
		if got := IsScheduled(habit, day(offset)); got != expected {
			t.Fatalf("day %d (%s): IsScheduled = %v, want %v", offset, day(offset).Weekday(), got, expected)
		}
	}

	if IsScheduled(habit, day(-5)) {
		t.Fatal("days before creation must never be due")
	}
}

func TestIsScheduledZeroMaskMeansEveryDay(t *testing.T) {
	habit := dailyHabit()
	habit.WeekdaySchedule = 0
	for offset := 0; offset < 7; offset++ {
		if !IsScheduled(habit, day(offset)) {
			t.Fatalf("day %d should be scheduled", offset)
		}
	}
}

func TestIsScheduledFrequency(t *testing.T) {
	for _, den := range []int{2, 7, 30, 45} {
		habit := dailyHabit()
		habit.FreqNum = 1
		habit.FreqDen = den
		for offset := 0; offset < den*3; offset++ {
			want := (offset+1)%den == 0
			if got := IsScheduled(habit, day(offset)); got != want {
				t.Fatalf("den=%d day %d: IsScheduled = %v, want %v", den, offset, got, want)
			}
		}
	}
}

func TestIsSatisfied(t *testing.T) {
	habit := dailyHabit()
	habit.FreqNum = 3
	habit.FreqDen = 7

	if !IsSatisfied(habit, completedOn(0, 2, 4)) {
		t.Fatal("three completions should satisfy 3/7")
	}
	if IsSatisfied(habit, completedOn(0, 2)) {
		t.Fatal("two completions should not satisfy 3/7")
	}
	// 同一天重复只计一次
	if IsSatisfied(habit, completedOn(0, 0, 2)) {
		t.Fatal("duplicate day must count once")
	}
	mixed := append(completedOn(0, 2), Repetition{Date: day(4), Status: StatusSkipped})
	if IsSatisfied(habit, mixed) {
		t.Fatal("skipped repetition must not count")
	}
}

func TestScheduleWindowClippedToAnchor(t *testing.T) {
	habit := dailyHabit()
	habit.FreqNum = 1
	habit.FreqDen = 7

	schedule := NewSchedule(habit, nil)
	start, end := schedule.Window(day(3))
	if !start.Equal(day(0)) || !end.Equal(day(3)) {
		t.Fatalf("unexpected window %s..%s", start, end)
	}

	start, end = schedule.Window(day(10))
	if !start.Equal(day(4)) || !end.Equal(day(10)) {
		t.Fatalf("unexpected window %s..%s", start, end)
	}

	if !schedule.SatisfiedOn(day(10), completedOn(4)) {
		t.Fatal("completion inside rolling window should satisfy")
	}
	if schedule.SatisfiedOn(day(10), completedOn(3)) {
		t.Fatal("completion outside rolling window should not satisfy")
	}
}

func TestEvaluatePendingFrequencyPeriod(t *testing.T) {
	habit := dailyHabit()
	habit.FreqNum = 2
	habit.FreqDen = 7

	ev := Evaluate(habit, completedOn(1), day(3))
	if len(ev.Outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(ev.Outcomes))
	}
	if !ev.Outcomes[0].Pending || ev.Outcomes[0].Satisfied {
		t.Fatalf("open period should be pending: %+v", ev.Outcomes[0])
	}
	if len(ev.EvaluatedOutcomes()) != 0 {
		t.Fatal("pending outcomes must not be evaluated")
	}
	if !ev.QualifyingOn(day(1)) || ev.QualifyingOn(day(2)) {
		t.Fatal("unexpected qualifying days")
	}
}

func TestFrequencyHabitRespectsWeekdayMask(t *testing.T) {
	habit := dailyHabit()
	habit.FreqNum = 3
	habit.FreqDen = 7
	// 周一到周五，day(0) 为周一
	habit.WeekdaySchedule = 0b0111110

	want := map[int]bool{0: false, 4: true, 5: false, 6: false, 11: true, 13: false}
	for offset, expected := range want {
		if got := IsScheduled(habit, day(offset)); got != expected {
			t.Fatalf("day %d (%s): IsScheduled = %v, want %v", offset, day(offset).Weekday(), got, expected)
		}
	}

	weekend := ComputeStreaks(habit, completedOn(4, 5, 6), day(6))
	if weekend.Current != 0 || weekend.Best != 0 {
		t.Fatalf("weekend check-ins must not count, got current=%d best=%d", weekend.Current, weekend.Best)
	}
	schedule := NewSchedule(habit, nil)
	if schedule.SatisfiedOn(day(6), completedOn(4, 5, 6)) {
		t.Fatal("window with one active-day completion should not satisfy 3/7")
	}

	weekdays := ComputeStreaks(habit, completedOn(0, 2, 4), day(6))
	if weekdays.Current != 1 || weekdays.Best != 1 {
		t.Fatalf("three weekday check-ins should satisfy, got current=%d best=%d", weekdays.Current, weekdays.Best)
	}
}

func TestFrequencyPeriodWithFewActiveDays(t *testing.T) {
	habit := dailyHabit()
	habit.FreqNum = 2
	habit.FreqDen = 2
	habit.WeekdaySchedule = 0b0111110

	ev := Evaluate(habit, completedOn(0, 1, 2, 3, 4), day(5))
	// 周期 [周五, 周六] 只有周五启用，周五完成即达标
	if len(ev.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(ev.Outcomes))
	}
	last := ev.Outcomes[2]
	if !last.Due.Equal(day(4)) || !last.Satisfied {
		t.Fatalf("unexpected outcome for the Friday period: %+v", last)
	}
}
