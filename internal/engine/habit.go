package engine

import (
	"math"
	"sort"
	"time"
)

// HabitType 区分打卡方式
type HabitType string

const (
	HabitBoolean   HabitType = "boolean"
	HabitNumerical HabitType = "numerical"
	HabitDuration  HabitType = "duration"
)

// TargetType 描述数值型习惯的达标方向
type TargetType string

const (
	TargetAtLeast TargetType = "at_least"
	TargetAtMost  TargetType = "at_most"
)

// Status 是单次打卡的状态
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// AllWeekdays 表示一周七天全部启用（bit0 = 周日）
const AllWeekdays = 0x7f

// Habit 是计算引擎所需的习惯快照，与存储模型解耦
type Habit struct {
	ID              string
	Name            string
	Type            HabitType
	TargetValue     *float64
	TargetType      TargetType
	FreqNum         int
	FreqDen         int
	WeekdaySchedule int
	CreatedAt       time.Time
}

// Repetition 是一次打卡记录
type Repetition struct {
	Date   time.Time
	Status Status
	Value  float64
}

// IsNumeric 判断习惯是否需要对比数值目标
func (h Habit) IsNumeric() bool {
	return h.Type == HabitNumerical || h.Type == HabitDuration
}

func (h Habit) periodDays() int {
	if h.FreqDen < 1 {
		return 1
	}
	return h.FreqDen
}

func (h Habit) required() int {
	if h.FreqNum < 1 {
		return 1
	}
	if h.FreqNum > h.periodDays() {
		return h.periodDays()
	}
	return h.FreqNum
}

func (h Habit) weekdayMask() int {
	mask := h.WeekdaySchedule & AllWeekdays
	if mask == 0 {
		return AllWeekdays
	}
	return mask
}

func (h Habit) activeOn(day time.Time) bool {
	return h.weekdayMask()&(1<<uint(day.Weekday())) != 0
}

// periodDue 返回从 anchor+start 起 period 天内最后一个启用日的偏移与启用天数
func (h Habit) periodDue(anchor time.Time, start, period int) (due, active int) {
	due = -1
	for offset := start; offset < start+period; offset++ {
		if h.activeOn(anchor.AddDate(0, 0, offset)) {
			due = offset
			active++
		}
	}
	return due, active
}

// requiredIn 返回启用天数为 active 的周期需要的达标次数
func (h Habit) requiredIn(active int) int {
	need := h.required()
	if active < need {
		return active
	}
	return need
}

// Qualifies 判断一次打卡是否计入完成
// completed 总是计入；partial 仅在数值型习惯达到目标时计入；其余状态与异常数值都不计入。
func Qualifies(h Habit, rep Repetition) bool {
	switch rep.Status {
	case StatusCompleted:
		return true
	case StatusPartial:
		if !h.IsNumeric() || h.TargetValue == nil {
			return false
		}
		if math.IsNaN(rep.Value) || math.IsInf(rep.Value, 0) || rep.Value < 0 {
			return false
		}
		if h.TargetType == TargetAtMost {
			return rep.Value <= *h.TargetValue
		}
		return rep.Value >= *h.TargetValue
	default:
		return false
	}
}

// Day 把时间截断为所在日期的零点（UTC 表示，保留原时区的年月日）
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween 返回 from 到 to 相差的天数
func DaysBetween(from, to time.Time) int {
	return int(math.Round(Day(to).Sub(Day(from)).Hours() / 24))
}

// NormalizeRepetitions 按日期升序排列，同一天只保留最后一条
func NormalizeRepetitions(reps []Repetition) []Repetition {
	if len(reps) == 0 {
		return nil
	}

	sorted := make([]Repetition, len(reps))
	for i, rep := range reps {
		rep.Date = Day(rep.Date)
		sorted[i] = rep
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := sorted[:0]
	for _, rep := range sorted {
		if n := len(out); n > 0 && out[n-1].Date.Equal(rep.Date) {
			out[n-1] = rep
			continue
		}
		out = append(out, rep)
	}
	return out
}

// Anchor 返回习惯开始计算的日期：创建日，补录更早的打卡时前移到首条打卡日
func Anchor(h Habit, reps []Repetition) (time.Time, bool) {
	var anchor time.Time
	found := false
	if !h.CreatedAt.IsZero() {
		anchor = Day(h.CreatedAt)
		found = true
	}
	for _, rep := range reps {
		day := Day(rep.Date)
		if !found || day.Before(anchor) {
			anchor = day
			found = true
		}
	}
	return anchor, found
}
