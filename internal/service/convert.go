package service

import (
	"time"

	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
)

// toEngineHabit 转换为引擎快照，创建日按业务时区取日期
func toEngineHabit(h db.Habit, loc *time.Location) engine.Habit {
	if loc == nil {
		loc = time.UTC
	}
	return engine.Habit{
		ID:              h.ID.String(),
		Name:            h.Name,
		Type:            engine.HabitType(h.HabitType),
		TargetValue:     h.TargetValue,
		TargetType:      engine.TargetType(h.TargetType),
		FreqNum:         h.FreqNum,
		FreqDen:         h.FreqDen,
		WeekdaySchedule: h.WeekdaySchedule,
		CreatedAt:       h.CreatedAt.In(loc),
	}
}

func toEngineRepetitions(reps []db.Repetition) []engine.Repetition {
	out := make([]engine.Repetition, 0, len(reps))
	for _, rep := range reps {
		out = append(out, engine.Repetition{
			Date:   rep.Date.UTC(),
			Status: engine.Status(rep.Status),
			Value:  rep.Value,
		})
	}
	return out
}

// normalizeToDate 截断到日期并统一存储为 UTC 零点
func normalizeToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// storedDay 还原存储的日期列；读取时可能带有进程本地时区，需先转回 UTC 再截断
func storedDay(t time.Time) time.Time {
	return normalizeToDate(t.UTC())
}
