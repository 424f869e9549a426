package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/habito/internal/app"
	"github.com/habito/internal/db"
	"github.com/habito/internal/service"
)

type seedOptions struct {
	Username string
	Password string
	Days     int
	Seed     uint64
	Today    time.Time
}

type seedResult struct {
	Username    string
	Habits      int
	Repetitions int
}

// demoHabit 描述一个示例习惯及其打卡概率
type demoHabit struct {
	input service.HabitInput
	rate  float64
}

func demoHabits() []demoHabit {
	str := func(s string) *string { return &s }
	num := func(n int) *int { return &n }
	flt := func(f float64) *float64 { return &f }

	return []demoHabit{
		{
			input: service.HabitInput{Name: str("晨跑"), Question: str("今天跑步了吗？"), Color: num(3)},
			rate:  0.75,
		},
		{
			input: service.HabitInput{
				Name: str("阅读"), Description: str("每天读 **30 页**"),
				HabitType: str("numerical"), TargetValue: flt(30), Unit: str("页"), Color: num(11),
			},
			rate: 0.6,
		},
		{
			input: service.HabitInput{Name: str("健身"), FreqNum: num(3), FreqDen: num(7), Color: num(5)},
			rate:  0.45,
		},
		{
			input: service.HabitInput{
				Name: str("冥想"), HabitType: str("duration"), TargetValue: flt(10), Unit: str("分钟"),
				WeekdaySchedule: num(0b0111110), Color: num(14),
			},
			rate: 0.8,
		},
		{
			input: service.HabitInput{
				Name: str("咖啡"), HabitType: str("numerical"), TargetValue: flt(2), TargetType: str("at_most"),
				Unit: str("杯"), Color: num(1),
			},
			rate: 0.9,
		},
	}
}

// seedDemo 生成示例习惯与打卡历史；同名习惯已存在时复用，重复执行结果一致
func seedDemo(ctx context.Context, a *app.App, opts seedOptions) (seedResult, error) {
	if opts.Days <= 0 {
		return seedResult{}, fmt.Errorf("days must be positive")
	}

	user, err := a.Users.FindByUsername(ctx, opts.Username)
	if errors.Is(err, service.ErrInvalidCredentials) {
		user, err = a.Users.Create(ctx, opts.Username, opts.Password)
	}
	if err != nil {
		return seedResult{}, fmt.Errorf("prepare seed user: %w", err)
	}

	existing, err := a.Habits.List(ctx, user.ID, service.HabitFilter{})
	if err != nil {
		return seedResult{}, err
	}
	byName := make(map[string]db.Habit, len(existing))
	for _, h := range existing {
		byName[h.Name] = h
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	result := seedResult{Username: user.Username}

	for _, demo := range demoHabits() {
		habit, ok := byName[*demo.input.Name]
		if !ok {
			created, err := a.Habits.Create(ctx, user.ID, demo.input)
			if err != nil {
				return result, fmt.Errorf("create habit %s: %w", *demo.input.Name, err)
			}
			habit = *created
		}
		result.Habits++

		for i := opts.Days - 1; i >= 0; i-- {
			roll := rng.Float64()
			if roll >= demo.rate {
				continue
			}
			day := opts.Today.AddDate(0, 0, -i)
			input := service.RepetitionInput{
				HabitID: habit.ID,
				Date:    day,
				Status:  "completed",
			}
			if habit.TargetValue != nil {
				// 数值型在目标附近波动
				v := float64(int(*habit.TargetValue * (0.5 + rng.Float64())))
				input.Value = &v
			}
			if _, err := a.Reps.Upsert(ctx, user.ID, input, opts.Today); err != nil {
				return result, fmt.Errorf("seed repetition: %w", err)
			}
			result.Repetitions++
		}
		a.Stats.Invalidate(ctx, habit.ID)
	}
	return result, nil
}
