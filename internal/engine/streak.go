package engine

import "time"

// Streak 是一段连续达标的周期区间，Length 以到期周期计数
type Streak struct {
	Start  time.Time
	End    time.Time
	Length int
}

// StreakResult 汇总连胜计算结果
type StreakResult struct {
	Current   int
	Best      int
	Intervals []Streak
	// BestInterval 指向最长区间，长度相同时取最近的一段
	BestInterval *Streak
}

// ComputeStreaks 从起算日扫描到 today，计算当前连胜、最佳连胜与全部区间
func ComputeStreaks(h Habit, reps []Repetition, today time.Time) StreakResult {
	return StreaksFromEvaluation(Evaluate(h, reps, today))
}

// StreaksFromEvaluation 基于已评估的周期计算连胜
// 非到期日不出现在 Outcomes 中，因此天然不会打断或延长连胜；进行中的周期直接跳过。
func StreaksFromEvaluation(ev Evaluation) StreakResult {
	var (
		result StreakResult
		run    int
		start  time.Time
		end    time.Time
	)

	for _, outcome := range ev.Outcomes {
		if outcome.Pending {
			continue
		}
		if outcome.Satisfied {
			if run == 0 {
				start = outcome.Start
			}
			run++
			end = outcome.Due
			if end.After(ev.Today) {
				end = ev.Today
			}
			continue
		}
		if run > 0 {
			result.Intervals = append(result.Intervals, Streak{Start: start, End: end, Length: run})
		}
		run = 0
	}

	if run > 0 {
		result.Intervals = append(result.Intervals, Streak{Start: start, End: end, Length: run})
		result.Current = run
	}

	for i := range result.Intervals {
		if result.Intervals[i].Length >= result.Best {
			result.Best = result.Intervals[i].Length
			result.BestInterval = &result.Intervals[i]
		}
	}

	return result
}
