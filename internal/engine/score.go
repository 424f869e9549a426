package engine

import (
	"math"
	"time"
)

// ScoreScale 是分数落库时的定点倍数，1.0 对应 100000
const ScoreScale = 100000

// DefaultHalfLife 默认半衰期（到期周期数）
const DefaultHalfLife = 7.0

// ScoreConfig 描述强度分的衰减参数，可按习惯类型覆盖
type ScoreConfig struct {
	DefaultHalfLife float64
	HalfLife        map[HabitType]float64
}

// DefaultScoreConfig 返回默认配置
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{DefaultHalfLife: DefaultHalfLife}
}

// HalfLifeFor 返回指定类型的半衰期，缺省或非法时回退到默认值
func (c ScoreConfig) HalfLifeFor(t HabitType) float64 {
	if v, ok := c.HalfLife[t]; ok && v > 0 {
		return v
	}
	if c.DefaultHalfLife > 0 {
		return c.DefaultHalfLife
	}
	return DefaultHalfLife
}

// Multiplier 计算衰减系数 k = 0.5^(1/halfLife)，k 落在 (0,1)
func Multiplier(halfLife float64) float64 {
	if halfLife <= 0 || math.IsNaN(halfLife) || math.IsInf(halfLife, 0) {
		halfLife = DefaultHalfLife
	}
	return math.Pow(0.5, 1/halfLife)
}

// ComputeScore 对一个到期周期执行指数滑动平均更新
func ComputeScore(previous float64, satisfied bool, k float64) float64 {
	score := clampUnit(previous) * k
	if satisfied {
		score += 1 - k
	}
	return clampUnit(score)
}

// Advance 推进一天：非到期日原样结转，不做衰减
func Advance(previous float64, due, satisfied bool, k float64) float64 {
	if !due {
		return clampUnit(previous)
	}
	return ComputeScore(previous, satisfied, k)
}

// ScorePoint 是某一天结束时的强度分
type ScorePoint struct {
	Date  time.Time
	Value float64
}

// Fixed 返回定点表示
func (p ScorePoint) Fixed() int {
	return ToFixed(p.Value)
}

// ToFixed 把 [0,1] 的分数转换为 [0,100000] 的整数
func ToFixed(v float64) int {
	return int(math.Round(clampUnit(v) * ScoreScale))
}

// FromFixed 把定点整数还原为 [0,1] 的分数
func FromFixed(v int) float64 {
	return clampUnit(float64(v) / ScoreScale)
}

// ScoreSeries 从起算日到 today 逐日计算强度分，初始分为 0
func ScoreSeries(h Habit, reps []Repetition, today time.Time, cfg ScoreConfig) []ScorePoint {
	return ScoreSeriesFromEvaluation(Evaluate(h, reps, today), cfg)
}

// ScoreSeriesFromEvaluation 复用已有评估结果计算分数序列
// 分数只依赖前一天的分数与当天的到期/达标状态，必须按日期顺序推进。
func ScoreSeriesFromEvaluation(ev Evaluation, cfg ScoreConfig) []ScorePoint {
	if ev.Anchor.IsZero() {
		return nil
	}
	days := DaysBetween(ev.Anchor, ev.Today) + 1
	if days <= 0 {
		return nil
	}

	due := make(map[int]bool, len(ev.Outcomes))
	for _, outcome := range ev.Outcomes {
		offset := DaysBetween(ev.Anchor, outcome.Due)
		if offset >= days {
			continue
		}
		due[offset] = outcome.Satisfied
	}

	k := Multiplier(cfg.HalfLifeFor(ev.Habit.Type))
	points := make([]ScorePoint, 0, days)
	score := 0.0
	for offset := 0; offset < days; offset++ {
		satisfied, isDue := due[offset]
		score = Advance(score, isDue, satisfied, k)
		points = append(points, ScorePoint{Date: ev.Anchor.AddDate(0, 0, offset), Value: score})
	}
	return points
}

// LatestScore 返回序列最后一个分数，空序列为 0
func LatestScore(points []ScorePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	return points[len(points)-1].Value
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
