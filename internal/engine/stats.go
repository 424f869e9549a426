package engine

import (
	"math"
	"math/bits"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	heatmapDays    = 365
	chartPeriods   = 12
	trendWindow    = 30
	heatmapMaxTier = 4
)

// WeeklyChartData 是一周的完成情况
type WeeklyChartData struct {
	WeekLabel      string  `json:"week_label"`
	WeekStart      string  `json:"week_start"`
	Completed      int     `json:"completed"`
	Target         int     `json:"target"`
	CompletionRate float64 `json:"completion_rate"`
}

// MonthlyChartData 是一个自然月的完成情况
type MonthlyChartData struct {
	MonthLabel     string  `json:"month_label"`
	MonthStart     string  `json:"month_start"`
	Completed      int     `json:"completed"`
	Target         int     `json:"target"`
	CompletionRate float64 `json:"completion_rate"`
}

// CalendarHeatmapData 是热力图中的一天
type CalendarHeatmapData struct {
	Date  string  `json:"date"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
	Level int     `json:"level"`
}

// TrendData 描述近期趋势
type TrendData struct {
	Period                string  `json:"period"`
	ConsistencyScore      float64 `json:"consistency_score"`
	ImprovementRate       float64 `json:"improvement_rate"`
	AverageCompletionRate float64 `json:"average_completion_rate"`
	BestDayOfWeek         *string `json:"best_day_of_week"`
	WorstDayOfWeek        *string `json:"worst_day_of_week"`
}

// HabitStatistics 是单个习惯的概要统计
type HabitStatistics struct {
	HabitID          string   `json:"habit_id"`
	HabitName        string   `json:"habit_name"`
	Status           string   `json:"status"`
	TotalRepetitions int      `json:"total_repetitions"`
	CompletionRate   float64  `json:"completion_rate"`
	CurrentStreak    int      `json:"current_streak"`
	BestStreak       int      `json:"best_streak"`
	CurrentScore     float64  `json:"current_score"`
	ScorePercentage  float64  `json:"score_percentage"`
	AverageValue     *float64 `json:"average_value"`
	LastCompletion   *string  `json:"last_completion"`
	TotalDaysTracked int      `json:"total_days_tracked"`
	RepetitionsToday int      `json:"repetitions_today"`
	CompletedToday   bool     `json:"completed_today"`
}

// DetailedHabitStatistics 是习惯详情页所需的全部统计
type DetailedHabitStatistics struct {
	HabitStatistics
	WeeklyData      []WeeklyChartData     `json:"weekly_data"`
	MonthlyData     []MonthlyChartData    `json:"monthly_data"`
	CalendarHeatmap []CalendarHeatmapData `json:"calendar_heatmap"`
	TrendData       TrendData             `json:"trend_data"`
}

// 概要统计的状态
const (
	SummaryOK          = "ok"
	SummaryUnavailable = "unavailable"
)

// BuildHabitSummary 计算概要统计
func BuildHabitSummary(h Habit, reps []Repetition, now time.Time, cfg ScoreConfig) HabitStatistics {
	ev := Evaluate(h, reps, now)
	streaks := StreaksFromEvaluation(ev)
	scores := ScoreSeriesFromEvaluation(ev, cfg)
	return summarize(ev, streaks, scores)
}

// BuildDetailedStatistics 在已算好的连胜与分数之上组合详情统计，纯读取无副作用
func BuildDetailedStatistics(h Habit, reps []Repetition, streaks StreakResult, scores []ScorePoint, now time.Time) DetailedHabitStatistics {
	ev := Evaluate(h, reps, now)
	return DetailedHabitStatistics{
		HabitStatistics: summarize(ev, streaks, scores),
		WeeklyData:      weeklyData(ev),
		MonthlyData:     monthlyData(ev),
		CalendarHeatmap: calendarHeatmap(ev),
		TrendData:       trendData(ev),
	}
}

func summarize(ev Evaluation, streaks StreakResult, scores []ScorePoint) HabitStatistics {
	h := ev.Habit
	stats := HabitStatistics{
		HabitID:          h.ID,
		HabitName:        h.Name,
		Status:           SummaryOK,
		TotalRepetitions: len(ev.Repetitions),
		CompletionRate:   completionRate(ev.EvaluatedOutcomes()),
		CurrentStreak:    streaks.Current,
		BestStreak:       streaks.Best,
	}

	score := latestScoreUpTo(scores, ev.Today)
	stats.CurrentScore = round(score, 5)
	stats.ScorePercentage = round(score*100, 2)

	if h.IsNumeric() {
		sum, n := 0.0, 0
		for _, rep := range ev.Repetitions {
			if rep.Value > 0 && !math.IsNaN(rep.Value) && !math.IsInf(rep.Value, 0) {
				sum += rep.Value
				n++
			}
		}
		if n > 0 {
			avg := round(sum/float64(n), 2)
			stats.AverageValue = &avg
		}
	}

	for i := len(ev.Repetitions) - 1; i >= 0; i-- {
		rep := ev.Repetitions[i]
		if rep.Date.After(ev.Today) || !Qualifies(h, rep) {
			continue
		}
		last := rep.Date.Format(dateLayout)
		stats.LastCompletion = &last
		break
	}

	if len(ev.Repetitions) > 0 {
		if days := DaysBetween(ev.Repetitions[0].Date, ev.Today) + 1; days > 0 {
			stats.TotalDaysTracked = days
		}
	}

	for _, rep := range ev.Repetitions {
		if rep.Date.Equal(ev.Today) {
			stats.RepetitionsToday++
		}
	}

	schedule := NewSchedule(h, ev.Repetitions)
	stats.CompletedToday = schedule.SatisfiedOn(ev.Today, ev.Repetitions)

	return stats
}

func latestScoreUpTo(points []ScorePoint, day time.Time) float64 {
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].Date.After(day) {
			return points[i].Value
		}
	}
	return 0
}

func completionRate(outcomes []Outcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	satisfied := 0
	for _, o := range outcomes {
		if o.Satisfied {
			satisfied++
		}
	}
	return round(float64(satisfied)/float64(len(outcomes))*100, 2)
}

// expectedInRange 计算区间内（裁剪到起算日与今天之间）的目标完成次数
func expectedInRange(ev Evaluation, start, end time.Time) int {
	if ev.Anchor.IsZero() {
		return 0
	}
	if start.Before(ev.Anchor) {
		start = ev.Anchor
	}
	if end.After(ev.Today) {
		end = ev.Today
	}
	if end.Before(start) {
		return 0
	}

	h := ev.Habit
	days := DaysBetween(start, end) + 1
	active := 0
	for i := 0; i < days; i++ {
		if h.activeOn(start.AddDate(0, 0, i)) {
			active++
		}
	}
	if h.periodDays() == 1 {
		return active
	}
	// 按启用日占比折算每个周期的启用天数
	perPeriod := float64(h.periodDays()) * float64(bits.OnesCount(uint(h.weekdayMask()))) / 7
	return int(math.Round(float64(active) * float64(h.required()) / perPeriod))
}

func qualifyingInRange(ev Evaluation, start, end time.Time) int {
	count := 0
	for _, rep := range ev.Repetitions {
		if rep.Date.Before(start) || rep.Date.After(end) || rep.Date.After(ev.Today) {
			continue
		}
		if Qualifies(ev.Habit, rep) {
			count++
		}
	}
	return count
}

func periodRate(completed, target int) float64 {
	if target <= 0 {
		if completed > 0 {
			return 100
		}
		return 0
	}
	return round(math.Min(float64(completed)/float64(target)*100, 100), 2)
}

func weeklyData(ev Evaluation) []WeeklyChartData {
	offset := (int(ev.Today.Weekday()) + 6) % 7
	currentWeek := ev.Today.AddDate(0, 0, -offset)

	data := make([]WeeklyChartData, 0, chartPeriods)
	for i := chartPeriods - 1; i >= 0; i-- {
		start := currentWeek.AddDate(0, 0, -7*i)
		end := start.AddDate(0, 0, 6)
		completed := qualifyingInRange(ev, start, end)
		target := expectedInRange(ev, start, end)
		data = append(data, WeeklyChartData{
			WeekLabel:      start.Format("Jan 02"),
			WeekStart:      start.Format(dateLayout),
			Completed:      completed,
			Target:         target,
			CompletionRate: periodRate(completed, target),
		})
	}
	return data
}

func monthlyData(ev Evaluation) []MonthlyChartData {
	data := make([]MonthlyChartData, 0, chartPeriods)
	for i := chartPeriods - 1; i >= 0; i-- {
		start := time.Date(ev.Today.Year(), ev.Today.Month()-time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, -1)
		completed := qualifyingInRange(ev, start, end)
		target := expectedInRange(ev, start, end)
		data = append(data, MonthlyChartData{
			MonthLabel:     start.Format("Jan 2006"),
			MonthStart:     start.Format(dateLayout),
			Completed:      completed,
			Target:         target,
			CompletionRate: periodRate(completed, target),
		})
	}
	return data
}

func calendarHeatmap(ev Evaluation) []CalendarHeatmapData {
	start := ev.Today.AddDate(0, 0, -(heatmapDays - 1))
	byDay := make(map[time.Time]Repetition, len(ev.Repetitions))
	for _, rep := range ev.Repetitions {
		if rep.Date.Before(start) || rep.Date.After(ev.Today) {
			continue
		}
		byDay[rep.Date] = rep
	}

	data := make([]CalendarHeatmapData, 0, heatmapDays)
	for i := 0; i < heatmapDays; i++ {
		day := start.AddDate(0, 0, i)
		entry := CalendarHeatmapData{Date: day.Format(dateLayout)}
		if rep, ok := byDay[day]; ok {
			if rep.Status == StatusCompleted || rep.Status == StatusPartial {
				entry.Count = 1
			}
			entry.Value = rep.Value
			entry.Level = heatmapLevel(ev.Habit, rep)
		}
		data = append(data, entry)
	}
	return data
}

// heatmapLevel 把单日达成度映射到 0-4：达标为 4，部分完成按进度落在 1-3
func heatmapLevel(h Habit, rep Repetition) int {
	if Qualifies(h, rep) {
		return heatmapMaxTier
	}
	if rep.Status != StatusPartial {
		return 0
	}
	if !h.IsNumeric() || h.TargetValue == nil {
		return 2
	}
	if h.TargetType == TargetAtMost || *h.TargetValue <= 0 {
		return 1
	}
	ratio := rep.Value / *h.TargetValue
	if math.IsNaN(ratio) || ratio <= 0 {
		return 1
	}
	level := 1 + int(ratio*3)
	if level > heatmapMaxTier-1 {
		level = heatmapMaxTier - 1
	}
	return level
}

func trendData(ev Evaluation) TrendData {
	evaluated := ev.EvaluatedOutcomes()
	trend := TrendData{
		Period:                "month",
		AverageCompletionRate: completionRate(evaluated),
	}

	recentStart := len(evaluated) - trendWindow
	if recentStart < 0 {
		recentStart = 0
	}
	recent := evaluated[recentStart:]
	trend.ConsistencyScore = completionRate(recent)

	priorStart := recentStart - trendWindow
	if priorStart < 0 {
		priorStart = 0
	}
	if prior := evaluated[priorStart:recentStart]; len(prior) > 0 {
		trend.ImprovementRate = round(trend.ConsistencyScore-completionRate(prior), 2)
	}

	trend.BestDayOfWeek, trend.WorstDayOfWeek = bestAndWorstWeekday(ev, evaluated)
	return trend
}

// bestAndWorstWeekday 按星期统计历史达标率，并列时取星期序号更小者（周日 = 0）
func bestAndWorstWeekday(ev Evaluation, evaluated []Outcome) (*string, *string) {
	var hits, totals [7]int

	if ev.Habit.periodDays() == 1 {
		for _, o := range evaluated {
			wd := o.Due.Weekday()
			totals[wd]++
			if o.Satisfied {
				hits[wd]++
			}
		}
	} else if !ev.Anchor.IsZero() {
		for day := ev.Anchor; !day.After(ev.Today); day = day.AddDate(0, 0, 1) {
			if !ev.Habit.activeOn(day) {
				continue
			}
			wd := day.Weekday()
			totals[wd]++
			if ev.QualifyingOn(day) {
				hits[wd]++
			}
		}
	}

	best, worst := -1, -1
	var bestRate, worstRate float64
	for wd := 0; wd < 7; wd++ {
		if totals[wd] == 0 {
			continue
		}
		rate := float64(hits[wd]) / float64(totals[wd])
		if best < 0 || rate > bestRate {
			best, bestRate = wd, rate
		}
		if worst < 0 || rate < worstRate {
			worst, worstRate = wd, rate
		}
	}
	if best < 0 {
		return nil, nil
	}

	bestName := time.Weekday(best).String()
	worstName := time.Weekday(worst).String()
	return &bestName, &worstName
}

// OverviewInput 是概览统计的输入
type OverviewInput struct {
	ArchivedHabits   int
	TotalRepetitions int
	// Habits 只包含未归档习惯，计算失败的以占位项出现
	Habits []HabitStatistics
}

// OverviewStatistics 汇总用户全部习惯
type OverviewStatistics struct {
	TotalHabits           int               `json:"total_habits"`
	ActiveHabits          int               `json:"active_habits"`
	ArchivedHabits        int               `json:"archived_habits"`
	TotalRepetitions      int               `json:"total_repetitions"`
	TotalRepetitionsToday int               `json:"total_repetitions_today"`
	HabitsCompletedToday  int               `json:"habits_completed_today"`
	LongestStreak         int               `json:"longest_streak"`
	AverageCompletionRate float64           `json:"average_completion_rate"`
	UnavailableHabits     int               `json:"unavailable_habits"`
	Habits                []HabitStatistics `json:"habits"`
}

// BuildOverview 聚合各习惯的概要统计
func BuildOverview(input OverviewInput) OverviewStatistics {
	overview := OverviewStatistics{
		ActiveHabits:     len(input.Habits),
		ArchivedHabits:   input.ArchivedHabits,
		TotalHabits:      len(input.Habits) + input.ArchivedHabits,
		TotalRepetitions: input.TotalRepetitions,
		Habits:           input.Habits,
	}
	if overview.Habits == nil {
		overview.Habits = []HabitStatistics{}
	}

	rateSum, rated := 0.0, 0
	for _, stats := range input.Habits {
		if stats.Status != SummaryOK {
			overview.UnavailableHabits++
			continue
		}
		overview.TotalRepetitionsToday += stats.RepetitionsToday
		if stats.CompletedToday {
			overview.HabitsCompletedToday++
		}
		if stats.BestStreak > overview.LongestStreak {
			overview.LongestStreak = stats.BestStreak
		}
		rateSum += stats.CompletionRate
		rated++
	}
	if rated > 0 {
		overview.AverageCompletionRate = round(rateSum/float64(rated), 2)
	}
	return overview
}

// UnavailableStatistics 构造计算失败时的占位项
func UnavailableStatistics(h Habit) HabitStatistics {
	return HabitStatistics{HabitID: h.ID, HabitName: h.Name, Status: SummaryUnavailable}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
