package engine

import "time"

// Schedule 绑定习惯与起算日，用于判断某天是否到期以及窗口是否达标
type Schedule struct {
	habit  Habit
	anchor time.Time
	ok     bool
}

// Outcome 表示一个到期周期的评估结果
// 每日习惯的周期就是到期当天；频率习惯的周期是以到期日结尾的 freq_den 天窗口。
type Outcome struct {
	Start     time.Time
	Due       time.Time
	Count     int
	Satisfied bool
	// Pending 为 true 表示窗口尚未结束且未达标，此时既不延续也不打断连胜
	Pending bool
}

// Evaluated 表示该周期已经有了确定结论
func (o Outcome) Evaluated() bool {
	return !o.Pending
}

// NewSchedule 基于习惯与其打卡记录推导起算日
func NewSchedule(h Habit, reps []Repetition) Schedule {
	anchor, ok := Anchor(h, reps)
	return Schedule{habit: h, anchor: anchor, ok: ok}
}

// Anchor 返回起算日；没有创建时间也没有打卡时 ok 为 false
func (s Schedule) Anchor() (time.Time, bool) {
	return s.anchor, s.ok
}

// IsScheduled 判断某天是否为到期日
// 星期掩码未启用的日子永不到期。每日习惯的启用日都到期；频率习惯在每个 freq_den 天周期内
// 最后一个启用日到期。起算日之前永不到期。
func (s Schedule) IsScheduled(day time.Time) bool {
	if !s.ok {
		return false
	}
	offset := DaysBetween(s.anchor, day)
	if offset < 0 || !s.habit.activeOn(Day(day)) {
		return false
	}
	period := s.habit.periodDays()
	if period == 1 {
		return true
	}
	due, _ := s.habit.periodDue(s.anchor, offset-offset%period, period)
	return due == offset
}

// Window 返回以 day 结尾、长度为 freq_den 的滚动窗口，起点不早于起算日
func (s Schedule) Window(day time.Time) (time.Time, time.Time) {
	end := Day(day)
	start := end.AddDate(0, 0, -(s.habit.periodDays() - 1))
	if s.ok && start.Before(s.anchor) {
		start = s.anchor
	}
	return start, end
}

// SatisfiedOn 判断以 day 结尾的窗口是否达标，只统计启用日的打卡
// 窗口内启用日少于 freq_num 时，全部启用日达标即可。
func (s Schedule) SatisfiedOn(day time.Time, reps []Repetition) bool {
	start, end := s.Window(day)
	active := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if s.habit.activeOn(d) {
			active++
		}
	}
	if active == 0 {
		return false
	}
	window := make([]Repetition, 0, len(reps))
	for _, rep := range reps {
		d := Day(rep.Date)
		if d.Before(start) || d.After(end) {
			continue
		}
		window = append(window, rep)
	}
	return countQualifying(s.habit, NormalizeRepetitions(window)) >= s.habit.requiredIn(active)
}

// IsScheduled 以习惯创建日为起算日判断某天是否到期
func IsScheduled(h Habit, day time.Time) bool {
	return NewSchedule(h, nil).IsScheduled(day)
}

// IsSatisfied 判断窗口内启用日的达标打卡数是否达到 freq_num
func IsSatisfied(h Habit, window []Repetition) bool {
	return countQualifying(h, NormalizeRepetitions(window)) >= h.required()
}

func countQualifying(h Habit, reps []Repetition) int {
	count := 0
	for _, rep := range reps {
		if h.activeOn(Day(rep.Date)) && Qualifies(h, rep) {
			count++
		}
	}
	return count
}

// Evaluation 汇总起算日到 today 的逐日与逐周期结果
type Evaluation struct {
	Habit       Habit
	Anchor      time.Time
	Today       time.Time
	Repetitions []Repetition
	Outcomes    []Outcome
	// qualifying[i] 对应 Anchor+i 天是否有达标打卡
	qualifying []bool
}

// Evaluate 按时间顺序评估所有到期周期
func Evaluate(h Habit, reps []Repetition, today time.Time) Evaluation {
	normalized := NormalizeRepetitions(reps)
	today = Day(today)
	ev := Evaluation{Habit: h, Today: today, Repetitions: normalized}

	schedule := NewSchedule(h, normalized)
	anchor, ok := schedule.Anchor()
	if !ok {
		return ev
	}
	ev.Anchor = anchor

	days := DaysBetween(anchor, today) + 1
	if days <= 0 {
		return ev
	}

	ev.qualifying = make([]bool, days)
	for _, rep := range normalized {
		offset := DaysBetween(anchor, rep.Date)
		if offset < 0 || offset >= days {
			continue
		}
		if Qualifies(h, rep) {
			ev.qualifying[offset] = true
		}
	}

	need := h.required()
	period := h.periodDays()

	if period == 1 {
		for offset := 0; offset < days; offset++ {
			day := anchor.AddDate(0, 0, offset)
			if !schedule.IsScheduled(day) {
				continue
			}
			count := 0
			if ev.qualifying[offset] {
				count = 1
			}
			satisfied := count >= need
			ev.Outcomes = append(ev.Outcomes, Outcome{
				Start:     day,
				Due:       day,
				Count:     count,
				Satisfied: satisfied,
				Pending:   !satisfied && offset == days-1,
			})
		}
		return ev
	}

	for start := 0; start < days; start += period {
		due, active := h.periodDue(anchor, start, period)
		if active == 0 {
			continue
		}
		last := due
		if last > days-1 {
			last = days - 1
		}

		count := 0
		for offset := start; offset <= last; offset++ {
			if ev.qualifying[offset] && h.activeOn(anchor.AddDate(0, 0, offset)) {
				count++
			}
		}

		satisfied := count >= h.requiredIn(active)
		// 到期日未过且未达标时保持进行中；到期日恰为今天同样视为进行中
		pending := !satisfied && due >= days-1
		ev.Outcomes = append(ev.Outcomes, Outcome{
			Start:     anchor.AddDate(0, 0, start),
			Due:       anchor.AddDate(0, 0, due),
			Count:     count,
			Satisfied: satisfied,
			Pending:   pending,
		})
	}

	return ev
}

// QualifyingOn 返回某天是否有达标打卡
func (ev Evaluation) QualifyingOn(day time.Time) bool {
	if len(ev.qualifying) == 0 {
		return false
	}
	offset := DaysBetween(ev.Anchor, day)
	if offset < 0 || offset >= len(ev.qualifying) {
		return false
	}
	return ev.qualifying[offset]
}

// EvaluatedOutcomes 返回已有结论的周期
func (ev Evaluation) EvaluatedOutcomes() []Outcome {
	out := make([]Outcome, 0, len(ev.Outcomes))
	for _, o := range ev.Outcomes {
		if o.Evaluated() {
			out = append(out, o)
		}
	}
	return out
}
