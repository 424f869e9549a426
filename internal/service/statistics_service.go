package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/habito/internal/cache"
	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
	"github.com/habito/internal/logger"
	"github.com/habito/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	defaultScoreHistoryDays = 90
	maxScoreHistoryDays     = 365
	defaultOverviewWorkers  = 8
)

// ErrInvalidRange 当查询区间参数非法时返回
var ErrInvalidRange = errors.New("invalid range")

// StatisticsService 组合习惯、打卡与计算引擎，输出统计结果
// 读取总是基于最新打卡重新计算；详情结果按习惯版本号与日期缓存。
type StatisticsService struct {
	habits      *HabitService
	reps        *RepetitionService
	cache       cache.Cache
	ttl         time.Duration
	scoring     engine.ScoreConfig
	loc         *time.Location
	concurrency int
	log         *logger.Logger
}

// StatisticsOptions 描述 StatisticsService 的可选依赖
type StatisticsOptions struct {
	Cache       cache.Cache
	CacheTTL    time.Duration
	Scoring     engine.ScoreConfig
	Location    *time.Location
	Concurrency int
	Log         *logger.Logger
}

type detailedEntry struct {
	Revision int64                          `json:"revision"`
	Day      string                         `json:"day"`
	Stats    engine.DetailedHabitStatistics `json:"stats"`
}

// NewStatisticsService 构造 StatisticsService
func NewStatisticsService(habits *HabitService, reps *RepetitionService, opts StatisticsOptions) *StatisticsService {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultOverviewWorkers
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Scoring.DefaultHalfLife <= 0 {
		opts.Scoring.DefaultHalfLife = engine.DefaultHalfLife
	}
	return &StatisticsService{
		habits:      habits,
		reps:        reps,
		cache:       opts.Cache,
		ttl:         opts.CacheTTL,
		scoring:     opts.Scoring,
		loc:         opts.Location,
		concurrency: opts.Concurrency,
		log:         opts.Log.With("service", "StatisticsService"),
	}
}

func detailedKey(habitID uuid.UUID) string {
	return "stats:detailed:" + habitID.String()
}

// Invalidate 清除习惯的统计缓存，写入成功后调用
func (s *StatisticsService) Invalidate(ctx context.Context, habitID uuid.UUID) {
	if err := s.cache.Delete(ctx, detailedKey(habitID)); err != nil {
		s.log.Warn("stats cache invalidation failed", "habit_id", habitID.String(), "error", err)
	}
}

// load 取出习惯与其全部打卡并转换为引擎输入
func (s *StatisticsService) load(ctx context.Context, userID, habitID uuid.UUID) (*db.Habit, engine.Habit, []engine.Repetition, error) {
	habit, err := s.habits.Get(ctx, userID, habitID)
	if err != nil {
		return nil, engine.Habit{}, nil, err
	}
	reps, err := s.reps.ListForHabit(ctx, userID, habitID, nil, nil)
	if err != nil {
		return nil, engine.Habit{}, nil, err
	}
	return habit, toEngineHabit(*habit, s.loc), toEngineRepetitions(reps), nil
}

// Detailed 返回习惯详情统计
func (s *StatisticsService) Detailed(ctx context.Context, userID, habitID uuid.UUID, now time.Time) (*engine.DetailedHabitStatistics, error) {
	ctx, span := observability.Tracer().Start(ctx, "statistics.detailed")
	defer span.End()
	span.SetAttributes(attribute.String("habit.id", habitID.String()))

	habit, h, reps, err := s.load(ctx, userID, habitID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load habit")
		return nil, err
	}

	day := normalizeToDate(now).Format("2006-01-02")
	var entry detailedEntry
	if err := s.cache.Get(ctx, detailedKey(habitID), &entry); err == nil {
		if entry.Revision == habit.Revision && entry.Day == day {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &entry.Stats, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("stats cache read failed", "habit_id", habitID.String(), "error", err)
	}

	ev := engine.Evaluate(h, reps, now)
	streaks := engine.StreaksFromEvaluation(ev)
	scores := engine.ScoreSeriesFromEvaluation(ev, s.scoring)
	stats := engine.BuildDetailedStatistics(h, reps, streaks, scores, now)
	span.SetAttributes(attribute.Int("repetitions", len(reps)), attribute.Bool("cache.hit", false))

	entry = detailedEntry{Revision: habit.Revision, Day: day, Stats: stats}
	if err := s.cache.Set(ctx, detailedKey(habitID), entry, s.ttl); err != nil {
		s.log.Warn("stats cache write failed", "habit_id", habitID.String(), "error", err)
	}
	return &stats, nil
}

// Basic 返回习惯的概要统计
func (s *StatisticsService) Basic(ctx context.Context, userID, habitID uuid.UUID, now time.Time) (*engine.HabitStatistics, error) {
	_, h, reps, err := s.load(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}
	stats := engine.BuildHabitSummary(h, reps, now, s.scoring)
	return &stats, nil
}

// Overview 汇总用户全部未归档习惯
// 习惯与打卡各查询一次，再按习惯并发计算；单个习惯失败只产生占位项。
func (s *StatisticsService) Overview(ctx context.Context, userID uuid.UUID, now time.Time) (*engine.OverviewStatistics, error) {
	ctx, span := observability.Tracer().Start(ctx, "statistics.overview")
	defer span.End()

	habits, err := s.habits.List(ctx, userID, HabitFilter{})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	reps, err := s.reps.ListForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	byHabit := make(map[uuid.UUID][]db.Repetition, len(habits))
	for _, rep := range reps {
		byHabit[rep.HabitID] = append(byHabit[rep.HabitID], rep)
	}

	var active []db.Habit
	archived := 0
	for _, habit := range habits {
		if habit.Archived {
			archived++
			continue
		}
		active = append(active, habit)
	}

	results := make([]engine.HabitStatistics, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range active {
		habit := active[i]
		habitReps := byHabit[habit.ID]
		g.Go(func() error {
			results[i] = s.summarize(gctx, habit, habitReps, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	overview := engine.BuildOverview(engine.OverviewInput{
		ArchivedHabits:   archived,
		TotalRepetitions: len(reps),
		Habits:           results,
	})
	span.SetAttributes(
		attribute.Int("habits.active", len(active)),
		attribute.Int("habits.unavailable", overview.UnavailableHabits),
	)
	return &overview, nil
}

// summarize 计算单个习惯的概要，panic 被转换为占位项
func (s *StatisticsService) summarize(ctx context.Context, habit db.Habit, reps []db.Repetition, now time.Time) (stats engine.HabitStatistics) {
	h := toEngineHabit(habit, s.loc)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("habit statistics failed", "habit_id", habit.ID.String(), "panic", fmt.Sprint(r))
			stats = engine.UnavailableStatistics(h)
		}
	}()
	if err := ctx.Err(); err != nil {
		return engine.UnavailableStatistics(h)
	}
	return engine.BuildHabitSummary(h, toEngineRepetitions(reps), now, s.scoring)
}

// Streaks 返回当前连胜、最佳连胜与全部区间
func (s *StatisticsService) Streaks(ctx context.Context, userID, habitID uuid.UUID, now time.Time) (*engine.StreakResult, error) {
	_, h, reps, err := s.load(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}
	result := engine.ComputeStreaks(h, reps, now)
	return &result, nil
}

// ScoreHistory 返回最近 days 天的强度分，days 取值 1-365，0 表示默认 90 天
func (s *StatisticsService) ScoreHistory(ctx context.Context, userID, habitID uuid.UUID, days int, now time.Time) ([]engine.ScorePoint, error) {
	if days == 0 {
		days = defaultScoreHistoryDays
	}
	if days < 1 || days > maxScoreHistoryDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRange, maxScoreHistoryDays)
	}

	_, h, reps, err := s.load(ctx, userID, habitID)
	if err != nil {
		return nil, err
	}
	series := engine.ScoreSeries(h, reps, now, s.scoring)
	if len(series) > days {
		series = series[len(series)-days:]
	}
	return series, nil
}

// CurrentScore 返回今天的强度分
func (s *StatisticsService) CurrentScore(ctx context.Context, userID, habitID uuid.UUID, now time.Time) (float64, error) {
	_, h, reps, err := s.load(ctx, userID, habitID)
	if err != nil {
		return 0, err
	}
	return engine.LatestScore(engine.ScoreSeries(h, reps, now, s.scoring)), nil
}
