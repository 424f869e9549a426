package handler

import (
	"time"

	"github.com/habito/internal/auth"
	"github.com/habito/internal/logger"
	"github.com/habito/internal/service"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	log     *logger.Logger
	tokens  *auth.TokenService
	users   *service.UserService
	habits  *service.HabitService
	reps    *service.RepetitionService
	derived *service.DerivedService
	stats   *service.StatisticsService
	loc     *time.Location
	now     func() time.Time
}

// Options 描述构造 API 所需的服务
type Options struct {
	Log         *logger.Logger
	Tokens      *auth.TokenService
	Users       *service.UserService
	Habits      *service.HabitService
	Repetitions *service.RepetitionService
	Derived     *service.DerivedService
	Statistics  *service.StatisticsService
	// Location 是业务时区，“今天”按该时区取日期
	Location *time.Location
	// Now 用于测试注入时钟
	Now func() time.Time
}

// NewAPI constructs a handler set with shared services.
func NewAPI(opts Options) *API {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &API{
		log:     opts.Log.With("component", "api"),
		tokens:  opts.Tokens,
		users:   opts.Users,
		habits:  opts.Habits,
		reps:    opts.Repetitions,
		derived: opts.Derived,
		stats:   opts.Statistics,
		loc:     opts.Location,
		now:     opts.Now,
	}
}

// clock 返回业务时区下的当前时间
func (a *API) clock() time.Time {
	return a.now().In(a.loc)
}
