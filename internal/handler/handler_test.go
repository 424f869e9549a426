package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/habito/internal/auth"
	"github.com/habito/internal/cache"
	"github.com/habito/internal/db"
	"github.com/habito/internal/engine"
	"github.com/habito/internal/service"
	"gorm.io/gorm/logger"
)

// 固定时钟：2024-03-06 周三 09:30 UTC
var handlerNow = time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC)

type handlerEnv struct {
	api    *API
	engine *gin.Engine
	token  string
	userID uuid.UUID
	tokens *auth.TokenService
}

func setupHandlerTest(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(db.Options{Path: "file::memory:?cache=shared", Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	users := service.NewUserService(gdb)
	user, err := users.Create(t.Context(), "tester", "secret")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	derived := service.NewDerivedService(gdb, engine.DefaultScoreConfig(), time.UTC, nil)
	habits := service.NewHabitService(gdb, derived)
	reps := service.NewRepetitionService(gdb, derived)
	stats := service.NewStatisticsService(habits, reps, service.StatisticsOptions{Cache: cache.NewMemory(), CacheTTL: time.Minute})
	tokens := auth.NewTokenService("test-secret", time.Hour)

	api := NewAPI(Options{
		Tokens:      tokens,
		Users:       users,
		Habits:      habits,
		Repetitions: reps,
		Derived:     derived,
		Statistics:  stats,
		Location:    time.UTC,
		Now:         func() time.Time { return handlerNow },
	})

	token, _, err := tokens.Issue(user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	r := gin.New()
	r.POST("/login", api.Login)
	authed := r.Group("")
	authed.Use(api.AuthRequired())
	{
		authed.GET("/me", api.Me)
		authed.GET("/habits", api.ListHabits)
		authed.POST("/habits", api.CreateHabit)
		authed.GET("/habits/:id", api.GetHabit)
		authed.GET("/habits/:id/with-stats", api.GetHabitWithStats)
		authed.PUT("/habits/:id", api.UpdateHabit)
		authed.DELETE("/habits/:id", api.DeleteHabit)
		authed.POST("/habits/:id/archive", api.ArchiveHabit)
		authed.GET("/repetitions", api.ListRepetitions)
		authed.POST("/repetitions", api.CreateRepetition)
		authed.DELETE("/repetitions/:id", api.DeleteRepetition)
		authed.GET("/repetitions/habit/:id/today", api.GetTodayRepetition)
		authed.POST("/repetitions/habit/:id/toggle", api.ToggleRepetition)
		authed.GET("/streaks/habit/:id", api.GetHabitStreaks)
		authed.POST("/streaks/habit/:id/recalculate", api.RecalculateHabitStreaks)
		authed.GET("/scores/habit/:id/history", api.GetScoreHistory)
		authed.GET("/statistics/overview", api.GetOverviewStatistics)
		authed.GET("/statistics/habit/:id/detailed", api.GetDetailedHabitStatistics)
	}

	return &handlerEnv{api: api, engine: r, token: token, userID: user.ID, tokens: tokens}
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, e.token, method, path, body)
}

func (e *handlerEnv) doAs(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return payload
}

func (e *handlerEnv) createHabit(t *testing.T, body map[string]any) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/habits", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create habit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	habit := decode(t, w)["habit"].(map[string]any)
	return habit["id"].(string)
}

func TestAuthRequired(t *testing.T) {
	env := setupHandlerTest(t)

	other := auth.NewTokenService("other-secret", time.Hour)
	foreign, _, _ := other.Issue(env.userID)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", foreign, http.StatusUnauthorized},
		{"valid token", env.token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.doAs(t, tc.token, http.MethodGet, "/me", nil)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestLogin(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.do(t, http.MethodPost, "/login", map[string]string{"username": "tester", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/login", map[string]string{"username": "tester"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/login", map[string]string{"username": "tester", "password": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["access_token"].(string)
	userID, err := env.tokens.Verify(token)
	if err != nil || userID != env.userID {
		t.Fatalf("issued token should verify to the user, got %s (%v)", userID, err)
	}
}

func TestCreateHabitErrors(t *testing.T) {
	env := setupHandlerTest(t)

	cases := []struct {
		name    string
		body    map[string]any
		status  int
		message string
	}{
		{"bad frequency", map[string]any{"name": "a", "freq_num": 5, "freq_den": 3}, http.StatusBadRequest, "频率配置无效"},
		{"missing name", map[string]any{"description": "x"}, http.StatusBadRequest, "习惯参数无效"},
		{"wrong json type", map[string]any{"name": 3}, http.StatusBadRequest, "请求参数不合法"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/habits", tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if msg := decode(t, w)["error"]; msg != tc.message {
				t.Fatalf("expected error %q, got %v", tc.message, msg)
			}
		})
	}
}

func TestHabitLifecycle(t *testing.T) {
	env := setupHandlerTest(t)

	id := env.createHabit(t, map[string]any{"name": "阅读", "description": "每天 **20** 页"})

	w := env.do(t, http.MethodGet, "/habits/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get habit: %d", w.Code)
	}
	habit := decode(t, w)["habit"].(map[string]any)
	if html, _ := habit["description_html"].(string); html == "" {
		t.Fatalf("expected rendered description, got %+v", habit)
	}

	w = env.do(t, http.MethodPut, "/habits/"+id, map[string]any{"name": "精读"})
	if w.Code != http.StatusOK || decode(t, w)["habit"].(map[string]any)["name"] != "精读" {
		t.Fatalf("update habit failed: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/habits/"+id+"/archive", nil)
	if w.Code != http.StatusOK || decode(t, w)["habit"].(map[string]any)["archived"] != true {
		t.Fatalf("archive failed: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/habits?archived=false", nil)
	if items := decode(t, w)["habits"].([]any); len(items) != 0 {
		t.Fatalf("archived habit should be filtered out, got %d", len(items))
	}
	w = env.do(t, http.MethodGet, "/habits?archived=maybe", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid archived filter, got %d", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/habits/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete habit: %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/habits/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/habits/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestRepetitionEndpoints(t *testing.T) {
	env := setupHandlerTest(t)
	id := env.createHabit(t, map[string]any{"name": "跑步"})

	body := map[string]any{"habit_id": id, "date": "2024-03-05", "notes": "<b>5km</b>"}
	first := env.do(t, http.MethodPost, "/repetitions", body)
	second := env.do(t, http.MethodPost, "/repetitions", body)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("upsert failed: %d/%d %s", first.Code, second.Code, second.Body.String())
	}
	a := decode(t, first)["repetition"].(map[string]any)
	b := decode(t, second)["repetition"].(map[string]any)
	if a["id"] != b["id"] || b["notes"] != "5km" || b["date"] != "2024-03-05" {
		t.Fatalf("expected idempotent sanitized upsert, got %+v then %+v", a, b)
	}

	w := env.do(t, http.MethodPost, "/repetitions", map[string]any{"habit_id": id, "date": "03/05/2024"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/repetitions", map[string]any{"habit_id": id, "date": "2024-03-05", "status": "done"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/repetitions", map[string]any{"habit_id": uuid.NewString(), "date": "2024-03-05"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown habit, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/repetitions/habit/"+id+"/today", nil)
	if decode(t, w)["repetition"] != nil {
		t.Fatalf("expected no repetition today")
	}
	w = env.do(t, http.MethodPost, "/repetitions/habit/"+id+"/toggle", nil)
	if decode(t, w)["completed"] != true {
		t.Fatalf("toggle should complete today: %s", w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/repetitions/habit/"+id+"/today", nil)
	today := decode(t, w)["repetition"].(map[string]any)
	if today["date"] != "2024-03-06" {
		t.Fatalf("expected today's repetition on 2024-03-06, got %v", today["date"])
	}

	w = env.do(t, http.MethodGet, "/repetitions?habit_id="+id+"&limit=1", nil)
	items := decode(t, w)["repetitions"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["date"] != "2024-03-06" {
		t.Fatalf("expected newest repetition first, got %+v", items)
	}

	w = env.do(t, http.MethodGet, "/streaks/habit/"+id, nil)
	streaks := decode(t, w)
	if streaks["current_streak"] != float64(2) {
		t.Fatalf("expected current streak 2, got %v", streaks["current_streak"])
	}

	w = env.do(t, http.MethodDelete, "/repetitions/"+a["id"].(string), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete repetition: %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/streaks/habit/"+id+"/recalculate", nil)
	stored := decode(t, w)["streaks"].([]any)
	if len(stored) != 1 || stored[0].(map[string]any)["length"] != float64(1) {
		t.Fatalf("expected a single 1-day stored streak, got %+v", stored)
	}
}

func TestStatisticsEndpoints(t *testing.T) {
	env := setupHandlerTest(t)
	id := env.createHabit(t, map[string]any{"name": "冥想"})
	env.do(t, http.MethodPost, "/repetitions/habit/"+id+"/toggle", nil)

	w := env.do(t, http.MethodGet, "/statistics/overview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("overview: %d", w.Code)
	}
	overview := decode(t, w)
	if overview["habits_completed_today"] != float64(1) || overview["active_habits"] != float64(1) {
		t.Fatalf("unexpected overview %+v", overview)
	}

	w = env.do(t, http.MethodGet, "/statistics/habit/"+id+"/detailed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detailed: %d %s", w.Code, w.Body.String())
	}
	detailed := decode(t, w)
	if len(detailed["calendar_heatmap"].([]any)) != 365 || detailed["current_streak"] != float64(1) {
		t.Fatalf("unexpected detailed stats")
	}

	w = env.do(t, http.MethodGet, "/statistics/habit/"+uuid.NewString()+"/detailed", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown habit, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/scores/habit/"+id+"/history?days=400", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range days, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/scores/habit/"+id+"/history?days=1", nil)
	if scores := decode(t, w)["scores"].([]any); len(scores) != 1 {
		t.Fatalf("expected one score point, got %d", len(scores))
	}
}

func TestHandleStatisticsErrorIsGeneric(t *testing.T) {
	env := setupHandlerTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/statistics/overview", nil)

	env.api.handleStatisticsError(c, errors.New("database is locked"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg := decode(t, w)["error"]; msg != "统计数据暂时不可用，请稍后重试" {
		t.Fatalf("internal error detail should not leak, got %v", msg)
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(0.001, 2)

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected burst of 2 then 429, got %v", codes)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("other clients should have their own bucket, got %d", w.Code)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	clock := time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	for _, key := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		limiter.limiterFor(key)
	}
	if len(limiter.limiters) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(limiter.limiters))
	}

	clock = clock.Add(limiterIdleTTL / 2)
	limiter.limiterFor("10.0.0.1")

	clock = clock.Add(limiterIdleTTL)
	limiter.limiterFor("10.0.0.4")
	if len(limiter.limiters) != 1 {
		t.Fatalf("idle buckets should be evicted, got %d", len(limiter.limiters))
	}
	if _, ok := limiter.limiters["10.0.0.4"]; !ok {
		t.Fatal("active client bucket missing")
	}
}
