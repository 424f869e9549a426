package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/habito/internal/app"
	"github.com/habito/internal/db"
	"github.com/habito/internal/service"
	"github.com/spf13/cobra"
)

func runVerify(ctx context.Context, a *app.App, today time.Time, fix bool) ([]service.DriftReport, error) {
	reports, err := a.Derived.VerifyAll(ctx, today, fix)
	if err != nil {
		return reports, fmt.Errorf("verify derived rows: %w", err)
	}
	if fix {
		for _, r := range reports {
			a.Stats.Invalidate(ctx, r.HabitID)
		}
	}
	return reports, nil
}

func printDrift(cmd *cobra.Command, reports []service.DriftReport, fixed bool) {
	out := cmd.OutOrStdout()
	if len(reports) == 0 {
		fmt.Fprintln(out, "✅ stored rows match a fresh computation")
		return
	}
	for _, r := range reports {
		first := "-"
		if r.FirstMismatchDay != nil {
			first = r.FirstMismatchDay.Format("2006-01-02")
		}
		fmt.Fprintf(out, "habit %s as of %s: %d/%d score rows differ (first %s), streaks %d stored vs %d expected\n",
			r.HabitID, r.AsOf.Format("2006-01-02"), r.ScoreMismatches, r.ScoresChecked, first, r.StoredStreaks, r.ExpectedStreaks)
	}
	if fixed {
		fmt.Fprintf(out, "rebuilt %d habit(s)\n", len(reports))
	} else {
		fmt.Fprintln(out, "run with --fix to rebuild")
	}
}

// recalculate 重建单个或全部习惯的派生行，habitID 为空表示全部
func recalculate(ctx context.Context, a *app.App, habitID string, today time.Time) (int, error) {
	query := a.DB.WithContext(ctx).Order("created_at ASC")
	if habitID != "" {
		id, err := uuid.Parse(habitID)
		if err != nil {
			return 0, fmt.Errorf("invalid habit id %q: %w", habitID, err)
		}
		query = query.Where("id = ?", id)
	}

	var habits []db.Habit
	if err := query.Find(&habits).Error; err != nil {
		return 0, fmt.Errorf("list habits: %w", err)
	}
	if habitID != "" && len(habits) == 0 {
		return 0, service.ErrHabitNotFound
	}

	for _, h := range habits {
		if _, err := a.Derived.Recalculate(ctx, h.UserID, h.ID, today); err != nil {
			return 0, fmt.Errorf("recalculate %s: %w", h.ID, err)
		}
		a.Stats.Invalidate(ctx, h.ID)
	}
	return len(habits), nil
}
