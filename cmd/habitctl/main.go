package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/habito/internal/app"
	"github.com/habito/internal/config"
	"github.com/habito/internal/db"
	"github.com/habito/internal/logger"
	"github.com/spf13/cobra"
)

var (
	verbose      bool
	userPassword string
	verifyFix    bool
	recalcHabit  string
	seedUser     string
	seedPassword string
	seedDays     int
	seedRandSeed uint64
)

var rootCmd = &cobra.Command{
	Use:           "habitctl",
	Short:         "Habito maintenance tool",
	Long:          `Administrative commands for the habit tracking service: schema migration, accounts, consistency checks and demo data.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		gdb, err := db.Open(db.Options{Driver: cfg.DatabaseDriver, Path: cfg.DatabasePath, DSN: cfg.DatabaseURL})
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(gdb); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a local account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			user, err := a.Users.Create(ctx, args[0], userPassword)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Issue an access token for an existing account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			user, err := a.Users.FindByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			token, expiresAt, err := a.Tokens.Issue(user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare stored streak and score rows against a fresh computation",
	Long: `Recompute every habit from its repetitions and compare the result with the stored
streak and score rows. Use --fix to rebuild the rows of habits that drifted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			reports, err := runVerify(ctx, a, today(a), verifyFix)
			printDrift(cmd, reports, verifyFix)
			return err
		})
	},
}

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Rebuild stored streak and score rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := recalculate(ctx, a, recalcHabit, today(a))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d habit(s)\n", n)
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate demo habits and check-in history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := seedDemo(ctx, a, seedOptions{
				Username: seedUser,
				Password: seedPassword,
				Days:     seedDays,
				Seed:     seedRandSeed,
				Today:    today(a),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "用户: %s\n习惯: %d 个\n打卡: %d 条\n", result.Username, result.Habits, result.Repetitions)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	userCreateCmd.Flags().StringVarP(&userPassword, "password", "p", "", "Password for the new account")
	_ = userCreateCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userCreateCmd)

	verifyCmd.Flags().BoolVar(&verifyFix, "fix", false, "Rebuild rows of drifted habits")
	recalculateCmd.Flags().StringVar(&recalcHabit, "habit", "", "Only rebuild the habit with this id")

	seedCmd.Flags().StringVar(&seedUser, "user", "demo", "Owner of the generated habits")
	seedCmd.Flags().StringVar(&seedPassword, "password", "demo123", "Password used when the owner does not exist")
	seedCmd.Flags().IntVar(&seedDays, "days", 90, "Days of history to generate")
	seedCmd.Flags().Uint64Var(&seedRandSeed, "seed", 1, "Random seed")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(recalculateCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	cfg := config.Load()

	mode := "production"
	if verbose {
		mode = "development"
	}
	log, err := logger.New(mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func today(a *app.App) time.Time {
	return time.Now().In(a.Cfg.Location())
}
