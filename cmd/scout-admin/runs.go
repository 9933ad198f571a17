package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	redisadapter "github.com/scoutline/scout-api/internal/adapters/redis"
	"github.com/scoutline/scout-api/internal/bootstrap"
	"github.com/scoutline/scout-api/internal/data"
	"github.com/scoutline/scout-api/internal/devseed"
	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/scoutline/scout-api/internal/queue"
	"github.com/scoutline/scout-api/internal/service"
	"github.com/scoutline/scout-api/internal/util"
)

const (
	commandTimeout          = 2 * time.Minute
	defaultMigrationTimeout = 5 * time.Minute
)

type recoverOptions struct {
	TimeoutMinutes int
}

type cleanupOptions struct {
	OlderThanDays int
	DryRun        bool
	Yes           bool
}

type healthOptions struct {
	RunID          string
	TimeoutMinutes int
}

type seedSessionsOptions struct {
	TTL time.Duration
}

type migrateOptions struct {
	Timeout time.Duration
}

// newRunManager builds a RunManagerService over a fresh queue. CLI commands
// operate on the durable store only; there is no live executor queue here.
func newRunManager(cmdCtx *commandContext, db *sql.DB) *service.RunManagerService {
	return service.MustNewRunManagerService(service.RunManagerServiceOptions{
		Runs:    data.NewRunRepo(db, data.RepoConfig{}),
		Results: data.NewResultRepo(db, data.RepoConfig{}),
		Queue:   queue.New(queue.Options{Logger: cmdCtx.Logger}),
		Config:  cmdCtx.Config.RunManager,
		Logger:  cmdCtx.Logger,
	})
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, nil); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
}

func runRecover(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	opts := recoverOptions{}
	fs.IntVar(&opts.TimeoutMinutes, "timeout-minutes", 0, "staleness threshold in minutes (0 uses the configured default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, nil); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	manager := newRunManager(cmdCtx, db)
	report, err := manager.RecoverStuckRuns(ctx, time.Duration(opts.TimeoutMinutes)*time.Minute)
	if err != nil {
		return err
	}

	return printRecoveryReport(os.Stdout, report)
}

func printRecoveryReport(w io.Writer, report *model.RecoveryReport) error {
	if report.RecoveredCount == 0 {
		return writeln(w, "No stuck runs found.")
	}

	if err := writef(w, "Recovered %d stuck run(s):\n\n", report.RecoveredCount); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "RUN ID\tOWNER\tAGE\tCREATED AT"); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, r := range report.Runs {
		age := util.FormatProcessingDuration(time.Duration(r.AgeMinutes * float64(time.Minute)))
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.ID, r.OwnerID, age, r.CreatedAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func runCleanup(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	opts := cleanupOptions{}
	fs.IntVar(&opts.OlderThanDays, "older-than-days", 0, "delete terminal runs older than this many days (0 uses the configured retention)")
	fs.BoolVar(&opts.Yes, "yes", false, "skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	maxAge := time.Duration(opts.OlderThanDays) * 24 * time.Hour
	if maxAge <= 0 {
		maxAge = cmdCtx.Config.RunManager.RetentionMaxAge
	}

	if !opts.Yes {
		if err := confirmCleanup(maxAge); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, nil); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	manager := newRunManager(cmdCtx, db)
	deleted, err := manager.CleanupOlderThan(ctx, maxAge)
	if err != nil {
		return err
	}

	return writef(os.Stdout, "Deleted %d terminal run(s) older than %s.\n", deleted, maxAge)
}

func confirmCleanup(maxAge time.Duration) error {
	if err := writef(os.Stderr, "Delete all terminal runs older than %s? Type 'yes' to continue: ", maxAge); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stderr, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	if strings.TrimSpace(resp) != "yes" {
		return errors.New("aborted by user")
	}
	return nil
}

func runHealth(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	opts := healthOptions{}
	fs.StringVar(&opts.RunID, "run", "", "inspect a single run instead of the summary")
	fs.IntVar(&opts.TimeoutMinutes, "timeout-minutes", 0, "staleness threshold in minutes (0 uses the configured default)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, nil); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	manager := newRunManager(cmdCtx, db)

	if opts.RunID != "" {
		health, healthErr := manager.GetHealth(ctx, opts.RunID, time.Duration(opts.TimeoutMinutes)*time.Minute)
		if healthErr != nil {
			return healthErr
		}
		return printRunHealth(os.Stdout, opts.RunID, health)
	}

	summary, err := manager.Summary(ctx)
	if err != nil {
		return err
	}
	return printHealthSummary(os.Stdout, summary)
}

func printRunHealth(w io.Writer, id string, health *model.RunHealth) error {
	state := "healthy"
	if health.IsStuck {
		state = "STUCK"
	}
	if err := writef(w, "Run %s: %s\n", id, state); err != nil {
		return err
	}
	if err := writef(w, "  Progress: %.0f%%\n", health.Progress*100); err != nil {
		return err
	}
	if err := writef(w, "  Age: %s\n", util.FormatProcessingDuration(time.Duration(health.AgeMinutes*float64(time.Minute)))); err != nil {
		return err
	}
	if health.EstimatedMinutesRemaining != nil {
		if err := writef(w, "  Estimated remaining: %.1f min\n", *health.EstimatedMinutesRemaining); err != nil {
			return err
		}
	}
	return nil
}

func printHealthSummary(w io.Writer, summary *model.RunHealthSummary) error {
	if err := writeln(w, "Run Health Summary"); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "Active runs:\t%d\n", summary.ActiveRuns); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if _, err := fmt.Fprintf(tw, "Stuck runs:\t%d\n", summary.StuckRuns); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if _, err := fmt.Fprintf(tw, "Average progress:\t%.0f%%\n", summary.AverageProgress*100); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush summary: %w", err)
	}
	return nil
}

func runSeedSessions(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("seed-sessions", flag.ContinueOnError)
	opts := seedSessionsOptions{}
	fs.DurationVar(&opts.TTL, "ttl", cmdCtx.Config.HTTP.SessionTTL, "session lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	_, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantRedis: true,
	})
	if err != nil {
		return err
	}
	if redisClient == nil {
		return errors.New("seed-sessions requires a configured redis")
	}
	defer func() {
		if cerr := closeInfra(nil, redisClient); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	store := redisadapter.NewSessionStoreWithPrefix(redisClient, "session:")
	if err := devseed.Sessions(ctx, store, opts.TTL); err != nil {
		return err
	}

	return writef(os.Stdout, "Seeded dev sessions %q (admin) and %q (user), valid for %s.\n",
		devseed.AdminSessionID, devseed.UserSessionID, opts.TTL)
}
