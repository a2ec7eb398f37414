package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/retention"
)

func cmdPurge(ctx context.Context, cfg *config.RuntimeConfig, args []string) int {
	fs := flag.NewFlagSet("elspeth purge", flag.ContinueOnError)
	retentionDays := fs.Int("retention-days", 90, "delete payload blobs for runs completed more than N days ago")
	dryRun := fs.Bool("dry-run", false, "report what would be deleted without deleting anything")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	daemon := fs.Bool("daemon", false, "run on the --cron schedule instead of once")
	cronSpec := fs.String("cron", "0 2 * * *", "cron schedule for --daemon, default nightly at 02:00")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		log.Printf("elspeth: %v", err)
		return exitFailure
	}
	defer rt.close(ctx)

	service := retention.NewService(rt.recorder, rt.payloads, *retentionDays)

	if *daemon {
		scheduler, err := retention.NewScheduler(service, *cronSpec)
		if err != nil {
			log.Printf("elspeth: invalid --cron schedule %q: %v", *cronSpec, err)
			return exitUsage
		}
		scheduler.Start()
		log.Printf("elspeth: purge daemon running on schedule %q, retention_days=%d", *cronSpec, *retentionDays)
		<-ctx.Done()
		scheduler.Stop()
		return exitSuccess
	}

	if !*dryRun && !*yes {
		preview, err := service.Purge(ctx, true)
		if err != nil {
			log.Printf("elspeth: purge dry-run preview failed: %v", err)
			return exitFailure
		}
		fmt.Printf("this will delete %d payload blob(s); type y to confirm (--yes skips this prompt, --dry-run only previews): ", preview.DeletedCount)
		if !confirm() {
			fmt.Println("aborted")
			return exitUsage
		}
	}

	result, err := service.Purge(ctx, *dryRun)
	if err != nil {
		log.Printf("elspeth: purge failed: %v", err)
		return exitFailure
	}

	fmt.Printf("deleted_count=%d bytes_freed=%d failed_refs=%d graded_runs=%d duration_seconds=%.3f\n",
		result.DeletedCount, result.BytesFreed, len(result.FailedRefs), result.GradedRuns, result.DurationSeconds)
	for _, f := range result.FailedRefs {
		fmt.Printf("  failed: run_id=%s hash=%s error=%s\n", f.RunID, f.Hash, f.Err)
	}

	if len(result.FailedRefs) > 0 {
		return exitFailure
	}
	return exitSuccess
}

func confirm() bool {
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return line == "y\n" || line == "yes\n"
}
