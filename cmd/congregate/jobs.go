package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/congregate/congregate/cmd/congregate/cli"
)

const jobsUsage = `usage:
  congregate jobs stats
  congregate jobs archived
  congregate jobs trigger <task> [args...]`

// runJobsCommand handles the operational "jobs" subcommand.
func runJobsCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, jobsUsage)
		return 2
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}
	jobsCLI, err := cli.NewJobsCLI(redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		_ = jobsCLI.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "archived":
		tasks, err := jobsCLI.ListArchived(ctx, 50)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for _, t := range tasks {
			fmt.Printf("%s %s %s last_error=%q\n", t.ID, t.Type, t.Payload, t.LastErr)
		}
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, jobsUsage)
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], args[2:]...)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
	default:
		fmt.Fprintln(os.Stderr, jobsUsage)
		return 2
	}
	return 0
}
