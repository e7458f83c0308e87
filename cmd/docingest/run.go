package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evalgo-org/docingest/internal/model"
	"github.com/evalgo-org/docingest/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "inspect or control a coordination run",
}

var runStatusCmd = &cobra.Command{
	Use:   "status RUN_ID",
	Short: "print run state, counts, leader identity, and elapsed time",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var runCancelCmd = &cobra.Command{
	Use:   "cancel RUN_ID",
	Short: "transition an active run to failed; workers observe and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	runCmd.AddCommand(runStatusCmd, runCancelCmd)
}

func openStoreFromEnv(ctx context.Context) (*store.Pool, *store.Store, error) {
	dbURL, err := dbURLFromEnv()
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.Open(ctx, dbURL)
	if err != nil {
		return nil, nil, err
	}
	return pool, store.New(pool), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pool, st, err := openStoreFromEnv(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	r, err := st.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	summary, err := st.SummarizeQueue(ctx, args[0])
	if err != nil {
		return err
	}

	leader := "none"
	if r.LeaderWorkerID != nil {
		leader = *r.LeaderWorkerID
	}

	fmt.Printf("run_id:            %s\n", r.RunID)
	fmt.Printf("status:            %s\n", r.Status)
	fmt.Printf("elapsed:           %s\n", time.Since(r.CreatedAt).Round(time.Second))
	fmt.Printf("workers:           %d\n", r.WorkerCount)
	fmt.Printf("leader:            %s\n", leader)
	fmt.Printf("queued/processed/failed/retried: %d/%d/%d/%d\n",
		r.DocumentsQueued, r.DocumentsProcessed, r.DocumentsFailed, r.DocumentsRetried)
	fmt.Printf("queue pending/processing/completed/failed/retry: %d/%d/%d/%d/%d\n",
		summary.Pending, summary.Processing, summary.Completed, summary.Failed, summary.Retry)
	if r.PostProcessingError != nil {
		fmt.Printf("post_processing_error: %s\n", *r.PostProcessingError)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pool, st, err := openStoreFromEnv(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	r, err := st.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		fmt.Printf("run %s is already %s\n", r.RunID, r.Status)
		return nil
	}

	ok, err := st.TransitionRun(ctx, args[0], r.Status, model.RunFailed, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s changed status concurrently, retry", args[0])
	}
	fmt.Printf("run %s cancelled\n", args[0])
	return nil
}
