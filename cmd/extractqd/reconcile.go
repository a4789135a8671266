package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/extractq/pkg/hub"
	"github.com/jdziat/extractq/pkg/scheduler"
	"github.com/jdziat/extractq/pkg/worker"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fail processing jobs whose heartbeat stopped",
	Long: `Reconcile runs one stale-job sweep against the database: every job left
in processing whose heartbeat is older than worker.stale_after is marked
failed. A running server does this on its own schedule; the command is for
stores whose server is down.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Duration("stale-after", 0, "heartbeat age at which a job is abandoned")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, map[string]string{"worker.stale_after": "stale-after"})
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	r := worker.NewReconciler(store, scheduler.New(), hub.New(),
		worker.StaleAfter(cfg.Worker.StaleAfter),
		worker.WithLogger(logger),
	)
	n, err := r.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "failed %d stale jobs (older than %s)\n", n, cfg.Worker.StaleAfter.Round(time.Second))
	return nil
}
