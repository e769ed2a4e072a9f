package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Execute one monitoring task immediately and print the run log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, storeCleanup, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer storeCleanup()

			svc, svcCleanup, err := buildRunner(ctx, cfg, st, logger)
			if err != nil {
				return err
			}
			defer svcCleanup()

			run, err := svc.RunTask(ctx, taskID)
			if err != nil {
				return fmt.Errorf("run task %d: %w", taskID, err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		},
	}
}
