package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/courier-backoffice/internal/reconcile"
	"github.com/spf13/cobra"
)

var (
	reconcileOnce   bool
	reconcileDelete bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Find role and permission rows left behind by partial user changes",
	Long: `Run the orphan reconciliation on the configured schedule, or once with --once.
Role and permission rows without an identity are deleted when reconcile.delete_orphan_roles is set;
identities without a role and profiles without an identity are only reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return err
		}
		defer deps.Close()

		deleteOrphans := deps.Config.Reconcile.DeleteOrphanRoles
		if cmd.Flags().Changed("delete") {
			deleteOrphans = reconcileDelete
		}
		job := reconcile.NewJob(deps.DB, deleteOrphans, deps.Metrics, deps.Logger)

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if reconcileOnce {
			report, err := job.Run(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		scheduler, err := reconcile.NewScheduler(job, deps.Config.Reconcile.Schedule, deps.Logger)
		if err != nil {
			return err
		}
		deps.Logger.Info("reconcile worker is running. Press Ctrl+C to stop.", "schedule", deps.Config.Reconcile.Schedule)
		return scheduler.Run(ctx)
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileOnce, "once", false, "run a single pass, print the report and exit")
	reconcileCmd.Flags().BoolVar(&reconcileDelete, "delete", false, "override reconcile.delete_orphan_roles")
}
