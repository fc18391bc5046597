package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/painmgmt-api/internal/app"
	"github.com/jwalitptl/painmgmt-api/internal/worker"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run clinical sweeps outside their schedule",
	}

	runCmd := &cobra.Command{
		Use:       "run {pain|overdue|summary}",
		Short:     "Run one sweep now",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{worker.SweepPain, worker.SweepOverdue, worker.SweepSummary},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Sweeper.Run(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d patients, %d alerts, %d failures in %s\n",
				report.Name, report.Patients, report.Alerts, report.Failures, report.Elapsed)
			return nil
		},
	}

	cmd.AddCommand(runCmd)
	return cmd
}
