// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
)

func newReconcileCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay locally saved changes against the backend",
		Long: `Replays each locally saved change once. Changes the backend already shows
are dropped without a request. With --watch the replay keeps running with
backoff until interrupted; this requires client.auto_reconcile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if err := a.client.Start(ctx, sess); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "reconciling in the background, press Ctrl-C to stop")
				<-ctx.Done()
				a.client.Stop()
				return nil
			}
			report, err := a.client.ReconcileOnce(cmd.Context(), sess)
			if err != nil {
				return err
			}
			printReconcileReport(a, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep reconciling with backoff until interrupted")
	return cmd
}

func printReconcileReport(a *app, r *reviewlite.ReconcileReport) {
	if r.Skipped {
		fmt.Fprintf(a.out, "backend unreachable, %d local change(s) kept: %v\n", r.Pending, r.SkipReason)
		return
	}
	for _, item := range r.Items {
		line := fmt.Sprintf("%s %s: %s", item.Kind, item.ID, item.Outcome)
		if item.NewID != "" {
			line += " (new version " + item.NewID + ")"
		}
		if item.Err != nil {
			line += ": " + explain(item.Err).Error()
		}
		fmt.Fprintln(a.out, line)
	}
	fmt.Fprintf(a.out, "%d pending, %d replayed, %d already applied, %d failed\n",
		r.Pending, r.Replayed, r.AlreadyApplied, r.Failed)
}

