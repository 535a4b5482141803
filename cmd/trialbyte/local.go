// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wI2L/jsondiff"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
)

func newLocalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Inspect and manage changes saved locally",
	}
	cmd.AddCommand(newLocalListCmd(a), newLocalShowCmd(a), newLocalDropCmd(a), newLocalImportCmd(a))
	return cmd
}

func parseKind(s string) (reviewlite.EntityKind, error) {
	switch k := reviewlite.EntityKind(strings.ToLower(s)); k {
	case reviewlite.KindTrial, reviewlite.KindDrug:
		return k, nil
	}
	return "", fmt.Errorf("kind must be %q or %q, got %q", reviewlite.KindTrial, reviewlite.KindDrug, s)
}

func newLocalListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locally saved changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := a.client.Fallbacks(cmd.Context())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(a.out, "no local changes")
				return nil
			}
			tw := newTable(a.out, "KIND", "ID", "STATUS", "SAVED", "ATTEMPTS", "USER", "CAUSE")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.Kind(), r.RecordID, r.Status, r.SavedAt.Format("2006-01-02 15:04"), r.Attempts, r.UserID, r.Cause)
			}
			return tw.Flush()
		},
	}
}

func newLocalShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <trial|drug> <id>",
		Short: "Show a local change and what it does to the saved snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rec, ok, err := a.client.Fallback(ctx, kind, args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no local change for %s %s", kind, args[1])
			}
			base := rec.Snapshot
			if len(base) == 0 {
				base = json.RawMessage(`{}`)
			}
			overlaid, _, err := a.client.Overlay(ctx, kind, rec.RecordID, base)
			if err != nil {
				return err
			}
			patch, err := jsondiff.CompareJSON(base, overlaid)
			if err != nil {
				return fmt.Errorf("failed to diff: %w", err)
			}
			return printJSON(a.out, struct {
				Record  *reviewlite.FallbackRecord `json:"record"`
				Changes jsondiff.Patch             `json:"changes"`
				Result  json.RawMessage            `json:"result"`
			}{rec, patch, overlaid})
		},
	}
}

func newLocalDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <trial|drug> <id>",
		Short: "Discard a local change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			if err := a.client.DropFallback(cmd.Context(), kind, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "dropped local change for %s %s\n", kind, args[1])
			return nil
		},
	}
}

func newLocalImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <export.json>",
		Short: "Import a browser local-storage export (a JSON object of key to stored string)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var entries map[string]string
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("%s: expected a JSON object of strings: %w", args[0], err)
			}
			report, err := reviewlite.ImportLegacy(cmd.Context(), a.store, entries)
			if err != nil {
				return err
			}
			for _, entity := range slices.Sorted(maps.Keys(report.Counts)) {
				fmt.Fprintf(a.out, "imported %d %s\n", report.Counts[entity], entity)
			}
			for _, key := range slices.Sorted(maps.Keys(report.Invalid)) {
				fmt.Fprintf(a.out, "invalid %s: %s\n", key, report.Invalid[key])
			}
			if len(report.Skipped) > 0 {
				fmt.Fprintf(a.out, "skipped %s\n", strings.Join(report.Skipped, ", "))
			}
			return nil
		},
	}
}
