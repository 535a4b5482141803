// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
)

func newEditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit a trial or drug directly, saving locally when the backend is unavailable",
	}
	cmd.AddCommand(newEditKindCmd(a, reviewlite.KindTrial), newEditKindCmd(a, reviewlite.KindDrug))
	return cmd
}

func newEditKindCmd(a *app, kind reviewlite.EntityKind) *cobra.Command {
	var (
		sets     []string
		data     string
		snapshot string
	)
	cmd := &cobra.Command{
		Use:   string(kind) + " <id>",
		Short: fmt.Sprintf("Edit the overview of a %s", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			sess, err := a.session(ctx)
			if err != nil {
				return err
			}

			changes, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if data != "" {
				raw, err := readJSONArg(data)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &changes); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
			}
			if len(changes) == 0 {
				return fmt.Errorf("nothing to change: pass --set or --data")
			}

			var snap json.RawMessage
			if snapshot != "" {
				if snap, err = readJSONArg(snapshot); err != nil {
					return err
				}
			} else {
				snap = a.currentState(cmd, sess, kind, id)
			}

			save := a.client.SaveTrial
			if kind == reviewlite.KindDrug {
				save = a.client.SaveDrug
			}
			res, err := save(ctx, sess, id, snap, changes)
			if err != nil {
				return explain(err)
			}
			switch {
			case res.SavedLocally():
				fmt.Fprintf(a.out, "backend unavailable, %s %s saved locally (%s): %v\n", kind, id, res.Status, res.Cause)
			case res.NewID != "":
				fmt.Fprintf(a.out, "saved %s %s as new version %s\n", kind, id, res.NewID)
			default:
				fmt.Fprintf(a.out, "saved %s %s\n", kind, id)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&sets, "set", nil, "field=value to change (may be repeated)")
	f.StringVar(&data, "data", "", "changes as a JSON object or @file")
	f.StringVar(&snapshot, "snapshot", "", "entity before the edit as JSON or @file (fetched when omitted)")
	return cmd
}

// currentState looks the entity up for use as the pre-edit snapshot. A
// failed lookup is not fatal; the save decides what to do without one.
func (a *app) currentState(cmd *cobra.Command, sess reviewlite.Session, kind reviewlite.EntityKind, id string) json.RawMessage {
	ctx := cmd.Context()
	var (
		raw json.RawMessage
		ok  bool
	)
	if kind == reviewlite.KindDrug {
		list, err := a.client.ListDrugs(ctx, sess)
		if err != nil {
			a.logger.Debug("Could not fetch drug snapshot", "id", id, "error", err)
			return nil
		}
		raw, ok = reviewlite.FindDrug(list, id)
	} else {
		list, err := a.client.ListTrials(ctx, sess)
		if err != nil {
			a.logger.Debug("Could not fetch trial snapshot", "id", id, "error", err)
			return nil
		}
		raw, ok = reviewlite.FindTrial(list, id)
	}
	if !ok {
		a.logger.Warn("Entity not found in listing, saving without snapshot", "kind", kind, "id", id)
	}
	return raw
}
