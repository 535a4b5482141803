// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		table, id, changeType, data, reason string
		sets                                []string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a change request for admin review",
		Example: `  trialbyte submit --table drug_overview --id D1 --type UPDATE --set status=withdrawn
  trialbyte submit --table therapeutic_trial --id T1 --type DELETE --reason "duplicate"
  trialbyte submit --table drug_overview --type CREATE --data @new-drug.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := a.session(ctx)
			if err != nil {
				return err
			}

			var proposed any
			ct := reviewq.ChangeType(strings.ToUpper(changeType))
			switch {
			case ct == reviewq.ChangeDelete:
				proposed = reason
			case data != "":
				raw, err := readJSONArg(data)
				if err != nil {
					return err
				}
				proposed = json.RawMessage(raw)
			default:
				if proposed, err = parseAssignments(sets); err != nil {
					return err
				}
			}

			ack, err := a.client.SubmitChange(ctx, sess, table, id, ct, proposed)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(a.out, "submitted %s (%s)\n", ack.Request.ID, ack.Request.Status)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&table, "table", "", "target table, e.g. drug_overview or therapeutic_trial")
	f.StringVar(&id, "id", "", "target record id (not needed for CREATE)")
	f.StringVar(&changeType, "type", "UPDATE", "CREATE, UPDATE or DELETE")
	f.StringVar(&data, "data", "", "proposed data as JSON or @file")
	f.StringArrayVar(&sets, "set", nil, "field=value to change (may be repeated)")
	f.StringVar(&reason, "reason", "", "deletion reason (DELETE only)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}
