// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
)

func newActivityCmd(a *app) *cobra.Command {
	var filter reviewlite.ActivityFilter
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			page, err := a.client.ListActivity(cmd.Context(), sess, filter)
			if err != nil {
				return explain(err)
			}
			tw := newTable(a.out, "WHEN", "USER", "ACTION", "TABLE", "RECORD")
			for _, e := range page.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04"), e.UserID, e.Action, e.TableName, e.RecordID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "page %d of %d (%d entries)\n", page.Page, page.TotalPages, page.Total)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.UserID, "user", "", "only entries by this user")
	f.StringVar(&filter.Action, "action", "", "only this action")
	f.StringVar(&filter.Table, "table", "", "only this table")
	f.IntVar(&filter.Page, "page", 1, "page number")
	f.IntVar(&filter.PageSize, "page-size", 20, "entries per page")
	return cmd
}
