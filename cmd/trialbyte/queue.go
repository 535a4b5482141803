// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
)

func newQueueCmd(a *app) *cobra.Command {
	var opts reviewlite.ListOptions
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List and review pending change requests",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Status, "status", "pending", "pending, approved, rejected or empty for all")
	pf.IntVar(&opts.Page, "page", 0, "page number (server default when 0)")
	pf.IntVar(&opts.PageSize, "page-size", 0, "page size (server default when 0)")

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the review queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			page, err := a.client.ReviewQueue(sess, opts).List(cmd.Context())
			if err != nil {
				return explain(err)
			}
			printChangeList(a.out, page)
			return nil
		},
	}

	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a change request (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.client.ReviewQueue(sess, opts).Approve(cmd.Context(), args[0])
			return a.printAction(res, err)
		},
	}

	var reason string
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a change request (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			var r *string
			if cmd.Flags().Changed("reason") {
				r = &reason
			}
			res, err := a.client.ReviewQueue(sess, opts).Reject(cmd.Context(), args[0], r)
			return a.printAction(res, err)
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "rejection reason (omitted from the request when not given)")

	cmd.AddCommand(list, approve, reject)
	return cmd
}

func (a *app) printAction(res *reviewlite.ActionResult, err error) error {
	if res != nil && res.Request != nil {
		fmt.Fprintf(a.out, "%s is now %s\n", res.Request.ID, res.Request.Status)
	}
	if err != nil {
		return explain(err)
	}
	if res.List != nil {
		printChangeList(a.out, res.List)
	}
	return nil
}

func printChangeList(w io.Writer, page *reviewlite.ChangeList) {
	tw := newTable(w, "ID", "TABLE", "RECORD", "TYPE", "STATUS", "SUBMITTED BY", "CREATED", "REASON")
	for _, cr := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			cr.ID, cr.TargetTable, cr.TargetRecordID, cr.ChangeType, cr.Status, cr.SubmittedBy,
			cr.CreatedAt.Format("2006-01-02 15:04"), deref(cr.Reason))
	}
	tw.Flush()
	fmt.Fprintf(w, "page %d, %d of %d shown\n", page.Page, len(page.Items), page.Total)
}
