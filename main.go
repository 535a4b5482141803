// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("trialbyte - change review for clinical trial and drug reference data")
	fmt.Println("====================================================================")
	fmt.Println()
	fmt.Println("Edits to trials and drugs either go through a review queue (submit, approve,")
	fmt.Println("reject) or are saved directly, with a durable local copy whenever the backend")
	fmt.Println("cannot confirm the save. Local copies are reconciled once the backend is back.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println("  reviewq     review queue server library (store, service, HTTP handlers, JWT)")
	fmt.Println("  reviewlite  client: submit, review queue view, editors, overlay, reconciler")
	fmt.Println("  localstore  versioned key-value store for client state (memory, SQLite)")
	fmt.Println()

	fmt.Println("Commands:")
	fmt.Println()
	fmt.Println("1. Review queue server (cmd/reviewq-server/)")
	fmt.Println("   Postgres or in-memory store, dummy signin, Prometheus metrics")
	fmt.Println("   Run: go run ./cmd/reviewq-server --config .")
	fmt.Println()

	fmt.Println("2. Client CLI (cmd/trialbyte/)")
	fmt.Println("   login, submit, queue, edit, local, reconcile, activity")
	fmt.Println("   Run: go run ./cmd/trialbyte --help")
	fmt.Println()

	fmt.Println("3. Scenario runner (examples/review_flow/)")
	fmt.Println("   Offline edits, drug versions and reviews against an in-process backend")
	fmt.Println("   Run: go run ./examples/review_flow --scenario all")
	fmt.Println()
}
