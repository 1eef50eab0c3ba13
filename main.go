// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("go-petsync - Offline-First Sync for Multi-Tenant Clinics")
	fmt.Println("========================================================")
	fmt.Println()
	fmt.Println("go-petsync keeps staff devices usable without a network connection: every")
	fmt.Println("mutation lands in a durable local change log first and is reconciled against")
	fmt.Println("the clinic's system-of-record when connectivity returns.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("1. petsync/ - server-side reconciliation service")
	fmt.Println("   Per-entry verdicts (accepted/conflicted), last-write-wins by client")
	fmt.Println("   timestamp, tenant-scoped JWT auth, Postgres or in-memory store")
	fmt.Println()

	fmt.Println("2. petsqlite/ - SQLite-backed offline client")
	fmt.Println("   Durable append-only change log, connectivity monitor, single-flight")
	fmt.Println("   sync client with background retry and conflict reporting")
	fmt.Println()

	fmt.Println("3. cmd/petsyncd/ - the sync daemon")
	fmt.Println("   Run: go run ./cmd/petsyncd")
	fmt.Println()
}
