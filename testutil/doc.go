// Copyright (c) RelayDesk Authors.
// Licensed under the MIT License.

/*
Package testutil provides shared helpers for RelayDesk tests.

# Capabilities

  - Context helpers: TestContext / TestContextWithTimeout / CancelledContext,
    with automatic Cleanup registration to avoid leaks
  - Database helpers: OpenTestDB opens an isolated in-memory SQLite store
    with the full schema migrated
  - Async assertions: AssertEventuallyTrue polls a condition with timeout
  - Data helpers: MustJSON for compact fixture construction

# Subpackages

  - testutil/fixtures: factories for agents, handoff requests, and
    handoff messages with sensible defaults and override hooks

# Usage

	ctx := testutil.TestContext(t)
	db := testutil.OpenTestDB(t)
	agent := fixtures.Agent(fixtures.WithMaxChats(1))
*/
package testutil
