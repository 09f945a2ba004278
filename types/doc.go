// Copyright (c) RelayDesk Authors.
// Licensed under the MIT License.

// Package types defines the core domain model of RelayDesk: agents,
// handoff requests, handoff messages, their lifecycle states, the
// structured error taxonomy, and the context helpers used to carry
// verified request identity through the call stack.
package types
