// Package api defines the request and response types for the RelayDesk
// HTTP API.
//
// # API Overview
//
// RelayDesk exposes a RESTful API for the live-chat handoff lifecycle:
//   - Creating handoff requests from channel integrations
//   - Listing the pending queue and active conversations per tenant
//   - Picking up, messaging within, and resolving handoffs
//   - Agent heartbeat, status, and availability listing
//   - Health monitoring and metrics
//
// # Authentication
//
// Mutating endpoints require a bearer token carrying the caller's
// tenant and agent identity:
//
//	Authorization: Bearer <jwt>
//
// Channel-facing endpoints (handoff creation and customer messages)
// accept a tenant-scoped token without an agent identity.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// All lifecycle endpoints are versioned under /v1.
package api
