// Copyright (c) RelayDesk Authors.
// Licensed under the MIT License.

/*
Package handlers implements the request handlers for the RelayDesk HTTP API.

# Overview

The handlers package implements every RelayDesk HTTP endpoint: the handoff
lifecycle (create, pickup, message, resolve), agent presence and roster,
health checks, and unified response and error handling. All handlers follow
the standard net/http interface and carry Swagger annotations for API
documentation.

# Core types

  - HandoffHandler — handoff creation, queues, pickup, resolve, messaging
  - AgentHandler   — heartbeat, status changes, roster listing
  - StreamHandler  — WebSocket message stream per handoff
  - HealthHandler  — service health checks (/health, /healthz, /ready)
  - Response       — unified JSON envelope (success + data + error + timestamp)
  - ErrorInfo      — structured error info with code, message, retryable flag
  - ResponseWriter — wraps http.ResponseWriter to capture the status code
  - HealthCheck    — pluggable readiness probe interface (database, Redis)

# Capabilities

  - Unified response shape: WriteSuccess / WriteError / WriteJSON helpers
  - Request validation: DecodeJSONBody (strict mode), ValidateContentType
  - ErrorCode to HTTP status mapping in a single place (4xx/5xx)
  - Identity scoping: tenant and agent pulled from the request context
  - Incremental message polling via timestamp or sequence cursors
  - Extensible health checks: RegisterCheck for custom probes
*/
package handlers
