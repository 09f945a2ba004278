// Copyright (c) RelayDesk Authors.
// Licensed under the MIT License.

/*
Package main provides the RelayDesk server entry point.

# Overview

cmd/relaydesk is the executable entry point for the RelayDesk handoff
service. It exposes the HTTP API, a separate Prometheus metrics port,
health checks, and a version subcommand. The program loads YAML
configuration with environment overrides, logs with zap, and exports
OpenTelemetry traces when configured.

# Core Types

  - Server                — main server, owns the HTTP and metrics ports and graceful shutdown
  - Middleware            — HTTP middleware signature func(http.Handler) http.Handler
  - responseWriter        — wraps http.ResponseWriter to capture the status code
  - metricsResponseWriter — additionally tracks response size for metrics

# Capabilities

  - Subcommands: serve, version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders, RequestLogger,
    CORS, MetricsMiddleware, OTelTracing, TenantRateLimiter, JWTAuth
  - Background loops: pending-handoff sweeper and a stats ticker feeding
    queue-depth and connection-pool gauges
  - Metrics server: /metrics (Prometheus) on its own port
  - Graceful shutdown: signal → stop background loops → close HTTP →
    close metrics → drain → close notifier, cache, and database
  - Build injection: Version, BuildTime, GitCommit set via ldflags
*/
package main
