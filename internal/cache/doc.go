// Package cache provides Redis-backed cache management. RelayDesk uses it
// for escalation notification dedup and for the agent presence fast path;
// correctness of dispatch never depends on cache availability.
//
// This package is internal and should not be imported by external projects.
package cache
