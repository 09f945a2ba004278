// Package guard holds the capability predicates gating every mutating
// operation on a handoff. The same checks apply regardless of which
// surface (operator console, oversight console, API client) makes the
// call; UI-level restrictions are presentation only.
package guard

import "github.com/relaydesk/relaydesk/types"

// CanAct reports whether agentID may mutate the handoff right now.
// Only the currently assigned agent of an active handoff may act.
func CanAct(h *types.HandoffRequest, agentID string) bool {
	if h == nil || agentID == "" {
		return false
	}
	return h.Status == types.HandoffActive && h.AssignedTo(agentID)
}

// CanView reports whether agentID may read the handoff. Pending handoffs
// are visible to every agent in the tenant for queue browsing; once
// claimed, visibility follows ownership. Terminal handoffs stay visible
// to the agent that handled them for audit.
func CanView(h *types.HandoffRequest, agentID string) bool {
	if h == nil || agentID == "" {
		return false
	}
	if h.Status == types.HandoffPending || h.Status == types.HandoffExpired {
		return true
	}
	return h.AssignedTo(agentID)
}
