package signage

import "time"

// DefaultOnlineTTL is the heartbeat window within which a store counts as
// online.
const DefaultOnlineTTL = 120 * time.Second

// ComputeStatus derives a store's status at now from its last heartbeat.
// seen is false when no heartbeat was ever recorded. The boundary is
// inclusive: now == lastSeen+ttl is still ONLINE.
func ComputeStatus(lastSeen time.Time, seen bool, now time.Time, ttl time.Duration) Status {
	if !seen {
		return StatusUnknown
	}
	if now.Sub(lastSeen) <= ttl {
		return StatusOnline
	}
	return StatusOffline
}

// statusReport builds the query result for a heartbeat lookup.
func statusReport(lastSeen time.Time, seen bool, now time.Time, ttl time.Duration) StatusReport {
	r := StatusReport{Status: ComputeStatus(lastSeen, seen, now, ttl)}
	if seen {
		ms := epochMillis(lastSeen)
		r.LastSeen = &ms
	}
	return r
}
