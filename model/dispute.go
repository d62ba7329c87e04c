package model

import "time"

// DisputeStatus tracks the lifecycle of a force-close dispute window.
type DisputeStatus string

const (
	// DisputeOpen means the window is running and a counter-claim may
	// still supersede the submitted state.
	DisputeOpen DisputeStatus = "OPEN"
	// DisputeSuperseded means a valid higher-sequence counter-claim
	// replaced the original claim before the window expired.
	DisputeSuperseded DisputeStatus = "SUPERSEDED"
	// DisputeExpired means the window elapsed with no counter-claim and
	// the submitted state proceeded to settlement.
	DisputeExpired DisputeStatus = "EXPIRED"
	// DisputeManual flags competing claims at the same sequence number, or
	// exhausted settlement retries. Requires operator intervention.
	DisputeManual DisputeStatus = "MANUAL_REVIEW"
)

// Dispute records a contested (or potentially contestable) force-close:
// who initiated it, which sequence each side claims, and how it resolved.
type Dispute struct {
	ID               int64         `json:"-"`
	DisputeID        string        `json:"dispute_id"`
	ChannelID        string        `json:"channel_id"`
	InitiatedBy      string        `json:"initiated_by"`
	ClaimedSequence  int64         `json:"claimed_sequence"`
	CounterSequence  int64         `json:"counter_sequence,omitempty"`
	Deadline         time.Time     `json:"deadline"`
	Status           DisputeStatus `json:"status"`
	SettledSequence  int64         `json:"settled_sequence,omitempty"`
	SettlementRef    string        `json:"settlement_ref,omitempty"`
	ResolutionReason string        `json:"resolution_reason,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// WindowExpired reports whether the dispute window has elapsed at now.
func (d *Dispute) WindowExpired(now time.Time) bool {
	return !now.Before(d.Deadline)
}
