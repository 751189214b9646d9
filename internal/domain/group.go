package domain

import (
	"errors"
	"time"
)

// Errors returned for error group operations.
var (
	ErrGroupNotFound      = errors.New("error group not found")
	ErrGroupAlreadyExists = errors.New("error group already exists")
	ErrInvalidStatus      = errors.New("status must be 'new', 'acknowledged', or 'resolved'")
)

// GroupStatus represents the triage state of an error group.
type GroupStatus string

const (
	// GroupStatusNew marks a group nobody has looked at yet, or one that regressed.
	GroupStatusNew GroupStatus = "new"
	// GroupStatusAcknowledged marks a group an operator is aware of.
	GroupStatusAcknowledged GroupStatus = "acknowledged"
	// GroupStatusResolved marks a group considered fixed.
	GroupStatusResolved GroupStatus = "resolved"
)

// IsValid returns true if the status is a known value.
func (s GroupStatus) IsValid() bool {
	switch s {
	case GroupStatusNew, GroupStatusAcknowledged, GroupStatusResolved:
		return true
	default:
		return false
	}
}

// GroupDetails is the occurrence bookkeeping of an error group.
type GroupDetails struct {
	// Count is the total number of occurrences.
	Count int64 `json:"count"`

	// FirstSeen is the earliest occurrence timestamp.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is the latest occurrence timestamp.
	LastSeen time.Time `json:"last_seen"`

	// RecentContexts holds the most recent occurrences, oldest first.
	RecentContexts []RecentContext `json:"recent_contexts"`
}

// ErrorGroup is the durable aggregate for every occurrence sharing a hash.
type ErrorGroup struct {
	ID            string       `json:"id"`
	Hash          string       `json:"hash"`
	Type          string       `json:"type"`
	Message       string       `json:"message"`
	Stack         string       `json:"stack"`
	Component     string       `json:"component"`
	Operation     string       `json:"operation,omitempty"`
	LastIP        string       `json:"last_ip,omitempty"`
	LastUserAgent string       `json:"last_user_agent,omitempty"`
	Severity      Severity     `json:"severity"`
	Status        GroupStatus  `json:"status"`
	Details       GroupDetails `json:"details"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// GroupPatch describes an update to an existing group.
// Occurrences is a delta added to the stored count, which keeps retried
// batches additive instead of overwriting concurrent updates.
// Zero-valued fields are left untouched.
type GroupPatch struct {
	Occurrences    int64
	LastSeen       time.Time
	RecentContexts []RecentContext
	LastIP         string
	LastUserAgent  string
	Severity       Severity
	Status         GroupStatus
}

// Apply merges the patch into the group in place.
// Stores without native increment support use this to stay consistent with
// the SQL implementation.
func (p *GroupPatch) Apply(g *ErrorGroup, now time.Time) {
	g.Details.Count += p.Occurrences
	if p.LastSeen.After(g.Details.LastSeen) {
		g.Details.LastSeen = p.LastSeen
	}
	if p.RecentContexts != nil {
		g.Details.RecentContexts = p.RecentContexts
	}
	if p.LastIP != "" {
		g.LastIP = p.LastIP
	}
	if p.LastUserAgent != "" {
		g.LastUserAgent = p.LastUserAgent
	}
	if p.Severity != "" {
		g.Severity = p.Severity
	}
	if p.Status != "" {
		g.Status = p.Status
	}
	g.UpdatedAt = now
}

// RotateContexts appends incoming entries to the ring and keeps only the
// newest limit entries.
func RotateContexts(ring, incoming []RecentContext, limit int) []RecentContext {
	merged := make([]RecentContext, 0, len(ring)+len(incoming))
	merged = append(merged, ring...)
	merged = append(merged, incoming...)
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

// GroupFilter provides filtering options for listing groups.
// Results are always ordered by last-seen, newest first.
type GroupFilter struct {
	// Since restricts results to groups last seen at or after this time.
	Since    time.Time
	Status   GroupStatus
	Severity Severity
	Limit    int
	Offset   int
}
