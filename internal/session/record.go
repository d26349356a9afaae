// Package session implements SessionStore: the in-memory, indexed registry
// of session records the Scheduler and EvictionPolicy operate over.
package session

import (
	"time"

	"github.com/rulehost/rulehost/internal/types"
)

// Record is the SessionRecord of SPEC_FULL.md §3. It is created by
// Store.Create and mutated only by the single worker owning its queue; the
// Engine field is deliberately untyped (opaque) so this package never
// depends on internal/engine — the concrete Handle type is known only to
// the scheduler and engine packages that own it.
type Record struct {
	ID        types.SessionID
	Owner     string
	Type      types.SessionType
	Status    types.SessionStatus
	CreatedAt time.Time
	TouchedAt time.Time
	Usage     types.ResourceUsage
	Limits    types.ResourceLimits
	Metadata  map[string]string
	Engine    any
}

// Summary is the read-only, copyable view returned by store queries — a
// Record itself is never handed out for mutation outside Store.Update.
type Summary struct {
	ID        types.SessionID
	Owner     string
	Type      types.SessionType
	Status    types.SessionStatus
	CreatedAt time.Time
	TouchedAt time.Time
	Usage     types.ResourceUsage
	Limits    types.ResourceLimits
	Metadata  map[string]string
}

func (r *Record) summary() Summary {
	metadata := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		metadata[k] = v
	}
	return Summary{
		ID:        r.ID,
		Owner:     r.Owner,
		Type:      r.Type,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		TouchedAt: r.TouchedAt,
		Usage:     r.Usage,
		Limits:    r.Limits,
		Metadata:  metadata,
	}
}
