package httpapi

import (
	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

// wireLimits is the {facts, rules, objects, memory_mb} shape spec.md §6
// fixes for both the request body's optional `limits` override and the
// `limits` field of sessionSummary.
type wireLimits struct {
	Facts    uint64 `json:"facts"`
	Rules    uint64 `json:"rules"`
	Objects  uint64 `json:"objects"`
	MemoryMB uint64 `json:"memory_mb"`
}

type wireResources struct {
	Facts   uint64 `json:"facts"`
	Rules   uint64 `json:"rules"`
	Objects uint64 `json:"objects"`
}

// sessionSummary is the wire shape of SessionSummary: {session_id, user_id,
// type, started, touched, status, resources:{...}, limits:{...}}.
type sessionSummary struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	Type      string        `json:"type"`
	Started   string        `json:"started"`
	Touched   string        `json:"touched"`
	Status    string        `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Resources wireResources `json:"resources"`
	Limits    wireLimits    `json:"limits"`
}

func toSessionSummary(sum session.Summary) sessionSummary {
	return sessionSummary{
		SessionID: string(sum.ID),
		UserID:    sum.Owner,
		Type:      string(sum.Type),
		Started:   formatTime(sum.CreatedAt),
		Touched:   formatTime(sum.TouchedAt),
		Status:    string(sum.Status),
		Metadata:  sum.Metadata,
		Resources: wireResources{
			Facts:   sum.Usage.Facts,
			Rules:   sum.Usage.Rules,
			Objects: sum.Usage.Objects,
		},
		Limits: wireLimits{
			Facts:    sum.Limits.MaxFacts,
			Rules:    sum.Limits.MaxRules,
			Objects:  sum.Limits.MaxObjects,
			MemoryMB: sum.Limits.MaxMemoryBytes / (1 << 20),
		},
	}
}

// applyLimitOverrides returns base with any non-zero field of override
// applied on top, so a request that only sets `facts` doesn't zero out the
// rest of the default limits.
func applyLimitOverrides(base types.ResourceLimits, override *wireLimits) types.ResourceLimits {
	if override == nil {
		return base
	}
	out := base
	if override.Facts != 0 {
		out.MaxFacts = override.Facts
	}
	if override.Rules != 0 {
		out.MaxRules = override.Rules
	}
	if override.Objects != 0 {
		out.MaxObjects = override.Objects
	}
	if override.MemoryMB != 0 {
		out.MaxMemoryBytes = override.MemoryMB << 20
	}
	return out
}
