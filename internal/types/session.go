package types

import "time"

// SessionType distinguishes which backend implementation a session is
// bound to. It is otherwise invisible to the Scheduler.
type SessionType string

const (
	SessionForward  SessionType = "forward"
	SessionBackward SessionType = "backward"
)

// SessionStatus is monotone except for the Active<->Evaluating<->Idle cycle.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusActive       SessionStatus = "active"
	StatusEvaluating   SessionStatus = "evaluating"
	StatusIdle         SessionStatus = "idle"
	StatusTerminating  SessionStatus = "terminating"
	StatusTerminated   SessionStatus = "terminated"
	StatusFailed       SessionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusTerminated
}

// ResourceUsage counters are updated after each successful evaluate and
// never decrease except on explicit reset (session recreation on recovery).
type ResourceUsage struct {
	Rules       uint64 `json:"rules"`
	Facts       uint64 `json:"facts"`
	Objects     uint64 `json:"objects"`
	Evaluations uint64 `json:"evaluations"`
	RulesFired  uint64 `json:"rules_fired"`
	MemoryBytes uint64 `json:"memory_bytes"`
}

// ResourceLimits are immutable after session creation.
type ResourceLimits struct {
	MaxRules            uint64        `json:"max_rules"`
	MaxFacts            uint64        `json:"max_facts"`
	MaxObjects          uint64        `json:"max_objects"`
	MaxMemoryBytes      uint64        `json:"max_memory_bytes"`
	MaxQueueDepth       int           `json:"max_queue_depth"`
	DefaultEvalTimeout  time.Duration `json:"default_eval_timeout"`
	AbsoluteEvalCeiling time.Duration `json:"absolute_eval_ceiling"`
}

// PerSessionEngineOverheadBytes is the fixed accounting constant added to a
// session's approximate resident size regardless of loaded source size.
const PerSessionEngineOverheadBytes uint64 = 1 << 20 // 1 MiB

// DefaultResourceLimits returns the limits applied when a session is
// created without an explicit limits object.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxRules:            10_000,
		MaxFacts:            50_000,
		MaxObjects:          50_000,
		MaxMemoryBytes:      64 << 20,
		MaxQueueDepth:       32,
		DefaultEvalTimeout:  5 * time.Second,
		AbsoluteEvalCeiling: 30 * time.Second,
	}
}
