// Package model defines the observation and session data types.
package model

// Observation represents one immutable recorded event.
type Observation struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"` // epoch milliseconds
	Type      string            `json:"type"`
	Tool      string            `json:"tool,omitempty"`
	Summary   string            `json:"summary"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
}

// ObservationInput holds caller-supplied fields for a new observation.
// ID and Timestamp are assigned at creation and cannot be supplied.
type ObservationInput struct {
	Type     string            `json:"type"`
	Tool     string            `json:"tool,omitempty"`
	Summary  string            `json:"summary"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionRecord binds a session identity to one (directory, source) pair.
type SessionRecord struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
	StartTime int64  `json:"start_time"` // epoch milliseconds
}

// SearchResult wraps an observation with relevance info.
type SearchResult struct {
	Observation
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// ContextBundle is the assembled context response.
type ContextBundle struct {
	Recent          []Observation  `json:"recent"`
	Relevant        []SearchResult `json:"relevant,omitempty"`
	TokenBudgetUsed int            `json:"token_budget_used"`
}

// ValidTypes are the allowed observation types.
var ValidTypes = map[string]bool{
	"discovery": true,
	"bugfix":    true,
	"feature":   true,
	"refactor":  true,
	"problem":   true,
	"success":   true,
	"warning":   true,
	"session":   true,
	"note":      true,
}

// TypeFallback is used when a caller supplies an unknown observation type.
const TypeFallback = "note"

// KnownSources are the recognized origin identifiers.
var KnownSources = map[string]bool{
	"claude-code": true,
	"opencode":    true,
}

// SourceFallback is used when a source is absent or unrecognized.
const SourceFallback = "claude-code"

// MetaSessionID and MetaSource are the metadata keys every stored
// observation carries.
const (
	MetaSessionID = "sessionId"
	MetaSource    = "source"
	MetaTool      = "tool"
)
