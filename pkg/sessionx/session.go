package sessionx

import "time"

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Immutable once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation thread keyed by a caller-chosen identifier
// (a phone number, or "{repo}#{issue_number}" for code-hosting channels).
// History is bounded: the oldest turns are dropped first once the cap is
// reached.
type Session struct {
	ID         string            `json:"session_id" db:"session_id"`
	Platform   string            `json:"platform,omitempty" db:"platform"`
	History    []Message         `json:"conversation_history"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	LastActive time.Time         `json:"last_active" db:"last_active"`
}

// SessionInfo is a metadata-only view of a session, cheap enough for
// monitoring endpoints that must not materialize full histories.
type SessionInfo struct {
	SessionID    string            `json:"session_id"`
	Platform     string            `json:"platform,omitempty"`
	MessageCount int               `json:"message_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActive   time.Time         `json:"last_active"`
}

// NewSession creates an empty session with created_at == last_active
func NewSession(sessionID, platform string, now time.Time) *Session {
	return &Session{
		ID:         sessionID,
		Platform:   platform,
		History:    make([]Message, 0),
		Metadata:   make(map[string]string),
		CreatedAt:  now,
		LastActive: now,
	}
}

// Append adds a message, trims history to maxHistory (oldest first) and
// bumps last_active to the message timestamp
func (s *Session) Append(msg Message, maxHistory int) {
	s.History = append(s.History, msg)
	s.History = TrimHistory(s.History, maxHistory)
	if msg.Timestamp.After(s.LastActive) {
		s.LastActive = msg.Timestamp
	}
}

// Touch bumps last_active
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActive) {
		s.LastActive = now
	}
}

// Clone returns a deep copy so callers cannot mutate stored state
func (s *Session) Clone() *Session {
	clone := *s
	clone.History = make([]Message, len(s.History))
	copy(clone.History, s.History)
	if s.Metadata != nil {
		clone.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Info builds the metadata-only view
func (s *Session) Info() *SessionInfo {
	info := &SessionInfo{
		SessionID:    s.ID,
		Platform:     s.Platform,
		MessageCount: len(s.History),
		CreatedAt:    s.CreatedAt,
		LastActive:   s.LastActive,
	}
	if len(s.Metadata) > 0 {
		info.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			info.Metadata[k] = v
		}
	}
	return info
}

// TrimHistory keeps the most recent max messages, preserving order.
// max <= 0 means unbounded.
func TrimHistory(history []Message, max int) []Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	trimmed := make([]Message, max)
	copy(trimmed, history[len(history)-max:])
	return trimmed
}
