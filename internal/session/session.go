package session

import (
	"time"

	"github.com/nebulate/nebula-translate/internal/turn"
)

// historyLimit is the default cap on per-session message history; the
// oldest entry is evicted first on overflow.
const historyLimit = 50

// Message is one finalized utterance. Immutable once created.
type Message struct {
	ID             string       `json:"id"`
	SessionID      string       `json:"session_id"`
	Speaker        turn.Speaker `json:"speaker"`
	OriginalText   string       `json:"original_text"`
	TranslatedText string       `json:"translated_text,omitempty"`
	SourceLanguage string       `json:"source_language"`
	TargetLanguage string       `json:"target_language"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Session is one active conversation instance. All mutation goes through
// the Registry.
type Session struct {
	ID             string     `json:"session_id"`
	State          turn.State `json:"state"`
	HomeLanguage   string     `json:"home_language"`
	TargetLanguage string     `json:"target_language"`
	UserID         string     `json:"user_id,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	Messages []Message `json:"messages"`

	UserTurns        int   `json:"total_user_turns"`
	PartnerTurns     int   `json:"total_partner_turns"`
	ProcessingTimeMS int64 `json:"total_processing_time_ms"`
}

// Snapshot is a lightweight view of a session for listings.
type Snapshot struct {
	ID             string     `json:"session_id"`
	State          turn.State `json:"state"`
	HomeLanguage   string     `json:"home_language"`
	TargetLanguage string     `json:"target_language"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivity   time.Time  `json:"last_activity"`
	MessageCount   int        `json:"message_count"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:             s.ID,
		State:          s.State,
		HomeLanguage:   s.HomeLanguage,
		TargetLanguage: s.TargetLanguage,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.LastActivity,
		MessageCount:   len(s.Messages),
	}
}
