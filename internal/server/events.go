package server

import (
	"time"

	"github.com/nebulate/nebula-translate/internal/turn"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
}

type TranslationEvent struct {
	Event
	Speaker        turn.Speaker `json:"speaker"`
	OriginalText   string       `json:"original_text"`
	TranslatedText string       `json:"translated_text"`
	SourceLanguage string       `json:"source_language"`
	TargetLanguage string       `json:"target_language"`
}

type AudioLevelEvent struct {
	Event
	Level   float64      `json:"level"`
	Speaker turn.Speaker `json:"speaker"`
}

type ThinkingEvent struct {
	Event
	IsThinking bool `json:"is_thinking"`
}

type ConnectionStateEvent struct {
	Event
	State   turn.State `json:"state"`
	Message string     `json:"message,omitempty"`
}

type ErrorEvent struct {
	Event
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func newEvent(eventType, sessionID string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
	}
}
