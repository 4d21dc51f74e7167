package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/nebulate/nebula-translate/internal/turn"
)

// Hub fans session events out to websocket subscribers. Subscriptions are
// keyed by session, so a client only sees its own conversation.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[chan []byte]struct{})
	}
	h.clients[sessionID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(sessionID string, ch chan []byte) {
	h.mu.Lock()
	if subs, ok := h.clients[sessionID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.clients, sessionID)
		}
	}
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(sessionID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients[sessionID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastTranslation(sessionID string, speaker turn.Speaker, original, translated, srcLang, tgtLang string) {
	h.broadcastEvent(sessionID, TranslationEvent{
		Event:          newEvent("translation", sessionID, time.Now().UTC()),
		Speaker:        speaker,
		OriginalText:   original,
		TranslatedText: translated,
		SourceLanguage: srcLang,
		TargetLanguage: tgtLang,
	})
}

func (h *Hub) BroadcastAudioLevel(sessionID string, level float64, speaker turn.Speaker) {
	h.broadcastEvent(sessionID, AudioLevelEvent{
		Event:   newEvent("audio_level", sessionID, time.Now().UTC()),
		Level:   level,
		Speaker: speaker,
	})
}

func (h *Hub) BroadcastThinking(sessionID string, thinking bool) {
	h.broadcastEvent(sessionID, ThinkingEvent{
		Event:      newEvent("thinking", sessionID, time.Now().UTC()),
		IsThinking: thinking,
	})
}

func (h *Hub) BroadcastConnectionState(sessionID string, state turn.State, message string) {
	h.broadcastEvent(sessionID, ConnectionStateEvent{
		Event:   newEvent("connection_state", sessionID, time.Now().UTC()),
		State:   state,
		Message: message,
	})
}

func (h *Hub) BroadcastError(sessionID, code, message string) {
	h.broadcastEvent(sessionID, ErrorEvent{
		Event:        newEvent("error", sessionID, time.Now().UTC()),
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

func (h *Hub) broadcastEvent(sessionID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(sessionID, payload)
}
