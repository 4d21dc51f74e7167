package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessage is the JSON the client sends on the websocket. Audio
// travels as binary frames and never passes through here.
type controlMessage struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
}

func (s *Server) registerWSRoute(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		machine, ok := s.registry.GetStateMachine(sessionID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		coordinator := s.coordinatorFor(sessionID)
		if coordinator == nil {
			writeJSONError(w, http.StatusNotFound, "session pipeline not running")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		stateEvent := ConnectionStateEvent{
			Event: newEvent("connection_state", sessionID, time.Now().UTC()),
			State: machine.State(),
		}
		if payload, err := json.Marshal(stateEvent); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		events := s.hub.Subscribe(sessionID)
		defer s.hub.Unsubscribe(sessionID, events)

		audioCh := make(chan []byte, 32)
		s.attachAudio(sessionID, audioCh)
		defer s.detachAudio(sessionID, audioCh)

		done := make(chan struct{})
		defer close(done)

		go func() {
			for {
				select {
				case <-done:
					return
				case msg, ok := <-events:
					if !ok {
						return
					}
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				case pcm := <-audioCh:
					if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
						return
					}
				}
			}
		}()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			switch msgType {
			case websocket.BinaryMessage:
				coordinator.IngestAudio(data)

			case websocket.TextMessage:
				var ctrl controlMessage
				if err := json.Unmarshal(data, &ctrl); err != nil {
					log.Printf("session %s: bad control message: %v", sessionID, err)
					continue
				}
				switch {
				case ctrl.Type == "ptt_state" && ctrl.State == "pressed":
					coordinator.PTTPress()
				case ctrl.Type == "ptt_state" && ctrl.State == "released":
					coordinator.PTTRelease()
				default:
					log.Printf("session %s: unknown control %s/%s", sessionID, ctrl.Type, ctrl.State)
				}
			}
		}
	})
}
