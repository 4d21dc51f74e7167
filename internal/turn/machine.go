package turn

import (
	"log"
	"sync"
)

// State is the session turn state. Exactly one state is active at a time.
type State string

const (
	StateDisconnected      State = "disconnected"
	StateConnected         State = "connected"
	StateUserSpeaking      State = "user_speaking"
	StateUserProcessing    State = "user_processing"
	StatePartnerListening  State = "partner_listening"
	StatePartnerProcessing State = "partner_processing"
	StateError             State = "error"
)

// Speaker identifies which party currently holds the turn.
type Speaker string

const (
	SpeakerNone    Speaker = ""
	SpeakerUser    Speaker = "user"
	SpeakerPartner Speaker = "partner"
)

// Machine tracks turn state for one session.
//
// PTT press always wins: it forces user_speaking regardless of what the
// partner side is doing. VAD eligibility and the user turn are therefore
// mutually exclusive; both derive from pttPressed.
type Machine struct {
	sessionID string

	mu            sync.Mutex
	state         State
	pttPressed    bool
	isProcessing  bool
	speaker       Speaker
	onStateChange func(old, new State)
}

// NewMachine creates a state machine in the disconnected state.
func NewMachine(sessionID string) *Machine {
	return &Machine{sessionID: sessionID, state: StateDisconnected}
}

// OnStateChange registers the single state-change subscriber. The callback
// runs after the internal state has been updated, outside the machine lock.
func (m *Machine) OnStateChange(callback func(old, new State)) {
	m.mu.Lock()
	m.onStateChange = callback
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentSpeaker returns the party holding the turn, or SpeakerNone.
func (m *Machine) CurrentSpeaker() Speaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaker
}

// IsUserTurn reports whether the user holds the turn (PTT pressed).
func (m *Machine) IsUserTurn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pttPressed
}

// IsPartnerTurn reports whether the partner holds the turn.
func (m *Machine) IsPartnerTurn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.pttPressed && (m.state == StatePartnerListening || m.state == StatePartnerProcessing)
}

// ShouldEnableVAD reports whether automatic speech detection should run.
// Never true while PTT is pressed.
func (m *Machine) ShouldEnableVAD() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldEnableVADLocked()
}

func (m *Machine) shouldEnableVADLocked() bool {
	return !m.pttPressed && (m.state == StateConnected || m.state == StatePartnerListening)
}

// ShouldOutputAudio reports whether synthesized speech should be played.
// Audio output happens only on the user's turn.
func (m *Machine) ShouldOutputAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateUserSpeaking || m.state == StateUserProcessing
}

// Connect transitions to connected and clears the auxiliary flags.
func (m *Machine) Connect() {
	m.mu.Lock()
	m.pttPressed = false
	m.isProcessing = false
	m.speaker = SpeakerNone
	t := m.transitionLocked(StateConnected)
	m.mu.Unlock()
	m.notify(t)
	log.Printf("session %s: connected", m.sessionID)
}

// Disconnect transitions to disconnected from any state and clears all
// auxiliary flags.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	m.pttPressed = false
	m.isProcessing = false
	m.speaker = SpeakerNone
	t := m.transitionLocked(StateDisconnected)
	m.mu.Unlock()
	m.notify(t)
	log.Printf("session %s: disconnected", m.sessionID)
}

// PTTPress handles a push-to-talk press. It forces user_speaking no matter
// what the partner side is doing. Pressing while disconnected is ignored.
func (m *Machine) PTTPress() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		log.Printf("session %s: PTT press ignored, not connected", m.sessionID)
		return
	}

	m.pttPressed = true
	m.speaker = SpeakerUser
	t := m.transitionLocked(StateUserSpeaking)
	m.mu.Unlock()

	if m.notify(t) {
		log.Printf("session %s: PTT pressed, user turn", m.sessionID)
	}
}

// PTTRelease handles a push-to-talk release. If the user was speaking and a
// pipeline run is still in flight it moves to user_processing, otherwise
// straight to partner_listening. Releasing while disconnected is ignored.
func (m *Machine) PTTRelease() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}

	m.pttPressed = false

	var t transition
	if m.state == StateUserSpeaking {
		if m.isProcessing {
			t = m.transitionLocked(StateUserProcessing)
		} else {
			m.speaker = SpeakerNone
			t = m.transitionLocked(StatePartnerListening)
		}
	}
	m.mu.Unlock()

	if m.notify(t) {
		log.Printf("session %s: PTT released, %s", m.sessionID, t.to)
	}
}

// StartUserProcessing marks the user pipeline as in flight.
func (m *Machine) StartUserProcessing() {
	m.mu.Lock()
	m.isProcessing = true

	var t transition
	if m.pttPressed {
		// User still holding PTT: stay in user_speaking.
		m.state = StateUserSpeaking
	} else {
		t = m.transitionLocked(StateUserProcessing)
	}
	m.mu.Unlock()
	m.notify(t)
}

// FinishUserProcessing marks the user pipeline complete and hands the turn
// to the partner.
func (m *Machine) FinishUserProcessing() {
	m.mu.Lock()
	m.isProcessing = false
	m.speaker = SpeakerNone

	var t transition
	if m.state == StateUserSpeaking || m.state == StateUserProcessing {
		t = m.transitionLocked(StatePartnerListening)
	}
	m.mu.Unlock()
	m.notify(t)
}

// StartPartnerProcessing marks detected partner speech as being processed.
// It only takes effect while VAD is eligible; in particular a second call
// during an ongoing partner utterance is ignored.
func (m *Machine) StartPartnerProcessing() {
	m.mu.Lock()
	if !m.shouldEnableVADLocked() {
		m.mu.Unlock()
		return
	}

	m.isProcessing = true
	m.speaker = SpeakerPartner
	t := m.transitionLocked(StatePartnerProcessing)
	m.mu.Unlock()

	if m.notify(t) {
		log.Printf("session %s: partner speech detected", m.sessionID)
	}
}

// FinishPartnerProcessing marks the partner pipeline complete and returns
// to listening.
func (m *Machine) FinishPartnerProcessing() {
	m.mu.Lock()
	m.isProcessing = false
	m.speaker = SpeakerNone

	var t transition
	if m.state == StatePartnerProcessing {
		t = m.transitionLocked(StatePartnerListening)
	}
	m.mu.Unlock()
	m.notify(t)
}

// SignalError forces the error state. The machine stays there until an
// explicit Connect or Reset.
func (m *Machine) SignalError(reason string) {
	log.Printf("session %s: state machine error: %s", m.sessionID, reason)
	m.mu.Lock()
	m.isProcessing = false
	t := m.transitionLocked(StateError)
	m.mu.Unlock()
	m.notify(t)
}

// Reset forces the machine back to connected without a fresh connection
// handshake, clearing all auxiliary flags.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.pttPressed = false
	m.isProcessing = false
	m.speaker = SpeakerNone
	t := m.transitionLocked(StateConnected)
	m.mu.Unlock()
	m.notify(t)
	log.Printf("session %s: state machine reset", m.sessionID)
}

// Info is a point-in-time snapshot for diagnostics.
type Info struct {
	State             State   `json:"state"`
	PTTPressed        bool    `json:"ptt_pressed"`
	IsProcessing      bool    `json:"is_processing"`
	CurrentSpeaker    Speaker `json:"current_speaker"`
	ShouldEnableVAD   bool    `json:"should_enable_vad"`
	ShouldOutputAudio bool    `json:"should_output_audio"`
}

// Info returns the current state and derived predicates.
func (m *Machine) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		State:             m.state,
		PTTPressed:        m.pttPressed,
		IsProcessing:      m.isProcessing,
		CurrentSpeaker:    m.speaker,
		ShouldEnableVAD:   m.shouldEnableVADLocked(),
		ShouldOutputAudio: m.state == StateUserSpeaking || m.state == StateUserProcessing,
	}
}

type transition struct {
	changed  bool
	from, to State
}

func (m *Machine) transitionLocked(to State) transition {
	if to == m.state {
		return transition{}
	}
	from := m.state
	m.state = to
	return transition{changed: true, from: from, to: to}
}

// notify invokes the subscriber for a real transition. Returns whether the
// state actually changed.
func (m *Machine) notify(t transition) bool {
	if !t.changed {
		return false
	}

	m.mu.Lock()
	callback := m.onStateChange
	m.mu.Unlock()

	if callback != nil {
		callback(t.from, t.to)
	}
	return true
}
