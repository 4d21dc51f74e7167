package turn

import (
	"sync"
	"testing"
)

func connected(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine("test-session")
	m.Connect()
	return m
}

func TestPTTPressForcesUserTurn(t *testing.T) {
	setups := map[string]func(m *Machine){
		"connected":          func(m *Machine) {},
		"partner_listening":  func(m *Machine) { m.PTTPress(); m.PTTRelease() },
		"partner_processing": func(m *Machine) { m.StartPartnerProcessing() },
		"error":              func(m *Machine) { m.SignalError("boom") },
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			m := connected(t)
			setup(m)

			m.PTTPress()

			if got := m.State(); got != StateUserSpeaking {
				t.Fatalf("state = %s, want %s", got, StateUserSpeaking)
			}
			if got := m.CurrentSpeaker(); got != SpeakerUser {
				t.Fatalf("speaker = %q, want %q", got, SpeakerUser)
			}
			if !m.IsUserTurn() {
				t.Fatal("expected IsUserTurn after press")
			}
		})
	}
}

func TestPTTPressIsIdempotent(t *testing.T) {
	m := connected(t)

	var transitions int
	m.OnStateChange(func(old, new State) { transitions++ })

	m.PTTPress()
	m.PTTPress()

	if transitions != 1 {
		t.Fatalf("transitions = %d, want 1", transitions)
	}
	if got := m.State(); got != StateUserSpeaking {
		t.Fatalf("state = %s, want %s", got, StateUserSpeaking)
	}
}

func TestPTTPressIgnoredWhileDisconnected(t *testing.T) {
	m := NewMachine("test-session")

	m.PTTPress()

	if got := m.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want %s", got, StateDisconnected)
	}
	if m.IsUserTurn() {
		t.Fatal("PTT press while disconnected must not claim the turn")
	}
}

func TestPTTReleaseWithoutProcessing(t *testing.T) {
	m := connected(t)
	m.PTTPress()

	m.PTTRelease()

	if got := m.State(); got != StatePartnerListening {
		t.Fatalf("state = %s, want %s", got, StatePartnerListening)
	}
	if got := m.CurrentSpeaker(); got != SpeakerNone {
		t.Fatalf("speaker = %q, want unset", got)
	}
}

func TestPTTReleaseWhileProcessing(t *testing.T) {
	m := connected(t)
	m.PTTPress()
	m.StartUserProcessing()

	m.PTTRelease()

	if got := m.State(); got != StateUserProcessing {
		t.Fatalf("state = %s, want %s", got, StateUserProcessing)
	}

	m.FinishUserProcessing()

	if got := m.State(); got != StatePartnerListening {
		t.Fatalf("state = %s, want %s", got, StatePartnerListening)
	}
	if got := m.CurrentSpeaker(); got != SpeakerNone {
		t.Fatalf("speaker = %q, want unset", got)
	}
}

func TestVADAndUserTurnNeverBothTrue(t *testing.T) {
	m := NewMachine("test-session")

	steps := []func(){
		m.Connect,
		m.PTTPress,
		m.StartUserProcessing,
		m.PTTRelease,
		m.FinishUserProcessing,
		m.StartPartnerProcessing,
		m.FinishPartnerProcessing,
		m.PTTPress,
		m.PTTRelease,
		func() { m.SignalError("boom") },
		m.Reset,
		m.Disconnect,
	}

	check := func(step int) {
		if m.IsUserTurn() && m.ShouldEnableVAD() {
			t.Fatalf("step %d: IsUserTurn and ShouldEnableVAD both true in state %s", step, m.State())
		}
	}

	check(-1)
	for i, step := range steps {
		step()
		check(i)
	}
}

func TestPartnerProcessingFlow(t *testing.T) {
	m := connected(t)

	m.StartPartnerProcessing()

	if got := m.State(); got != StatePartnerProcessing {
		t.Fatalf("state = %s, want %s", got, StatePartnerProcessing)
	}
	if got := m.CurrentSpeaker(); got != SpeakerPartner {
		t.Fatalf("speaker = %q, want %q", got, SpeakerPartner)
	}
	if !m.IsPartnerTurn() {
		t.Fatal("expected IsPartnerTurn during partner processing")
	}

	m.FinishPartnerProcessing()

	if got := m.State(); got != StatePartnerListening {
		t.Fatalf("state = %s, want %s", got, StatePartnerListening)
	}
}

func TestPartnerProcessingIgnoredWhilePTTHeld(t *testing.T) {
	m := connected(t)
	m.PTTPress()

	m.StartPartnerProcessing()

	if got := m.State(); got != StateUserSpeaking {
		t.Fatalf("state = %s, want %s", got, StateUserSpeaking)
	}
	if got := m.CurrentSpeaker(); got != SpeakerUser {
		t.Fatalf("speaker = %q, want %q", got, SpeakerUser)
	}
}

func TestPartnerProcessingOverlapIgnored(t *testing.T) {
	m := connected(t)
	m.StartPartnerProcessing()

	var transitions int
	m.OnStateChange(func(old, new State) { transitions++ })

	m.StartPartnerProcessing()

	if transitions != 0 {
		t.Fatalf("second StartPartnerProcessing caused %d transitions, want 0", transitions)
	}
}

func TestErrorStateIsTerminalUntilReset(t *testing.T) {
	m := connected(t)
	m.StartPartnerProcessing()

	m.SignalError("stage blew up")

	if got := m.State(); got != StateError {
		t.Fatalf("state = %s, want %s", got, StateError)
	}

	// VAD must not restart processing from the error state.
	m.StartPartnerProcessing()
	if got := m.State(); got != StateError {
		t.Fatalf("state = %s after VAD in error, want %s", got, StateError)
	}

	m.Reset()

	if got := m.State(); got != StateConnected {
		t.Fatalf("state = %s after reset, want %s", got, StateConnected)
	}
	if got := m.CurrentSpeaker(); got != SpeakerNone {
		t.Fatalf("speaker = %q after reset, want unset", got)
	}
}

func TestDisconnectClearsFlags(t *testing.T) {
	m := connected(t)
	m.PTTPress()
	m.StartUserProcessing()

	m.Disconnect()

	info := m.Info()
	if info.State != StateDisconnected {
		t.Fatalf("state = %s, want %s", info.State, StateDisconnected)
	}
	if info.PTTPressed || info.IsProcessing || info.CurrentSpeaker != SpeakerNone {
		t.Fatalf("auxiliary flags not cleared: %+v", info)
	}
}

func TestStateChangeCallbackSeesUpdatedState(t *testing.T) {
	m := NewMachine("test-session")

	type change struct{ old, new State }
	var mu sync.Mutex
	var seen []change

	m.OnStateChange(func(old, new State) {
		mu.Lock()
		seen = append(seen, change{old, new})
		mu.Unlock()
		if m.State() != new {
			t.Errorf("subscriber observed state %s, want %s", m.State(), new)
		}
	})

	m.Connect()
	m.PTTPress()
	m.PTTRelease()

	want := []change{
		{StateDisconnected, StateConnected},
		{StateConnected, StateUserSpeaking},
		{StateUserSpeaking, StatePartnerListening},
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("saw %d transitions, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestStartUserProcessingKeepsUserSpeakingWhilePressed(t *testing.T) {
	m := connected(t)
	m.PTTPress()

	m.StartUserProcessing()

	if got := m.State(); got != StateUserSpeaking {
		t.Fatalf("state = %s, want %s", got, StateUserSpeaking)
	}
	if !m.ShouldOutputAudio() {
		t.Fatal("expected ShouldOutputAudio during user turn")
	}
}
