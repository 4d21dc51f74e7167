package pipeline

import (
	"log"

	"github.com/nebulate/nebula-translate/internal/turn"
)

// diagInterval throttles routing diagnostics to every Nth audio chunk.
const diagInterval = 50

// Router decides, per frame, whether the audio path forwards downstream and
// where the text path sends finalized text. It holds no state of its own
// beyond a diagnostic counter; every decision reads the turn machine.
type Router struct {
	machine    *turn.Machine
	audioCount uint64
}

// NewRouter creates a router over the session's state machine.
func NewRouter(machine *turn.Machine) *Router {
	return &Router{machine: machine}
}

// RouteAudio reports whether an audio-path frame should be forwarded to the
// recognition stage. Dropped frames are not buffered or retried.
//
//   - speech_started is always forwarded (it opens the recognition stage)
//   - speech_stopped is suppressed while the user is holding PTT, so an
//     automatic stop cannot truncate a held utterance
//   - audio chunks are forwarded on the user's turn or while VAD is eligible
func (r *Router) RouteAudio(f Frame) bool {
	switch f.Kind {
	case FrameSpeechStarted:
		return true
	case FrameSpeechStopped:
		return !r.machine.IsUserTurn()
	case FrameAudio:
		forward := r.machine.IsUserTurn() || r.machine.ShouldEnableVAD()
		r.audioCount++
		if r.audioCount%diagInterval == 1 {
			info := r.machine.Info()
			log.Printf("audio frame %d: forward=%t state=%s ptt=%t vad=%t",
				r.audioCount, forward, info.State, info.PTTPressed, info.ShouldEnableVAD)
		}
		return forward
	case FrameText, FrameControl:
		// Not audio-path frames.
		return false
	default:
		return false
	}
}

// TextRoute is the text-path decision for one finalized text unit.
type TextRoute struct {
	// Emit indicates the text should reach the text-output sink.
	Emit bool
	// Synthesize indicates the text should also go to the synthesis stage.
	Synthesize bool
	// Speaker tags the emission with the party holding the turn.
	Speaker turn.Speaker
}

// RouteText decides where a finalized text unit goes. Text arriving with no
// current speaker is dropped; that indicates a contract violation upstream
// and is logged but not fatal.
func (r *Router) RouteText(text string) TextRoute {
	speaker := r.machine.CurrentSpeaker()
	if speaker == turn.SpeakerNone {
		log.Printf("text frame dropped, no current speaker: %.40q", text)
		return TextRoute{}
	}

	return TextRoute{
		Emit:       true,
		Synthesize: r.machine.ShouldOutputAudio(),
		Speaker:    speaker,
	}
}
