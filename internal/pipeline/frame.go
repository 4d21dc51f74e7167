package pipeline

// Kind discriminates the closed set of frame variants flowing through a
// session pipeline.
type Kind int

const (
	// FrameAudio carries a chunk of raw 16 kHz mono PCM.
	FrameAudio Kind = iota
	// FrameSpeechStarted marks the onset of speech, manual or detected.
	FrameSpeechStarted
	// FrameSpeechStopped marks the end of speech, manual or detected.
	FrameSpeechStopped
	// FrameText carries a finalized transcription from the recognizer.
	FrameText
	// FrameControl carries a PTT control event.
	FrameControl
)

func (k Kind) String() string {
	switch k {
	case FrameAudio:
		return "audio"
	case FrameSpeechStarted:
		return "speech_started"
	case FrameSpeechStopped:
		return "speech_stopped"
	case FrameText:
		return "text"
	case FrameControl:
		return "control"
	default:
		return "unknown"
	}
}

// Origin tags speech events with what produced them. Both origins are
// handled identically past the stop-suppression rule.
type Origin string

const (
	OriginManual Origin = "manual"
	OriginAuto   Origin = "auto"
)

// Control is a PTT control event carried by a FrameControl frame.
type Control int

const (
	ControlNone Control = iota
	ControlPTTPress
	ControlPTTRelease
)

// Frame is one discrete unit moving through the pipeline. Only the fields
// relevant to its Kind are set.
type Frame struct {
	Kind    Kind
	Audio   []byte
	Text    string
	Origin  Origin
	Control Control
}

// AudioFrame wraps a PCM chunk.
func AudioFrame(pcm []byte) Frame {
	return Frame{Kind: FrameAudio, Audio: pcm}
}

// SpeechStartedFrame marks speech onset from the given origin.
func SpeechStartedFrame(origin Origin) Frame {
	return Frame{Kind: FrameSpeechStarted, Origin: origin}
}

// SpeechStoppedFrame marks speech end from the given origin.
func SpeechStoppedFrame(origin Origin) Frame {
	return Frame{Kind: FrameSpeechStopped, Origin: origin}
}

// TextFrame wraps a finalized transcription.
func TextFrame(text string) Frame {
	return Frame{Kind: FrameText, Text: text}
}

// ControlFrame wraps a PTT control event.
func ControlFrame(control Control) Frame {
	return Frame{Kind: FrameControl, Control: control}
}
