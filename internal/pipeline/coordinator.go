package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nebulate/nebula-translate/internal/audio"
	"github.com/nebulate/nebula-translate/internal/session"
	"github.com/nebulate/nebula-translate/internal/turn"
)

// Recognizer is the speech-to-text stage. Feed streams audio in; a non-empty
// transcript from Feed or Flush is a finalized text unit.
type Recognizer interface {
	Open(ctx context.Context) error
	Feed(ctx context.Context, pcm []byte) (string, error)
	Flush(ctx context.Context) (string, error)
}

// Translator is the translation stage.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Synthesizer is the text-to-speech stage.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Stages bundles the external processors wired around the router.
type Stages struct {
	Recognizer  Recognizer
	Translator  Translator
	Synthesizer Synthesizer
}

// Sinks are the optional output callback slots. An unset slot skips the
// emission.
type Sinks struct {
	AudioOutput func(pcm []byte)
	TextOutput  func(original, translated string, speaker turn.Speaker)
	AudioLevel  func(level float64, speaker turn.Speaker)
	Thinking    func(thinking bool)
}

// Coordinator runs one session's pipeline: a single goroutine drains an
// ordered inbound frame queue, so state transitions and routing decisions
// for the session are applied strictly in arrival order. Cross-session
// parallelism comes from running independent coordinators.
type Coordinator struct {
	sessionID  string
	homeLang   string
	targetLang string

	machine  *turn.Machine
	router   *Router
	registry *session.Registry
	stages   Stages
	recorder *audio.Recorder

	mu          sync.Mutex
	sinks       Sinks
	stageStarts map[string]time.Time

	inbound chan Frame
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
	startOnce sync.Once
}

// NewCoordinator wires a coordinator for one session. recorder may be nil.
func NewCoordinator(sess session.Session, machine *turn.Machine, registry *session.Registry, stages Stages, sinks Sinks, recorder *audio.Recorder) *Coordinator {
	return &Coordinator{
		sessionID:   sess.ID,
		homeLang:    sess.HomeLanguage,
		targetLang:  sess.TargetLanguage,
		machine:     machine,
		router:      NewRouter(machine),
		registry:    registry,
		stages:      stages,
		recorder:    recorder,
		sinks:       sinks,
		stageStarts: make(map[string]time.Time),
	}
}

// Start launches the pipeline goroutine. Subsequent calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.done = make(chan struct{})

		c.mu.Lock()
		c.inbound = make(chan Frame, 256)
		c.mu.Unlock()

		if c.recorder != nil {
			if err := c.recorder.Begin(c.sessionID); err != nil {
				log.Printf("session %s: audio recorder disabled: %v", c.sessionID, err)
				c.recorder = nil
			}
		}

		go c.run(runCtx)
		log.Printf("session %s: pipeline started", c.sessionID)
	})
}

// Close tears the pipeline down: it disconnects the state machine so any
// in-flight routing decisions resolve as dropped, stops the goroutine, and
// deregisters the output sinks, in that order. Idempotent.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.machine.Disconnect()

		if c.cancel != nil {
			c.cancel()
			<-c.done
		}

		c.mu.Lock()
		c.sinks = Sinks{}
		c.mu.Unlock()

		if c.recorder != nil {
			path, err := c.recorder.Finalize()
			if err != nil {
				log.Printf("session %s: audio archive failed: %v", c.sessionID, err)
			} else if path != "" {
				log.Printf("session %s: audio archived to %s", c.sessionID, path)
			}
		}

		log.Printf("session %s: pipeline stopped", c.sessionID)
	})
}

// PTTPress enqueues a push-to-talk press. The press instant opens the STT
// stage timer for latency bookkeeping.
func (c *Coordinator) PTTPress() {
	c.MarkStageStart(session.StageSTT)
	c.submit(ControlFrame(ControlPTTPress))
}

// PTTRelease enqueues a push-to-talk release.
func (c *Coordinator) PTTRelease() {
	c.submit(ControlFrame(ControlPTTRelease))
}

// IngestAudio enqueues a raw PCM chunk. No-op before Start.
func (c *Coordinator) IngestAudio(pcm []byte) {
	c.submit(AudioFrame(pcm))
}

// SpeechStarted enqueues a speech-onset event.
func (c *Coordinator) SpeechStarted(origin Origin) {
	c.submit(SpeechStartedFrame(origin))
}

// SpeechStopped enqueues a speech-end event.
func (c *Coordinator) SpeechStopped(origin Origin) {
	c.submit(SpeechStoppedFrame(origin))
}

// IngestText enqueues a finalized transcript produced outside the audio
// path, e.g. by a streaming recognizer callback.
func (c *Coordinator) IngestText(text string) {
	c.submit(TextFrame(text))
}

func (c *Coordinator) submit(f Frame) {
	c.mu.Lock()
	inbound := c.inbound
	c.mu.Unlock()

	if inbound == nil {
		return
	}

	select {
	case inbound <- f:
	default:
		// Queue full: drop rather than stall the caller.
		log.Printf("session %s: inbound queue full, dropping %s frame", c.sessionID, f.Kind)
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.inbound:
			c.handle(ctx, f)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, f Frame) {
	switch f.Kind {
	case FrameControl:
		switch f.Control {
		case ControlPTTPress:
			c.machine.PTTPress()
		case ControlPTTRelease:
			c.machine.PTTRelease()
			if c.machine.CurrentSpeaker() == turn.SpeakerNone {
				// The press produced no utterance; discard its STT timer so
				// it cannot inflate a later turn's latency.
				c.MarkStageEnd(session.StageSTT)
			}
		}

	case FrameSpeechStarted:
		if !c.router.RouteAudio(f) {
			return
		}
		c.MarkStageStart(session.StageSTT)
		if c.stages.Recognizer != nil {
			if err := c.stages.Recognizer.Open(ctx); err != nil {
				log.Printf("session %s: recognizer open failed: %v", c.sessionID, err)
			}
		}

	case FrameAudio:
		if !c.router.RouteAudio(f) {
			return
		}
		if c.machine.IsUserTurn() {
			// Keeps the user attributed to the utterance even if PTT is
			// released before the transcript lands.
			c.machine.StartUserProcessing()
		}
		c.emitLevel(f.Audio)
		if c.recorder != nil {
			if err := c.recorder.Write(f.Audio); err != nil {
				log.Printf("session %s: audio archive write failed: %v", c.sessionID, err)
			}
		}
		if c.stages.Recognizer != nil {
			text, err := c.stages.Recognizer.Feed(ctx, f.Audio)
			if err != nil {
				c.recordStageFailure(session.StageSTT, err)
				return
			}
			if text != "" {
				c.processText(ctx, text)
			}
		}

	case FrameSpeechStopped:
		if !c.router.RouteAudio(f) {
			return
		}
		if c.stages.Recognizer != nil {
			text, err := c.stages.Recognizer.Flush(ctx)
			if err != nil {
				c.recordStageFailure(session.StageSTT, err)
				c.releaseStalledTurn()
				return
			}
			if text == "" {
				c.releaseStalledTurn()
				return
			}
			c.processText(ctx, text)
		}

	case FrameText:
		c.processText(ctx, f.Text)
	}
}

// processText runs a finalized transcript through translation, the text
// gate, and optionally synthesis, then records history and metrics.
func (c *Coordinator) processText(ctx context.Context, text string) {
	if text == "" {
		return
	}

	sttMS := c.MarkStageEnd(session.StageSTT)

	speaker := c.claimTurn()
	if speaker == turn.SpeakerNone {
		// Defensive drop; RouteText logs the contract violation.
		c.router.RouteText(text)
		return
	}

	c.emitThinking(true)
	defer c.emitThinking(false)

	srcLang, tgtLang := c.targetLang, c.homeLang
	if speaker == turn.SpeakerUser {
		srcLang, tgtLang = c.homeLang, c.targetLang
	}

	outcome := session.Outcome{Success: true}
	if sttMS > 0 {
		outcome.STTLatencyMS = session.LatencyMS(sttMS)
	}

	translated := text
	if c.stages.Translator != nil {
		c.MarkStageStart(session.StageTranslation)
		out, err := c.stages.Translator.Translate(ctx, text, srcLang, tgtLang)
		elapsed := c.MarkStageEnd(session.StageTranslation)
		if err != nil {
			// Degraded: the original text passes through untranslated.
			log.Printf("session %s: translation failed, passing original through: %v", c.sessionID, err)
			outcome.Success = false
			outcome.ErrorStage = session.StageTranslation
		} else {
			translated = out
			outcome.TranslationLatencyMS = session.LatencyMS(elapsed)
		}
	}

	route := c.router.RouteText(translated)

	if route.Synthesize && c.stages.Synthesizer != nil {
		c.MarkStageStart(session.StageTTS)
		pcm, err := c.stages.Synthesizer.Synthesize(ctx, translated, tgtLang)
		elapsed := c.MarkStageEnd(session.StageTTS)
		if err != nil {
			log.Printf("session %s: synthesis failed: %v", c.sessionID, err)
			if outcome.Success {
				outcome.Success = false
				outcome.ErrorStage = session.StageTTS
			}
		} else {
			outcome.TTSLatencyMS = session.LatencyMS(elapsed)
			c.emitAudio(pcm)
		}
	}

	if route.Emit {
		c.emitText(text, translated, route.Speaker)
	}

	if c.registry != nil {
		translatedField := ""
		if translated != text {
			translatedField = translated
		}
		c.registry.AddMessage(c.sessionID, speaker, text, translatedField, srcLang, tgtLang)
		c.registry.RecordOutcome(c.sessionID, outcome)
	}

	if speaker == turn.SpeakerUser {
		c.machine.FinishUserProcessing()
	} else {
		c.machine.FinishPartnerProcessing()
	}
}

// releaseStalledTurn hands the turn back when an utterance ends without a
// transcript. Without it a silent PTT press would park the machine in
// user_processing with VAD disabled, locking the partner out.
func (c *Coordinator) releaseStalledTurn() {
	switch c.machine.CurrentSpeaker() {
	case turn.SpeakerUser:
		if !c.machine.IsUserTurn() {
			c.machine.FinishUserProcessing()
		}
	case turn.SpeakerPartner:
		c.machine.FinishPartnerProcessing()
	}
	c.MarkStageEnd(session.StageSTT)
}

// claimTurn resolves which party the arriving text belongs to, marking the
// matching processing phase on the state machine.
func (c *Coordinator) claimTurn() turn.Speaker {
	if speaker := c.machine.CurrentSpeaker(); speaker == turn.SpeakerUser {
		c.machine.StartUserProcessing()
		return speaker
	} else if speaker == turn.SpeakerPartner {
		return speaker
	}

	// No speaker yet: detected partner speech reaching finalization.
	c.machine.StartPartnerProcessing()
	return c.machine.CurrentSpeaker()
}

// MarkStageStart records the wall-clock start of a named stage.
func (c *Coordinator) MarkStageStart(stage string) {
	c.mu.Lock()
	c.stageStarts[stage] = time.Now()
	c.mu.Unlock()
}

// MarkStageEnd returns the elapsed milliseconds for a stage and clears its
// start, so a stage cannot be finished twice without a fresh start.
func (c *Coordinator) MarkStageEnd(stage string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	start, ok := c.stageStarts[stage]
	if !ok {
		return 0
	}
	delete(c.stageStarts, stage)
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func (c *Coordinator) recordStageFailure(stage string, err error) {
	log.Printf("session %s: %s stage failed: %v", c.sessionID, stage, err)
	if c.registry != nil {
		c.registry.RecordOutcome(c.sessionID, session.Outcome{Success: false, ErrorStage: stage})
	}
}

func (c *Coordinator) emitAudio(pcm []byte) {
	c.mu.Lock()
	sink := c.sinks.AudioOutput
	c.mu.Unlock()
	if sink != nil {
		sink(pcm)
	}
}

func (c *Coordinator) emitText(original, translated string, speaker turn.Speaker) {
	c.mu.Lock()
	sink := c.sinks.TextOutput
	c.mu.Unlock()
	if sink != nil {
		sink(original, translated, speaker)
	}
}

func (c *Coordinator) emitLevel(pcm []byte) {
	c.mu.Lock()
	sink := c.sinks.AudioLevel
	c.mu.Unlock()
	if sink == nil {
		return
	}

	speaker := c.machine.CurrentSpeaker()
	if speaker == turn.SpeakerNone {
		return
	}
	sink(audio.Level(pcm), speaker)
}

func (c *Coordinator) emitThinking(thinking bool) {
	c.mu.Lock()
	sink := c.sinks.Thinking
	c.mu.Unlock()
	if sink != nil {
		sink(thinking)
	}
}
