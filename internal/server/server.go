package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/nebulate/nebula-translate/internal/audio"
	"github.com/nebulate/nebula-translate/internal/pipeline"
	"github.com/nebulate/nebula-translate/internal/session"
	"github.com/nebulate/nebula-translate/internal/turn"
)

// StageFactory builds the per-session processing stages. A zero Stages value
// runs the coordination core without external services, which is how tests
// and keyless deployments operate.
type StageFactory func(sess session.Session) pipeline.Stages

// VADSource is implemented by recognizers that raise their own voice
// activity events while streaming.
type VADSource interface {
	SetVADHooks(onSpeechStarted, onUtteranceEnd func())
}

type stageCloser interface {
	Close()
}

type Config struct {
	Registry *session.Registry
	Stages   StageFactory
	Recorder func() *audio.Recorder
	Warnings []string

	// Languages applied when a create request leaves them empty.
	DefaultHomeLanguage   string
	DefaultTargetLanguage string
}

type pipe struct {
	coordinator *pipeline.Coordinator
	stages      pipeline.Stages
}

// Server owns the HTTP/websocket surface and the per-session pipeline
// coordinators behind it.
type Server struct {
	baseCtx  context.Context
	registry *session.Registry
	hub      *Hub
	stages   StageFactory
	recorder func() *audio.Recorder
	warnings []string

	defaultHomeLang   string
	defaultTargetLang string

	mu       sync.Mutex
	pipes    map[string]*pipe
	audioOut map[string]chan []byte
}

func New(ctx context.Context, cfg Config) *Server {
	if cfg.DefaultHomeLanguage == "" {
		cfg.DefaultHomeLanguage = "en"
	}
	if cfg.DefaultTargetLanguage == "" {
		cfg.DefaultTargetLanguage = "es"
	}
	return &Server{
		baseCtx:           ctx,
		registry:          cfg.Registry,
		hub:               NewHub(),
		stages:            cfg.Stages,
		recorder:          cfg.Recorder,
		warnings:          cfg.Warnings,
		defaultHomeLang:   cfg.DefaultHomeLanguage,
		defaultTargetLang: cfg.DefaultTargetLanguage,
		pipes:             make(map[string]*pipe),
		audioOut:          make(map[string]chan []byte),
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	s.registerWSRoute(mux)
	return mux
}

// createSession registers a session and starts its pipeline.
func (s *Server) createSession(homeLang, targetLang, userID string) (session.Session, error) {
	sess, err := s.registry.CreateSession(homeLang, targetLang, userID)
	if err != nil {
		return session.Session{}, err
	}

	machine, _ := s.registry.GetStateMachine(sess.ID)

	var stages pipeline.Stages
	if s.stages != nil {
		stages = s.stages(sess)
	}
	var rec *audio.Recorder
	if s.recorder != nil {
		rec = s.recorder()
	}

	sinks := pipeline.Sinks{
		AudioOutput: func(pcm []byte) { s.sendAudio(sess.ID, pcm) },
		TextOutput: func(original, translated string, speaker turn.Speaker) {
			srcLang, tgtLang := sess.TargetLanguage, sess.HomeLanguage
			if speaker == turn.SpeakerUser {
				srcLang, tgtLang = sess.HomeLanguage, sess.TargetLanguage
			}
			s.hub.BroadcastTranslation(sess.ID, speaker, original, translated, srcLang, tgtLang)
		},
		AudioLevel: func(level float64, speaker turn.Speaker) {
			s.hub.BroadcastAudioLevel(sess.ID, level, speaker)
		},
		Thinking: func(thinking bool) {
			s.hub.BroadcastThinking(sess.ID, thinking)
		},
	}

	c := pipeline.NewCoordinator(sess, machine, s.registry, stages, sinks, rec)

	if vad, ok := stages.Recognizer.(VADSource); ok {
		vad.SetVADHooks(
			func() { c.SpeechStarted(pipeline.OriginAuto) },
			func() { c.SpeechStopped(pipeline.OriginAuto) },
		)
	}

	c.Start(s.baseCtx)

	s.mu.Lock()
	s.pipes[sess.ID] = &pipe{coordinator: c, stages: stages}
	s.mu.Unlock()

	return sess, nil
}

// closeSession tears down the pipeline and removes the session from the
// registry. Safe to call for unknown ids.
func (s *Server) closeSession(id string) {
	s.mu.Lock()
	p := s.pipes[id]
	delete(s.pipes, id)
	s.mu.Unlock()

	if p != nil {
		p.coordinator.Close()
		if closer, ok := p.stages.Recognizer.(stageCloser); ok {
			closer.Close()
		}
	}

	s.registry.CloseSession(id)
	s.hub.BroadcastConnectionState(id, turn.StateDisconnected, "session closed")
}

func (s *Server) coordinatorFor(id string) *pipeline.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipes[id]; ok {
		return p.coordinator
	}
	return nil
}

// StartReaper tears down pipelines whose sessions the registry has already
// dropped, e.g. after an idle sweep.
func (s *Server) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reapClosed()
			}
		}
	}()
}

func (s *Server) reapClosed() {
	s.mu.Lock()
	var stale []*pipe
	for id, p := range s.pipes {
		if _, ok := s.registry.GetSession(id); !ok {
			stale = append(stale, p)
			delete(s.pipes, id)
		}
	}
	s.mu.Unlock()

	for _, p := range stale {
		p.coordinator.Close()
		if closer, ok := p.stages.Recognizer.(stageCloser); ok {
			closer.Close()
		}
	}
	if len(stale) > 0 {
		log.Printf("reaped %d closed session pipelines", len(stale))
	}
}

// CloseAll shuts down every pipeline and session. Used at process exit.
func (s *Server) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pipes))
	for id := range s.pipes {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.closeSession(id)
	}
}

func (s *Server) attachAudio(id string, ch chan []byte) {
	s.mu.Lock()
	s.audioOut[id] = ch
	s.mu.Unlock()
}

func (s *Server) detachAudio(id string, ch chan []byte) {
	s.mu.Lock()
	if s.audioOut[id] == ch {
		delete(s.audioOut, id)
	}
	s.mu.Unlock()
}

func (s *Server) sendAudio(id string, pcm []byte) {
	s.mu.Lock()
	ch := s.audioOut[id]
	s.mu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- pcm:
	default:
		log.Printf("session %s: audio output backlogged, dropping chunk", id)
	}
}
