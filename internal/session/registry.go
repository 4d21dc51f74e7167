package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nebulate/nebula-translate/internal/turn"
)

// Config controls registry capacity and the inactivity sweep.
type Config struct {
	MaxSessions   int
	HistoryLimit  int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 100
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = historyLimit
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Archiver persists conversation history outside the in-memory registry.
// Archive failures degrade the session (logged) but never fail it.
type Archiver interface {
	ArchiveSession(id, homeLang, targetLang string, createdAt time.Time) error
	ArchiveMessage(msg Message) error
	ArchiveClose(id string, closedAt time.Time) error
}

// Registry owns all active sessions, pairing each with its state machine
// and metrics. Map mutation is guarded by a single mutex; per-session state
// beyond that is serialized by the owning pipeline.
type Registry struct {
	cfg     Config
	archive Archiver

	mu       sync.RWMutex
	sessions map[string]*Session
	machines map[string]*turn.Machine
	metrics  map[string]*Metrics

	sweepDone chan struct{}
}

// NewRegistry creates an empty registry. archive may be nil.
func NewRegistry(cfg Config, archive Archiver) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		archive:  archive,
		sessions: make(map[string]*Session),
		machines: make(map[string]*turn.Machine),
		metrics:  make(map[string]*Metrics),
	}
}

// CreateSession allocates a session with its state machine and metrics and
// transitions the machine to connected. It returns ErrSessionLimit at
// capacity and ErrUnsupportedLanguage for unknown language codes.
func (r *Registry) CreateSession(homeLang, targetLang, userID string) (Session, error) {
	if !SupportedLanguage(homeLang) || !SupportedLanguage(targetLang) {
		return Session{}, ErrUnsupportedLanguage
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	sess := &Session{
		ID:             id,
		State:          turn.StateDisconnected,
		HomeLanguage:   homeLang,
		TargetLanguage: targetLang,
		UserID:         userID,
		CreatedAt:      now,
		LastActivity:   now,
	}

	machine := turn.NewMachine(id)
	machine.OnStateChange(func(_, newState turn.State) {
		r.mu.Lock()
		if s, ok := r.sessions[id]; ok {
			s.State = newState
			s.LastActivity = time.Now().UTC()
		}
		r.mu.Unlock()
	})

	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return Session{}, ErrSessionLimit
	}
	r.sessions[id] = sess
	r.machines[id] = machine
	r.metrics[id] = &Metrics{SessionID: id}
	r.mu.Unlock()

	machine.Connect()

	if r.archive != nil {
		if err := r.archive.ArchiveSession(id, homeLang, targetLang, now); err != nil {
			log.Printf("session %s: archive create failed: %v", id, err)
		}
	}

	log.Printf("session %s: created %s <-> %s", id, homeLang, targetLang)
	return r.sessionCopy(id), nil
}

// GetSession returns a copy of the session, or ok=false if absent.
func (r *Registry) GetSession(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	return out, true
}

// GetStateMachine returns the session's state machine, or ok=false.
func (r *Registry) GetStateMachine(id string) (*turn.Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	return m, ok
}

// GetMetrics returns a copy of the session's metrics, or ok=false.
func (r *Registry) GetMetrics(id string) (Metrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[id]
	if !ok {
		return Metrics{}, false
	}
	return *m, true
}

// CloseSession disconnects the state machine and removes the session.
// Closing an absent session is a no-op.
func (r *Registry) CloseSession(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	machine := r.machines[id]
	metrics := r.metrics[id]
	delete(r.sessions, id)
	delete(r.machines, id)
	delete(r.metrics, id)
	r.mu.Unlock()

	if machine != nil {
		machine.Disconnect()
	}

	if r.archive != nil {
		if err := r.archive.ArchiveClose(id, time.Now().UTC()); err != nil {
			log.Printf("session %s: archive close failed: %v", id, err)
		}
	}

	duration := time.Since(sess.CreatedAt).Round(time.Second)
	avgLatency := 0.0
	if metrics != nil {
		avgLatency = metrics.AvgTotalLatency
	}
	log.Printf("session %s: closed after %s, %d messages, avg latency %.0fms",
		id, duration, len(sess.Messages), avgLatency)
}

// AddMessage appends a finalized utterance to the session history, filling
// in default languages from the session config based on the speaker, and
// bumps the matching turn counter. History is capped; the oldest message is
// evicted on overflow.
func (r *Registry) AddMessage(id string, speaker turn.Speaker, originalText, translatedText, srcLang, tgtLang string) (Message, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Message{}, false
	}

	if speaker == turn.SpeakerUser {
		if srcLang == "" {
			srcLang = sess.HomeLanguage
		}
		if tgtLang == "" {
			tgtLang = sess.TargetLanguage
		}
	} else {
		if srcLang == "" {
			srcLang = sess.TargetLanguage
		}
		if tgtLang == "" {
			tgtLang = sess.HomeLanguage
		}
	}

	msg := Message{
		ID:             uuid.NewString(),
		SessionID:      id,
		Speaker:        speaker,
		OriginalText:   originalText,
		TranslatedText: translatedText,
		SourceLanguage: srcLang,
		TargetLanguage: tgtLang,
		Timestamp:      time.Now().UTC(),
	}

	sess.Messages = append(sess.Messages, msg)
	if len(sess.Messages) > r.cfg.HistoryLimit {
		sess.Messages = sess.Messages[len(sess.Messages)-r.cfg.HistoryLimit:]
	}

	if speaker == turn.SpeakerUser {
		sess.UserTurns++
	} else {
		sess.PartnerTurns++
	}
	sess.LastActivity = time.Now().UTC()
	r.mu.Unlock()

	if r.archive != nil {
		if err := r.archive.ArchiveMessage(msg); err != nil {
			log.Printf("session %s: archive message failed: %v", id, err)
		}
	}

	return msg, true
}

// RecordOutcome folds one completed turn into the session metrics and the
// session's cumulative processing time. Returns false if the session is
// absent.
func (r *Registry) RecordOutcome(id string, o Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.metrics[id]
	sess, sok := r.sessions[id]
	if !ok || !sok {
		return false
	}

	total := metrics.record(o)
	if total > 0 {
		sess.ProcessingTimeMS += int64(total)
	}
	return true
}

// ListSessions returns snapshots of all active sessions, in no particular
// order.
func (r *Registry) ListSessions() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartSweep launches the background inactivity sweep. It runs until ctx is
// cancelled; a failure in one iteration never terminates the loop.
func (r *Registry) StartSweep(ctx context.Context) {
	r.sweepDone = make(chan struct{})

	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepOnce(time.Now().UTC())
			}
		}
	}()
}

// WaitSweep blocks until the sweep goroutine has exited.
func (r *Registry) WaitSweep() {
	if r.sweepDone != nil {
		<-r.sweepDone
	}
}

func (r *Registry) sweepOnce(now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("session sweep: recovered: %v", rec)
		}
	}()

	r.mu.RLock()
	var expired []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity) > r.cfg.IdleTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		log.Printf("session %s: closing inactive session", id)
		r.CloseSession(id)
	}
}

// CloseAll closes every active session. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.CloseSession(id)
	}
}

func (r *Registry) sessionCopy(id string) Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[id]; ok {
		out := *s
		out.Messages = append([]Message(nil), s.Messages...)
		return out
	}
	return Session{}
}
