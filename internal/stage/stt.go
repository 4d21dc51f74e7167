package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const defaultFlushTimeout = 1500 * time.Millisecond

// liveClient is the subset of the Deepgram websocket client the recognizer
// needs. The real client writes audio via io.Writer.
type liveClient interface {
	io.Writer
	Finalize() error
	Stop()
}

// RecognizerConfig configures a live Deepgram stream.
type RecognizerConfig struct {
	APIKey       string
	Model        string
	Language     string
	SampleRate   int
	FlushTimeout time.Duration
}

// DeepgramRecognizer streams PCM audio to Deepgram over a websocket and
// accumulates finalized transcript segments. Segments arrive asynchronously
// through the SDK callback; Flush drains them after asking the stream to
// finalize pending audio.
type DeepgramRecognizer struct {
	cfg RecognizerConfig

	onSpeechStarted func()
	onUtteranceEnd  func()

	dial func(ctx context.Context, cb api.LiveMessageCallback) (liveClient, error)

	mu       sync.Mutex
	client   liveClient
	segments []string
	final    chan struct{}
}

func NewDeepgramRecognizer(cfg RecognizerConfig) *DeepgramRecognizer {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}

	r := &DeepgramRecognizer{
		cfg:   cfg,
		final: make(chan struct{}, 1),
	}
	r.dial = r.dialDeepgram
	return r
}

// SetVADHooks wires the voice-activity callbacks Deepgram raises while
// streaming. Set before Open; both hooks are optional.
func (r *DeepgramRecognizer) SetVADHooks(onSpeechStarted, onUtteranceEnd func()) {
	r.onSpeechStarted = onSpeechStarted
	r.onUtteranceEnd = onUtteranceEnd
}

// Open connects the websocket stream. Calling Open on an open recognizer is
// a no-op.
func (r *DeepgramRecognizer) Open(ctx context.Context) error {
	r.mu.Lock()
	if r.client != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	cl, err := r.dial(ctx, dgCallback{r: r})
	if err != nil {
		return fmt.Errorf("deepgram connect: %w", err)
	}

	r.mu.Lock()
	r.client = cl
	r.mu.Unlock()
	return nil
}

// Feed streams one PCM chunk. The returned transcript is always empty for
// Deepgram: finalized segments surface through Flush.
func (r *DeepgramRecognizer) Feed(ctx context.Context, pcm []byte) (string, error) {
	r.mu.Lock()
	cl := r.client
	r.mu.Unlock()

	if cl == nil {
		if err := r.Open(ctx); err != nil {
			return "", err
		}
		r.mu.Lock()
		cl = r.client
		r.mu.Unlock()
	}

	if _, err := cl.Write(pcm); err != nil {
		return "", fmt.Errorf("deepgram write: %w", err)
	}
	return "", nil
}

// Flush asks Deepgram to finalize buffered audio, waits briefly for the
// closing segment, and returns everything accumulated since the last flush.
func (r *DeepgramRecognizer) Flush(ctx context.Context) (string, error) {
	r.mu.Lock()
	cl := r.client
	r.mu.Unlock()

	if cl == nil {
		return "", nil
	}

	// Drop a stale signal from a previous utterance before finalizing.
	select {
	case <-r.final:
	default:
	}

	if err := cl.Finalize(); err != nil {
		log.Printf("deepgram finalize: %v", err)
	}

	select {
	case <-r.final:
	case <-time.After(r.cfg.FlushTimeout):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	r.mu.Lock()
	text := strings.Join(r.segments, " ")
	r.segments = nil
	r.mu.Unlock()
	return text, nil
}

// Close stops the stream and discards any buffered segments.
func (r *DeepgramRecognizer) Close() {
	r.mu.Lock()
	cl := r.client
	r.client = nil
	r.segments = nil
	r.mu.Unlock()

	if cl != nil {
		cl.Stop()
	}
}

func (r *DeepgramRecognizer) dialDeepgram(ctx context.Context, cb api.LiveMessageCallback) (liveClient, error) {
	cOptions := &interfaces.ClientOptions{
		APIKey:          r.cfg.APIKey,
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       "linear16",
		SampleRate:     r.cfg.SampleRate,
		Channels:       1,
		InterimResults: true,
		VadEvents:      true,
		UtteranceEndMs: "1000",
	}

	dg, err := client.NewWSUsingCallback(ctx, r.cfg.APIKey, cOptions, tOptions, cb)
	if err != nil {
		return nil, err
	}
	if ok := dg.Connect(); !ok {
		return nil, errors.New("websocket connect refused")
	}
	return dg, nil
}

func (r *DeepgramRecognizer) addSegment(text string) {
	r.mu.Lock()
	r.segments = append(r.segments, text)
	r.mu.Unlock()
}

func (r *DeepgramRecognizer) signalFinal() {
	select {
	case r.final <- struct{}{}:
	default:
	}
}

// dgCallback adapts SDK events onto the recognizer.
type dgCallback struct {
	r *DeepgramRecognizer
}

func (c dgCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	sentence := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if mr.IsFinal && sentence != "" {
		c.r.addSegment(sentence)
	}
	if mr.SpeechFinal {
		c.r.signalFinal()
	}
	return nil
}

func (c dgCallback) SpeechStarted(*api.SpeechStartedResponse) error {
	if c.r.onSpeechStarted != nil {
		c.r.onSpeechStarted()
	}
	return nil
}

func (c dgCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.r.signalFinal()
	if c.r.onUtteranceEnd != nil {
		c.r.onUtteranceEnd()
	}
	return nil
}

func (c dgCallback) Open(*api.OpenResponse) error {
	log.Println("connected to Deepgram")
	return nil
}

func (c dgCallback) Close(*api.CloseResponse) error {
	log.Println("disconnected from Deepgram")
	return nil
}

func (c dgCallback) Error(er *api.ErrorResponse) error {
	log.Printf("deepgram error %s: %s", er.ErrCode, er.Description)
	return nil
}

func (c dgCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c dgCallback) UnhandledEvent([]byte) error { return nil }
