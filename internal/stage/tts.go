package stage

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// voiceByLanguage maps language codes to the voice that renders them most
// naturally. Unlisted languages fall back to the configured default.
var voiceByLanguage = map[string]openai.SpeechVoice{
	"en": openai.VoiceAlloy,
	"es": openai.VoiceNova,
	"fr": openai.VoiceShimmer,
	"de": openai.VoiceEcho,
	"it": openai.VoiceFable,
	"pt": openai.VoiceOnyx,
	"ja": openai.VoiceNova,
	"ko": openai.VoiceShimmer,
	"zh": openai.VoiceAlloy,
}

// Speech synthesizes translated text with the OpenAI TTS API. Output is
// 24 kHz 16-bit mono PCM.
type Speech struct {
	client       *openai.Client
	model        string
	defaultVoice string
}

func NewSpeech(apiKey, model, defaultVoice string) *Speech {
	return NewSpeechWithConfig(openai.DefaultConfig(apiKey), model, defaultVoice)
}

func NewSpeechWithConfig(config openai.ClientConfig, model, defaultVoice string) *Speech {
	if strings.TrimSpace(model) == "" {
		model = "tts-1"
	}
	if strings.TrimSpace(defaultVoice) == "" {
		defaultVoice = "alloy"
	}
	return &Speech{
		client:       openai.NewClientWithConfig(config),
		model:        model,
		defaultVoice: defaultVoice,
	}
}

// VoiceFor picks the voice for a language code, accepting regional variants
// like "en-US".
func (s *Speech) VoiceFor(lang string) openai.SpeechVoice {
	prefix := strings.ToLower(strings.SplitN(lang, "-", 2)[0])
	if voice, ok := voiceByLanguage[prefix]; ok {
		return voice
	}
	return openai.SpeechVoice(s.defaultVoice)
}

func (s *Speech) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          s.VoiceFor(lang),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	return pcm, nil
}
