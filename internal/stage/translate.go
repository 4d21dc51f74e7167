package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nebulate/nebula-translate/internal/session"
)

// Translator turns finalized transcripts into the other party's language
// using an OpenAI chat model.
type Translator struct {
	client *openai.Client
	model  string
	sleep  func(time.Duration)
}

func NewTranslator(apiKey, model string) *Translator {
	return NewTranslatorWithConfig(openai.DefaultConfig(apiKey), model)
}

func NewTranslatorWithConfig(config openai.ClientConfig, model string) *Translator {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &Translator{
		client: openai.NewClientWithConfig(config),
		model:  model,
		sleep:  time.Sleep,
	}
}

func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if sourceLang == targetLang {
		return text, nil
	}

	req := openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: translationPrompt(sourceLang, targetLang),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		MaxTokens:   500,
		Temperature: 0.3,
	}

	backoff := []time.Duration{500 * time.Millisecond, 2 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		resp, err := t.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("translate %s->%s: empty completion", sourceLang, targetLang)
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if attempt < len(backoff) {
			t.sleep(backoff[attempt])
		}
	}

	return "", fmt.Errorf("translate %s->%s failed after retries: %w", sourceLang, targetLang, lastErr)
}

func translationPrompt(sourceLang, targetLang string) string {
	sourceName := session.LanguageName(sourceLang)
	targetName := session.LanguageName(targetLang)

	return fmt.Sprintf(`You are a professional translator specializing in real-time conversation translation.

Your task is to translate from %s to %s.

Guidelines:
1. Translate the EXACT meaning, preserving tone, formality, and nuance
2. For informal speech, use informal target language; for formal speech, use formal target language
3. Preserve emotional content (excitement, frustration, humor, etc.)
4. Keep cultural context when possible, but adapt idioms for clarity
5. Output ONLY the translation, no explanations or notes
6. For very short utterances (1-2 words), provide natural equivalent
7. If the input is unclear or broken, provide the best possible translation
8. Maintain consistency with conversation context

Output format: Plain text translation only, no markdown or formatting.`, sourceName, targetName)
}
