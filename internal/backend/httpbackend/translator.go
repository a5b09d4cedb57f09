package httpbackend

import (
	"context"
	"fmt"
	"strings"

	"github.com/live-interpreter/llm"
)

// Translator asks a chat model for a literal translation.
type Translator struct {
	LLM *llm.Client
}

func NewTranslator(c *llm.Client) *Translator { return &Translator{LLM: c} }

const translatePrompt = "You are a professional interpreter. Translate the user's text from %s to %s. " +
	"Reply with the translation only, without quotes or commentary. Keep line breaks."

func (t *Translator) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	resp, err := t.LLM.CreateChatCompletion(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: fmt.Sprintf(translatePrompt, sourceLanguage, targetLanguage)},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
