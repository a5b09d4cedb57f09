package httpbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TTSClient posts {"text", "language"} and returns the response body as
// the synthesized audio.
type TTSClient struct {
	URL       string
	AuthToken string
	Client    *http.Client
	Attempts  int
}

func NewTTSClient(rawurl, authToken string) *TTSClient {
	return &TTSClient{URL: rawurl, AuthToken: authToken, Client: &http.Client{}, Attempts: 2}
}

func (t *TTSClient) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if t == nil || t.URL == "" {
		return nil, fmt.Errorf("tts client not configured")
	}
	body, _ := json.Marshal(map[string]string{"text": text, "language": language})
	resp, err := postWithRetries(ctx, t.Client, t.URL, "application/json", body, t.AuthToken, t.Attempts)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tts: %w", statusError(resp))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: empty audio response")
	}
	return audio, nil
}
