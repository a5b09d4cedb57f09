package httpbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/live-interpreter/internal/capture"
	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/voice"
)

// STTClient posts utterances as 16 kHz mono WAV to a Whisper-style service
// and reads back {"text": ..., "segments": [{"text": ...}]}.
type STTClient struct {
	URL       string
	AuthToken string
	Client    *http.Client
	Attempts  int
}

func NewSTTClient(rawurl, authToken string) *STTClient {
	return &STTClient{URL: rawurl, AuthToken: authToken, Client: &http.Client{}, Attempts: 2}
}

type sttResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

// Recognize returns one entry per non-empty segment, or the whole text when
// the service does not segment.
func (c *STTClient) Recognize(ctx context.Context, audio []byte, language string) ([]string, error) {
	target := c.URL
	if u, err := url.Parse(c.URL); err == nil {
		q := u.Query()
		if language != "" {
			q.Set("language", voice.BaseLanguage(language))
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	wav := capture.BuildWAV(audio, capture.SampleRate)
	logging.DebugwCtx(ctx, "stt: sending audio", "url", target, "bytes", len(audio))
	resp, err := postWithRetries(ctx, c.Client, target, "audio/wav", wav, c.AuthToken, c.Attempts)
	if err != nil {
		return nil, fmt.Errorf("stt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stt: %w", statusError(resp))
	}

	var out sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("stt: decode response: %w", err)
	}
	var results []string
	for _, s := range out.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			results = append(results, t)
		}
	}
	if len(results) == 0 {
		if t := strings.TrimSpace(out.Text); t != "" {
			results = append(results, t)
		}
	}
	return results, nil
}
