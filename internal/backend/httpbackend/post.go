// Package httpbackend implements the recognize, translate and synthesize
// capabilities against self-hosted HTTP services: a Whisper-style STT
// endpoint, an OpenAI-compatible chat endpoint and a JSON-in/audio-out TTS
// endpoint.
package httpbackend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/live-interpreter/internal/logging"
)

// maxErrorBody caps how much of a failed response body ends up in an error.
const maxErrorBody = 512

// postWithRetries POSTs body and returns the response of the first attempt
// that reaches the server with a status below 500. Caller must close
// resp.Body. The overall deadline comes from ctx.
func postWithRetries(ctx context.Context, client *http.Client, url, contentType string, body []byte, authToken string, attempts int) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%v (last error: %w)", ctx.Err(), lastErr)
			case <-time.After(time.Duration(200*(1<<(i-1))) * time.Millisecond):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		resp, err := client.Do(req)
		if err != nil {
			logging.DebugwCtx(ctx, "httpbackend: POST attempt failed", "url", url, "attempt", i+1, "err", err)
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = statusError(resp)
			resp.Body.Close()
			logging.DebugwCtx(ctx, "httpbackend: server error", "url", url, "attempt", i+1, "err", lastErr)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
}
