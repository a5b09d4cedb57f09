package voice

import (
	"context"

	"github.com/live-interpreter/internal/transport"
)

// Recognizer turns PCM16 16 kHz mono audio into text. It returns one string
// per recognized result segment, in order.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, language string) ([]string, error)
}

// Translator translates text between base language codes such as "de" and "en".
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

// Synthesizer renders text as compressed audio (MP3) in the given language.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Capabilities bundles the remote clients. One value is built at startup and
// shared by every session; implementations must be safe for concurrent use.
type Capabilities struct {
	Recognizer
	Translator
	Synthesizer
}

// Emitter delivers server events to one client.
type Emitter interface {
	Send(ctx context.Context, m transport.Message) error
}

// Archiver persists submitted utterances and their results. Implementations
// are best-effort; failures are logged and never affect the pipeline.
type Archiver interface {
	SaveUtterance(u Utterance) error
	Annotate(correlationID string, updates map[string]interface{}) error
}
