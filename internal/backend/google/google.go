// Package google implements the recognize, translate and synthesize
// capabilities with Google Cloud Speech-to-Text, Translation v3 and
// Text-to-Speech. Credentials come from Application Default Credentials.
package google

import (
	"context"
	"errors"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	translate "cloud.google.com/go/translate/apiv3"
	"cloud.google.com/go/translate/apiv3/translatepb"
	"github.com/googleapis/gax-go/v2"

	"github.com/live-interpreter/internal/capture"
	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/voice"
)

type speechAPI interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

type translateAPI interface {
	TranslateText(ctx context.Context, req *translatepb.TranslateTextRequest, opts ...gax.CallOption) (*translatepb.TranslateTextResponse, error)
}

type ttsAPI interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
}

// Backend holds one long-lived client per service, shared by all sessions.
type Backend struct {
	parent string

	speech    speechAPI
	translate translateAPI
	tts       ttsAPI
	closers   []func() error
}

// New dials the three services for project.
func New(ctx context.Context, project string) (*Backend, error) {
	if project == "" {
		return nil, errors.New("google: project id is required")
	}
	sc, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google: speech client: %w", err)
	}
	tc, err := translate.NewTranslationClient(ctx)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("google: translation client: %w", err)
	}
	ttc, err := texttospeech.NewClient(ctx)
	if err != nil {
		sc.Close()
		tc.Close()
		return nil, fmt.Errorf("google: text-to-speech client: %w", err)
	}
	b := newBackend(project, sc, tc, ttc)
	b.closers = []func() error{sc.Close, tc.Close, ttc.Close}
	logging.Infow("google: clients ready", "project", project)
	return b, nil
}

func newBackend(project string, s speechAPI, t translateAPI, tts ttsAPI) *Backend {
	return &Backend{
		parent:    fmt.Sprintf("projects/%s/locations/global", project),
		speech:    s,
		translate: t,
		tts:       tts,
	}
}

func (b *Backend) Capabilities() voice.Capabilities {
	return voice.Capabilities{Recognizer: b, Translator: b, Synthesizer: b}
}

func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recognize returns the top alternative of every result, untrimmed. Results
// without alternatives are skipped.
func (b *Backend) Recognize(ctx context.Context, audio []byte, language string) ([]string, error) {
	resp, err := b.speech.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: capture.SampleRate,
			LanguageCode:    language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google: recognize: %w", err)
	}
	var out []string
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		out = append(out, alts[0].GetTranscript())
	}
	return out, nil
}

func (b *Backend) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	resp, err := b.translate.TranslateText(ctx, &translatepb.TranslateTextRequest{
		Parent:             b.parent,
		Contents:           []string{text},
		MimeType:           "text/plain",
		SourceLanguageCode: sourceLanguage,
		TargetLanguageCode: targetLanguage,
	})
	if err != nil {
		return "", fmt.Errorf("google: translate: %w", err)
	}
	tr := resp.GetTranslations()
	if len(tr) == 0 {
		return "", nil
	}
	return tr[0].GetTranslatedText(), nil
}

func (b *Backend) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	resp, err := b.tts.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google: synthesize: %w", err)
	}
	return resp.GetAudioContent(), nil
}
