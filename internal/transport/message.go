package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server events.
const (
	EventClientReady = "client-ready"
	EventAudio       = "audio"
	EventEndOfSpeech = "end-of-speech"
)

// Server to client events.
const (
	EventServerReady    = "server-ready"
	EventTranscriptPair = "transcript-pair"
	EventAudioContent   = "audioContent"
	EventError          = "error"
)

// ErrInvalidMessage reports a frame that could not be decoded.
var ErrInvalidMessage = errors.New("invalid message")

// Message is one transport event. Only the fields relevant to Event are set.
type Message struct {
	Event          string `json:"event"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	Data           string `json:"data,omitempty"`
	SourceText     string `json:"sourceText,omitempty"`
	TranslatedText string `json:"translatedText,omitempty"`
	Message        string `json:"message,omitempty"`

	// raw holds PCM from a binary websocket frame.
	raw []byte
}

func ServerReady() Message { return Message{Event: EventServerReady} }

func TranscriptPair(sourceText, translatedText string) Message {
	return Message{Event: EventTranscriptPair, SourceText: sourceText, TranslatedText: translatedText}
}

func AudioContent(audio []byte) Message {
	return Message{Event: EventAudioContent, Data: base64.StdEncoding.EncodeToString(audio)}
}

func ErrorEvent(msg string) Message { return Message{Event: EventError, Message: msg} }

func ClientReady(sourceLanguage, targetLanguage string) Message {
	return Message{Event: EventClientReady, SourceLanguage: sourceLanguage, TargetLanguage: targetLanguage}
}

func Audio(pcm []byte) Message {
	return Message{Event: EventAudio, Data: base64.StdEncoding.EncodeToString(pcm)}
}

func EndOfSpeech() Message { return Message{Event: EventEndOfSpeech} }

// BinaryAudio wraps raw PCM received as a binary frame.
func BinaryAudio(pcm []byte) Message { return Message{Event: EventAudio, raw: pcm} }

// MarshalJSON keeps both text fields of a transcript pair on the wire even
// when the translation is empty.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Event == EventTranscriptPair {
		return json.Marshal(struct {
			Event          string `json:"event"`
			SourceText     string `json:"sourceText"`
			TranslatedText string `json:"translatedText"`
		}{m.Event, m.SourceText, m.TranslatedText})
	}
	type plain Message
	return json.Marshal(plain(m))
}

// Decode parses a JSON text frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event", ErrInvalidMessage)
	}
	return m, nil
}

// PCM returns the audio payload of an audio or audioContent event. Audio
// frames must hold whole 16-bit samples.
func (m Message) PCM() ([]byte, error) {
	b := m.raw
	if b == nil {
		decoded, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64 payload: %v", ErrInvalidMessage, err)
		}
		b = decoded
	}
	if m.Event == EventAudio && (len(b) == 0 || len(b)%2 != 0) {
		return nil, fmt.Errorf("%w: audio payload of %d bytes is not PCM16", ErrInvalidMessage, len(b))
	}
	return b, nil
}
