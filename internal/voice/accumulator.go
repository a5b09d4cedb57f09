package voice

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMinFrames is the frame count below which an end-of-speech drain is
// treated as noise.
const DefaultMinFrames = 20

// Trigger identifies why an accumulator is being drained.
type Trigger int

const (
	TriggerEndOfSpeech Trigger = iota
	TriggerDisconnect
	TriggerShutdown
)

// Forced triggers bypass the minimum frame threshold.
func (t Trigger) Forced() bool { return t == TriggerDisconnect || t == TriggerShutdown }

func (t Trigger) String() string {
	switch t {
	case TriggerEndOfSpeech:
		return "end-of-speech"
	case TriggerDisconnect:
		return "disconnect"
	case TriggerShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Accumulator buffers the frames of one speaker turn in arrival order.
type Accumulator struct {
	mu        sync.Mutex
	frames    [][]byte
	minFrames int
}

func NewAccumulator(minFrames int) *Accumulator {
	if minFrames < 0 {
		minFrames = 0
	}
	return &Accumulator{minFrames: minFrames}
}

// Append takes ownership of frame.
func (a *Accumulator) Append(frame []byte) {
	a.mu.Lock()
	a.frames = append(a.frames, frame)
	a.mu.Unlock()
}

func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frames)
}

// Drain empties the buffer and returns what it held. ok is false when the
// drain is not honored: fewer than minFrames frames on a non-forced trigger.
// Rejected frames are discarded, not kept for the next turn.
func (a *Accumulator) Drain(t Trigger) (frames [][]byte, ok bool) {
	a.mu.Lock()
	frames = a.frames
	a.frames = nil
	a.mu.Unlock()
	if len(frames) == 0 {
		return nil, false
	}
	return frames, t.Forced() || len(frames) >= a.minFrames
}

// Utterance is the concatenated audio of one drain plus the language
// configuration captured at drain time.
type Utterance struct {
	CorrelationID  string
	Audio          []byte
	Frames         int
	SourceLanguage string
	TargetLanguage string
	CreatedAt      time.Time
}

// NewUtterance concatenates frames in order.
func NewUtterance(frames [][]byte, sourceLanguage, targetLanguage string) Utterance {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	audio := make([]byte, 0, n)
	for _, f := range frames {
		audio = append(audio, f...)
	}
	return Utterance{
		CorrelationID:  uuid.NewString(),
		Audio:          audio,
		Frames:         len(frames),
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		CreatedAt:      time.Now(),
	}
}
