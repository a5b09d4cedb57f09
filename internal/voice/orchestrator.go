package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/metrics"
	"github.com/live-interpreter/internal/transport"
)

// DefaultCallTimeout bounds each remote call.
const DefaultCallTimeout = 30 * time.Second

// Pipeline stages, used for errors, logs and metrics.
const (
	StageRecognize  = "recognize"
	StageTranslate  = "translate"
	StageSynthesize = "synthesize"
)

// State is the orchestrator's position in the utterance pipeline. Any state
// other than StateIdle means an utterance is in flight.
type State int32

const (
	StateIdle State = iota
	StateSubmitting
	StateAwaitingTranslation
	StateAwaitingSynthesis
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingTranslation:
		return "awaiting-translation"
	case StateAwaitingSynthesis:
		return "awaiting-synthesis"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// transitions lists the legal forward moves. Every busy state may also
// return to StateIdle, which is how failures and timeouts unwind.
var transitions = map[State][]State{
	StateIdle:                {StateSubmitting},
	StateSubmitting:          {StateAwaitingTranslation, StateIdle},
	StateAwaitingTranslation: {StateAwaitingSynthesis, StateIdle},
	StateAwaitingSynthesis:   {StateIdle},
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Orchestrator drives one session's utterances through recognize, translate
// and synthesize. At most one utterance is in flight at a time; Submit
// rejects new work until the pipeline returns to StateIdle.
type Orchestrator struct {
	caps        Capabilities
	out         func(ctx context.Context, m transport.Message)
	callTimeout time.Duration
	emitErrors  bool
	archive     Archiver
	metrics     *metrics.Metrics
	base        context.Context
	tracker     *sync.WaitGroup

	mu    sync.Mutex
	state State
	wg    sync.WaitGroup
}

// OrchestratorOptions configures NewOrchestrator. Zero values fall back to
// defaults; Base defaults to context.Background.
type OrchestratorOptions struct {
	CallTimeout time.Duration
	EmitErrors  bool
	Archive     Archiver
	Metrics     *metrics.Metrics
	Base        context.Context
	// Tracker, when set, also counts in-flight utterances so an owner can
	// wait for every orchestrator at once.
	Tracker *sync.WaitGroup
}

// NewOrchestrator returns an idle orchestrator that reports events through
// out. out must tolerate being called after the client went away.
func NewOrchestrator(caps Capabilities, out func(ctx context.Context, m transport.Message), opts OrchestratorOptions) *Orchestrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Base == nil {
		opts.Base = context.Background()
	}
	return &Orchestrator{
		caps:        caps,
		out:         out,
		callTimeout: opts.CallTimeout,
		emitErrors:  opts.EmitErrors,
		archive:     opts.Archive,
		metrics:     opts.Metrics,
		base:        opts.Base,
		tracker:     opts.Tracker,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether an utterance is in flight.
func (o *Orchestrator) Busy() bool { return o.State() != StateIdle }

// Wait blocks until the in-flight utterance, if any, has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) transition(from, to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != from {
		return fmt.Errorf("%w: in %s, not %s", ErrIllegalTransition, o.state, from)
	}
	if !legal(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	o.state = to
	return nil
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()
}

// Submit starts processing u and returns true, or returns false without side
// effects when an utterance is already in flight. It never blocks on remote
// calls.
func (o *Orchestrator) Submit(u Utterance) bool {
	if err := o.transition(StateIdle, StateSubmitting); err != nil {
		return false
	}
	o.wg.Add(1)
	if o.tracker != nil {
		o.tracker.Add(1)
	}
	go func() {
		defer func() {
			if o.tracker != nil {
				o.tracker.Done()
			}
			o.wg.Done()
		}()
		defer o.reset()
		o.run(u)
	}()
	return true
}

func (o *Orchestrator) run(u Utterance) {
	ctx := logging.WithFields(o.base, logging.UtteranceFields(u.CorrelationID, u.Frames, len(u.Audio))...)
	logging.InfowCtx(ctx, "orchestrator: utterance submitted",
		"source_language", u.SourceLanguage, "target_language", u.TargetLanguage)
	o.save(ctx, u)

	var segments []string
	err := o.call(ctx, StageRecognize, func(cctx context.Context) error {
		var err error
		segments, err = o.caps.Recognize(cctx, u.Audio, u.SourceLanguage)
		return err
	})
	if err != nil {
		o.fail(ctx, u, err)
		return
	}
	transcript := strings.Join(segments, "\n")
	o.annotate(ctx, u, map[string]interface{}{"transcript": transcript})
	if strings.TrimSpace(transcript) == "" {
		logging.DebugwCtx(ctx, "orchestrator: no speech recognized")
		return
	}
	logging.InfowCtx(ctx, "orchestrator: transcription", "text", transcript)

	if err := o.transition(StateSubmitting, StateAwaitingTranslation); err != nil {
		logging.ErrorwCtx(ctx, "orchestrator: state machine violated", "err", err)
		return
	}
	var translated string
	err = o.call(ctx, StageTranslate, func(cctx context.Context) error {
		var err error
		translated, err = o.caps.Translate(cctx, transcript, BaseLanguage(u.SourceLanguage), BaseLanguage(u.TargetLanguage))
		return err
	})
	if err != nil {
		o.fail(ctx, u, err)
		return
	}
	logging.InfowCtx(ctx, "orchestrator: translation", "text", translated)
	o.annotate(ctx, u, map[string]interface{}{"translation": translated})
	o.emit(ctx, transport.TranscriptPair(transcript, translated))

	if strings.TrimSpace(translated) == "" {
		return
	}
	if err := o.transition(StateAwaitingTranslation, StateAwaitingSynthesis); err != nil {
		logging.ErrorwCtx(ctx, "orchestrator: state machine violated", "err", err)
		return
	}
	var audio []byte
	err = o.call(ctx, StageSynthesize, func(cctx context.Context) error {
		var err error
		audio, err = o.caps.Synthesize(cctx, translated, u.TargetLanguage)
		return err
	})
	if err != nil {
		o.fail(ctx, u, err)
		return
	}
	o.annotate(ctx, u, map[string]interface{}{"tts_bytes": len(audio)})
	o.emit(ctx, transport.AudioContent(audio))
}

// call runs fn under the per-call timeout. A capability that ignores its
// context is abandoned at the deadline and its late result discarded.
func (o *Orchestrator) call(ctx context.Context, stage string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = cctx.Err()
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	o.metrics.RecordRemoteCall(stage, outcome, time.Since(start).Seconds())
	if err != nil {
		return &RemoteCallError{Stage: stage, Err: err}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, u Utterance, err error) {
	stage := ""
	var rce *RemoteCallError
	if errors.As(err, &rce) {
		stage = rce.Stage
	}
	logging.WarnwCtx(ctx, "orchestrator: utterance failed", "stage", stage, "err", err)
	o.annotate(ctx, u, map[string]interface{}{"error": err.Error(), "failed_stage": stage})
	if o.emitErrors {
		o.emit(ctx, transport.ErrorEvent(stage+" failed"))
	}
}

func (o *Orchestrator) emit(ctx context.Context, m transport.Message) {
	if o.out != nil {
		o.out(ctx, m)
	}
}

func (o *Orchestrator) save(ctx context.Context, u Utterance) {
	if o.archive == nil {
		return
	}
	if err := o.archive.SaveUtterance(u); err != nil {
		logging.WarnwCtx(ctx, "orchestrator: archive save failed", "err", err)
	}
}

func (o *Orchestrator) annotate(ctx context.Context, u Utterance, updates map[string]interface{}) {
	if o.archive == nil {
		return
	}
	if err := o.archive.Annotate(u.CorrelationID, updates); err != nil {
		logging.DebugwCtx(ctx, "orchestrator: archive annotate failed", "err", err)
	}
}

// BaseLanguage strips the region from a language tag: "de-DE" -> "de".
func BaseLanguage(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
