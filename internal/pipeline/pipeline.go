package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/screenqa/screenqa/internal/capture"
	"github.com/screenqa/screenqa/internal/display"
	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/internal/recognition"
	"github.com/screenqa/screenqa/pkg/dedup"
	"github.com/screenqa/screenqa/pkg/events"
	"github.com/screenqa/screenqa/pkg/question"
)

// DefaultQuietPeriod is how long an answer stays on screen.
const DefaultQuietPeriod = 15 * time.Second

// Outcome is the result of one pipeline tick.
type Outcome string

const (
	OutcomeNoText            Outcome = "no_text"
	OutcomeRecognitionFailed Outcome = "recognition_failed"
	OutcomeRejected          Outcome = "rejected"
	OutcomeBusy              Outcome = "busy"
	OutcomeSuppressed        Outcome = "suppressed"
	OutcomeDispatched        Outcome = "dispatched"
)

// Answerer produces an answer for every accepted question.
type Answerer interface {
	Answer(ctx context.Context, q question.Question) provider.AnswerResult
}

// Options wires the pipeline stages. Recognizer, Chain and Sink are
// required.
type Options struct {
	Recognizer recognition.Recognizer
	Filter     *question.Filter
	Dedup      *dedup.Deduplicator
	Chain      Answerer
	Sink       display.Sink
	Publisher  *events.Publisher
	Pool       workerpool.WorkerPool
	// QuietPeriod is how long a delivered answer is shown before the
	// display is cleared and new questions are accepted.
	QuietPeriod time.Duration
	// OnAnswer, when set, observes every delivered result.
	OnAnswer func(provider.AnswerResult)
}

// Stats counts tick outcomes.
type Stats struct {
	Frames            uint64 `json:"frames"`
	NoText            uint64 `json:"no_text"`
	RecognitionFailed uint64 `json:"recognition_failed"`
	Rejected          uint64 `json:"rejected"`
	Busy              uint64 `json:"busy"`
	Suppressed        uint64 `json:"suppressed"`
	Dispatched        uint64 `json:"dispatched"`
	Delivered         uint64 `json:"delivered"`
	InFlight          bool   `json:"in_flight"`
}

type counters struct {
	frames, noText, recognitionFailed, rejected atomic.Uint64
	busy, suppressed, dispatched, delivered     atomic.Uint64
}

// Pipeline turns frames into answers. At most one question is dispatched
// or on screen at a time; recognition keeps running meanwhile.
type Pipeline struct {
	opts Options

	life context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// gate keeps the dedup check and busy claim atomic across producers.
	gate      sync.Mutex
	busy      atomic.Bool
	stats     counters
	closeOnce sync.Once
}

// New creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Recognizer == nil {
		return nil, errors.New("pipeline: recognizer is required")
	}
	if opts.Chain == nil {
		return nil, errors.New("pipeline: answer chain is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("pipeline: display sink is required")
	}
	if opts.Filter == nil {
		opts.Filter = question.NewFilter()
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.New(dedup.Config{})
	}
	if opts.QuietPeriod < 0 {
		opts.QuietPeriod = 0
	}

	life, stop := context.WithCancel(context.Background())
	return &Pipeline{opts: opts, life: life, stop: stop}, nil
}

// Run processes frames from src until it is exhausted or ctx is
// cancelled. Frames arriving while a tick is running are coalesced so
// only the newest one is recognized. On source exhaustion Run waits for
// the in-flight answer to finish; on cancellation it aborts it.
func (p *Pipeline) Run(ctx context.Context, src capture.Source) error {
	defer func() {
		if err := src.Close(); err != nil {
			slog.WarnContext(ctx, "pipeline: close source", slog.String("error", err.Error()))
		}
	}()

	frames, err := src.Frames(ctx)
	if err != nil {
		return err
	}

	latest, box := capture.Latest(ctx, frames)
	for f := range latest {
		p.Process(ctx, f)
	}

	if ctx.Err() != nil {
		p.stop()
	}
	p.Wait()

	slog.InfoContext(ctx, "pipeline: source finished",
		slog.Uint64("frames", p.stats.frames.Load()),
		slog.Uint64("coalesced", box.Drops()),
		slog.Uint64("delivered", p.stats.delivered.Load()))
	return nil
}

// Process runs one tick for f. The frame is closed as soon as
// recognition returns.
func (p *Pipeline) Process(ctx context.Context, f *capture.Frame) Outcome {
	p.stats.frames.Add(1)

	rt, err := p.opts.Recognizer.Recognize(ctx, f)
	seq, trace := f.Seq, f.TraceID
	f.Close()

	if err != nil {
		p.stats.recognitionFailed.Add(1)
		slog.WarnContext(ctx, "pipeline: recognition failed",
			slog.Uint64("frame_seq", seq), slog.String("error", err.Error()))
		p.emit(ctx, events.RecognitionFailed, &events.RecognitionFailedData{
			FrameSeq: seq,
			TraceID:  trace,
			Error:    err.Error(),
		})
		return OutcomeRecognitionFailed
	}
	return p.handle(ctx, rt.Text)
}

// Submit runs a tick for text that did not come from a frame.
func (p *Pipeline) Submit(ctx context.Context, text string) Outcome {
	return p.handle(ctx, text)
}

func (p *Pipeline) handle(ctx context.Context, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		p.stats.noText.Add(1)
		return OutcomeNoText
	}

	q, verdict := p.opts.Filter.Classify(text)
	if verdict.Rejected() {
		p.stats.rejected.Add(1)
		slog.DebugContext(ctx, "pipeline: text rejected", slog.String("verdict", string(verdict)))
		return OutcomeRejected
	}

	switch p.admit(q.Text) {
	case OutcomeSuppressed:
		p.stats.suppressed.Add(1)
		p.emit(ctx, events.QuestionSuppressed, &events.QuestionData{Text: q.Text, Kind: string(q.Kind), Reason: "duplicate"})
		return OutcomeSuppressed
	case OutcomeBusy:
		p.stats.busy.Add(1)
		p.emit(ctx, events.QuestionDropped, &events.QuestionData{Text: q.Text, Kind: string(q.Kind), Reason: "busy"})
		return OutcomeBusy
	}

	p.stats.dispatched.Add(1)
	qid := events.NewQuestionID()
	p.emit(events.WithQuestionID(ctx, qid), events.QuestionAccepted, &events.QuestionData{Text: q.Text, Kind: string(q.Kind)})
	slog.InfoContext(ctx, "pipeline: question accepted",
		slog.String("question_id", qid), slog.String("kind", string(q.Kind)), slog.String("text", q.Text))

	p.wg.Add(1)
	job := func() {
		defer p.wg.Done()
		p.dispatch(events.WithQuestionID(p.life, qid), q)
	}
	if p.opts.Pool != nil {
		if err := p.opts.Pool.Submit(p.life, job); err != nil {
			slog.WarnContext(ctx, "pipeline: submit to worker pool failed, running inline goroutine",
				slog.String("error", err.Error()))
			go job()
		}
	} else {
		go job()
	}
	return OutcomeDispatched
}

// admit runs the dedup check and then claims the busy flag. A question
// that loses the claim is released from dedup since it was never answered.
func (p *Pipeline) admit(text string) Outcome {
	p.gate.Lock()
	defer p.gate.Unlock()
	if p.opts.Dedup.Check(text) == dedup.Suppressed {
		return OutcomeSuppressed
	}
	if p.life.Err() != nil || !p.busy.CompareAndSwap(false, true) {
		p.opts.Dedup.Release(text)
		return OutcomeBusy
	}
	return OutcomeDispatched
}

// dispatch answers q, shows the answer for the quiet period and then
// clears the display. The busy flag is held throughout.
func (p *Pipeline) dispatch(ctx context.Context, q question.Question) {
	defer p.busy.Store(false)

	res := p.opts.Chain.Answer(ctx, q)
	if ctx.Err() != nil {
		slog.InfoContext(ctx, "pipeline: dispatch cancelled", slog.String("text", q.Text))
		return
	}

	p.opts.Sink.ShowAnswer(ctx, q, res.Answer)
	p.stats.delivered.Add(1)
	p.emit(ctx, events.AnswerDelivered, &events.AnswerDeliveredData{
		Question:  q.Text,
		Kind:      string(q.Kind),
		Answer:    res.Answer,
		Provider:  res.Provider,
		Source:    string(res.Source),
		Degraded:  string(res.Degraded),
		LatencyMs: res.Latency.Milliseconds(),
	})
	slog.InfoContext(ctx, "pipeline: answer delivered",
		slog.String("source", string(res.Source)),
		slog.String("provider", res.Provider),
		slog.String("degraded", string(res.Degraded)),
		slog.Duration("latency", res.Latency))
	if p.opts.OnAnswer != nil {
		p.opts.OnAnswer(res)
	}

	if p.opts.QuietPeriod > 0 {
		timer := time.NewTimer(p.opts.QuietPeriod)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}

	p.opts.Sink.Clear(ctx)
	p.opts.Dedup.Hold(q.Text)
	p.emit(ctx, events.DisplayCleared, &events.DisplayClearedData{Question: q.Text})
}

func (p *Pipeline) emit(ctx context.Context, eventType events.EventType, data any) {
	if err := p.opts.Publisher.Emit(ctx, eventType, data); err != nil {
		slog.DebugContext(ctx, "pipeline: emit event", slog.String("type", string(eventType)), slog.String("error", err.Error()))
	}
}

// Busy reports whether a question is being answered or shown.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// Stats returns a snapshot of the tick counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:            p.stats.frames.Load(),
		NoText:            p.stats.noText.Load(),
		RecognitionFailed: p.stats.recognitionFailed.Load(),
		Rejected:          p.stats.rejected.Load(),
		Busy:              p.stats.busy.Load(),
		Suppressed:        p.stats.suppressed.Load(),
		Dispatched:        p.stats.dispatched.Load(),
		Delivered:         p.stats.delivered.Load(),
		InFlight:          p.busy.Load(),
	}
}

// Wait blocks until the in-flight dispatch, if any, has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels any in-flight dispatch, waits for it and releases the
// recognizer.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.stop()
		p.wg.Wait()
		err = p.opts.Recognizer.Close()
	})
	return err
}
