package display

import (
	"context"
	"log/slog"

	"github.com/screenqa/screenqa/pkg/question"
)

// Sink is the delivery target for answers. Calls are fire-and-forget: a
// sink reports its own failures and never blocks the pipeline for long.
type Sink interface {
	ShowAnswer(ctx context.Context, q question.Question, answer string)
	Clear(ctx context.Context)
}

// LogSink writes answers to the default slog logger.
type LogSink struct{}

func (LogSink) ShowAnswer(ctx context.Context, q question.Question, answer string) {
	slog.InfoContext(ctx, "display: answer",
		slog.String("question", q.Text),
		slog.String("kind", string(q.Kind)),
		slog.String("answer", answer))
}

func (LogSink) Clear(ctx context.Context) {
	slog.DebugContext(ctx, "display: cleared")
}

// Fanout delivers to every sink in order.
type Fanout []Sink

func (f Fanout) ShowAnswer(ctx context.Context, q question.Question, answer string) {
	for _, s := range f {
		s.ShowAnswer(ctx, q, answer)
	}
}

func (f Fanout) Clear(ctx context.Context) {
	for _, s := range f {
		s.Clear(ctx)
	}
}
