package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/screenqa/screenqa/internal/capture"
	"github.com/screenqa/screenqa/internal/registry"
)

// RecognizedText is the text extracted from one frame. Empty Text means
// the frame carried no readable text.
type RecognizedText struct {
	Text       string
	CapturedAt time.Time
	FrameSeq   uint64
	Confidence float64
}

// Recognizer extracts text from frames. Implementations must not retain
// the frame or its buffer after Recognize returns.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, frame *capture.Frame) (RecognizedText, error)
	Close() error
}

// Error is a recoverable failure to recognize a single frame.
type Error struct {
	Backend  string
	FrameSeq uint64
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recognition %s: frame %d: %v", e.Backend, e.FrameSeq, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsError reports whether err is a recognition Error.
func IsError(err error) bool {
	var re *Error
	return errors.As(err, &re)
}

// Registry holds the available recognizer backends.
var Registry = registry.New[Recognizer]("recognizer")

// Func adapts a function into a Recognizer.
type Func func(ctx context.Context, frame *capture.Frame) (RecognizedText, error)

func (f Func) Name() string { return "func" }

func (f Func) Recognize(ctx context.Context, frame *capture.Frame) (RecognizedText, error) {
	return f(ctx, frame)
}

func (f Func) Close() error { return nil }
