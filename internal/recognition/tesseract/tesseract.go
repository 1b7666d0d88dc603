package tesseract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/screenqa/screenqa/internal/capture"
	"github.com/screenqa/screenqa/internal/recognition"
)

const backendName = "tesseract"

func init() {
	recognition.Registry.Register(backendName, func(config map[string]string) (recognition.Recognizer, error) {
		var langs []string
		for _, l := range strings.Split(config["languages"], ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		if len(langs) == 0 {
			langs = []string{"eng"}
		}
		maxWidth := 1280
		if v := config["max_width"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("tesseract: invalid max_width %q: %w", v, err)
			}
			maxWidth = n
		}
		return New(langs, maxWidth), nil
	})
}

// Engine recognizes text with the Tesseract library. One client is reused
// across frames; calls are serialized because the client is not safe for
// concurrent use.
type Engine struct {
	languages []string
	maxWidth  int

	mu     sync.Mutex
	client *gosseract.Client
}

// New creates a Tesseract engine.
func New(languages []string, maxWidth int) *Engine {
	return &Engine{languages: languages, maxWidth: maxWidth}
}

func (e *Engine) Name() string { return backendName }

func (e *Engine) clientLocked() (*gosseract.Client, error) {
	if e.client != nil {
		return e.client, nil
	}
	c := gosseract.NewClient()
	if err := c.SetLanguage(e.languages...); err != nil {
		c.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		c.Close()
		return nil, fmt.Errorf("set page segmentation: %w", err)
	}
	e.client = c
	return c, nil
}

// Recognize runs OCR on the frame. The frame stays owned by the caller.
func (e *Engine) Recognize(ctx context.Context, frame *capture.Frame) (recognition.RecognizedText, error) {
	out := recognition.RecognizedText{CapturedAt: frame.CapturedAt, FrameSeq: frame.Seq}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	img, err := recognition.Prepare(frame, e.maxWidth)
	if err != nil {
		return out, &recognition.Error{Backend: backendName, FrameSeq: frame.Seq, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.clientLocked()
	if err != nil {
		return out, &recognition.Error{Backend: backendName, FrameSeq: frame.Seq, Err: err}
	}
	if err := c.SetImageFromBytes(img); err != nil {
		return out, &recognition.Error{Backend: backendName, FrameSeq: frame.Seq, Err: fmt.Errorf("set image: %w", err)}
	}
	text, err := c.Text()
	if err != nil {
		return out, &recognition.Error{Backend: backendName, FrameSeq: frame.Seq, Err: fmt.Errorf("recognize text: %w", err)}
	}

	out.Text = strings.TrimSpace(text)
	if out.Text != "" {
		out.Confidence = meanConfidence(c)
	}
	return out, nil
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}

// Close releases the Tesseract client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
