package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/webp"
)

// ErrFrameClosed is returned when a released frame is used.
var ErrFrameClosed = errors.New("capture: frame closed")

// Format describes how Frame.Data is laid out.
type Format string

const (
	// FormatRGBA is tightly packed 8-bit RGBA pixels, Width*4 bytes per row.
	FormatRGBA Format = "rgba"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Frame is one captured image. It is owned by the pipeline tick that
// receives it and must be closed once recognition is done.
type Frame struct {
	Seq        uint64
	TraceID    string
	CapturedAt time.Time
	Width      int
	Height     int
	Format     Format
	Data       []byte

	release   func()
	closeOnce sync.Once
	closed    atomic.Bool
}

// OnClose registers fn to run when the frame is closed.
func (f *Frame) OnClose(fn func()) {
	f.release = fn
}

// Close releases the frame buffer. It is safe to call more than once.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		if f.release != nil {
			f.release()
		}
		f.Data = nil
	})
}

// Closed reports whether Close has been called.
func (f *Frame) Closed() bool {
	return f.closed.Load()
}

// Image decodes the frame into an image.Image.
func (f *Frame) Image() (image.Image, error) {
	if f.Closed() {
		return nil, ErrFrameClosed
	}
	if len(f.Data) == 0 {
		return nil, fmt.Errorf("capture: frame %d has no data", f.Seq)
	}

	if f.Format == FormatRGBA {
		stride := f.Width * 4
		if f.Width <= 0 || f.Height <= 0 || len(f.Data) < stride*f.Height {
			return nil, fmt.Errorf("capture: frame %d: %d bytes do not fit %dx%d RGBA", f.Seq, len(f.Data), f.Width, f.Height)
		}
		return &image.RGBA{
			Pix:    f.Data,
			Stride: stride,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode frame %d (%s): %w", f.Seq, f.Format, err)
	}
	return img, nil
}

// FormatFromExt maps a file extension to a Format.
func FormatFromExt(ext string) (Format, bool) {
	switch ext {
	case ".png", ".PNG":
		return FormatPNG, true
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		return FormatJPEG, true
	case ".webp", ".WEBP":
		return FormatWebP, true
	}
	return "", false
}

// Source produces frames. The returned channel is closed when the source
// is exhausted or ctx is cancelled. A Source is not restartable.
type Source interface {
	Frames(ctx context.Context) (<-chan *Frame, error)
	Close() error
}
