package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/screenqa/screenqa/internal/capture"
)

// Prepare decodes a frame, converts it to grayscale, downscales it so its
// width is at most maxWidth, and returns PNG bytes ready for OCR. A
// maxWidth of zero keeps the original size.
func Prepare(frame *capture.Frame, maxWidth int) ([]byte, error) {
	img, err := frame.Image()
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	if w == bounds.Dx() {
		draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(gray, gray.Bounds(), img, bounds, draw.Src, nil)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
