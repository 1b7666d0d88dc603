package capture

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// wireFrame is the message a capture device pushes over the socket.
type wireFrame struct {
	Type         string `cbor:"type"           msgpack:"type"`
	Seq          uint64 `cbor:"seq"            msgpack:"seq"`
	TraceID      string `cbor:"trace_id"       msgpack:"trace_id"`
	CapturedAtMs int64  `cbor:"captured_at_ms" msgpack:"captured_at_ms"`
	Width        int    `cbor:"width"          msgpack:"width"`
	Height       int    `cbor:"height"         msgpack:"height"`
	Format       string `cbor:"format"         msgpack:"format"`
	Data         []byte `cbor:"data"           msgpack:"data"`
}

const wireTypeFrame = "frame"

// Codec decodes frame messages.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type cborCodec struct{}

func (cborCodec) Name() string                       { return "cbor" }
func (cborCodec) Marshal(v any) ([]byte, error)      { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// CodecByName returns the codec for "cbor" (default) or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "cbor":
		return cborCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unknown frame codec %q", name)
}

// EncodeFrame serializes f for transport.
func EncodeFrame(c Codec, f *Frame) ([]byte, error) {
	return c.Marshal(wireFrame{
		Type:         wireTypeFrame,
		Seq:          f.Seq,
		TraceID:      f.TraceID,
		CapturedAtMs: f.CapturedAt.UnixMilli(),
		Width:        f.Width,
		Height:       f.Height,
		Format:       string(f.Format),
		Data:         f.Data,
	})
}

// DecodeFrame parses a transport message into a Frame.
func DecodeFrame(c Codec, msg []byte) (*Frame, error) {
	var w wireFrame
	if err := c.Unmarshal(msg, &w); err != nil {
		return nil, fmt.Errorf("%s decode: %w", c.Name(), err)
	}
	if w.Type != wireTypeFrame {
		return nil, fmt.Errorf("unexpected message type %q", w.Type)
	}
	if len(w.Data) == 0 {
		return nil, fmt.Errorf("frame %d has no data", w.Seq)
	}

	format := Format(w.Format)
	switch format {
	case FormatPNG, FormatJPEG, FormatWebP:
	case FormatRGBA:
		if w.Width <= 0 || w.Height <= 0 {
			return nil, fmt.Errorf("frame %d: rgba without dimensions", w.Seq)
		}
	default:
		return nil, fmt.Errorf("frame %d: unsupported format %q", w.Seq, w.Format)
	}

	captured := time.Now()
	if w.CapturedAtMs > 0 {
		captured = time.UnixMilli(w.CapturedAtMs)
	}
	return &Frame{
		Seq:        w.Seq,
		TraceID:    w.TraceID,
		CapturedAt: captured,
		Width:      w.Width,
		Height:     w.Height,
		Format:     format,
		Data:       w.Data,
	}, nil
}
