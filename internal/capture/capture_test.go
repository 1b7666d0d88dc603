package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFrameCloseIsIdempotent(t *testing.T) {
	released := 0
	f := &Frame{Seq: 1, Format: FormatPNG, Data: []byte{1, 2, 3}}
	f.OnClose(func() { released++ })

	f.Close()
	f.Close()

	if released != 1 {
		t.Errorf("release ran %d times, want 1", released)
	}
	if !f.Closed() || f.Data != nil {
		t.Error("frame not released")
	}
	if _, err := f.Image(); err != ErrFrameClosed {
		t.Errorf("Image after close: err = %v, want ErrFrameClosed", err)
	}
}

func TestFrameImageRGBA(t *testing.T) {
	data := make([]byte, 2*2*4)
	data[0], data[3] = 255, 255
	f := &Frame{Width: 2, Height: 2, Format: FormatRGBA, Data: data}

	img, err := f.Image()
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	r, _, _, a := img.At(0, 0).RGBA()
	if r>>8 != 255 || a>>8 != 255 {
		t.Errorf("pixel = %d,%d, want opaque red", r>>8, a>>8)
	}

	short := &Frame{Width: 4, Height: 4, Format: FormatRGBA, Data: data}
	if _, err := short.Image(); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestMailboxLatestWins(t *testing.T) {
	m := NewMailbox()
	first := &Frame{Seq: 1, Data: []byte{1}}
	second := &Frame{Seq: 2, Data: []byte{2}}

	m.Put(first)
	m.Put(second)

	if !first.Closed() {
		t.Error("evicted frame was not closed")
	}
	if m.Drops() != 1 {
		t.Errorf("drops = %d, want 1", m.Drops())
	}

	got, ok := m.Take(t.Context())
	if !ok || got.Seq != 2 {
		t.Fatalf("take = %v, want seq 2", got)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, ok := m.Take(ctx); ok {
		t.Error("take on cancelled context returned a frame")
	}
}

func TestLatestForwardsAndCloses(t *testing.T) {
	in := make(chan *Frame)
	out, _ := Latest(t.Context(), in)

	go func() {
		in <- &Frame{Seq: 1, Data: []byte{1}}
		close(in)
	}()

	f, ok := <-out
	if !ok || f.Seq != 1 {
		t.Fatalf("got %v, want seq 1", f)
	}
	select {
	case _, ok := <-out:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("output not closed after input closed")
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"))
	writePNG(t, filepath.Join(dir, "a.png"))
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewDirSource(dir, 0, false)
	frames, err := src.Frames(t.Context())
	if err != nil {
		t.Fatalf("frames: %v", err)
	}

	var got []*Frame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 2 {
		t.Fatalf("frames = %d, want 2", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("seq = %d,%d, want 1,2", got[0].Seq, got[1].Seq)
	}
	if got[0].TraceID == "" || got[0].Format != FormatPNG {
		t.Errorf("frame metadata = %q %q", got[0].TraceID, got[0].Format)
	}
	img, err := got[0].Image()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Errorf("width = %d, want 4", img.Bounds().Dx())
	}
}

func TestDirSourceEmpty(t *testing.T) {
	if _, err := NewDirSource(t.TempDir(), 0, false).Frames(t.Context()); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestDecodeFrame(t *testing.T) {
	for _, name := range []string{"cbor", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			codec, err := CodecByName(name)
			if err != nil {
				t.Fatal(err)
			}
			captured := time.UnixMilli(1_700_000_000_000)
			msg, err := EncodeFrame(codec, &Frame{
				Seq: 7, TraceID: "t-7", CapturedAt: captured,
				Width: 1, Height: 1, Format: FormatRGBA, Data: []byte{0, 0, 0, 255},
			})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			f, err := DecodeFrame(codec, msg)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if f.Seq != 7 || f.TraceID != "t-7" || !f.CapturedAt.Equal(captured) {
				t.Errorf("decoded = seq %d trace %q at %v", f.Seq, f.TraceID, f.CapturedAt)
			}
		})
	}
}

func TestDecodeFrameRejects(t *testing.T) {
	codec, _ := CodecByName("cbor")

	wrongType, _ := codec.Marshal(map[string]any{"type": "status", "data": []byte{1}})
	if _, err := DecodeFrame(codec, wrongType); err == nil {
		t.Error("expected error for non-frame message")
	}

	noDims, _ := codec.Marshal(map[string]any{"type": "frame", "format": "rgba", "data": []byte{1}})
	if _, err := DecodeFrame(codec, noDims); err == nil {
		t.Error("expected error for rgba without dimensions")
	}

	if _, err := DecodeFrame(codec, []byte{0xff, 0x00}); err == nil {
		t.Error("expected error for garbage")
	}

	if _, err := CodecByName("protobuf"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
