package gstsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/screenqa/screenqa/internal/capture"
)

// Config describes a camera or stream capture.
type Config struct {
	// URI is any uridecodebin location: rtsp://, file://, v4l2://.
	URI    string
	Width  int
	Height int
	FPS    int
}

// Source decodes a video stream with GStreamer and delivers RGBA
// frames from an appsink. Frames are dropped at the sink when the
// consumer lags.
type Source struct {
	cfg Config

	pipeline *gst.Pipeline
	seq      atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a GStreamer source.
func New(cfg Config) *Source {
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 1
	}
	return &Source{cfg: cfg}
}

func (s *Source) launchLine() string {
	return fmt.Sprintf(
		"uridecodebin uri=%s ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink max-buffers=1 drop=true sync=false",
		s.cfg.URI, s.cfg.Width, s.cfg.Height, s.cfg.FPS)
}

// Frames builds and starts the pipeline.
func (s *Source) Frames(ctx context.Context) (<-chan *capture.Frame, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(s.launchLine())
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	out := make(chan *capture.Frame, 1)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onSample(sink, out)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	s.pipeline = pipeline

	go func() {
		defer close(out)
		defer pipeline.SetState(gst.StateNull)
		s.watchBus(ctx, pipeline)
	}()

	return out, nil
}

func (s *Source) onSample(sink *app.Sink, out chan<- *capture.Frame) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// GStreamer reuses the buffer after Unmap.
	pix := make([]byte, len(data))
	copy(pix, data)
	buffer.Unmap()

	frame := &capture.Frame{
		Seq:        s.seq.Add(1),
		TraceID:    uuid.New().String(),
		CapturedAt: time.Now(),
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Format:     capture.FormatRGBA,
		Data:       pix,
	}

	select {
	case out <- frame:
	default:
		s.dropped.Add(1)
		frame.Close()
	}
	return gst.FlowOK
}

func (s *Source) watchBus(ctx context.Context, pipeline *gst.Pipeline) {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			slog.InfoContext(ctx, "capture: end of stream", slog.String("uri", s.cfg.URI))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.ErrorContext(ctx, "capture: pipeline error",
				slog.String("uri", s.cfg.URI),
				slog.String("error", gerr.Error()),
				slog.String("debug", gerr.DebugString()))
			return
		}
	}
}

// Dropped returns the number of frames discarded at the sink callback.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Close stops the pipeline if it is running.
func (s *Source) Close() error {
	if s.pipeline == nil {
		return nil
	}
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("stop pipeline: %w", err)
	}
	return nil
}
