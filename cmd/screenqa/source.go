package main

import (
	"errors"
	"fmt"

	sqconfig "github.com/screenqa/screenqa/config"
	"github.com/screenqa/screenqa/internal/capture"
	"github.com/screenqa/screenqa/internal/capture/gstsource"
	"github.com/screenqa/screenqa/internal/capture/zmqsource"
)

// newSource builds the frame source selected by FRAME_SOURCE.
func newSource(cfg *sqconfig.AgentConfig) (capture.Source, error) {
	switch cfg.FrameSource {
	case "zmq":
		codec, err := capture.CodecByName(cfg.ZMQCodec)
		if err != nil {
			return nil, err
		}
		return zmqsource.New(cfg.ZMQEndpoint, codec), nil
	case "gst":
		if cfg.GstURI == "" {
			return nil, errors.New("GST_URI is required for the gst frame source")
		}
		return gstsource.New(gstsource.Config{
			URI:    cfg.GstURI,
			Width:  cfg.GstWidth,
			Height: cfg.GstHeight,
			FPS:    cfg.GstFPS,
		}), nil
	case "dir":
		return capture.NewDirSource(cfg.FrameDir, sqconfig.Millis(cfg.FrameIntervalMs), true), nil
	default:
		return nil, fmt.Errorf("unknown frame source %q (want zmq, gst or dir)", cfg.FrameSource)
	}
}
