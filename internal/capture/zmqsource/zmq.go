package zmqsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/screenqa/screenqa/internal/capture"
)

// recvTimeout bounds each receive so cancellation is noticed promptly.
const recvTimeout = 250 * time.Millisecond

// Source pulls encoded frames from a ZeroMQ PUSH peer, typically a
// phone or desktop agent forwarding screenshots.
type Source struct {
	endpoint string
	codec    capture.Codec

	socket   *zmq4.Socket
	rejected atomic.Uint64
}

// New creates a source connecting to endpoint.
func New(endpoint string, codec capture.Codec) *Source {
	return &Source{endpoint: endpoint, codec: codec}
}

// Frames connects the PULL socket and starts receiving.
func (s *Source) Frames(ctx context.Context) (<-chan *capture.Frame, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("zmq set receive timeout: %w", err)
	}
	if err := socket.Connect(s.endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("zmq connect %q: %w", s.endpoint, err)
	}
	s.socket = socket

	slog.InfoContext(ctx, "capture: zmq source connected",
		slog.String("endpoint", s.endpoint), slog.String("codec", s.codec.Name()))

	out := make(chan *capture.Frame, 1)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				slog.WarnContext(ctx, "capture: zmq receive failed", slog.String("error", err.Error()))
				continue
			}

			frame, err := capture.DecodeFrame(s.codec, msg)
			if err != nil {
				if n := s.rejected.Add(1); n == 1 || n%100 == 0 {
					slog.WarnContext(ctx, "capture: zmq message rejected",
						slog.String("error", err.Error()), slog.Uint64("rejected", n))
				}
				continue
			}

			select {
			case <-ctx.Done():
				frame.Close()
				return
			case out <- frame:
			}
		}
	}()
	return out, nil
}

// Rejected returns the number of undecodable messages.
func (s *Source) Rejected() uint64 { return s.rejected.Load() }

// Close is a no-op; the socket closes with the Frames context.
func (s *Source) Close() error { return nil }
