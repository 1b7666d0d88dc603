package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DirSource replays the image files of a directory in name order.
type DirSource struct {
	dir      string
	interval time.Duration
	loop     bool
}

// NewDirSource creates a source over dir emitting one frame per interval.
// With loop set the files are replayed until ctx is cancelled.
func NewDirSource(dir string, interval time.Duration, loop bool) *DirSource {
	return &DirSource{dir: dir, interval: interval, loop: loop}
}

func (s *DirSource) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir %q: %w", s.dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatFromExt(filepath.Ext(e.Name())); ok {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Frames starts the replay.
func (s *DirSource) Frames(ctx context.Context) (<-chan *Frame, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("frame dir %q has no images", s.dir)
	}

	out := make(chan *Frame)
	go func() {
		defer close(out)

		var ticker *time.Ticker
		if s.interval > 0 {
			ticker = time.NewTicker(s.interval)
			defer ticker.Stop()
		}

		var seq uint64
		for {
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					slog.WarnContext(ctx, "capture: skip unreadable frame", slog.String("path", path), slog.String("error", err.Error()))
					continue
				}
				format, _ := FormatFromExt(filepath.Ext(path))
				seq++
				f := &Frame{
					Seq:        seq,
					TraceID:    uuid.New().String(),
					CapturedAt: time.Now(),
					Format:     format,
					Data:       data,
				}

				select {
				case <-ctx.Done():
					return
				case out <- f:
				}

				if ticker != nil {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
					}
				}
			}
			if !s.loop {
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the replay stops with its context.
func (s *DirSource) Close() error { return nil }
