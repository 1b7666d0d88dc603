package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/pitabwire/frame/config"

	sqconfig "github.com/screenqa/screenqa/config"
	"github.com/screenqa/screenqa/internal/capture"
	"github.com/screenqa/screenqa/internal/display"
	"github.com/screenqa/screenqa/internal/pipeline"
	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/internal/recognition"
	"github.com/screenqa/screenqa/pkg/dedup"
	"github.com/screenqa/screenqa/pkg/events"
	"github.com/screenqa/screenqa/pkg/offline"
	"github.com/screenqa/screenqa/pkg/question"
	"github.com/screenqa/screenqa/pkg/ratelimit"

	_ "github.com/screenqa/screenqa/internal/provider/hook"
	_ "github.com/screenqa/screenqa/internal/provider/huggingface"
	_ "github.com/screenqa/screenqa/internal/provider/ollama"
	_ "github.com/screenqa/screenqa/internal/provider/openai"
	_ "github.com/screenqa/screenqa/internal/recognition/tesseract"
)

func main() {
	dir := flag.String("dir", "", "directory of screenshots to replay (png, jpeg, webp)")
	interval := flag.Duration("interval", 500*time.Millisecond, "delay between frames")
	quiet := flag.Duration("quiet", 0, "how long each answer stays on screen before new questions are accepted")
	providers := flag.String("providers", "", "comma separated provider priority; empty uses the offline table only")
	answers := flag.String("answers", "", "extra offline answers file or directory")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	))

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Usage: screenqa-replay -dir path/to/screenshots [-providers huggingface,ollama] [-answers answers.yaml]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithOIDC[sqconfig.AgentConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	pub := events.NewPublisher(nil, "screenqa-replay", "")
	if *verbose {
		go func() {
			for env := range pub.Watch(ctx, 0) {
				slog.Debug("event",
					slog.String("type", string(env.Type)),
					slog.String("question_id", env.QuestionID),
					slog.String("data", string(env.Data)))
			}
		}()
	}

	table := offline.NewLoader(*answers)
	if _, err := table.Load(); err != nil {
		log.Fatalf("loading offline answers: %v", err)
	}

	var names []string
	for _, n := range strings.Split(*providers, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	backends, err := provider.FromPriority(names, cfg.ProviderSettings())
	if err != nil {
		log.Fatalf("creating providers: %v", err)
	}
	chain := provider.NewChain(backends,
		provider.WithOffline(table),
		provider.WithPublisher(pub),
		provider.WithTimeout(time.Duration(cfg.ProviderTimeoutSec)*time.Second),
		provider.WithLimiter(ratelimit.New(ratelimit.Config{
			MinInterval: sqconfig.Millis(cfg.MinCallIntervalMs),
			MaxCalls:    cfg.MaxCallsPerWindow,
			Window:      sqconfig.Millis(cfg.WindowDurationMs),
		})),
	)

	recognizer, err := recognition.Registry.Create(cfg.OCRBackend, cfg.RecognizerSettings())
	if err != nil {
		log.Fatalf("creating recognizer: %v", err)
	}

	p, err := pipeline.New(pipeline.Options{
		Recognizer: recognizer,
		Filter: question.NewFilter(
			question.WithMinLength(cfg.MinQuestionLength),
			question.WithMinWordCount(cfg.MinQuestionWordCount),
		),
		Dedup: dedup.New(dedup.Config{
			Cooldown:    sqconfig.Millis(cfg.DedupCooldownMs),
			HistorySize: cfg.DedupHistorySize,
			Similarity:  cfg.DedupSimilarity,
		}),
		Chain:       chain,
		Sink:        display.LogSink{},
		Publisher:   pub,
		QuietPeriod: *quiet,
		OnAnswer: func(res provider.AnswerResult) {
			from := string(res.Source)
			if res.Provider != "" {
				from = res.Provider
			}
			fmt.Printf("Q [%s]: %s\nA (%s, %s): %s\n\n", res.Question.Kind, res.Question.Text, from, res.Latency.Round(time.Millisecond), res.Answer)
		},
	})
	if err != nil {
		log.Fatalf("creating pipeline: %v", err)
	}
	defer p.Close()

	if err := p.Run(ctx, capture.NewDirSource(*dir, *interval, false)); err != nil {
		log.Fatalf("replay: %v", err)
	}

	st := p.Stats()
	slog.Info("replay finished",
		slog.Uint64("frames", st.Frames),
		slog.Uint64("dispatched", st.Dispatched),
		slog.Uint64("suppressed", st.Suppressed),
		slog.Uint64("busy", st.Busy),
		slog.Uint64("rejected", st.Rejected),
		slog.Uint64("recognition_failed", st.RecognitionFailed))
}
