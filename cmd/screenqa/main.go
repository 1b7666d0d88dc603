package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	sqconfig "github.com/screenqa/screenqa/config"
	"github.com/screenqa/screenqa/internal/connectutil"
	"github.com/screenqa/screenqa/internal/control"
	"github.com/screenqa/screenqa/internal/display"
	"github.com/screenqa/screenqa/internal/pipeline"
	"github.com/screenqa/screenqa/internal/provider"
	"github.com/screenqa/screenqa/internal/recognition"
	"github.com/screenqa/screenqa/pkg/dedup"
	"github.com/screenqa/screenqa/pkg/events"
	"github.com/screenqa/screenqa/pkg/offline"
	"github.com/screenqa/screenqa/pkg/question"
	"github.com/screenqa/screenqa/pkg/ratelimit"

	// Register provider and recognizer backends via init().
	_ "github.com/screenqa/screenqa/internal/provider/hook"
	_ "github.com/screenqa/screenqa/internal/provider/huggingface"
	_ "github.com/screenqa/screenqa/internal/provider/ollama"
	_ "github.com/screenqa/screenqa/internal/provider/openai"
	_ "github.com/screenqa/screenqa/internal/recognition/tesseract"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[sqconfig.AgentConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("screenqa"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	pub := events.NewPublisher(srv.QueueManager(), "screenqa", eventRef)
	journal := events.NewJournal(cfg.EventJournalSize)

	// --- Offline answers ---
	answers := offline.NewLoader(cfg.OfflineAnswersFile)
	if _, err := answers.Load(); err != nil {
		log.Printf("warning: loading offline answers: %v", err)
	}
	if cfg.OfflineWatch && cfg.OfflineAnswersFile != "" {
		go func() {
			if err := answers.WatchAndReload(ctx.Done()); err != nil {
				slog.WarnContext(ctx, "offline answers watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// --- Provider chain ---
	providers, err := provider.FromPriority(cfg.ProviderPriority(), cfg.ProviderSettings())
	if err != nil {
		log.Fatalf("creating providers: %v", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		MinInterval: sqconfig.Millis(cfg.MinCallIntervalMs),
		MaxCalls:    cfg.MaxCallsPerWindow,
		Window:      sqconfig.Millis(cfg.WindowDurationMs),
	})
	chain := provider.NewChain(providers,
		provider.WithLimiter(limiter),
		provider.WithOffline(answers),
		provider.WithTimeout(time.Duration(cfg.ProviderTimeoutSec)*time.Second),
		provider.WithBreaker(provider.BreakerConfig{
			FailureThreshold: cfg.CBFailThreshold,
			ResetTimeout:     time.Duration(cfg.CBResetTimeoutSec) * time.Second,
		}),
		provider.WithPublisher(pub),
	)

	// --- Recognition ---
	recognizer, err := recognition.Registry.Create(cfg.OCRBackend, cfg.RecognizerSettings())
	if err != nil {
		log.Fatalf("creating recognizer: %v", err)
	}

	// --- Display ---
	overlay := display.NewOverlay()
	go func() {
		if err := overlay.ListenAndServe(ctx, cfg.OverlayAddr); err != nil {
			slog.ErrorContext(ctx, "overlay server exited", slog.String("error", err.Error()))
		}
	}()

	// --- Pipeline ---
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
		Sink:        display.Fanout{display.LogSink{}, overlay},
		Publisher:   pub,
		Pool:        pool,
		QuietPeriod: sqconfig.Millis(cfg.DisplayQuietPeriodMs),
	})
	if err != nil {
		log.Fatalf("creating pipeline: %v", err)
	}
	defer p.Close()

	src, err := newSource(&cfg)
	if err != nil {
		log.Fatalf("creating frame source: %v", err)
	}

	// --- Control API ---
	svc := control.NewService(p, limiter, chain, journal, pub)
	handlerOpts := connectutil.DefaultOptions()
	var statusHandler http.Handler = svc.StatusHandler()
	if cfg.ControlAuthEnabled {
		authenticator := srv.SecurityManager().GetAuthenticator(ctx)
		handlerOpts, err = connectutil.AuthenticatedOptions(ctx, authenticator)
		if err != nil {
			log.Fatalf("setting up auth interceptors: %v", err)
		}
		statusHandler = connectutil.AuthenticatedHTTPMiddleware(statusHandler, authenticator)
	}

	mux := http.NewServeMux()
	path, h := control.NewHandler(svc, handlerOpts...)
	mux.Handle(path, h)
	mux.Handle("/api/status", statusHandler)

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".journal", eventURL, journal),
		frame.WithHTTPHandler(connectutil.H2CHandler(mux)),
	)

	go func() {
		if err := p.Run(ctx, src); err != nil {
			slog.ErrorContext(ctx, "pipeline stopped", slog.String("error", err.Error()))
		}
	}()

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
