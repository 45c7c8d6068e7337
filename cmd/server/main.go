// Command server runs the conversational commerce service: the webhook
// ingress, the event queue, the worker pool and the tool-use loop against the
// configured reasoning engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	openaisdk "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/commercemesh/commerce"
	"github.com/hupe1980/commercemesh/config"
	"github.com/hupe1980/commercemesh/dedup"
	"github.com/hupe1980/commercemesh/dialog"
	"github.com/hupe1980/commercemesh/flow"
	"github.com/hupe1980/commercemesh/ingest"
	"github.com/hupe1980/commercemesh/logging"
	"github.com/hupe1980/commercemesh/messaging/twilio"
	"github.com/hupe1980/commercemesh/model"
	"github.com/hupe1980/commercemesh/model/anthropic"
	"github.com/hupe1980/commercemesh/model/openai"
	"github.com/hupe1980/commercemesh/payment"
	"github.com/hupe1980/commercemesh/queue"
	"github.com/hupe1980/commercemesh/ratelimit"
	"github.com/hupe1980/commercemesh/store"
	"github.com/hupe1980/commercemesh/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewSlogLogger(parseLevel(cfg.LogLevel), cfg.LogFormat, os.Stdout)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	dedupStore := newDedupStore(cfg, logger)

	dialogs := dialog.NewCachingStore(db, func(o *dialog.Options) {
		o.TTL = cfg.CacheTTL
		o.Logger = logger
	})
	dialogs.Start()
	defer dialogs.Stop()

	adapter, err := twilio.New(func(o *twilio.Options) {
		o.AccountSID = cfg.TwilioAccountSID
		o.AuthToken = cfg.TwilioAuthToken
		o.FromNumber = cfg.TwilioFromNumber
		o.PublicURL = cfg.PublicURL
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	payments := payment.NewHTTPProvider(func(o *payment.HTTPProviderOptions) {
		o.BaseURL = cfg.PaymentBaseURL
		o.APIKey = cfg.PaymentAPIKey
		o.Logger = logger
	})

	facade := commerce.NewFacade(db, db, payments)

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	loop := flow.NewToolLoop(engine, facade.Tools(), func(o *flow.Options) {
		o.MaxRounds = cfg.MaxToolRounds
		o.RoundTimeout = cfg.RoundTimeout
		o.HistoryLimit = cfg.HistoryLimit
		o.Logger = logger
	})

	q := queue.New(func(o *queue.Options) {
		o.Buffer = int64(cfg.QueueBuffer)
		o.Logger = logger
	})
	defer q.Close()

	pool := worker.NewPool(q, dedupStore, dialogs, loop, adapter, db, func(o *worker.Options) {
		o.Workers = cfg.Workers
		o.MaxAttempts = cfg.MaxAttempts
		o.LockTimeout = cfg.LockTimeout
		o.Logger = logger
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	defer pool.Stop()

	limiter := ratelimit.New(func(o *ratelimit.Options) {
		o.SenderPerMinute = cfg.SenderPerMinute
		o.SenderBurst = cfg.SenderBurst
		o.GlobalPerSecond = cfg.GlobalPerSecond
		o.GlobalBurst = cfg.GlobalBurst
	})

	handler := ingest.NewHandler(adapter, limiter, dedupStore, q, func(o *ingest.Options) {
		o.Logger = logger
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "addr", cfg.ListenAddr, "provider", cfg.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// newDedupStore picks Redis when configured, the in-process store otherwise.
func newDedupStore(cfg *config.Config, logger logging.Logger) dedup.Store {
	if cfg.RedisAddr == "" {
		return dedup.NewInMemoryStore(cfg.DedupTTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	logger.Info("dedup.redis_enabled", "addr", cfg.RedisAddr)

	return dedup.NewRedisStore(client, cfg.DedupTTL)
}

func newEngine(cfg *config.Config) (model.Model, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.AnthropicModel)
			o.APIKey = cfg.AnthropicAPIKey
		}), nil
	case "openai":
		client := openaisdk.NewClient(openaioption.WithAPIKey(cfg.OpenAIAPIKey))
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			o.Model = cfg.OpenAIModel
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func parseLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
