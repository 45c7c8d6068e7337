// Package ingest terminates the platform webhook: signature validation,
// admission control, a cheap duplicate drop, and enqueueing. The handler
// answers immediately; the reply reaches the customer asynchronously through
// the worker pool and the outbound adapter.
package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/commercemesh/core"
	"github.com/hupe1980/commercemesh/dedup"
	"github.com/hupe1980/commercemesh/logging"
	"github.com/hupe1980/commercemesh/messaging"
	"github.com/hupe1980/commercemesh/queue"
	"github.com/hupe1980/commercemesh/ratelimit"
)

// DefaultRateLimitNotice is sent to a sender whose event was shed.
const DefaultRateLimitNotice = "You're sending messages a little too quickly. Please wait a moment and try again."

// Options configures a Handler.
type Options struct {
	// Topic is the queue topic inbound envelopes are published to.
	Topic string
	// RateLimitNotice overrides DefaultRateLimitNotice.
	RateLimitNotice string
	Logger          logging.Logger
}

// Handler is the HTTP surface of the pipeline ingress.
type Handler struct {
	adapter messaging.Adapter
	limiter *ratelimit.Limiter
	dedup   dedup.Store
	queue   *queue.Queue
	opts    Options
	logger  logging.Logger
}

// NewHandler constructs the ingress handler.
func NewHandler(
	adapter messaging.Adapter,
	limiter *ratelimit.Limiter,
	dedupStore dedup.Store,
	q *queue.Queue,
	optFns ...func(o *Options),
) *Handler {
	opts := Options{
		Topic:           "events",
		RateLimitNotice: DefaultRateLimitNotice,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Handler{
		adapter: adapter,
		limiter: limiter,
		dedup:   dedupStore,
		queue:   q,
		opts:    opts,
		logger:  logging.NonNil(opts.Logger),
	}
}

// Router returns the chi router for the ingress endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", h.handleWebhook)
	r.Get("/healthz", h.handleHealth)

	return r
}

// handleWebhook accepts one inbound chat event. A 200 means accepted for
// processing, not processed; the platform must not retry on it.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.adapter.ValidateInbound(r) {
		h.logger.Warn("ingest.signature_invalid", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg, err := h.adapter.ParseInbound(r)
	if err != nil {
		h.logger.Warn("ingest.parse_failed", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Non-reserving check: the worker owns the authoritative reservation.
	if seen, err := h.dedup.Seen(ctx, msg.PlatformMessageID); err == nil && seen {
		h.logger.Debug("ingest.duplicate_dropped", "message_id", msg.PlatformMessageID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if !h.limiter.Admit(msg.SenderID) {
		h.logger.Info("ingest.rate_limited", "sender_id", msg.SenderID)
		h.notifyRateLimited(msg.SenderID)
		w.WriteHeader(http.StatusOK)
		return
	}

	env := core.QueueEnvelope{
		SenderID:          msg.SenderID,
		PlatformMessageID: msg.PlatformMessageID,
		Text:              msg.Text,
		MediaURL:          msg.MediaURL,
		EnqueuedAt:        time.Now().UTC(),
	}

	if err := h.queue.Publish(ctx, h.opts.Topic, env); err != nil {
		h.logger.Error("ingest.enqueue_failed", "message_id", msg.PlatformMessageID, "error", err)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug("ingest.accepted", "sender_id", msg.SenderID, "message_id", msg.PlatformMessageID)

	w.WriteHeader(http.StatusOK)
}

// notifyRateLimited tells the sender their event was shed. Best effort and
// off the request path.
func (h *Handler) notifyRateLimited(senderID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := h.adapter.SendText(ctx, senderID, h.opts.RateLimitNotice); err != nil {
			h.logger.Warn("ingest.rate_limit_notice_failed", "sender_id", senderID, "error", err)
		}
	}()
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
