package api

import (
	"context"
	"net/http"
	"time"

	"github.com/zlnvch/layerlink/api/rest"
	"github.com/zlnvch/layerlink/api/ws"
	"github.com/zlnvch/layerlink/cache"
	"github.com/zlnvch/layerlink/metrics"
	"github.com/zlnvch/layerlink/presence"
	"github.com/zlnvch/layerlink/relay"
	"github.com/zlnvch/layerlink/service"
	"github.com/zlnvch/layerlink/store"
	"github.com/zlnvch/layerlink/worker"
)

type Options struct {
	// Cache may be nil for a single instance.
	Cache                 cache.LayerlinkCache
	Metrics               *metrics.Metrics
	IdentitySecret        []byte
	CommentFlushInterval  time.Duration
	MaxMembersPerDocument int
}

type LayerlinkAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	metrics     *metrics.Metrics
	shutdownCtx context.Context
	batcher     *worker.CommentBatcher
	Service     *service.Service
}

func NewLayerlinkAPI(layerlinkStore store.LayerlinkStore, opts Options, shutdownCtx context.Context) *LayerlinkAPI {
	hubOpts := []relay.Option{relay.WithMetrics(opts.Metrics)}
	if opts.Cache != nil {
		hubOpts = append(hubOpts, relay.WithCache(opts.Cache))
	}
	hub := relay.NewHub(shutdownCtx, hubOpts...)
	registry := presence.NewRegistry(nil, opts.MaxMembersPerDocument)

	commentBatcher := worker.NewCommentBatcher(layerlinkStore, opts.CommentFlushInterval, opts.Metrics)
	go commentBatcher.Run(shutdownCtx)

	svc := service.NewService(
		layerlinkStore,
		opts.Cache,
		registry,
		hub,
		commentBatcher,
		opts.IdentitySecret,
	)

	return &LayerlinkAPI{
		restHandler: rest.NewHandler(svc),
		wsHandler:   ws.NewHandler(svc, opts.Metrics),
		metrics:     opts.Metrics,
		shutdownCtx: shutdownCtx,
		batcher:     commentBatcher,
		Service:     svc,
	}
}

func (layerlinkAPI *LayerlinkAPI) RegisterRoutes(mux *http.ServeMux, allowedOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /documents/{documentId}/users", layerlinkAPI.restHandler.HandleDocumentUsers)
	mux.HandleFunc("GET /documents/{documentId}/comments", layerlinkAPI.restHandler.HandleDocumentComments)

	if layerlinkAPI.metrics != nil {
		mux.Handle("GET /metrics", layerlinkAPI.metrics.Handler())
	}

	wsUpgrader := layerlinkAPI.wsHandler.NewWsUpgrader(allowedOrigin)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		layerlinkAPI.wsHandler.ServeWS(wsUpgrader, w, r, layerlinkAPI.shutdownCtx)
	})
}

// Done is closed once pending comment writes have been flushed after
// shutdown.
func (layerlinkAPI *LayerlinkAPI) Done() <-chan struct{} {
	return layerlinkAPI.batcher.Done()
}
