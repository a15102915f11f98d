package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options tune the transport adapters owned by the server.
type Options struct {
	// HeartbeatInterval is the cadence of server-initiated heartbeats on
	// streaming connections. Defaults to 30s.
	HeartbeatInterval time.Duration

	// Clock drives heartbeats and polling activity timestamps. Defaults to
	// the wall clock.
	Clock clock.Clock
}

// NewServer assembles the relay's full HTTP surface: the websocket streaming
// endpoint, the raw poll/push fallback endpoints, and the typed collaborator
// API. ctx bounds the lifetime of connection-scoped goroutines; cancel it on
// shutdown.
//
// The websocket and poll/push routes bypass huma because their wire format
// is fixed by the relay protocol (raw event JSON, a literal null for an
// empty poll); everything else goes through typed huma operations.
func NewServer(ctx context.Context, reg *relay.Registry, engine *relay.Engine, opts Options) http.Handler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("TV Relay API", "1.0.0")
	cfg.DocsPath = ""
	humaAPI := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	stream := &streamServer{
		ctx:       ctx,
		reg:       reg,
		engine:    engine,
		clk:       opts.Clock,
		heartbeat: opts.HeartbeatInterval,
	}
	poll := &pollServer{reg: reg, engine: engine, clk: opts.Clock}

	router.Get("/ws", stream.handleWS)
	router.Get("/poll", poll.handlePoll)
	router.Post("/push", poll.handlePush)

	registerRelayHandlers(humaAPI, reg, opts.Clock)

	return router
}
