package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// streamServer owns the websocket side of the relay: one long-lived
// connection per client, upgraded on GET /ws.
type streamServer struct {
	ctx       context.Context
	reg       *relay.Registry
	engine    *relay.Engine
	clk       clock.Clock
	heartbeat time.Duration
}

// wsOutbox adapts one websocket connection to the registry's delivery
// capability. Writes are serialized; once a write fails or the connection is
// torn down, every further Deliver reports false.
type wsOutbox struct {
	conn   net.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (o *wsOutbox) Deliver(evt relay.Event) bool {
	if o.closed.Load() {
		return false
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return false
	}
	if err := wsutil.WriteServerText(o.conn, data); err != nil {
		o.closed.Store(true)
		return false
	}
	return true
}

func (o *wsOutbox) close() {
	o.closed.Store(true)
}

func (s *streamServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	go s.serve(conn)
}

func (s *streamServer) serve(conn net.Conn) {
	out := &wsOutbox{conn: conn}
	id := s.reg.CreateStreaming(out)
	slog.Info("streaming client connected", "client_id", id)

	out.Deliver(relay.WelcomeEvent(id, s.clk.Now()))

	hbCtx, stopHeartbeat := context.WithCancel(s.ctx)
	go s.heartbeatLoop(hbCtx, out)

	// Unblock the read loop when the server shuts down.
	done := make(chan struct{})
	go func() {
		select {
		case <-s.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	defer func() {
		close(done)
		stopHeartbeat()
		out.close()
		s.reg.Remove(id)
		_ = conn.Close()
		slog.Info("streaming client disconnected", "client_id", id)
	}()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			// Peer close or transport fault; either way the session ends.
			slog.Debug("streaming read loop exit", "client_id", id, "error", err)
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		out.Deliver(s.engine.HandleInbound(s.ctx, id, data))
	}
}

// heartbeatLoop sends periodic heartbeats independent of client traffic.
// Failures are ignored; a dead connection is reaped by the read loop.
func (s *streamServer) heartbeatLoop(ctx context.Context, out *wsOutbox) {
	ticker := s.clk.Ticker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out.Deliver(relay.HeartbeatEvent(s.clk.Now()))
		}
	}
}
