package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/tidwall/gjson"
)

const maxPushBytes = 1 << 20

// pollServer owns the request/response fallback transport: GET /poll drains
// one queued event per call, POST /push routes a client-originated event
// through the engine and returns the reply synchronously.
type pollServer struct {
	reg    *relay.Registry
	engine *relay.Engine
	clk    clock.Clock
}

func (s *pollServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		id := s.reg.CreatePolling()
		slog.Info("polling client registered", "client_id", id)
		writeEventJSON(w, http.StatusOK, relay.WelcomeEvent(id, s.clk.Now()))
		return
	}

	// Unknown ids are terminal: the client must re-register by polling
	// without an id, never fabricate one.
	if !s.reg.Touch(clientID) {
		writeJSONError(w, http.StatusNotFound, "Client not found")
		return
	}

	evt, ok := s.reg.Dequeue(clientID)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("null"))
		return
	}
	writeEventJSON(w, http.StatusOK, evt)
}

func (s *pollServer) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body unreadable")
		return
	}

	clientID := gjson.GetBytes(body, "clientId").String()
	if clientID == "" {
		writeJSONError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	if _, ok := s.reg.Lookup(clientID); !ok {
		writeJSONError(w, http.StatusNotFound, "Client not found")
		return
	}

	writeEventJSON(w, http.StatusOK, s.engine.HandleInbound(r.Context(), clientID, body))
}

func writeEventJSON(w http.ResponseWriter, status int, evt relay.Event) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(evt); err != nil {
		slog.Debug("event response write failed", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		slog.Debug("error response write failed", "error", err)
	}
}
