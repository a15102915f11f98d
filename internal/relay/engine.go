package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tidwall/gjson"
)

// ForwardHook is invoked after an order has been delivered to its bound
// target. Hooks must not block; delivery already happened when they run.
type ForwardHook func(ctx context.Context, fromID, targetID string)

// Engine is the relay's protocol state machine. It is stateless itself:
// every decision reads or mutates the injected registry, and both transports
// feed it the same inbound shapes, so a streaming client and a polling
// client are interchangeable bind targets.
type Engine struct {
	reg     *Registry
	forward ForwardHook
}

// NewEngine creates an engine operating on reg.
func NewEngine(reg *Registry) *Engine {
	return &Engine{reg: reg}
}

// SetForwardHook installs a callback fired once per forwarded order.
func (e *Engine) SetForwardHook(fn ForwardHook) {
	e.forward = fn
}

// HandleInbound processes one client-originated message and returns the
// reply event for the sender. Forwards and broadcasts to other sessions are
// delivered through the registry as a side effect. It never panics on bad
// input; unparseable payloads yield an error event and the session lives on.
func (e *Engine) HandleInbound(ctx context.Context, selfID string, raw []byte) Event {
	parsed := gjson.ParseBytes(raw)
	if !gjson.ValidBytes(raw) || !parsed.IsObject() {
		slog.Debug("unparseable inbound message", "client_id", selfID)
		return ErrorEvent("invalid message format")
	}

	switch parsed.Get("type").String() {
	case "bind":
		return e.handleBind(selfID, parsed.Get("targetClientId").String())
	case "unbind":
		e.reg.Unbind(selfID)
		return Event{Type: "unbind_success", Message: "binding cleared"}
	}

	if parsed.Get("action").Exists() {
		return e.handleOrder(ctx, selfID, raw)
	}
	return e.handleChat(selfID, raw)
}

func (e *Engine) handleBind(selfID, targetID string) Event {
	if targetID == "" {
		return Event{Type: "bind_error", Message: "targetClientId is required"}
	}
	if err := e.reg.Bind(selfID, targetID); err != nil {
		return Event{Type: "bind_error", Message: "target client not found: " + targetID}
	}
	slog.Info("client bound", "client_id", selfID, "target_client_id", targetID)
	return Event{Type: "bind_success", TargetClientID: targetID, Message: "bound to " + targetID}
}

func (e *Engine) handleOrder(ctx context.Context, selfID string, raw []byte) Event {
	var order map[string]any
	if err := json.Unmarshal(raw, &order); err != nil {
		return ErrorEvent("invalid message format")
	}
	// Polling pushes carry the sender id in-band; it is not part of the order.
	delete(order, "clientId")

	if ok, reason := ValidateOrder(order); !ok {
		slog.Debug("order rejected", "client_id", selfID, "reason", reason)
		return Event{Type: "order_error", Order: order, Message: reason}
	}

	targetID, bound := e.reg.BoundTarget(selfID)
	if !bound {
		return Event{Type: "order_error", Order: order, Message: "no bound target, cannot forward"}
	}

	forwarded := Event{Type: "order_forwarded", Order: order, FromClientID: selfID}
	if !e.reg.Deliver(targetID, forwarded) {
		// Target closed between bind and forward; cleanup will clear the
		// binding, until then the sender keeps getting told.
		slog.Debug("order forward failed", "client_id", selfID, "target_client_id", targetID)
		return Event{Type: "order_error", Order: order, Message: "bound target unreachable"}
	}

	slog.Info("order forwarded", "from_client_id", selfID, "target_client_id", targetID)
	if e.forward != nil {
		e.forward(ctx, selfID, targetID)
	}
	return Event{Type: "order_success", Order: order, TargetClientID: targetID, Message: "order forwarded to " + targetID}
}

func (e *Engine) handleChat(selfID string, raw []byte) Event {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ErrorEvent("invalid message format")
	}
	delete(payload, "clientId")

	if doBroadcast, _ := payload["broadcast"].(bool); doBroadcast {
		from, _ := payload["from"].(string)
		if from == "" {
			from = selfID
		}
		message, _ := payload["message"].(string)
		n := e.reg.BroadcastStreaming(selfID, Event{Type: "broadcast", From: from, Message: message})
		slog.Debug("broadcast delivered", "from", from, "recipients", n)
	}

	return Event{Type: "echo", Original: payload, Message: "message received"}
}
