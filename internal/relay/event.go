package relay

import "time"

// Event is the single wire shape for everything the relay sends to a client.
// Fields are omitted when empty so each event type only carries what it needs.
type Event struct {
	Type           string         `json:"type"`
	ClientID       string         `json:"clientId,omitempty"`
	TargetClientID string         `json:"targetClientId,omitempty"`
	FromClientID   string         `json:"fromClientId,omitempty"`
	From           string         `json:"from,omitempty"`
	Message        string         `json:"message,omitempty"`
	Order          map[string]any `json:"order,omitempty"`
	Original       map[string]any `json:"original,omitempty"`
	Timestamp      int64          `json:"timestamp,omitempty"`
}

// WelcomeEvent is sent once per new session and carries the assigned id.
func WelcomeEvent(clientID string, now time.Time) Event {
	return Event{
		Type:      "welcome",
		ClientID:  clientID,
		Message:   "connected to relay",
		Timestamp: now.UnixMilli(),
	}
}

// HeartbeatEvent keeps streaming connections warm.
func HeartbeatEvent(now time.Time) Event {
	return Event{Type: "heartbeat", Timestamp: now.UnixMilli()}
}

// ErrorEvent reports an unparseable inbound payload.
func ErrorEvent(message string) Event {
	return Event{Type: "error", Message: message}
}

// BindLostEvent tells a session its bound target went away.
func BindLostEvent() Event {
	return Event{Type: "bind_lost", Message: "bound client disconnected"}
}

// NotificationEvent wraps an externally ingested message for delivery.
func NotificationEvent(from, message string, now time.Time) Event {
	return Event{
		Type:      "notification",
		From:      from,
		Message:   message,
		Timestamp: now.UnixMilli(),
	}
}
