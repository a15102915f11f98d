package relay

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Kind distinguishes the two transport flavours a session can have.
type Kind string

const (
	KindStreaming Kind = "streaming"
	KindPolling   Kind = "polling"
)

// ErrClientNotFound is returned when an operation names a session id that
// is not currently registered.
var ErrClientNotFound = errors.New("client not found")

// Outbox is the delivery capability a streaming transport hands to the
// registry. Deliver reports false once the underlying connection is closed;
// failed deliveries are not retried.
type Outbox interface {
	Deliver(evt Event) bool
}

type session struct {
	id      string
	kind    Kind
	boundTo string

	// Streaming sessions deliver through the outbox; polling sessions
	// accumulate events in the queue until the client's next poll.
	outbox     Outbox
	queue      []Event
	lastActive time.Time
}

// SessionInfo is a point-in-time snapshot of one registered session.
type SessionInfo struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	BoundTo     string `json:"boundTo,omitempty"`
	Queued      int    `json:"queued"`
	IdleSeconds int64  `json:"idleSeconds,omitempty"`
}

// Registry is the single shared store of live sessions. All fields of every
// session are guarded by one lock so a bind/remove pair can never interleave
// into a dangling reference.
type Registry struct {
	clk clock.Clock

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewRegistry creates an empty registry using the given clock for polling
// activity timestamps.
func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{
		clk:      clk,
		sessions: make(map[string]*session),
	}
}

// CreateStreaming registers a new streaming session delivering through out
// and returns its id.
func (r *Registry) CreateStreaming(out Outbox) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &session{id: id, kind: KindStreaming, outbox: out}
	r.mu.Unlock()
	slog.Debug("session registered", "client_id", id, "kind", KindStreaming)
	return id
}

// CreatePolling registers a new polling session with an empty queue and
// returns its id.
func (r *Registry) CreatePolling() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &session{id: id, kind: KindPolling, lastActive: r.clk.Now()}
	r.mu.Unlock()
	slog.Debug("session registered", "client_id", id, "kind", KindPolling)
	return id
}

// Lookup returns a snapshot of the session, if registered.
func (r *Registry) Lookup(id string) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return r.snapshotLocked(s), true
}

// List returns snapshots of all registered sessions, sorted by id.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, r.snapshotLocked(s))
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (r *Registry) snapshotLocked(s *session) SessionInfo {
	info := SessionInfo{ID: s.id, Kind: s.kind, BoundTo: s.boundTo, Queued: len(s.queue)}
	if s.kind == KindPolling {
		info.IdleSeconds = int64(r.clk.Now().Sub(s.lastActive).Seconds())
	}
	return info
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Touch refreshes a polling session's activity timestamp. It reports false
// when the id is unknown, which the polling transport treats as terminal.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.lastActive = r.clk.Now()
	return true
}

// Bind points source's outgoing binding at target. Rebinding overwrites any
// previous value. The target is not notified; bindings are one-directional.
func (r *Registry) Bind(sourceID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sessions[sourceID]
	if !ok {
		return ErrClientNotFound
	}
	if _, ok := r.sessions[targetID]; !ok {
		return ErrClientNotFound
	}
	src.boundTo = targetID
	return nil
}

// Unbind clears source's outgoing binding. No-op when nothing was bound or
// the session is gone.
func (r *Registry) Unbind(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sourceID]; ok {
		s.boundTo = ""
	}
}

// BoundTarget returns the id the session is currently bound to, if any.
func (r *Registry) BoundTarget(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s.boundTo == "" {
		return "", false
	}
	return s.boundTo, true
}

// Remove deletes the session and clears every binding that pointed at it,
// delivering a bind_lost to each dependent through its own transport.
// Removing an unknown id is a no-op, so transport close paths may race the
// reaper safely.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)

	lost := BindLostEvent()
	var notify []Outbox
	for _, s := range r.sessions {
		if s.boundTo != id {
			continue
		}
		s.boundTo = ""
		if s.kind == KindPolling {
			s.queue = append(s.queue, lost)
		} else if s.outbox != nil {
			notify = append(notify, s.outbox)
		}
	}
	r.mu.Unlock()

	// Streaming writes happen outside the lock so a slow peer cannot
	// stall the registry.
	for _, out := range notify {
		out.Deliver(lost)
	}
	slog.Debug("session removed", "client_id", id, "dependents_notified", len(notify))
}

// Deliver routes one event to a session: immediate write for streaming,
// queue append for polling. It reports false when the session is unknown or
// the streaming connection has closed; the event is silently dropped in
// either case, mirroring real-world disconnect races.
func (r *Registry) Deliver(id string, evt Event) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if s.kind == KindPolling {
		s.queue = append(s.queue, evt)
		r.mu.Unlock()
		return true
	}
	out := s.outbox
	r.mu.Unlock()
	return out != nil && out.Deliver(evt)
}

// Dequeue pops the oldest queued event for a polling session.
func (r *Registry) Dequeue(id string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || len(s.queue) == 0 {
		return Event{}, false
	}
	evt := s.queue[0]
	s.queue = s.queue[1:]
	return evt, true
}

// BroadcastStreaming delivers evt to every open streaming session except
// exceptID and returns how many deliveries succeeded. Polling sessions are
// never broadcast targets.
func (r *Registry) BroadcastStreaming(exceptID string, evt Event) int {
	r.mu.RLock()
	outboxes := make([]Outbox, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.kind == KindStreaming && s.id != exceptID && s.outbox != nil {
			outboxes = append(outboxes, s.outbox)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, out := range outboxes {
		if out.Deliver(evt) {
			delivered++
		}
	}
	return delivered
}

// ReapIdle removes every polling session whose last activity is older than
// threshold and returns how many were evicted. Streaming sessions are left
// alone; their lifecycle is tied to the connection.
func (r *Registry) ReapIdle(threshold time.Duration) int {
	cutoff := r.clk.Now().Add(-threshold)

	r.mu.RLock()
	var expired []string
	for _, s := range r.sessions {
		if s.kind == KindPolling && s.lastActive.Before(cutoff) {
			expired = append(expired, s.id)
		}
	}
	r.mu.RUnlock()

	for _, id := range expired {
		slog.Info("reaping idle polling session", "client_id", id)
		r.Remove(id)
	}
	return len(expired)
}
