// Package websocket routes real-time events to practitioners connected over
// WebSockets. A Registry maps each recipient (a practitioner id) to the set
// of its live connections; one practitioner may hold several tabs or devices.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one live connection. Outbound messages are queued on a bounded
// buffer drained by the write pump; a full buffer counts as a failed delivery.
type Client struct {
	ID   string
	send chan []byte
	conn Conn

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn with a send buffer of the given size; non-positive
// sizes get 64.
func NewClient(conn Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:   uuid.NewString(),
		send: make(chan []byte, buffer),
		conn: conn,
		done: make(chan struct{}),
	}
}

// enqueue never blocks. It reports false if the client is closed or its
// buffer is full.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump and closes the underlying connection. Safe to
// call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Envelope is a routed event. A nil Recipient means broadcast to everyone
// except Exclude.
type Envelope struct {
	Recipient *uuid.UUID      `json:"recipient,omitempty"`
	Exclude   *uuid.UUID      `json:"exclude,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func NewTargetedEnvelope(recipient uuid.UUID, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Recipient: &recipient, Payload: data}, nil
}

func NewBroadcastEnvelope(payload interface{}, exclude *uuid.UUID) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Exclude: exclude, Payload: data}, nil
}

// Publisher hands an envelope to whatever delivers it: the local Registry or
// a cross-instance relay.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// PresenceHook is told when a recipient gains its first connection or loses
// its last one. Calls run outside the registry lock and may arrive out of
// order under rapid reconnects; ConnectionCount gives the current answer.
type PresenceHook func(recipientID uuid.UUID, online bool)

// Registry tracks live connections per recipient. All methods are safe for
// concurrent use; sends run outside the lock on a snapshot of connections.
type Registry struct {
	mu         sync.RWMutex
	recipients map[uuid.UUID]map[*Client]struct{}
	presence   PresenceHook
	log        zerolog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		recipients: make(map[uuid.UUID]map[*Client]struct{}),
		log:        log.With().Str("component", "ws_registry").Logger(),
	}
}

// SetPresenceHook installs fn. Set it before the registry is shared.
func (r *Registry) SetPresenceHook(fn PresenceHook) {
	r.mu.Lock()
	r.presence = fn
	r.mu.Unlock()
}

func (r *Registry) notifyPresence(hook PresenceHook, recipientID uuid.UUID, online bool) {
	if hook != nil {
		hook(recipientID, online)
	}
}

// Register adds client under recipientID. Re-registering the same client is
// a no-op.
func (r *Registry) Register(recipientID uuid.UUID, client *Client) {
	r.mu.Lock()
	set, ok := r.recipients[recipientID]
	if !ok {
		set = make(map[*Client]struct{})
		r.recipients[recipientID] = set
	}
	set[client] = struct{}{}
	hook := r.presence
	r.mu.Unlock()

	if !ok {
		r.notifyPresence(hook, recipientID, true)
	}
}

// Unregister removes client from recipientID and drops the recipient once it
// has no connections left. Unknown pairs are ignored.
func (r *Registry) Unregister(recipientID uuid.UUID, client *Client) {
	r.mu.Lock()
	gone := r.unregisterLocked(recipientID, client)
	hook := r.presence
	r.mu.Unlock()

	if gone {
		r.notifyPresence(hook, recipientID, false)
	}
}

// unregisterLocked reports whether recipientID lost its last connection.
func (r *Registry) unregisterLocked(recipientID uuid.UUID, client *Client) bool {
	set, ok := r.recipients[recipientID]
	if !ok {
		return false
	}
	if _, ok := set[client]; !ok {
		return false
	}
	delete(set, client)
	if len(set) == 0 {
		delete(r.recipients, recipientID)
		return true
	}
	return false
}

func (r *Registry) snapshot(recipientID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.recipients[recipientID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// SendToRecipient delivers payload to every connection of recipientID.
// Connections that cannot take the message are unregistered and closed.
// Unknown recipients are a silent no-op.
func (r *Registry) SendToRecipient(recipientID uuid.UUID, payload interface{}) {
	data, ok := r.encode(payload)
	if !ok {
		return
	}
	r.sendRaw(recipientID, data)
}

func (r *Registry) sendRaw(recipientID uuid.UUID, data []byte) {
	var failed []*Client
	for _, c := range r.snapshot(recipientID) {
		if !c.enqueue(data) {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}

	gone := false
	r.mu.Lock()
	for _, c := range failed {
		if r.unregisterLocked(recipientID, c) {
			gone = true
		}
	}
	hook := r.presence
	r.mu.Unlock()

	for _, c := range failed {
		c.Close()
		r.log.Warn().
			Str("recipient_id", recipientID.String()).
			Str("client_id", c.ID).
			Msg("dropping unresponsive connection")
	}
	if gone {
		r.notifyPresence(hook, recipientID, false)
	}
}

// Broadcast delivers payload to every registered recipient except exclude.
// Recipients connecting during the broadcast may or may not receive it.
func (r *Registry) Broadcast(payload interface{}, exclude *uuid.UUID) {
	data, ok := r.encode(payload)
	if !ok {
		return
	}
	r.broadcastRaw(data, exclude)
}

func (r *Registry) broadcastRaw(data []byte, exclude *uuid.UUID) {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.recipients))
	for id := range r.recipients {
		if exclude != nil && id == *exclude {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.sendRaw(id, data)
	}
}

// Publish delivers env to local connections. It never fails.
func (r *Registry) Publish(_ context.Context, env Envelope) error {
	if env.Recipient != nil {
		r.sendRaw(*env.Recipient, env.Payload)
		return nil
	}
	r.broadcastRaw(env.Payload, env.Exclude)
	return nil
}

func (r *Registry) encode(payload interface{}) ([]byte, bool) {
	switch p := payload.(type) {
	case []byte:
		return p, true
	case json.RawMessage:
		return p, true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal websocket payload")
		return nil, false
	}
	return data, true
}

// RecipientCount returns the number of recipients with at least one
// connection.
func (r *Registry) RecipientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recipients)
}

// ConnectionCount returns the number of live connections for recipientID.
func (r *Registry) ConnectionCount(recipientID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recipients[recipientID])
}

// Close closes every connection and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.recipients
	r.recipients = make(map[uuid.UUID]map[*Client]struct{})
	hook := r.presence
	r.mu.Unlock()

	for id, set := range all {
		for c := range set {
			c.Close()
		}
		r.notifyPresence(hook, id, false)
	}
}
