package practitioner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const presenceWriteTimeout = 5 * time.Second

// StatusSetter persists a practitioner's online flag.
type StatusSetter interface {
	SetStatus(ctx context.Context, id uuid.UUID, online bool) (*Practitioner, error)
}

// Presence keeps is_online in step with a practitioner's live connections.
// Observe only marks the practitioner dirty; a background worker later
// writes whatever connected reports at that moment, so repeated events for
// one practitioner collapse into a single write and callers never wait on
// the database.
//
// connected answers for this process only. With several instances behind
// the Redis relay, a disconnect here clears the flag even if the
// practitioner is still connected to another instance.
type Presence struct {
	setter    StatusSetter
	connected func(uuid.UUID) bool
	log       zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	wake    chan struct{}
}

// NewPresence returns a Presence that writes through setter. Start its
// worker with Run.
func NewPresence(setter StatusSetter, connected func(uuid.UUID) bool, log zerolog.Logger) *Presence {
	return &Presence{
		setter:    setter,
		connected: connected,
		log:       log.With().Str("component", "presence").Logger(),
		pending:   make(map[uuid.UUID]struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Observe has the signature of websocket.PresenceHook. The online argument
// is ignored because events can arrive out of order.
func (p *Presence) Observe(id uuid.UUID, _ bool) {
	p.mu.Lock()
	p.pending[id] = struct{}{}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run writes pending changes until ctx is done.
func (p *Presence) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.Flush(ctx)
		}
	}
}

// Flush writes every pending change now. The server calls it once more at
// shutdown, after the registry has closed its connections.
func (p *Presence) Flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[uuid.UUID]struct{})
	p.mu.Unlock()

	for id := range batch {
		online := p.connected(id)
		wctx, cancel := context.WithTimeout(ctx, presenceWriteTimeout)
		_, err := p.setter.SetStatus(wctx, id, online)
		cancel()
		if err != nil {
			p.log.Warn().Err(err).
				Str("practitioner_id", id.String()).
				Bool("online", online).
				Msg("update practitioner presence")
		}
	}
}

