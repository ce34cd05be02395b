package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// Handle is one live connection able to receive events.
type Handle interface {
	ID() string
	// Send enqueues ev and reports whether it was accepted.
	Send(ev models.Event) bool
	Close()
}

// LastSeenStamper records presence transitions.
type LastSeenStamper interface {
	TouchLastSeen(ctx context.Context, userID int, at time.Time) error
}

// Registry maps each online user to exactly one connection handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[int]Handle
	stamper LastSeenStamper
	log     zerolog.Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry. stamper may be nil.
func NewRegistry(stamper LastSeenStamper, log zerolog.Logger) *Registry {
	return &Registry{
		handles: make(map[int]Handle),
		stamper: stamper,
		log:     log,
		now:     time.Now,
	}
}

// Register maps userID to h. A previous handle for the same user is closed.
func (r *Registry) Register(userID int, h Handle) {
	r.mu.Lock()
	prev, existed := r.handles[userID]
	r.handles[userID] = h
	r.mu.Unlock()

	if existed && prev != h {
		r.log.Debug().Int("user_id", userID).Str("conn_id", prev.ID()).Msg("replacing connection")
		prev.Close()
	}
	r.stamp(userID)
}

// Unregister removes userID regardless of which handle is mapped.
func (r *Registry) Unregister(userID int) {
	r.mu.Lock()
	_, existed := r.handles[userID]
	delete(r.handles, userID)
	r.mu.Unlock()

	if existed {
		r.stamp(userID)
	}
}

// UnregisterHandle removes userID only while it still maps to h, so a replaced
// connection closing late cannot evict its successor. It reports whether it removed.
func (r *Registry) UnregisterHandle(userID int, h Handle) bool {
	r.mu.Lock()
	cur, ok := r.handles[userID]
	removed := ok && cur == h
	if removed {
		delete(r.handles, userID)
	}
	r.mu.Unlock()

	if removed {
		r.stamp(userID)
	}
	return removed
}

// Lookup returns the current handle of userID.
func (r *Registry) Lookup(userID int) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[userID]
	return h, ok
}

// IsOnline reports whether userID has a registered handle.
func (r *Registry) IsOnline(userID int) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns the online user ids in ascending order.
func (r *Registry) Snapshot() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Broadcast sends ev to every registered handle and returns how many accepted it.
func (r *Registry) Broadcast(ev models.Event) int {
	r.mu.RLock()
	targets := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	sent := 0
	for _, h := range targets {
		if h.Send(ev) {
			sent++
		}
	}
	return sent
}

func (r *Registry) stamp(userID int) {
	if r.stamper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.stamper.TouchLastSeen(ctx, userID, r.now().UTC()); err != nil {
		r.log.Warn().Err(err).Int("user_id", userID).Msg("last seen update failed")
	}
}

// Route delivers ev to userID's handle. It returns false when the user is offline
// or the handle refused the event; neither case is an error.
func (r *Registry) Route(userID int, ev models.Event) bool {
	h, ok := r.Lookup(userID)
	if !ok {
		observability.IncWSEvent(string(ev.EventName()), observability.OutcomeOffline)
		return false
	}
	return h.Send(ev)
}

// CloseAll removes and closes every handle. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[int]Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}
