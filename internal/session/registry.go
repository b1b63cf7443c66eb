// Package session keeps suspended cleaner runs between requests of a
// networked front end.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/cleaner"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = eris.New("session: not found")

// Entry is one registered run.
type Entry struct {
	Run       *cleaner.Run
	CreatedAt time.Time
	LastSeen  time.Time
}

// Registry maps session ids to runs. Idle runs are abandoned by Sweep, which
// keeps every undecided value in its original form.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry creates a registry whose entries expire after ttl of
// inactivity. A zero ttl disables expiry.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{entries: make(map[string]*Entry), ttl: ttl, now: time.Now}
}

// Put registers run under its query id and returns that id.
func (r *Registry) Put(run *cleaner.Run) string {
	id := run.ID()
	now := r.now()
	r.mu.Lock()
	r.entries[id] = &Entry{Run: run, CreatedAt: now, LastSeen: now}
	r.mu.Unlock()
	return id
}

// Get returns the run for id and marks it as seen.
func (r *Registry) Get(id string) (*cleaner.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	e.LastSeen = r.now()
	return e.Run, nil
}

// Delete forgets id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep removes entries idle since before now-ttl. Runs still waiting for a
// decision are abandoned so their history is written. It returns the number
// removed.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	var expired []*Entry
	r.mu.Lock()
	for id, e := range r.entries {
		if now.Sub(e.LastSeen) > r.ttl {
			expired = append(expired, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		if e.Run.Done() {
			continue
		}
		if err := e.Run.Abandon(ctx); err != nil {
			zap.L().Warn("session: abandon expired run", zap.String("id", e.Run.ID()), zap.Error(err))
			continue
		}
		zap.L().Info("session: expired", zap.String("id", e.Run.ID()), zap.Duration("idle", now.Sub(e.LastSeen)))
	}
	return len(expired)
}

// Janitor sweeps every interval until ctx ends.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx, r.now())
		}
	}
}
