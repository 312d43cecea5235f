package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Registry owns one Coordinator per organization and persists the running
// flag so Restore can resume tenants after a restart.
type Registry struct {
	deps Deps
	opts Options
	log  *logger.Logger

	mu     sync.Mutex
	coords map[string]*Coordinator
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps, opts Options) *Registry {
	return &Registry{
		deps:   deps,
		opts:   opts,
		log:    logger.New("coordinator.registry"),
		coords: make(map[string]*Coordinator),
	}
}

func (r *Registry) get(orgID string) *Coordinator {
	c, ok := r.coords[orgID]
	if !ok {
		c = New(orgID, r.deps, r.opts)
		r.coords[orgID] = c
	}
	return c
}

// Start persists running=true and launches the tenant's loop. Returns
// ErrAlreadyRunning if the loop is already active.
func (r *Registry) Start(ctx context.Context, orgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(orgID)
	if c.Running() {
		return ErrAlreadyRunning
	}
	if err := r.deps.States.Save(ctx, State{OrgID: orgID, Running: true, UpdatedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("save coordinator state: %w", err)
	}
	c.Start()
	return nil
}

// Stop persists running=false and stops the tenant's loop. Stopping a
// tenant that is not running is not an error.
func (r *Registry) Stop(ctx context.Context, orgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.deps.States.Save(ctx, State{OrgID: orgID, Running: false, UpdatedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("save coordinator state: %w", err)
	}
	if c, ok := r.coords[orgID]; ok {
		c.Stop()
	}
	return nil
}

// Status returns the tenant's coordinator status.
func (r *Registry) Status(orgID string) Status {
	r.mu.Lock()
	c, ok := r.coords[orgID]
	r.mu.Unlock()
	if !ok {
		return Status{OrgID: orgID}
	}
	return c.Status()
}

// Restore starts every tenant persisted as running. Returns the number of
// loops started.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	states, err := r.deps.States.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running coordinators: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range states {
		if !st.Running || st.OrgID == "" {
			continue
		}
		if r.get(st.OrgID).Start() {
			n++
		}
	}
	if n > 0 {
		r.log.Info("restored coordinators", "count", n)
	}
	return n, nil
}

// StopAll stops every loop without changing persisted state, then waits
// for in-flight passes to finish. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.coords))
	for _, c := range r.coords {
		c.Stop()
		coords = append(coords, c)
	}
	r.mu.Unlock()

	for _, c := range coords {
		c.Wait()
	}
}
