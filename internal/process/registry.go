package process

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Info describes a live process for reporting
type Info struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks every live handle so nothing outlives the application
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	logger  hclog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		handles: make(map[string]*Handle),
		logger:  logger.Named("process-registry"),
	}
}

// Track registers h and unregisters it once it exits
func (r *Registry) Track(h *Handle) error {
	if err := r.Register(h); err != nil {
		return err
	}
	go func() {
		<-h.Done()
		r.Unregister(h.ID)
	}()
	return nil
}

// Register adds a handle
func (r *Registry) Register(h *Handle) error {
	if h == nil {
		return fmt.Errorf("handle is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[h.ID]; exists {
		return fmt.Errorf("handle %s already registered", h.ID)
	}
	r.handles[h.ID] = h

	r.logger.Debug("registered process", "handle_id", h.ID, "pid", h.PID(), "owner", h.Owner)
	return nil
}

// Unregister removes a handle; unknown IDs are ignored
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[id]; ok {
		delete(r.handles, id)
		r.logger.Debug("unregistered process", "handle_id", id, "owner", h.Owner)
	}
}

// List returns the live processes, oldest first
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, Info{
			ID:        h.ID,
			Owner:     h.Owner,
			PID:       h.PID(),
			Command:   h.Command,
			StartedAt: h.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of live processes
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Shutdown terminates every tracked process in parallel
func (r *Registry) Shutdown(ctx context.Context, grace time.Duration) error {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()

	if len(handles) == 0 {
		return nil
	}
	r.logger.Info("terminating processes", "count", len(handles))

	errs := make(chan error, len(handles))
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := h.Terminate(grace); err != nil {
				errs <- err
			}
			r.Unregister(h.ID)
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errs)
	return <-errs
}
