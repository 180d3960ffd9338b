package registry

import (
	"context"
	"sync"
)

// LocalRegistry is the single-instance registry used when Redis is disabled.
type LocalRegistry struct {
	mu    sync.RWMutex
	conns map[string]string // connID -> userID
}

func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{conns: make(map[string]string)}
}

func (r *LocalRegistry) Register(_ context.Context, connID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = userID
	return nil
}

func (r *LocalRegistry) Deregister(_ context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
	return nil
}

func (r *LocalRegistry) LiveConnections(_ context.Context) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.conns))
	for id := range r.conns {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *LocalRegistry) StartHeartbeat(context.Context) error { return nil }

func (r *LocalRegistry) StopHeartbeat() {}

func (r *LocalRegistry) Close() error { return nil }
