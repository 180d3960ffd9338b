package registry

import "context"

// Registry tracks live connection handles across every service instance.
// Presence reconciliation treats a connection as live only if some instance
// has it registered.
type Registry interface {
	Register(ctx context.Context, connID, userID string) error
	Deregister(ctx context.Context, connID string) error
	// LiveConnections returns the connection ids registered by any instance.
	LiveConnections(ctx context.Context) (map[string]struct{}, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
