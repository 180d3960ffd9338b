package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// RedisRegistry stores one key per live connection with a TTL. A heartbeat
// refreshes the keys owned by this instance, so the connections of a crashed
// instance expire on their own and are then reconciled offline.
type RedisRegistry struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]string // key -> userID, keys owned by this instance
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

// NewRedisRegistry uses a shared client; Close does not close it.
func NewRedisRegistry(client *redis.Client, cfg config.RedisConfig, instanceID string) *RedisRegistry {
	return &RedisRegistry{
		client:            client,
		instanceID:        instanceID,
		prefix:            cfg.RegistryPrefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]string),
	}
}

func (r *RedisRegistry) keyFor(connID string) string {
	return fmt.Sprintf("%s:conn:%s", r.prefix, connID)
}

func (r *RedisRegistry) value(userID string) string {
	return r.instanceID + "|" + userID
}

func (r *RedisRegistry) Register(ctx context.Context, connID, userID string) error {
	key := r.keyFor(connID)

	// Tracked before the write so the heartbeat re-creates a key whose
	// first SET failed.
	r.mu.Lock()
	r.managedKeys[key] = userID
	r.mu.Unlock()

	if err := r.client.Set(ctx, key, r.value(userID), r.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldConnID, connID).Str("instance", r.instanceID).Msg("registered live connection")
	return nil
}

func (r *RedisRegistry) Deregister(ctx context.Context, connID string) error {
	key := r.keyFor(connID)

	r.mu.Lock()
	delete(r.managedKeys, key)
	r.mu.Unlock()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to deregister connection: %w", err)
	}
	return nil
}

// LiveConnections scans every instance's connection keys.
func (r *RedisRegistry) LiveConnections(ctx context.Context) (map[string]struct{}, error) {
	match := r.prefix + ":conn:*"
	keyPrefix := r.prefix + ":conn:"

	live := make(map[string]struct{})
	iter := r.client.Scan(ctx, 0, match, 500).Iterator()
	for iter.Next(ctx) {
		live[strings.TrimPrefix(iter.Val(), keyPrefix)] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan live connections: %w", err)
	}
	return live, nil
}

func (r *RedisRegistry) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("registry heartbeat started")
	return nil
}

func (r *RedisRegistry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	keys := make(map[string]string, len(r.managedKeys))
	for k, userID := range r.managedKeys {
		keys[k] = userID
	}
	r.mu.RUnlock()

	if len(keys) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	for key, userID := range keys {
		pipe.Set(ctx, key, r.value(userID), r.keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l := log.L()
		l.Error().Err(err).Int("keys", len(keys)).Msg("failed to refresh live connection keys")
	}
}

func (r *RedisRegistry) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Close stops the heartbeat and removes the keys owned by this instance.
func (r *RedisRegistry) Close() error {
	r.StopHeartbeat()

	r.mu.Lock()
	keys := make([]string, 0, len(r.managedKeys))
	for k := range r.managedKeys {
		keys = append(keys, k)
	}
	r.managedKeys = make(map[string]string)
	r.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Del(ctx, keys...).Err()
}
