package lease

import (
	"context"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// consulCoordinator fences keys using Consul sessions + the KV CAS
// "Acquire" operation, the same session-TTL mechanism the teacher's
// pkg/config/provider uses for Consul-backed config watches, generalized
// here to mutual exclusion.
type consulCoordinator struct {
	client    *consulapi.Client
	namespace string
}

// NewConsulCoordinator builds a Coordinator backed by Consul sessions.
func NewConsulCoordinator(cfg Config) (Coordinator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("lease: consul endpoint is required")
	}
	clientCfg := consulapi.DefaultConfig()
	clientCfg.Address = cfg.Endpoints[0]
	client, err := consulapi.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("lease: connect consul: %w", err)
	}
	return &consulCoordinator{client: client, namespace: cfg.Namespace}, nil
}

func (c *consulCoordinator) Acquire(ctx context.Context, key, ownerID string, ttl time.Duration) (string, bool, error) {
	k := namespaced(c.namespace, key)

	ttlSeconds := ttl
	if ttlSeconds < 10*time.Second {
		ttlSeconds = 10 * time.Second // Consul's minimum session TTL.
	}

	sessionID, _, err := c.client.Session().Create(&consulapi.SessionEntry{
		Name:     ownerID,
		TTL:      ttlSeconds.String(),
		Behavior: consulapi.SessionBehaviorDelete,
	}, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("lease: create consul session: %w", err)
	}

	pair := &consulapi.KVPair{
		Key:     k,
		Value:   []byte(ownerID),
		Session: sessionID,
	}
	acquired, _, err := c.client.KV().Acquire(pair, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		c.client.Session().Destroy(sessionID, nil)
		return "", false, fmt.Errorf("lease: acquire consul kv: %w", err)
	}
	if !acquired {
		c.client.Session().Destroy(sessionID, nil)
		return "", false, nil
	}
	return sessionID, true, nil
}

func (c *consulCoordinator) Renew(ctx context.Context, leaseID string, _ time.Duration) error {
	_, _, err := c.client.Session().Renew(leaseID, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("lease: renew consul session: %w", err)
	}
	return nil
}

func (c *consulCoordinator) Release(ctx context.Context, leaseID string) error {
	_, err := c.client.Session().Destroy(leaseID, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("lease: destroy consul session: %w", err)
	}
	return nil
}

func (c *consulCoordinator) Close() error { return nil }
