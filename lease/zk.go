package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
)

// zkCoordinator fences keys using ephemeral ZooKeeper znodes, the same
// connection style as the teacher's pkg/config/zookeeper_provider.go. TTL
// is approximated by the session timeout passed to zk.Connect, since
// ZooKeeper itself has no per-node TTL: the znode disappears when the
// session that created it dies or is closed.
type zkCoordinator struct {
	conn      *zk.Conn
	namespace string
}

// NewZKCoordinator dials a ZooKeeper ensemble and returns a Coordinator
// backed by ephemeral znodes.
func NewZKCoordinator(cfg Config) (Coordinator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("lease: zookeeper endpoints are required")
	}
	conn, _, err := zk.Connect(cfg.Endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("lease: connect zookeeper: %w", err)
	}
	return &zkCoordinator{conn: conn, namespace: cfg.Namespace}, nil
}

func (c *zkCoordinator) Acquire(_ context.Context, key, ownerID string, _ time.Duration) (string, bool, error) {
	k := namespaced(c.namespace, key)
	if err := c.ensureParents(k); err != nil {
		return "", false, err
	}

	path, err := c.conn.Create(k, []byte(ownerID), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil {
		if err == zk.ErrNodeExists {
			existing, _, getErr := c.conn.Get(k)
			if getErr == nil && string(existing) == ownerID {
				return k, true, nil
			}
			return "", false, nil
		}
		return "", false, fmt.Errorf("lease: create zk znode: %w", err)
	}
	return path, true, nil
}

func (c *zkCoordinator) Renew(_ context.Context, _ string, _ time.Duration) error {
	// Ephemeral znodes live as long as the session does; renewal is
	// implicit via the client's ping loop. Nothing to do here.
	return nil
}

func (c *zkCoordinator) Release(_ context.Context, leaseID string) error {
	_, stat, err := c.conn.Get(leaseID)
	if err != nil {
		if err == zk.ErrNoNode {
			return nil
		}
		return fmt.Errorf("lease: get zk znode before delete: %w", err)
	}
	if err := c.conn.Delete(leaseID, stat.Version); err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("lease: delete zk znode: %w", err)
	}
	return nil
}

func (c *zkCoordinator) Close() error {
	c.conn.Close()
	return nil
}

// ensureParents creates the namespace/leases path components as
// persistent znodes if they don't yet exist, since zk requires parents
// to exist before a child can be created.
func (c *zkCoordinator) ensureParents(path string) error {
	var built string
	segments := splitZKPath(path)
	for i := 0; i < len(segments)-1; i++ {
		built += "/" + segments[i]
		exists, _, err := c.conn.Exists(built)
		if err != nil {
			return fmt.Errorf("lease: check zk parent %q: %w", built, err)
		}
		if !exists {
			if _, err := c.conn.Create(built, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
				return fmt.Errorf("lease: create zk parent %q: %w", built, err)
			}
		}
	}
	return nil
}

func splitZKPath(path string) []string {
	var segments []string
	current := ""
	for _, r := range path {
		if r == '/' {
			if current != "" {
				segments = append(segments, current)
				current = ""
			}
			continue
		}
		current += string(r)
	}
	if current != "" {
		segments = append(segments, current)
	}
	return segments
}
