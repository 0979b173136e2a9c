// Package lease provides the distributed lease backends the Job Runner
// (§4.6) uses to fence job.runtime.ownerInstanceId across orchestrator
// replicas — the browser-extension background worker can be GC'd or
// restarted by the browser at any time, and the lease must survive that in
// durable storage outside the process. The backend is selected the same
// way pkg/databases/registry.go selects a vector-database provider and
// pkg/config/provider selects a config source: a small Type enum plus a
// constructor switch.
package lease

import (
	"context"
	"fmt"
	"time"
)

// Backend identifies a lease coordinator implementation.
type Backend string

const (
	BackendMemory  Backend = "memory"
	BackendEtcd    Backend = "etcd"
	BackendConsul  Backend = "consul"
	BackendZK      Backend = "zookeeper"
)

// Coordinator grants, renews and releases exclusive time-bounded claims on
// a named resource (a jobId). Implementations must be safe for concurrent
// use across goroutines claiming different keys.
type Coordinator interface {
	// Acquire attempts to claim key for ownerID for ttl. acquired is false
	// (with no error) when another owner currently holds the lease.
	Acquire(ctx context.Context, key, ownerID string, ttl time.Duration) (leaseID string, acquired bool, err error)

	// Renew extends a held lease's TTL. Returns an error if the lease is
	// not currently held by this coordinator instance.
	Renew(ctx context.Context, leaseID string, ttl time.Duration) error

	// Release voluntarily gives up a held lease (used on job cancellation
	// and terminal transitions, §4.6 step 1).
	Release(ctx context.Context, leaseID string) error

	// Close releases the coordinator's own backend connection.
	Close() error
}

// Config configures coordinator construction.
type Config struct {
	Backend Backend

	// Endpoints addresses the backend cluster (etcd/consul/zk). Ignored
	// for BackendMemory.
	Endpoints []string

	// Namespace prefixes every key this coordinator manages, so multiple
	// orchestrator deployments can share one cluster.
	Namespace string
}

// New constructs a Coordinator for cfg.Backend, matching the
// registry-of-backends idiom of databases.CreateDatabaseFromConfig: a
// switch on a config-carried type, one constructor per backend.
func New(cfg Config) (Coordinator, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryCoordinator(), nil
	case BackendEtcd:
		return NewEtcdCoordinator(cfg)
	case BackendConsul:
		return NewConsulCoordinator(cfg)
	case BackendZK:
		return NewZKCoordinator(cfg)
	default:
		return nil, fmt.Errorf("lease: unknown backend %q", cfg.Backend)
	}
}

func namespaced(namespace, key string) string {
	if namespace == "" {
		return "/orchestrator/leases/" + key
	}
	return "/" + namespace + "/leases/" + key
}
