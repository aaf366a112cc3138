package discovery

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/eventhub/services"

// Connect dials etcd. Returns nil without error when no endpoints are
// configured; registries and resolvers degrade to static addressing then.
func Connect(endpoints []string) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, nil
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return cli, nil
}

// Registry announces a service instance under a keep-alive lease so peers
// can resolve it while the instance is up.
type Registry struct {
	cli     *clientv3.Client
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

// Register puts service/instance -> baseURL with a TTL lease and keeps the
// lease alive until Close. A nil client makes Register a no-op.
func Register(cli *clientv3.Client, service, instance, baseURL string, ttlSeconds int64) (*Registry, error) {
	if cli == nil {
		return &Registry{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	lease, err := cli.Grant(ctx, ttlSeconds)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to grant lease: %w", err)
	}

	key := path.Join(keyPrefix, service, instance)
	if _, err := cli.Put(ctx, key, baseURL, clientv3.WithLease(lease.ID)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register %s: %w", key, err)
	}

	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to keep lease alive: %w", err)
	}

	go func() {
		for range ch {
		}
	}()

	return &Registry{cli: cli, leaseID: lease.ID, cancel: cancel}, nil
}

// Close revokes the lease, removing the instance from the registry.
func (r *Registry) Close() {
	if r.cli == nil {
		return
	}
	r.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.cli.Revoke(ctx, r.leaseID)
}

// Resolver resolves a peer service's base URL from etcd, falling back to a
// statically configured URL when etcd is absent or holds no instances.
type Resolver struct {
	service  string
	fallback string

	mu    sync.RWMutex
	addrs map[string]string // instance key -> base URL
	stop  context.CancelFunc
}

// NewResolver seeds the address set from etcd and watches for changes.
// A nil client yields a resolver pinned to fallbackURL.
func NewResolver(cli *clientv3.Client, service, fallbackURL string) *Resolver {
	r := &Resolver{
		service:  service,
		fallback: fallbackURL,
		addrs:    make(map[string]string),
	}
	if cli == nil {
		return r
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.stop = cancel

	prefix := path.Join(keyPrefix, service) + "/"

	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		log.Printf("discovery: initial lookup for %s failed, using fallback: %v", service, err)
	} else {
		r.mu.Lock()
		for _, kv := range resp.Kvs {
			r.addrs[string(kv.Key)] = string(kv.Value)
		}
		r.mu.Unlock()
	}

	go r.watch(ctx, cli, prefix)

	return r
}

func (r *Resolver) watch(ctx context.Context, cli *clientv3.Client, prefix string) {
	for resp := range cli.Watch(ctx, prefix, clientv3.WithPrefix()) {
		if resp.Err() != nil {
			log.Printf("discovery: watch error for %s: %v", r.service, resp.Err())
			continue
		}
		r.mu.Lock()
		for _, ev := range resp.Events {
			switch ev.Type {
			case clientv3.EventTypePut:
				r.addrs[string(ev.Kv.Key)] = string(ev.Kv.Value)
			case clientv3.EventTypeDelete:
				delete(r.addrs, string(ev.Kv.Key))
			}
		}
		r.mu.Unlock()
	}
}

// Resolve returns a base URL for the service. Instance selection is the
// lowest key so that all callers converge on the same instance ordering.
func (r *Resolver) Resolve() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.addrs) == 0 {
		return r.fallback
	}

	keys := make([]string, 0, len(r.addrs))
	for k := range r.addrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return r.addrs[keys[0]]
}

// Stop ends the background watch.
func (r *Resolver) Stop() {
	if r.stop != nil {
		r.stop()
	}
}
