package registry

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/hal-rpc/"

// EtcdRegistry implements Registry on etcd v3.
//
//	Key:   /hal-rpc/{service}/{socket path}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL leases: if the daemon dies without deregistering, the
// lease expires and clients stop finding a socket that no longer answers.
type EtcdRegistry struct {
	client    *clientv3.Client
	log       *zap.Logger
	opTimeout time.Duration

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // by key

	// lifetime of KeepAlive and Watch goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints. A nil logger discards logs.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:    c,
		log:       logger,
		opTimeout: 5 * time.Second,
		leases:    make(map[string]clientv3.LeaseID),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func serviceKey(service string) string {
	return keyPrefix + service + "/"
}

// Register stores ep under a lease of ttl seconds and keeps the lease alive
// until the endpoint is deregistered or the registry is closed. Registering
// the same path again moves it to a fresh lease and revokes the old one.
func (r *EtcdRegistry) Register(service string, ep Endpoint, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.opTimeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	key := serviceKey(service) + ep.Path
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return err
	}

	// drain KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.String("service", service), zap.String("path", ep.Path))
	}()

	r.mu.Lock()
	old, replaced := r.leases[key]
	r.leases[key] = lease.ID
	r.mu.Unlock()
	if replaced {
		// the key now lives on the new lease, revoking the old one keeps it
		if _, err := r.client.Revoke(ctx, old); err != nil {
			r.log.Warn("revoking replaced lease failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Deregister removes an endpoint and revokes its lease, which also ends its
// KeepAlive. Daemons call it on shutdown, before closing their listener.
func (r *EtcdRegistry) Deregister(service string, path string) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.opTimeout)
	defer cancel()

	key := serviceKey(service) + path
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := r.client.Revoke(ctx, id)
	return err
}

// Discover returns every endpoint registered for service, sorted by path.
func (r *EtcdRegistry) Discover(service string) ([]Endpoint, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opTimeout)
	defer cancel()
	return r.discover(ctx, service)
}

func (r *EtcdRegistry) discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, serviceKey(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.log.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		eps = append(eps, ep)
	}
	slices.SortFunc(eps, func(a, b Endpoint) int { return strings.Compare(a.Path, b.Path) })
	return eps, nil
}

// Watch emits the full endpoint list whenever anything under service changes.
// The channel is closed when the registry is closed.
func (r *EtcdRegistry) Watch(service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		// re-read the whole list on every event, simpler than applying deltas
		for range r.client.Watch(r.ctx, serviceKey(service), clientv3.WithPrefix()) {
			eps, err := r.discover(r.ctx, service)
			if err != nil {
				r.log.Warn("discover after watch event failed", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- eps:
			case <-r.ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops lease renewal and watches and disconnects from etcd.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
