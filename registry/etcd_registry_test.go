package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Needs a running etcd, e.g. HALRPC_ETCD_ENDPOINTS=127.0.0.1:2379.
func etcdEndpoints(t *testing.T) []string {
	raw := os.Getenv("HALRPC_ETCD_ENDPOINTS")
	if raw == "" {
		t.Skip("HALRPC_ETCD_ENDPOINTS not set")
	}
	return strings.Split(raw, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	service := "hal-test-" + t.Name()
	ep1 := Endpoint{Path: "/tmp/hal-a.sock", ByteOrder: "native", Version: "1"}
	ep2 := Endpoint{Path: "/tmp/hal-b.sock", ByteOrder: "native", Version: "1"}

	require.NoError(t, reg.Register(service, ep1, 10))
	require.NoError(t, reg.Register(service, ep2, 10))

	eps, err := reg.Discover(service)
	require.NoError(t, err)
	require.Equal(t, []Endpoint{ep1, ep2}, eps)

	require.NoError(t, reg.Deregister(service, ep1.Path))
	time.Sleep(100 * time.Millisecond)

	eps, err = reg.Discover(service)
	require.NoError(t, err)
	require.Equal(t, []Endpoint{ep2}, eps)

	require.NoError(t, reg.Deregister(service, ep2.Path))
}

func TestEtcdWatch(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	service := "hal-test-" + t.Name()
	updates := reg.Watch(service)
	time.Sleep(100 * time.Millisecond)

	ep := Endpoint{Path: "/tmp/hal-watch.sock"}
	require.NoError(t, reg.Register(service, ep, 10))

	select {
	case eps := <-updates:
		require.Contains(t, eps, ep)
	case <-time.After(5 * time.Second):
		t.Fatal("no watch update")
	}
	require.NoError(t, reg.Deregister(service, ep.Path))
}

func TestEtcdDeregisterRevokesLease(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	service := "hal-test-" + t.Name()
	ep := Endpoint{Path: "/tmp/hal-lease.sock"}
	key := serviceKey(service) + ep.Path

	require.NoError(t, reg.Register(service, ep, 10))
	first := reg.leases[key]

	// registering again moves the key and revokes the first lease
	require.NoError(t, reg.Register(service, ep, 10))
	second := reg.leases[key]
	require.NotEqual(t, first, second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ttl, err := reg.client.TimeToLive(ctx, first)
	require.NoError(t, err)
	require.Equal(t, int64(-1), ttl.TTL)

	eps, err := reg.Discover(service)
	require.NoError(t, err)
	require.Equal(t, []Endpoint{ep}, eps)

	require.NoError(t, reg.Deregister(service, ep.Path))
	require.NotContains(t, reg.leases, key)
	ttl, err = reg.client.TimeToLive(ctx, second)
	require.NoError(t, err)
	require.Equal(t, int64(-1), ttl.TTL)
}
