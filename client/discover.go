package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"hal-rpc/codec"
	"hal-rpc/registry"
)

// ErrNoEndpoint means the registry knows no daemon socket on this host.
var ErrNoEndpoint = errors.New("client: no daemon endpoint registered")

// Resolve picks the first endpoint of service reachable from this host.
func Resolve(reg registry.Registry, service string) (registry.Endpoint, error) {
	eps, err := reg.Discover(service)
	if err != nil {
		return registry.Endpoint{}, err
	}
	eps = registry.Local(eps)
	if len(eps) == 0 {
		return registry.Endpoint{}, fmt.Errorf("%w for %q", ErrNoEndpoint, service)
	}
	return eps[0], nil
}

// DialRegistry resolves service through reg and dials it. The endpoint's
// advertised byte order wins over WithByteOrder.
func DialRegistry(ctx context.Context, reg registry.Registry, service string, opts ...Option) (*Client, error) {
	ep, err := Resolve(reg, service)
	if err != nil {
		return nil, err
	}

	if ep.ByteOrder != "" {
		order, err := codec.ParseByteOrder(ep.ByteOrder)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithByteOrder(order))
	}

	o := buildOptions(opts)
	o.logger.Debug("resolved daemon endpoint", zap.String("service", service), zap.String("path", ep.Path))
	return Dial(ctx, ep.Path, opts...)
}
