package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Factory constructs a provider through a wallet SDK when nothing is injected.
type Factory func(ctx context.Context) (Provider, error)

type BridgeOption func(*Bridge)

// WithInjected sets the provider the host environment injected.
func WithInjected(p Provider) BridgeOption {
	return func(b *Bridge) { b.injected = p }
}

// WithProviders sets the list announced by a multi-provider host.
func WithProviders(ps ...Provider) BridgeOption {
	return func(b *Bridge) { b.providers = append(b.providers, ps...) }
}

func WithFactory(f Factory) BridgeOption {
	return func(b *Bridge) { b.factory = f }
}

// Bridge picks the provider the manager talks to.
type Bridge struct {
	vendor    string
	injected  Provider
	providers []Provider
	factory   Factory

	mu    sync.Mutex
	built Provider
}

func NewBridge(vendor string, opts ...BridgeOption) *Bridge {
	b := &Bridge{vendor: vendor}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve returns, in order of preference: the injected provider when it is
// the target vendor, the first target-vendor provider of the list, or a
// provider built by the SDK factory. A factory-built provider is reused on
// later calls.
func (b *Bridge) Resolve(ctx context.Context) (Provider, error) {
	if b.injected != nil && b.isVendor(b.injected) {
		return b.injected, nil
	}
	for _, p := range b.providers {
		if p != nil && b.isVendor(p) {
			return p, nil
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.built != nil {
		return b.built, nil
	}
	if b.factory == nil {
		return nil, ErrProviderUnavailable
	}
	p, err := b.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if p == nil {
		return nil, ErrProviderUnavailable
	}
	b.built = p
	return p, nil
}

// Reset forgets the factory-built provider.
func (b *Bridge) Reset() {
	b.mu.Lock()
	b.built = nil
	b.mu.Unlock()
}

func (b *Bridge) isVendor(p Provider) bool {
	if b.vendor == "" {
		return true
	}
	return strings.EqualFold(p.Name(), b.vendor)
}
