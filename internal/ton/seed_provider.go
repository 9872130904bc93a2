// Package ton provides a wallet provider backed by a TON seed phrase. It is
// the SDK fallback used when no wallet extension is available.
package ton

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/healthdash/backend/internal/kv"
	"github.com/healthdash/backend/internal/wallet"
	tonwallet "github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

const eventBuffer = 16

// Approver asks the user whether the app may see account. Returning false
// rejects the request.
type Approver func(ctx context.Context, account string) (bool, error)

type Option func(*SeedProvider)

func WithApprover(a Approver) Option {
	return func(p *SeedProvider) { p.approve = a }
}

// WithGrants remembers granted access in store, so a new process sees the
// account as already authorized.
func WithGrants(store kv.Store) Option {
	return func(p *SeedProvider) { p.grants = store }
}

func WithLogger(log *zap.Logger) Option {
	return func(p *SeedProvider) { p.log = log }
}

// SeedProvider derives a V4R2 wallet from a mnemonic. It never talks to the
// network.
type SeedProvider struct {
	vendor  string
	approve Approver
	grants  kv.Store
	log     *zap.Logger

	mu         sync.Mutex
	account    string
	authorized bool

	events chan wallet.Event
	done   chan struct{}
	once   sync.Once
}

func NewSeedProvider(vendor string, seed []string, opts ...Option) (*SeedProvider, error) {
	account, err := accountFromSeed(seed)
	if err != nil {
		return nil, err
	}

	p := &SeedProvider{
		vendor:  vendor,
		account: account,
		log:     zap.NewNop(),
		events:  make(chan wallet.Event, eventBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Factory builds a provider lazily for wallet.Bridge.
func Factory(vendor string, seed []string, opts ...Option) wallet.Factory {
	return func(ctx context.Context) (wallet.Provider, error) {
		if len(seed) == 0 {
			return nil, errors.New("no wallet seed configured")
		}
		return NewSeedProvider(vendor, seed, opts...)
	}
}

func accountFromSeed(seed []string) (string, error) {
	w, err := tonwallet.FromSeed(nil, seed, tonwallet.V4R2)
	if err != nil {
		return "", fmt.Errorf("derive wallet from seed: %w", err)
	}
	return wallet.NormalizeAddress(w.WalletAddress().String()), nil
}

func (p *SeedProvider) Name() string { return p.vendor }

// Account returns the address derived from the current seed.
func (p *SeedProvider) Account() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account
}

func (p *SeedProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	account := p.Account()

	if p.approve != nil {
		ok, err := p.approve(ctx, account)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "user rejected the request"}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()
	p.saveGrant(ctx, true)

	return []string{account}, nil
}

func (p *SeedProvider) AuthorizedAccounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	authorized, account := p.authorized, p.account
	p.mu.Unlock()

	if !authorized && p.hasGrant(ctx) {
		p.mu.Lock()
		p.authorized = true
		p.mu.Unlock()
		authorized = true
	}
	if !authorized {
		return []string{}, nil
	}
	return []string{account}, nil
}

func (p *SeedProvider) Events() <-chan wallet.Event { return p.events }

// Disconnect revokes access and tells listeners.
func (p *SeedProvider) Disconnect(ctx context.Context) {
	p.mu.Lock()
	p.authorized = false
	p.mu.Unlock()
	p.saveGrant(ctx, false)
	p.emit(wallet.Disconnected())
}

// SwitchSeed replaces the active account. Authorized listeners get an
// accounts-changed event.
func (p *SeedProvider) SwitchSeed(seed []string) error {
	account, err := accountFromSeed(seed)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.account = account
	authorized := p.authorized
	p.mu.Unlock()

	if authorized {
		p.emit(wallet.AccountsChanged(account))
	}
	return nil
}

func (p *SeedProvider) Close() {
	p.once.Do(func() { close(p.done) })
}

// emit never blocks; with a full buffer the event is dropped.
func (p *SeedProvider) emit(ev wallet.Event) {
	select {
	case <-p.done:
	case p.events <- ev:
	default:
	}
}

func (p *SeedProvider) grantKey() string {
	return "wallet_grant:" + p.vendor
}

func (p *SeedProvider) hasGrant(ctx context.Context) bool {
	if p.grants == nil {
		return false
	}
	var account string
	found, err := kv.GetJSON(ctx, p.grants, p.grantKey(), &account)
	if err != nil {
		p.log.Warn("read wallet grant", zap.String("vendor", p.vendor), zap.Error(err))
		return false
	}
	return found && account == p.Account()
}

func (p *SeedProvider) saveGrant(ctx context.Context, granted bool) {
	if p.grants == nil {
		return
	}
	var err error
	if granted {
		err = kv.SetJSON(ctx, p.grants, p.grantKey(), p.Account())
	} else {
		err = p.grants.Delete(ctx, p.grantKey())
	}
	if err != nil {
		p.log.Warn("persist wallet grant",
			zap.String("vendor", p.vendor),
			zap.Bool("granted", granted),
			zap.Error(err),
		)
	}
}
