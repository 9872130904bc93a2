package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/healthdash/backend/internal/events"
	"github.com/healthdash/backend/internal/kv"
	"github.com/healthdash/backend/internal/metrics"
	"github.com/healthdash/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StateKey is the persisted key of the wallet record.
const StateKey = "wallet"

type Resolver interface {
	Resolve(ctx context.Context) (Provider, error)
}

type ManagerOption func(*Manager)

// WithPublisher emits wallet events to stream. source tags the emitting instance.
func WithPublisher(pub events.Publisher, stream, source string) ManagerOption {
	return func(m *Manager) {
		m.pub = pub
		m.stream = stream
		m.source = source
	}
}

func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// Manager is the single source of truth for the WalletConnection.
// Only the manager writes the connection and its persisted record.
type Manager struct {
	resolver Resolver
	store    kv.Store
	log      *zap.Logger
	metrics  *metrics.Collector
	pub      events.Publisher
	stream   string
	source   string

	connect singleflight.Group

	mu       sync.Mutex
	conn     models.WalletConnection
	provider Provider
	stop     chan struct{}
	subs     map[int]func(models.WalletConnection)
	nextSub  int
	wg       sync.WaitGroup
}

func NewManager(resolver Resolver, store kv.Store, log *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		resolver: resolver,
		store:    store,
		log:      log,
		subs:     make(map[int]func(models.WalletConnection)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connection returns a snapshot of the current connection.
func (m *Manager) Connection() models.WalletConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Subscribe registers fn for every connection change, whether it comes from an
// explicit call or a provider event. The returned func unregisters it.
func (m *Manager) Subscribe(fn func(models.WalletConnection)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// CheckConnection confirms the persisted connection against the provider
// without prompting. Any failure leaves the wallet disconnected.
func (m *Manager) CheckConnection(ctx context.Context) models.WalletConnection {
	var saved models.WalletConnection
	found, err := kv.GetJSON(ctx, m.store, StateKey, &saved)
	if err != nil {
		m.log.Warn("wallet record unreadable, clearing", zap.Error(err))
		m.Disconnect(ctx)
		return models.WalletConnection{}
	}
	if !found || !saved.IsConnected || saved.Address == "" {
		m.Disconnect(ctx)
		return models.WalletConnection{}
	}

	p, err := m.resolver.Resolve(ctx)
	if err != nil {
		m.log.Info("wallet check: no provider", zap.Error(err))
		m.metrics.RecordWalletOp("check", "no_provider")
		m.Disconnect(ctx)
		return models.WalletConnection{}
	}

	accounts, err := p.AuthorizedAccounts(ctx)
	if err != nil || len(accounts) == 0 || !SameAddress(accounts[0], saved.Address) {
		if err != nil {
			m.log.Info("wallet check: provider error", zap.String("provider", p.Name()), zap.Error(err))
		}
		m.metrics.RecordWalletOp("check", "stale")
		m.Disconnect(ctx)
		return models.WalletConnection{}
	}

	conn := models.ConnectedWallet(NormalizeAddress(accounts[0]))

	m.mu.Lock()
	changed := m.conn != conn
	m.conn = conn
	m.watchLocked(p)
	m.mu.Unlock()

	m.metrics.RecordWalletOp("check", "confirmed")
	if changed {
		m.notify(conn)
	}
	return conn
}

// ConnectWallet returns the current connection when there is one; otherwise
// it performs one handshake shared by every concurrent caller.
func (m *Manager) ConnectWallet(ctx context.Context) (models.WalletConnection, error) {
	if conn := m.Connection(); conn.IsConnected {
		return conn, nil
	}

	v, err, shared := m.connect.Do("connect", func() (any, error) {
		return m.handshake(ctx)
	})
	if shared {
		m.log.Debug("joined in-flight wallet handshake")
	}
	if err != nil {
		return models.WalletConnection{}, err
	}
	return v.(models.WalletConnection), nil
}

func (m *Manager) handshake(ctx context.Context) (models.WalletConnection, error) {
	p, err := m.resolver.Resolve(ctx)
	if err != nil {
		m.metrics.RecordWalletOp("connect", "no_provider")
		if !errors.Is(err, ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return models.WalletConnection{}, err
	}

	m.metrics.RecordHandshake()
	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		err = classify(err)
		m.metrics.RecordWalletOp("connect", outcome(err))
		m.log.Info("wallet connect failed", zap.String("provider", p.Name()), zap.Error(err))
		return models.WalletConnection{}, err
	}
	if len(accounts) == 0 || NormalizeAddress(accounts[0]) == "" {
		m.metrics.RecordWalletOp("connect", "no_accounts")
		return models.WalletConnection{}, ErrNoAccountsReturned
	}

	conn := models.ConnectedWallet(NormalizeAddress(accounts[0]))

	m.mu.Lock()
	m.conn = conn
	m.persistLocked(ctx, conn)
	m.watchLocked(p)
	m.mu.Unlock()

	m.metrics.RecordWalletOp("connect", "ok")
	m.log.Info("wallet connected", zap.String("provider", p.Name()), zap.String("address", conn.Address))
	m.notify(conn)
	m.publish(ctx, events.EventWalletConnected, conn.Address)
	return conn, nil
}

// Disconnect clears the connection and its persisted record. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	was := m.conn
	m.conn = models.WalletConnection{}
	m.stopWatchLocked()
	m.persistLocked(ctx, m.conn)
	m.mu.Unlock()

	if was.IsConnected {
		m.metrics.RecordWalletOp("disconnect", "ok")
		m.notify(models.WalletConnection{})
		m.publish(ctx, events.EventWalletDisconnected, was.Address)
	}
}

// Close stops watching provider events and waits for the consumer to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopWatchLocked()
	m.mu.Unlock()
	m.wg.Wait()
}

// watchLocked starts the event consumer for p, replacing the previous one.
func (m *Manager) watchLocked(p Provider) {
	if m.provider == p && m.stop != nil {
		return
	}
	m.stopWatchLocked()

	stop := make(chan struct{})
	m.provider = p
	m.stop = stop

	m.wg.Add(1)
	go m.consume(p, p.Events(), stop)
}

func (m *Manager) stopWatchLocked() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.provider = nil
}

func (m *Manager) consume(p Provider, ch <-chan Event, stop chan struct{}) {
	defer m.wg.Done()
	if ch == nil {
		return
	}
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.apply(p, stop, ev)
		}
	}
}

// apply handles one provider event. Events delivered to a watch that has
// since been replaced are dropped.
func (m *Manager) apply(p Provider, watch chan struct{}, ev Event) {
	ctx := context.Background()

	m.mu.Lock()
	if m.stop != watch || m.provider != p {
		m.mu.Unlock()
		m.metrics.RecordWalletEvent(ev.Kind.String(), false)
		m.log.Debug("dropping event from replaced provider", zap.String("provider", p.Name()), zap.Stringer("kind", ev.Kind))
		return
	}

	was := m.conn
	next := models.WalletConnection{}
	if ev.Kind == EventAccountsChanged && len(ev.Accounts) > 0 {
		next = models.ConnectedWallet(NormalizeAddress(ev.Accounts[0]))
	}
	if next == was {
		m.mu.Unlock()
		m.metrics.RecordWalletEvent(ev.Kind.String(), true)
		return
	}

	m.conn = next
	m.persistLocked(ctx, next)
	if !next.IsConnected {
		m.stopWatchLocked()
	}
	m.mu.Unlock()

	m.metrics.RecordWalletEvent(ev.Kind.String(), true)
	m.log.Info("wallet event applied",
		zap.String("provider", p.Name()),
		zap.Stringer("kind", ev.Kind),
		zap.String("address", next.Address),
	)
	m.notify(next)

	switch {
	case !next.IsConnected:
		m.publish(ctx, events.EventWalletDisconnected, was.Address)
	case was.IsConnected:
		m.publish(ctx, events.EventWalletAccountChanged, next.Address)
	default:
		m.publish(ctx, events.EventWalletConnected, next.Address)
	}
}

func (m *Manager) persistLocked(ctx context.Context, conn models.WalletConnection) {
	var err error
	if conn.IsConnected {
		err = kv.SetJSON(ctx, m.store, StateKey, conn)
	} else {
		err = m.store.Delete(ctx, StateKey)
	}
	if err != nil {
		m.log.Warn("failed to persist wallet record", zap.Error(err))
	}
}

func (m *Manager) notify(conn models.WalletConnection) {
	m.mu.Lock()
	fns := make([]func(models.WalletConnection), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(conn)
	}
}

func (m *Manager) publish(ctx context.Context, eventType, addr string) {
	if m.pub == nil {
		return
	}
	ev := events.New(eventType, map[string]any{"address": addr})
	ev.Source = m.source
	if err := m.pub.Publish(ctx, m.stream, ev); err != nil {
		m.log.Warn("failed to publish wallet event", zap.String("type", eventType), zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrUserRejected):
		return "rejected"
	case errors.Is(err, ErrProviderUnavailable):
		return "no_provider"
	case errors.Is(err, ErrNoAccountsReturned):
		return "no_accounts"
	default:
		return "error"
	}
}
