package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/healthdash/backend/internal/events"
	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/rbac"
	"github.com/healthdash/backend/internal/services"
	"github.com/healthdash/backend/internal/session"
	"github.com/healthdash/backend/internal/wallet"
	"go.uber.org/zap"
)

// maxRedirects bounds how many redirects Visit follows.
const maxRedirects = 4

var ErrRedirectLoop = errors.New("too many redirects")

// Authenticator is implemented by services.AuthService.
type Authenticator interface {
	Signup(ctx context.Context, in services.SignupInput) (*models.Identity, error)
	Signin(ctx context.Context, in services.SigninInput) (*models.Identity, error)
	SigninWithWallet(ctx context.Context, address string) (*models.Identity, error)
}

type Option func(*Runtime)

// WithSubscriber makes the runtime follow session and wallet changes made by
// other instances sharing the same persisted state. Events tagged with source
// are our own and are skipped.
func WithSubscriber(sub events.Subscriber, stream, source string) Option {
	return func(r *Runtime) {
		r.sub = sub
		r.stream = stream
		r.source = source
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(r *Runtime) { r.sweep = d }
}

// Page is where a visit ended up and what the guard lets the user see there.
type Page struct {
	Route     string
	View      session.View
	Redirects []string
}

// Runtime is the client context: one session controller, one wallet manager
// and the auth service they sit on. Construct it once and pass it around.
type Runtime struct {
	auth    Authenticator
	session *session.Controller
	wallet  *wallet.Manager
	log     *zap.Logger

	sub    events.Subscriber
	stream string
	source string
	sweep  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(auth Authenticator, ctrl *session.Controller, wm *wallet.Manager, log *zap.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		auth:    auth,
		session: ctrl,
		wallet:  wm,
		log:     log,
		sweep:   time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) Session() *session.Controller { return r.session }

func (r *Runtime) Wallet() *wallet.Manager { return r.wallet }

// Start loads the persisted session and wallet, then runs the expiry sweep
// and the event follower until Close.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.session.Init(ctx); err != nil {
		r.log.Warn("session init failed", zap.Error(err))
	}
	conn := r.wallet.CheckConnection(ctx)
	r.log.Info("portal started",
		zap.String("session", r.session.State().String()),
		zap.Bool("wallet_connected", conn.IsConnected),
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.session.Run(ctx, r.sweep)
	}()

	if r.sub != nil {
		if err := r.sub.Subscribe(ctx, r.stream, func(ev events.Event) { r.follow(ctx, ev) }); err != nil {
			r.log.Warn("event subscription failed, running without cross-instance sync", zap.Error(err))
		}
	}
	return nil
}

// Close stops background work and releases the wallet provider.
func (r *Runtime) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.wallet.Close()
}

func (r *Runtime) follow(ctx context.Context, ev events.Event) {
	if ev.Source == r.source {
		return
	}
	switch ev.Type {
	case events.EventSessionStarted, events.EventSessionEnded, events.EventSessionExpired:
		if err := r.session.Reload(ctx); err != nil {
			r.log.Warn("session reload failed", zap.String("event", ev.Type), zap.Error(err))
		}
	case events.EventWalletConnected, events.EventWalletDisconnected, events.EventWalletAccountChanged:
		r.wallet.CheckConnection(ctx)
	}
}

// Signup creates the account and signs it in. A doctor awaiting
// verification is created but not signed in.
func (r *Runtime) Signup(ctx context.Context, in services.SignupInput) (*models.Identity, error) {
	identity, err := r.auth.Signup(ctx, in)
	if err != nil {
		return nil, err
	}
	if identity.AwaitingVerification() {
		return identity, nil
	}
	if err := r.session.Login(ctx, *identity); err != nil {
		return nil, fmt.Errorf("login after signup: %w", err)
	}
	return identity, nil
}

func (r *Runtime) Signin(ctx context.Context, in services.SigninInput) (*models.Identity, error) {
	identity, err := r.auth.Signin(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := r.session.Login(ctx, *identity); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return identity, nil
}

// SigninWithWallet connects the wallet if needed and signs in the account
// linked to its address.
func (r *Runtime) SigninWithWallet(ctx context.Context) (*models.Identity, error) {
	conn, err := r.wallet.ConnectWallet(ctx)
	if err != nil {
		return nil, err
	}
	identity, err := r.auth.SigninWithWallet(ctx, conn.Address)
	if err != nil {
		return nil, err
	}
	if err := r.session.Login(ctx, *identity); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return identity, nil
}

// Logout ends the session. The wallet stays connected.
func (r *Runtime) Logout(ctx context.Context) error {
	return r.session.Logout(ctx)
}

// Visit navigates to route, following redirects, and reports what the
// screen at the final route may show.
func (r *Runtime) Visit(ctx context.Context, route string) (Page, error) {
	var page Page
	for {
		d, err := r.session.Navigate(ctx, route)
		if err != nil {
			return page, err
		}
		if d.Allow {
			break
		}
		if len(page.Redirects) == maxRedirects {
			return page, fmt.Errorf("%w: %v", ErrRedirectLoop, page.Redirects)
		}
		page.Redirects = append(page.Redirects, d.RedirectTo)
		route = d.RedirectTo
	}

	page.Route = rbac.Clean(route)
	if rbac.IsPublic(page.Route) {
		page.View = session.ViewContent
		return page, nil
	}
	page.View = guardFor(page.Route).Evaluate(r.session.Snapshot())
	return page, nil
}

func guardFor(route string) session.Guard {
	if role, ok := rbac.ScopeOf(route); ok {
		return session.NewGuard(role)
	}
	return session.NewGuard()
}

// Focus re-checks the session when the client regains focus.
func (r *Runtime) Focus(ctx context.Context) bool {
	return r.session.Focus(ctx)
}

func (r *Runtime) ConnectWallet(ctx context.Context) (models.WalletConnection, error) {
	return r.wallet.ConnectWallet(ctx)
}

func (r *Runtime) DisconnectWallet(ctx context.Context) {
	r.wallet.Disconnect(ctx)
}

func (r *Runtime) Connection() models.WalletConnection {
	return r.wallet.Connection()
}

func (r *Runtime) CurrentIdentity() *models.Identity {
	return r.session.CurrentIdentity()
}

func (r *Runtime) IsAuthenticated() bool {
	return r.session.IsAuthenticated()
}
