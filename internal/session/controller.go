package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/healthdash/backend/internal/events"
	"github.com/healthdash/backend/internal/metrics"
	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/rbac"
	"github.com/healthdash/backend/internal/services"
	"go.uber.org/zap"
)

// DefaultTTL is the lifetime of a session created by Login.
const DefaultTTL = 30 * 24 * time.Hour

type State int

const (
	Uninitialized State = iota
	Checking
	Unauthenticated
	AuthenticatedOK
	AuthenticatedRedirecting
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Checking:
		return "checking"
	case Unauthenticated:
		return "unauthenticated"
	case AuthenticatedOK:
		return "authenticated_ok"
	case AuthenticatedRedirecting:
		return "authenticated_redirecting"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent read of the controller.
type Snapshot struct {
	State      State
	Identity   *models.Identity
	ExpiresAt  time.Time
	Route      string
	RedirectTo string
}

// Revalidator re-checks a cached identity against the credential store.
type Revalidator interface {
	Revalidate(ctx context.Context, identity models.Identity) (models.Identity, error)
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRevalidator re-checks doctor verification every time a persisted
// session is loaded.
func WithRevalidator(r Revalidator) Option {
	return func(c *Controller) { c.revalidator = r }
}

func WithPublisher(pub events.Publisher, stream, source string) Option {
	return func(c *Controller) {
		c.pub = pub
		c.stream = stream
		c.source = source
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRedirectHandler is called with the target of every redirect the
// controller issues on its own (logout, expiry).
func WithRedirectHandler(fn func(target string)) Option {
	return func(c *Controller) { c.onRedirect = fn }
}

// Controller holds the current session and enforces route access.
// It is the only writer of the persisted session.
type Controller struct {
	store       *Store
	log         *zap.Logger
	now         func() time.Time
	ttl         time.Duration
	revalidator Revalidator
	metrics     *metrics.Collector
	pub         events.Publisher
	stream      string
	source      string
	onRedirect  func(string)

	// op serializes operations that touch the store; mu guards the fields
	// below and is never held across I/O.
	op sync.Mutex

	mu       sync.Mutex
	state    State
	session  *models.Session
	route    string
	redirect string
	subs     map[int]func(Snapshot)
	nextSub  int
}

func NewController(store *Store, log *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		store: store,
		log:   log,
		now:   time.Now,
		ttl:   DefaultTTL,
		subs:  make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init loads the persisted session once. Later calls are no-ops.
func (c *Controller) Init(ctx context.Context) error {
	c.op.Lock()
	var err error
	if c.State() == Uninitialized {
		err = c.check(ctx)
	}
	snap := c.Snapshot()
	c.op.Unlock()

	c.notify(snap)
	return err
}

// Reload re-reads the persisted session, e.g. after another instance of the
// same client changed it.
func (c *Controller) Reload(ctx context.Context) error {
	c.op.Lock()
	wasAuthenticated := c.IsAuthenticated()
	err := c.check(ctx)
	lost := wasAuthenticated && !c.IsAuthenticated()
	if lost {
		c.setRedirect(rbac.RouteSignin)
	}
	snap := c.Snapshot()
	c.op.Unlock()

	c.notify(snap)
	if lost {
		c.redirectTo(rbac.RouteSignin)
	}
	return err
}

// check runs the Checking step. Caller holds c.op.
func (c *Controller) check(ctx context.Context) error {
	c.transition(Checking, nil)

	sess, found, err := c.store.Load(ctx)
	if err != nil {
		c.log.Error("session load failed, treating as signed out", zap.Error(err))
		c.transition(Unauthenticated, nil)
		return err
	}
	if !found {
		c.transition(Unauthenticated, nil)
		return nil
	}
	if sess.ExpiredAt(c.now()) {
		c.purge(ctx, events.EventSessionExpired, sess.Identity)
		return nil
	}

	if c.revalidator != nil && sess.Identity.IsDoctor() {
		if _, err := c.revalidator.Revalidate(ctx, sess.Identity); err != nil {
			if services.IsCredentialError(err) {
				c.log.Info("cached session no longer valid",
					zap.Int64("user_id", sess.Identity.ID),
					zap.Error(err),
				)
				c.purge(ctx, events.EventSessionEnded, sess.Identity)
				return nil
			}
			// store unavailable: keep the cached session
			c.log.Warn("could not revalidate session", zap.Int64("user_id", sess.Identity.ID), zap.Error(err))
		}
	}

	c.transition(AuthenticatedOK, &sess)
	return nil
}

// Navigate authorizes route for the current session, loading it first if
// needed. An expired session is ended before the decision is made.
func (c *Controller) Navigate(ctx context.Context, route string) (Decision, error) {
	c.op.Lock()
	var err error
	if c.State() == Uninitialized {
		err = c.check(ctx)
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil && sess.ExpiredAt(c.now()) {
		c.purge(ctx, events.EventSessionExpired, sess.Identity)
		sess = nil
	}

	d := Authorize(sess, route)

	c.mu.Lock()
	c.route = rbac.Clean(route)
	c.redirect = d.RedirectTo
	if c.session != nil {
		next := AuthenticatedOK
		if !d.Allow {
			next = AuthenticatedRedirecting
		}
		c.setStateLocked(next)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.op.Unlock()

	c.metrics.RecordRouteDecision(!d.Allow)
	c.notify(snap)
	return d, err
}

// Login starts a session for identity. It does not navigate. A second login
// replaces the previous session.
func (c *Controller) Login(ctx context.Context, identity models.Identity) error {
	sess := models.NewSession(identity, c.now(), c.ttl)

	c.op.Lock()
	if err := c.store.Save(ctx, sess); err != nil {
		c.op.Unlock()
		return err
	}
	c.transition(AuthenticatedOK, &sess)
	c.setRedirect("")
	snap := c.Snapshot()
	c.op.Unlock()

	c.log.Info("session started",
		zap.Int64("user_id", identity.ID),
		zap.String("role", identity.Role),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	c.notify(snap)
	c.publish(ctx, events.EventSessionStarted, identity)
	return nil
}

// Logout ends the session and redirects to sign-in.
func (c *Controller) Logout(ctx context.Context) error {
	c.op.Lock()
	c.mu.Lock()
	var identity models.Identity
	if c.session != nil {
		identity = c.session.Identity
	}
	c.mu.Unlock()

	err := c.store.Clear(ctx)
	if err != nil {
		c.log.Error("failed to clear session record", zap.Error(err))
	}
	c.transition(Unauthenticated, nil)
	c.setRedirect(rbac.RouteSignin)
	snap := c.Snapshot()
	c.op.Unlock()

	c.notify(snap)
	c.redirectTo(rbac.RouteSignin)
	if identity.ID != 0 {
		c.publish(ctx, events.EventSessionEnded, identity)
	}
	return err
}

// Revalidate ends the session when it has lapsed. It reports whether the
// session was ended.
func (c *Controller) Revalidate(ctx context.Context) bool {
	c.op.Lock()
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil || !sess.ExpiredAt(c.now()) {
		c.op.Unlock()
		return false
	}

	c.purge(ctx, events.EventSessionExpired, sess.Identity)
	c.setRedirect(rbac.RouteSignin)
	snap := c.Snapshot()
	c.op.Unlock()

	c.log.Info("session expired", zap.Int64("user_id", sess.Identity.ID))
	c.notify(snap)
	c.redirectTo(rbac.RouteSignin)
	return true
}

// Focus is called when the client regains focus.
func (c *Controller) Focus(ctx context.Context) bool {
	return c.Revalidate(ctx)
}

// Run sweeps for expiry every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Revalidate(ctx)
		}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentIdentity returns a copy of the signed in identity, or nil.
func (c *Controller) CurrentIdentity() *models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.ExpiredAt(c.now()) {
		return nil
	}
	id := c.session.Identity
	return &id
}

func (c *Controller) IsAuthenticated() bool {
	return c.CurrentIdentity() != nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for state changes. The returned func unregisters it.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Route: c.route, RedirectTo: c.redirect}
	if c.session != nil {
		id := c.session.Identity
		snap.Identity = &id
		snap.ExpiresAt = c.session.ExpiresAt
	}
	return snap
}

// purge removes the persisted session and signs out. Caller holds c.op.
func (c *Controller) purge(ctx context.Context, reason string, identity models.Identity) {
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("failed to purge session record", zap.Error(err))
	}
	c.transition(Unauthenticated, nil)
	c.publish(ctx, reason, identity)
}

func (c *Controller) transition(state State, sess *models.Session) {
	c.mu.Lock()
	c.session = sess
	c.setStateLocked(state)
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.metrics.RecordSessionState(state.String())
}

func (c *Controller) setRedirect(target string) {
	c.mu.Lock()
	c.redirect = target
	c.mu.Unlock()
}

func (c *Controller) notify(snap Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) redirectTo(target string) {
	if c.onRedirect != nil {
		c.onRedirect(target)
	}
}

func (c *Controller) publish(ctx context.Context, eventType string, identity models.Identity) {
	if c.pub == nil {
		return
	}
	ev := events.New(eventType, map[string]any{
		"user_id": identity.ID,
		"role":    identity.Role,
	})
	ev.Source = c.source
	if err := c.pub.Publish(ctx, c.stream, ev); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("failed to publish session event", zap.String("type", eventType), zap.Error(err))
	}
}
