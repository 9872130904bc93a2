package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/healthdash/backend/internal/kv"
	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/rbac"
	"github.com/healthdash/backend/internal/services"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRevalidator struct {
	err   error
	calls int
}

func (f *fakeRevalidator) Revalidate(_ context.Context, id models.Identity) (models.Identity, error) {
	f.calls++
	return id, f.err
}

var (
	doctor = models.Identity{
		ID: 1, FullName: "Dr. Lee", Email: "doc@example.com", Role: models.RoleDoctor, IsVerified: true,
		Doctor: &models.DoctorProfile{Specialization: "cardiology", RegistrationID: "REG-1"},
	}
	patient = models.Identity{
		ID: 2, FullName: "Pat Doe", Email: "pat@example.com", Role: models.RolePatient, IsVerified: true,
		Patient: &models.PatientProfile{Age: 40, Phone: "+14155552671", Gender: "male"},
	}
)

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 10, 9, 30, 15, 0, time.UTC)}
}

func newController(store kv.Store, clock *fakeClock, opts ...Option) *Controller {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewController(NewStore(store, zap.NewNop()), zap.NewNop(), opts...)
}

func TestAuthorize(t *testing.T) {
	doc := models.NewSession(doctor, time.Now(), time.Hour)
	pat := models.NewSession(patient, time.Now(), time.Hour)

	tests := []struct {
		name  string
		sess  *models.Session
		route string
		want  Decision
	}{
		{"anon landing", nil, "/", Allow()},
		{"anon signin", nil, "/signin", Allow()},
		{"anon signup", nil, "/signup", Allow()},
		{"anon not-found", nil, "/not-found", Allow()},
		{"anon dashboard", nil, "/dashboard", RedirectTo("/signin")},
		{"anon doctor area", nil, "/doctor/dashboard", RedirectTo("/signin")},
		{"anon unknown", nil, "/settings", RedirectTo("/signin")},
		{"doctor signin", &doc, "/signin", RedirectTo("/doctor/dashboard")},
		{"patient signup", &pat, "/signup/", RedirectTo("/patient/dashboard")},
		{"doctor alias", &doc, "/dashboard", RedirectTo("/doctor/dashboard")},
		{"patient alias", &pat, "/dashboard?x=1", RedirectTo("/patient/dashboard")},
		{"patient in doctor area", &pat, "/doctor/dashboard", RedirectTo("/not-found")},
		{"doctor in patient area", &doc, "/patient/records", RedirectTo("/not-found")},
		{"doctor own area", &doc, "/doctor/patients/9", Allow()},
		{"patient own area", &pat, "/patient/dashboard", Allow()},
		{"signed in landing", &doc, "/", Allow()},
		{"signed in not-found", &pat, "/not-found", Allow()},
		{"signed in unscoped", &pat, "/settings", Allow()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.sess, tt.route); got != tt.want {
				t.Errorf("Authorize(%q) = %+v, want %+v", tt.route, got, tt.want)
			}
		})
	}
}

func TestAuthorizeNeverAllowsOtherRoleScope(t *testing.T) {
	routes := []string{"/doctor", "/doctor/dashboard", "/doctor/a/b", "/patient", "/patient/dashboard", "/patient/x"}
	for _, id := range []models.Identity{doctor, patient} {
		sess := models.NewSession(id, time.Now(), time.Hour)
		for _, r := range routes {
			owner, _ := rbac.ScopeOf(r)
			d := Authorize(&sess, r)
			if owner != id.Role && d.Allow {
				t.Errorf("%s allowed on %s", id.Role, r)
			}
			if owner == id.Role && !d.Allow {
				t.Errorf("%s denied own route %s", id.Role, r)
			}
		}
	}
}

func TestStoreCorruptRecordPurged(t *testing.T) {
	ctx := context.Background()

	for name, raw := range map[string]string{
		"not json":     "{{{",
		"wrong shape":  `{"identity": {"id": 0}, "expiresAt": "2026-01-01T00:00:00Z"}`,
		"missing role": `{"identity": {"id": 5, "role": "admin"}, "expiresAt": "2026-01-01T00:00:00Z"}`,
	} {
		t.Run(name, func(t *testing.T) {
			mem := kv.NewMemoryStore()
			_ = mem.Set(ctx, StateKey, []byte(raw))

			_, found, err := NewStore(mem, zap.NewNop()).Load(ctx)
			if err != nil || found {
				t.Fatalf("found=%v err=%v", found, err)
			}
			if mem.Has(StateKey) {
				t.Error("corrupt record should be purged")
			}
		})
	}
}

func TestInitStates(t *testing.T) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		c := newController(kv.NewMemoryStore(), newClock())
		if c.State() != Uninitialized {
			t.Fatalf("initial state = %s", c.State())
		}
		if err := c.Init(ctx); err != nil {
			t.Fatal(err)
		}
		if c.State() != Unauthenticated || c.IsAuthenticated() {
			t.Errorf("state = %s", c.State())
		}
	})

	t.Run("expired is purged", func(t *testing.T) {
		clock := newClock()
		mem := kv.NewMemoryStore()
		_ = kv.SetJSON(ctx, mem, StateKey, models.NewSession(patient, clock.Now().Add(-31*24*time.Hour), DefaultTTL))

		c := newController(mem, clock)
		_ = c.Init(ctx)
		if c.State() != Unauthenticated {
			t.Errorf("state = %s", c.State())
		}
		if mem.Has(StateKey) {
			t.Error("expired record should be purged")
		}
	})

	t.Run("expiry boundary is expired", func(t *testing.T) {
		clock := newClock()
		mem := kv.NewMemoryStore()
		_ = kv.SetJSON(ctx, mem, StateKey, models.Session{Identity: patient, ExpiresAt: clock.Now()})

		c := newController(mem, clock)
		_ = c.Init(ctx)
		if c.State() != Unauthenticated {
			t.Errorf("now == expiresAt must be expired, state = %s", c.State())
		}
	})

	t.Run("valid", func(t *testing.T) {
		clock := newClock()
		mem := kv.NewMemoryStore()
		_ = kv.SetJSON(ctx, mem, StateKey, models.NewSession(doctor, clock.Now(), time.Hour))

		c := newController(mem, clock)
		_ = c.Init(ctx)
		if c.State() != AuthenticatedOK {
			t.Fatalf("state = %s", c.State())
		}
		if id := c.CurrentIdentity(); id == nil || id.ID != doctor.ID {
			t.Errorf("identity = %+v", id)
		}
	})
}

func TestLoginThenReload(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	mem := kv.NewMemoryStore()

	c := newController(mem, clock)
	_ = c.Init(ctx)
	if err := c.Login(ctx, patient); err != nil {
		t.Fatal(err)
	}
	if c.State() != AuthenticatedOK {
		t.Fatalf("state after login = %s", c.State())
	}
	if snap := c.Snapshot(); snap.Route != "" || snap.RedirectTo != "" {
		t.Errorf("login must not navigate: %+v", snap)
	}

	reloaded := newController(mem, clock)
	if err := reloaded.Init(ctx); err != nil {
		t.Fatal(err)
	}
	snap := reloaded.Snapshot()
	if snap.State != AuthenticatedOK || snap.Identity == nil || snap.Identity.Email != patient.Email {
		t.Fatalf("reloaded = %+v", snap)
	}
	want := clock.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	if !snap.ExpiresAt.Truncate(time.Second).Equal(want) {
		t.Errorf("expiresAt = %v, want %v", snap.ExpiresAt, want)
	}
}

func TestSecondLoginOverwrites(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	mem := kv.NewMemoryStore()
	c := newController(mem, clock)

	_ = c.Login(ctx, patient)
	clock.Advance(time.Hour)
	_ = c.Login(ctx, doctor)

	var sess models.Session
	_, _ = kv.GetJSON(ctx, mem, StateKey, &sess)
	if sess.Identity.ID != doctor.ID {
		t.Errorf("persisted identity = %d", sess.Identity.ID)
	}
	if !sess.ExpiresAt.Equal(clock.Now().Add(DefaultTTL)) {
		t.Errorf("expiresAt = %v", sess.ExpiresAt)
	}
}

func TestNavigate(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := newController(kv.NewMemoryStore(), clock)
	guard := NewGuard()

	d, err := c.Navigate(ctx, "/patient/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if d != RedirectTo("/signin") || c.State() != Unauthenticated {
		t.Errorf("anon: %+v state=%s", d, c.State())
	}

	_ = c.Login(ctx, patient)

	d, _ = c.Navigate(ctx, "/doctor/dashboard")
	if d != RedirectTo("/not-found") {
		t.Errorf("patient on doctor route: %+v", d)
	}
	if c.State() != AuthenticatedRedirecting {
		t.Errorf("state = %s", c.State())
	}
	if v := guard.Evaluate(c.Snapshot()); v != ViewPlaceholder {
		t.Errorf("guard = %s, want placeholder", v)
	}

	d, _ = c.Navigate(ctx, d.RedirectTo)
	if !d.Allow || c.State() != AuthenticatedOK {
		t.Errorf("not-found: %+v state=%s", d, c.State())
	}

	d, _ = c.Navigate(ctx, "/patient/dashboard")
	if !d.Allow {
		t.Errorf("own dashboard: %+v", d)
	}
	if v := guard.Evaluate(c.Snapshot()); v != ViewContent {
		t.Errorf("guard = %s, want content", v)
	}
}

func TestNavigateEndsExpiredSession(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	mem := kv.NewMemoryStore()
	c := newController(mem, clock, WithTTL(time.Hour))

	_ = c.Login(ctx, doctor)
	clock.Advance(time.Hour)

	d, _ := c.Navigate(ctx, "/doctor/dashboard")
	if d != RedirectTo("/signin") {
		t.Errorf("decision = %+v", d)
	}
	if c.State() != Unauthenticated || mem.Has(StateKey) {
		t.Errorf("state = %s, persisted = %v", c.State(), mem.Has(StateKey))
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	var redirects []string
	c := newController(mem, newClock(), WithRedirectHandler(func(target string) {
		redirects = append(redirects, target)
	}))

	_ = c.Login(ctx, doctor)
	if err := c.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != Unauthenticated || c.CurrentIdentity() != nil {
		t.Errorf("state = %s", c.State())
	}
	if mem.Has(StateKey) {
		t.Error("session record should be cleared")
	}
	if len(redirects) != 1 || redirects[0] != "/signin" {
		t.Errorf("redirects = %v", redirects)
	}
}

func TestRevalidateAndRun(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	mem := kv.NewMemoryStore()

	redirected := make(chan string, 1)
	c := newController(mem, clock, WithTTL(time.Minute), WithRedirectHandler(func(target string) {
		redirected <- target
	}))
	_ = c.Login(ctx, patient)

	if c.Focus(ctx) {
		t.Fatal("fresh session must survive focus")
	}

	clock.Advance(2 * time.Minute)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(runCtx, 5*time.Millisecond)
		close(done)
	}()

	select {
	case target := <-redirected:
		if target != "/signin" {
			t.Errorf("redirect = %s", target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not end the session")
	}
	if c.State() != Unauthenticated || mem.Has(StateKey) {
		t.Errorf("state = %s", c.State())
	}

	cancel()
	<-done
}

func TestRevalidationPolicy(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		identity models.Identity
		err      error
		want     State
		calls    int
	}{
		{"verified doctor", doctor, nil, AuthenticatedOK, 1},
		{"doctor lost verification", doctor, services.ErrPendingVerification, Unauthenticated, 1},
		{"doctor record gone", doctor, services.ErrInvalidCredentials, Unauthenticated, 1},
		{"store down keeps session", doctor, &services.StoreError{Op: "find", Err: errors.New("timeout")}, AuthenticatedOK, 1},
		{"patients are not rechecked", patient, services.ErrPendingVerification, AuthenticatedOK, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			mem := kv.NewMemoryStore()
			_ = kv.SetJSON(ctx, mem, StateKey, models.NewSession(tt.identity, clock.Now(), time.Hour))

			rv := &fakeRevalidator{err: tt.err}
			c := newController(mem, clock, WithRevalidator(rv))
			_ = c.Init(ctx)

			if c.State() != tt.want {
				t.Errorf("state = %s, want %s", c.State(), tt.want)
			}
			if rv.calls != tt.calls {
				t.Errorf("revalidate calls = %d, want %d", rv.calls, tt.calls)
			}
			if tt.want == Unauthenticated && mem.Has(StateKey) {
				t.Error("revoked session should be purged")
			}
		})
	}
}

func TestReloadPicksUpExternalLogout(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	mem := kv.NewMemoryStore()

	a := newController(mem, clock)
	b := newController(mem, clock)
	_ = a.Login(ctx, patient)
	_ = b.Init(ctx)
	if !b.IsAuthenticated() {
		t.Fatal("second instance should see the session")
	}

	_ = a.Logout(ctx)
	_ = b.Reload(ctx)
	if b.IsAuthenticated() || b.Snapshot().RedirectTo != "/signin" {
		t.Errorf("b = %+v", b.Snapshot())
	}
}

func TestSubscribersSeeChanges(t *testing.T) {
	ctx := context.Background()
	c := newController(kv.NewMemoryStore(), newClock())

	var states []State
	unsubscribe := c.Subscribe(func(s Snapshot) {
		// reading the controller from a callback must not deadlock
		_ = c.State()
		states = append(states, s.State)
	})

	_ = c.Init(ctx)
	_ = c.Login(ctx, doctor)
	unsubscribe()
	_ = c.Logout(ctx)

	want := []State{Unauthenticated, AuthenticatedOK}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestGuard(t *testing.T) {
	doc := doctor
	pat := patient

	tests := []struct {
		name  string
		guard Guard
		snap  Snapshot
		want  View
	}{
		{"uninitialized", NewGuard(), Snapshot{State: Uninitialized}, ViewLoading},
		{"checking", NewGuard(), Snapshot{State: Checking, Identity: &doc}, ViewLoading},
		{"signed out", NewGuard(), Snapshot{State: Unauthenticated}, ViewPlaceholder},
		{"redirecting", NewGuard(), Snapshot{State: AuthenticatedRedirecting, Identity: &pat, RedirectTo: "/not-found"}, ViewPlaceholder},
		{"role not allowed", NewGuard(models.RoleDoctor), Snapshot{State: AuthenticatedOK, Identity: &pat, Route: "/settings"}, ViewPlaceholder},
		{"route of other role", NewGuard(), Snapshot{State: AuthenticatedOK, Identity: &pat, Route: "/doctor/dashboard"}, ViewPlaceholder},
		{"default allows doctor", NewGuard(), Snapshot{State: AuthenticatedOK, Identity: &doc, Route: "/doctor/dashboard"}, ViewContent},
		{"explicit patient", NewGuard(models.RolePatient), Snapshot{State: AuthenticatedOK, Identity: &pat, Route: "/patient/dashboard"}, ViewContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.guard.Evaluate(tt.snap); got != tt.want {
				t.Errorf("Evaluate = %s, want %s", got, tt.want)
			}
		})
	}
}
