package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/healthdash/backend/internal/events"
	"github.com/healthdash/backend/internal/kv"
	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/services"
	"github.com/healthdash/backend/internal/session"
	"github.com/healthdash/backend/internal/wallet"
	"go.uber.org/zap"
)

var (
	doctor = models.Identity{
		ID: 10, FullName: "Dr. Okafor", Email: "okafor@clinic.test",
		Role: models.RoleDoctor, IsVerified: true,
	}
	patient = models.Identity{
		ID: 20, FullName: "Mina", Email: "mina@mail.test",
		Role: models.RolePatient, IsVerified: true,
	}
)

type fakeAuth struct {
	byEmail  map[string]models.Identity
	byWallet map[string]models.Identity
}

func (f *fakeAuth) Signup(_ context.Context, in services.SignupInput) (*models.Identity, error) {
	if _, ok := f.byEmail[in.Email]; ok {
		return nil, services.ErrEmailAlreadyExists
	}
	id := models.Identity{ID: 99, Email: in.Email, FullName: in.FullName, Role: in.Role, IsVerified: in.Role != models.RoleDoctor}
	return &id, nil
}

func (f *fakeAuth) Signin(_ context.Context, in services.SigninInput) (*models.Identity, error) {
	id, ok := f.byEmail[in.Email]
	if !ok || in.Password != "secret-pass" {
		return nil, services.ErrInvalidCredentials
	}
	return &id, nil
}

func (f *fakeAuth) SigninWithWallet(_ context.Context, address string) (*models.Identity, error) {
	id, ok := f.byWallet[address]
	if !ok {
		return nil, services.ErrNoAccountForWallet
	}
	return &id, nil
}

type stubProvider struct {
	accounts []string
	err      error
	events   chan wallet.Event
}

func (p *stubProvider) Name() string { return "tonkeeper" }

func (p *stubProvider) RequestAccounts(context.Context) ([]string, error) {
	return p.accounts, p.err
}

func (p *stubProvider) AuthorizedAccounts(context.Context) ([]string, error) {
	return p.accounts, p.err
}

func (p *stubProvider) Events() <-chan wallet.Event { return p.events }

type captureSubscriber struct {
	mu      sync.Mutex
	handler func(events.Event)
}

func (s *captureSubscriber) Subscribe(_ context.Context, _ string, handler func(events.Event)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
	return nil
}

func (s *captureSubscriber) deliver(ev events.Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(ev)
}

type fixture struct {
	rt       *Runtime
	store    *kv.MemoryStore
	auth     *fakeAuth
	provider *stubProvider
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := zap.NewNop()
	store := kv.NewMemoryStore()
	a := &fakeAuth{
		byEmail:  map[string]models.Identity{doctor.Email: doctor, patient.Email: patient},
		byWallet: map[string]models.Identity{"0xabc": patient},
	}
	p := &stubProvider{accounts: []string{"0xABC"}, events: make(chan wallet.Event, 4)}

	ctrl := session.NewController(session.NewStore(store, log), log)
	wm := wallet.NewManager(wallet.NewBridge("tonkeeper", wallet.WithInjected(p)), store, log)
	rt := New(a, ctrl, wm, log, opts...)
	t.Cleanup(rt.Close)
	return &fixture{rt: rt, store: store, auth: a, provider: p}
}

func TestSigninThenVisit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := f.rt.Signin(ctx, services.SigninInput{Email: patient.Email, Password: "secret-pass"}); err != nil {
		t.Fatalf("Signin: %v", err)
	}

	tests := []struct {
		route     string
		wantRoute string
		wantView  session.View
		redirects int
	}{
		{"/patient/dashboard", "/patient/dashboard", session.ViewContent, 0},
		{"/dashboard", "/patient/dashboard", session.ViewContent, 1},
		{"/signin", "/patient/dashboard", session.ViewContent, 1},
		{"/doctor/dashboard", "/not-found", session.ViewContent, 1},
		{"/", "/", session.ViewContent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			page, err := f.rt.Visit(ctx, tt.route)
			if err != nil {
				t.Fatalf("Visit: %v", err)
			}
			if page.Route != tt.wantRoute || page.View != tt.wantView || len(page.Redirects) != tt.redirects {
				t.Errorf("Visit(%q) = %+v, want %s/%s with %d redirects",
					tt.route, page, tt.wantRoute, tt.wantView, tt.redirects)
			}
		})
	}
}

func TestVisitSignedOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	page, err := f.rt.Visit(ctx, "/doctor/dashboard")
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if page.Route != "/signin" || page.View != session.ViewContent {
		t.Fatalf("page = %+v, want signin", page)
	}
}

func TestSignupPendingDoctorIsNotSignedIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.rt.Signup(ctx, services.SignupInput{FullName: "Dr. New", Email: "new@clinic.test", Role: models.RoleDoctor})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if !id.AwaitingVerification() {
		t.Fatal("new doctor should await verification")
	}
	if f.rt.IsAuthenticated() {
		t.Fatal("pending doctor must not be signed in")
	}

	if _, err := f.rt.Signup(ctx, services.SignupInput{FullName: "Pat", Email: "pat@mail.test", Role: models.RolePatient}); err != nil {
		t.Fatalf("Signup patient: %v", err)
	}
	if got := f.rt.CurrentIdentity(); got == nil || got.Email != "pat@mail.test" {
		t.Fatalf("identity after patient signup = %+v", got)
	}
}

func TestSigninFailureKeepsSignedOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.rt.Signin(context.Background(), services.SigninInput{Email: patient.Email, Password: "nope"})
	if !errors.Is(err, services.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if f.rt.IsAuthenticated() {
		t.Fatal("signed in after failed signin")
	}
}

func TestSigninWithWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.rt.SigninWithWallet(ctx)
	if err != nil {
		t.Fatalf("SigninWithWallet: %v", err)
	}
	if id.ID != patient.ID {
		t.Fatalf("identity = %+v, want patient", id)
	}
	if conn := f.rt.Connection(); !conn.IsConnected || conn.Address != "0xabc" {
		t.Fatalf("connection = %+v", conn)
	}

	// Logging out leaves the wallet alone.
	if err := f.rt.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if f.rt.IsAuthenticated() || !f.rt.Connection().IsConnected {
		t.Fatal("logout should end the session and keep the wallet")
	}
}

func TestSigninWithWalletErrors(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.provider.accounts = []string{"0xdead"}
	if _, err := f.rt.SigninWithWallet(ctx); !errors.Is(err, services.ErrNoAccountForWallet) {
		t.Fatalf("unknown address: err = %v", err)
	}
	if f.rt.IsAuthenticated() {
		t.Fatal("signed in without an account")
	}
	if !f.rt.Connection().IsConnected {
		t.Fatal("wallet should stay connected after a failed lookup")
	}

	f = newFixture(t)
	f.provider.err = &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "user said no"}
	if _, err := f.rt.SigninWithWallet(ctx); !errors.Is(err, wallet.ErrUserRejected) {
		t.Fatalf("rejected: err = %v", err)
	}
}

func TestDisconnectWalletSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.rt.ConnectWallet(ctx); err != nil {
		t.Fatalf("ConnectWallet: %v", err)
	}
	f.rt.DisconnectWallet(ctx)

	log := zap.NewNop()
	wm := wallet.NewManager(wallet.NewBridge("tonkeeper", wallet.WithInjected(f.provider)), f.store, log)
	defer wm.Close()
	if conn := wm.CheckConnection(ctx); conn.IsConnected || conn.Address != "" {
		t.Fatalf("connection after restart = %+v, want disconnected", conn)
	}
}

func TestFocusEndsExpiredSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	log := zap.NewNop()
	store := kv.NewMemoryStore()
	ctrl := session.NewController(session.NewStore(store, log), log, session.WithClock(clock))
	wm := wallet.NewManager(wallet.NewBridge("tonkeeper"), store, log)
	rt := New(&fakeAuth{byEmail: map[string]models.Identity{doctor.Email: doctor}}, ctrl, wm, log)
	defer rt.Close()

	if _, err := rt.Signin(ctx, services.SigninInput{Email: doctor.Email, Password: "secret-pass"}); err != nil {
		t.Fatalf("Signin: %v", err)
	}
	if rt.Focus(ctx) {
		t.Fatal("fresh session ended on focus")
	}

	mu.Lock()
	now = now.Add(session.DefaultTTL)
	mu.Unlock()

	if !rt.Focus(ctx) {
		t.Fatal("expired session survived focus")
	}
	page, err := rt.Visit(ctx, "/doctor/dashboard")
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if page.Route != "/signin" {
		t.Fatalf("route after expiry = %q, want /signin", page.Route)
	}
}

func TestFollowsOtherInstances(t *testing.T) {
	ctx := context.Background()
	sub := &captureSubscriber{}
	f := newFixture(t, WithSubscriber(sub, "healthdash:events", "portal-a"))
	if err := f.rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.rt.Signin(ctx, services.SigninInput{Email: doctor.Email, Password: "secret-pass"}); err != nil {
		t.Fatalf("Signin: %v", err)
	}

	// Another instance on the same state logs out.
	log := zap.NewNop()
	other := session.NewController(session.NewStore(f.store, log), log)
	if err := other.Init(ctx); err != nil {
		t.Fatalf("other Init: %v", err)
	}
	if err := other.Logout(ctx); err != nil {
		t.Fatalf("other Logout: %v", err)
	}

	own := events.New(events.EventSessionEnded, nil)
	own.Source = "portal-a"
	sub.deliver(own)
	if !f.rt.IsAuthenticated() {
		t.Fatal("own events must be ignored")
	}

	foreign := events.New(events.EventSessionEnded, nil)
	foreign.Source = "portal-b"
	sub.deliver(foreign)
	if f.rt.IsAuthenticated() {
		t.Fatal("session survived a logout made by another instance")
	}
}
