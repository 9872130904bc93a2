// Command portal is a terminal client of the dashboard. It keeps the session
// and the wallet connection in redis under PORTAL_CLIENT_ID, so several
// portal processes with the same id behave like tabs of one browser.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/healthdash/backend/internal/app"
	"github.com/healthdash/backend/internal/auth"
	"github.com/healthdash/backend/internal/config"
	"github.com/healthdash/backend/internal/db"
	"github.com/healthdash/backend/internal/events"
	"github.com/healthdash/backend/internal/kv"
	"github.com/healthdash/backend/internal/models"
	"github.com/healthdash/backend/internal/repositories"
	"github.com/healthdash/backend/internal/services"
	"github.com/healthdash/backend/internal/session"
	"github.com/healthdash/backend/internal/ton"
	"github.com/healthdash/backend/internal/wallet"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	in := newConsole(os.Stdin, os.Stdout)

	store := kv.NewRedisStore(rdb, cfg.PortalClientID)
	stream := cfg.EventsStream + ":" + cfg.PortalClientID
	source := uuid.NewString()
	publisher := events.NewRedisPublisher(rdb, log)

	authService := services.NewAuthService(repositories.NewUserRepo(pool), auth.NewBcryptHasher(cfg.BcryptCost), log)

	ctrlOpts := []session.Option{
		session.WithTTL(cfg.SessionTTL),
		session.WithPublisher(publisher, stream, source),
		session.WithRedirectHandler(func(target string) { in.printf("-> %s\n", target) }),
	}
	if cfg.RevalidateOnLoad {
		ctrlOpts = append(ctrlOpts, session.WithRevalidator(authService))
	}
	ctrl := session.NewController(session.NewStore(store, log), log, ctrlOpts...)

	bridge := wallet.NewBridge(cfg.WalletVendor, wallet.WithFactory(
		ton.Factory(cfg.WalletVendor, cfg.WalletSeed,
			ton.WithApprover(in.approve),
			ton.WithGrants(store),
			ton.WithLogger(log),
		),
	))
	wm := wallet.NewManager(bridge, store, log, wallet.WithPublisher(publisher, stream, source))
	unsubscribe := wm.Subscribe(func(conn models.WalletConnection) {
		in.printf("wallet: %s\n", describeWallet(conn))
	})
	defer unsubscribe()

	rt := app.New(authService, ctrl, wm, log,
		app.WithSubscriber(events.NewRedisSubscriber(rdb, log), stream, source),
		app.WithSweepInterval(cfg.SweepInterval),
	)
	if err := rt.Start(ctx); err != nil {
		log.Fatal("failed to start portal", zap.Error(err))
	}
	defer rt.Close()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	r := &repl{rt: rt, bridge: bridge, in: in}
	r.status()
	r.loop(ctx)
}

// console serializes access to the terminal. Lines are read by one goroutine
// so that wallet approval prompts can be answered while a command runs.
type console struct {
	lines chan string
	out   io.Writer
}

func newConsole(r io.Reader, w io.Writer) *console {
	c := &console{lines: make(chan string), out: w}
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
	return c
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) ask(ctx context.Context, prompt string) (string, error) {
	c.printf("%s", prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

func (c *console) approve(ctx context.Context, account string) (bool, error) {
	answer, err := c.ask(ctx, fmt.Sprintf("allow the portal to see %s? [y/N] ", account))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes"), nil
}

type repl struct {
	rt     *app.Runtime
	bridge *wallet.Bridge
	in     *console
}

const help = `commands:
  signup                     create an account (prompts for fields)
  signin <email> <password>
  wallet-signin              sign in with the connected wallet
  logout
  visit <route>              open a page, e.g. visit /patient/dashboard
  focus                      re-check the session as if the window regained focus
  whoami
  connect | disconnect | wallet
  wallet-switch <words...>   switch the seed wallet to another mnemonic
  wallet-revoke              revoke access from the wallet side
  quit
`

func (r *repl) loop(ctx context.Context) {
	for {
		line, err := r.in.ask(ctx, "> ")
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return
		}
		if err := r.run(ctx, fields[0], fields[1:]); err != nil {
			r.in.printf("error: %s\n", describeError(err))
		}
	}
}

func (r *repl) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		r.in.printf("%s", help)
	case "signup":
		return r.signup(ctx)
	case "signin":
		if len(args) != 2 {
			return errors.New("usage: signin <email> <password>")
		}
		id, err := r.rt.Signin(ctx, services.SigninInput{Email: args[0], Password: args[1]})
		if err != nil {
			return err
		}
		r.in.printf("signed in as %s (%s)\n", id.FullName, id.Role)
	case "wallet-signin":
		id, err := r.rt.SigninWithWallet(ctx)
		if err != nil {
			return err
		}
		r.in.printf("signed in as %s (%s)\n", id.FullName, id.Role)
	case "logout":
		return r.rt.Logout(ctx)
	case "visit":
		if len(args) != 1 {
			return errors.New("usage: visit <route>")
		}
		page, err := r.rt.Visit(ctx, args[0])
		if err != nil {
			return err
		}
		for _, hop := range page.Redirects {
			r.in.printf("  redirected to %s\n", hop)
		}
		r.in.printf("%s: %s\n", page.Route, page.View)
	case "focus":
		if r.rt.Focus(ctx) {
			r.in.printf("session expired\n")
		}
	case "whoami":
		r.status()
	case "connect":
		conn, err := r.rt.ConnectWallet(ctx)
		if err != nil {
			return err
		}
		r.in.printf("wallet: %s\n", describeWallet(conn))
	case "disconnect":
		r.rt.DisconnectWallet(ctx)
	case "wallet":
		r.in.printf("wallet: %s\n", describeWallet(r.rt.Connection()))
	case "wallet-switch":
		p, err := r.seedProvider(ctx)
		if err != nil {
			return err
		}
		return p.SwitchSeed(args)
	case "wallet-revoke":
		p, err := r.seedProvider(ctx)
		if err != nil {
			return err
		}
		p.Disconnect(ctx)
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

type field struct {
	label string
	dest  *string
}

func (r *repl) signup(ctx context.Context) error {
	var in services.SignupInput
	var age, docs string

	fields := []field{
		{"full name", &in.FullName},
		{"email", &in.Email},
		{"password", &in.Password},
		{"role (doctor/patient)", &in.Role},
	}
	if err := r.fill(ctx, fields); err != nil {
		return err
	}

	switch strings.ToLower(in.Role) {
	case models.RoleDoctor:
		fields = []field{
			{"specialization", &in.Specialization},
			{"registration id", &in.RegistrationID},
			{"document urls (space separated, optional)", &docs},
		}
	case models.RolePatient:
		fields = []field{
			{"age", &age},
			{"phone", &in.Phone},
			{"gender", &in.Gender},
			{"device id (optional)", &in.DeviceID},
		}
	default:
		fields = nil
	}
	if err := r.fill(ctx, fields); err != nil {
		return err
	}

	if age != "" {
		n, err := strconv.Atoi(age)
		if err != nil {
			return errors.New("age must be a number")
		}
		in.Age = n
	}
	in.DocumentURLs = strings.Fields(docs)
	if conn := r.rt.Connection(); conn.IsConnected {
		in.WalletAddress = conn.Address
	}

	id, err := r.rt.Signup(ctx, in)
	if err != nil {
		return err
	}
	if id.AwaitingVerification() {
		r.in.printf("account created; sign in once it is verified\n")
		return nil
	}
	r.in.printf("welcome, %s\n", id.FullName)
	return nil
}

func (r *repl) fill(ctx context.Context, fields []field) error {
	for _, f := range fields {
		v, err := r.in.ask(ctx, f.label+": ")
		if err != nil {
			return err
		}
		*f.dest = v
	}
	return nil
}

func (r *repl) seedProvider(ctx context.Context) (*ton.SeedProvider, error) {
	p, err := r.bridge.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(*ton.SeedProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s is not a seed wallet", p.Name())
	}
	return sp, nil
}

func (r *repl) status() {
	if id := r.rt.CurrentIdentity(); id != nil {
		r.in.printf("signed in as %s <%s> (%s)\n", id.FullName, id.Email, id.Role)
	} else {
		r.in.printf("signed out\n")
	}
	r.in.printf("wallet: %s\n", describeWallet(r.rt.Connection()))
}

func describeWallet(conn models.WalletConnection) string {
	if !conn.IsConnected {
		return "not connected"
	}
	return conn.Address
}

// describeError renders an error the way the dashboard shows it to users.
func describeError(err error) string {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case services.IsCredentialError(err):
		return err.Error()
	case wallet.IsRetryable(err):
		return err.Error() + " (try again)"
	default:
		return "something went wrong: " + err.Error()
	}
}
