package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/applock"
	"github.com/MrEthical07/applock/authapi"
	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/internal/clock"
	"github.com/MrEthical07/applock/internal/mockapi"
	"github.com/MrEthical07/applock/lifecycle"
	"github.com/MrEthical07/applock/netstatus"
	"github.com/MrEthical07/applock/querycache"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <script.yaml>",
	Short: "Run a scenario script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := LoadScript(args[0])
		if err != nil {
			return err
		}
		log, err := applock.NewLogger(logLevel, logFormat)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		r, err := newRunner(script, log, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Run(ctx)
	},
}

type runner struct {
	script *Script
	log    *zap.Logger
	out    io.Writer

	cfg    applock.Config
	clk    *clock.Fake
	hw     *biometric.Scripted
	store  credstore.Store
	client *authapi.Client
	mock   *mockapi.Server
	ctrl   *applock.Controller
	cache  *querycache.Cache

	closers []func()
}

// stepResult is what the runner prints after each step.
type stepResult struct {
	Step          int    `json:"step"`
	Action        string `json:"action"`
	Error         string `json:"error,omitempty"`
	Phase         string `json:"phase"`
	Lock          string `json:"lock"`
	Route         string `json:"route,omitempty"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Offline       bool   `json:"offline"`
	Stale         *bool  `json:"stale,omitempty"`
	Failed        string `json:"failed,omitempty"`
}

func newRunner(s *Script, log *zap.Logger, out io.Writer) (*runner, error) {
	cfg, err := applock.LoadConfig(s.Config)
	if err != nil {
		return nil, err
	}
	r := &runner{
		script: s,
		log:    log,
		out:    out,
		cfg:    cfg,
		clk:    clock.NewFake(time.Now()),
		hw:     biometric.NewScripted(),
	}

	baseURL := s.Backend
	if s.Backend == "mock" {
		if baseURL, err = r.startMock(); err != nil {
			r.Close()
			return nil, err
		}
	}
	r.client = authapi.New(baseURL, authapi.WithLogger(log.Named("authapi")))

	switch s.Store {
	case "redis":
		addr := s.RedisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			r.Close()
			return nil, errors.New("store redis needs redis_addr or REDIS_ADDR")
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		r.closers = append(r.closers, func() { _ = client.Close() })
		r.store = credstore.NewRedisStore(client, "applock-sim", 0)
	default:
		r.store = credstore.NewMemoryStore()
	}

	if err := r.build(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *runner) startMock() (string, error) {
	srv, err := mockapi.New(mockapi.Config{
		Secret: []byte(uuid.NewString()),
		Logger: r.log.Named("mockapi"),
	})
	if err != nil {
		return "", err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{Handler: srv.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = httpSrv.Serve(ln) }()
	r.closers = append(r.closers, func() { _ = httpSrv.Close() })
	r.mock = srv
	return "http://" + ln.Addr().String(), nil
}

// build wires a fresh controller and cache over the shared store, as a
// process launch would.
func (r *runner) build() error {
	r.cache = applock.NewQueryCache(r.cfg, r.store, r.log.Named("querycache"))
	b := applock.New()
	if auditLog {
		r.cfg.Audit.Enabled = true
		b.WithAuditSink(applock.NewLoggerSink(r.log.Named("audit")))
	}
	ctrl, err := b.
		WithConfig(r.cfg).
		WithStore(r.store).
		WithAuthClient(r.client).
		WithBiometric(r.hw).
		WithDataCache(r.cache).
		WithNavigator(applock.NavigatorFunc(func(route applock.Route) {
			r.log.Debug("navigate", zap.String("route", string(route)))
		})).
		WithLogger(r.log.Named("controller")).
		WithClock(r.clk).
		Build()
	if err != nil {
		return err
	}
	r.ctrl = ctrl
	return nil
}

// Close releases the controller, the mock server and the Redis client.
func (r *runner) Close() {
	if r.ctrl != nil {
		r.ctrl.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Run executes every step and fails if any expectation did not hold.
func (r *runner) Run(ctx context.Context) error {
	failed := 0
	for i, st := range r.script.Steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := r.exec(ctx, st)
		out := r.result(i+1, st.Action, err)
		out.Stale = res
		if st.Expect != nil {
			if msg := check(st.Expect, out); msg != "" {
				out.Failed = msg
				failed++
			}
		}
		r.print(out)
	}
	if failed > 0 {
		return fmt.Errorf("%d expectation(s) failed", failed)
	}
	return nil
}

func (r *runner) exec(ctx context.Context, st Step) (*bool, error) {
	switch st.Action {
	case "start":
		return nil, r.ctrl.Start(ctx)
	case "relaunch":
		r.ctrl.Close()
		return nil, r.build()
	case "biometric":
		for _, v := range st.Results {
			if v == "success" {
				r.hw.Push(biometric.Result{Success: true})
			} else {
				r.hw.Push(biometric.Result{Error: v})
			}
		}
		return nil, nil
	case "retry_biometric":
		return nil, r.ctrl.RetryBiometric(ctx)
	case "cancel_biometric":
		return nil, r.ctrl.CancelBiometric(ctx)
	case "fallback":
		return nil, r.ctrl.FallbackToPassword(ctx)
	case "login":
		return nil, r.ctrl.Login(ctx, st.Username, st.Password)
	case "logout":
		return nil, r.ctrl.Logout(ctx)
	case "unlock":
		return nil, r.ctrl.Unlock(ctx)
	case "lifecycle":
		state, err := lifecycle.Parse(st.State)
		if err != nil {
			return nil, err
		}
		r.ctrl.HandleLifecycle(ctx, state)
		return nil, nil
	case "advance":
		d, _ := time.ParseDuration(st.Duration)
		r.clk.Advance(d)
		return nil, nil
	case "touch":
		r.ctrl.UserInteraction()
		return nil, nil
	case "route":
		r.ctrl.SetRoute(applock.Route(st.Route))
		return nil, nil
	case "network":
		if st.Online == nil {
			return nil, errors.New("network step needs online")
		}
		r.ctrl.ObserveNetwork(netstatus.State{Connected: *st.Online})
		return nil, nil
	case "outage":
		if r.mock == nil {
			return nil, errors.New("outage needs the mock backend")
		}
		if st.Down == nil {
			return nil, errors.New("outage step needs down")
		}
		r.mock.SetDown(*st.Down)
		return nil, nil
	case "fetch":
		res, err := r.cache.Fetch(ctx, st.Path, func(ctx context.Context) ([]byte, error) {
			return r.client.Get(ctx, st.Path)
		})
		if err != nil {
			return nil, err
		}
		stale := res.Stale
		return &stale, res.Err
	case "theme":
		return nil, r.ctrl.SetThemeMode(ctx, st.Theme)
	case "expect":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown action %q", st.Action)
}

func (r *runner) result(step int, action string, err error) stepResult {
	s := r.ctrl.State()
	out := stepResult{
		Step:          step,
		Action:        action,
		Phase:         s.Phase.String(),
		Lock:          s.Lock.String(),
		Route:         string(s.Route),
		Username:      s.Username,
		Role:          string(s.Role),
		Authenticated: s.Authenticated,
		Offline:       s.Offline,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func check(e *Expect, got stepResult) string {
	var diffs []string
	if e.Phase != "" && e.Phase != got.Phase {
		diffs = append(diffs, fmt.Sprintf("phase %s != %s", got.Phase, e.Phase))
	}
	if e.Route != "" && e.Route != got.Route {
		diffs = append(diffs, fmt.Sprintf("route %s != %s", got.Route, e.Route))
	}
	if e.Username != "" && e.Username != got.Username {
		diffs = append(diffs, fmt.Sprintf("username %s != %s", got.Username, e.Username))
	}
	if e.Role != "" && e.Role != got.Role {
		diffs = append(diffs, fmt.Sprintf("role %s != %s", got.Role, e.Role))
	}
	if e.Authenticated != nil && *e.Authenticated != got.Authenticated {
		diffs = append(diffs, fmt.Sprintf("authenticated %v != %v", got.Authenticated, *e.Authenticated))
	}
	if e.Offline != nil && *e.Offline != got.Offline {
		diffs = append(diffs, fmt.Sprintf("offline %v != %v", got.Offline, *e.Offline))
	}
	if e.Error != "" && !strings.Contains(got.Error, e.Error) {
		diffs = append(diffs, fmt.Sprintf("error %q lacks %q", got.Error, e.Error))
	}
	if e.Stale != nil && (got.Stale == nil || *got.Stale != *e.Stale) {
		diffs = append(diffs, fmt.Sprintf("stale != %v", *e.Stale))
	}
	return strings.Join(diffs, "; ")
}

func (r *runner) print(res stepResult) {
	if jsonOutput {
		_ = json.NewEncoder(r.out).Encode(res)
		return
	}
	status := "ok"
	if res.Failed != "" {
		status = "FAIL " + res.Failed
	}
	line := fmt.Sprintf("%3d %-16s phase=%-17s route=%-10s offline=%-5v %s",
		res.Step, res.Action, res.Phase, res.Route, res.Offline, status)
	if res.Error != "" {
		line += " err=" + res.Error
	}
	fmt.Fprintln(r.out, line)
}
