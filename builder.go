package applock

import (
	"errors"

	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/idle"
	"github.com/MrEthical07/applock/internal/clock"
	"github.com/MrEthical07/applock/netstatus"
	"github.com/MrEthical07/applock/password"
	"github.com/MrEthical07/applock/querycache"
	"go.uber.org/zap"
)

// Builder assembles a Controller. A Builder can be used once.
type Builder struct {
	config Config

	store     credstore.Store
	auth      AuthClient
	hardware  biometric.Hardware
	navigator Navigator
	cache     DataCache
	prober    netstatus.Prober
	auditSink AuditSink
	log       *zap.Logger
	clock     clock.Clock

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(s credstore.Store) *Builder {
	b.store = s
	return b
}

// WithAuthClient sets the login and profile capability. Required.
func (b *Builder) WithAuthClient(c AuthClient) *Builder {
	b.auth = c
	return b
}

// WithBiometric sets the platform biometric capability. Required.
func (b *Builder) WithBiometric(hw biometric.Hardware) *Builder {
	b.hardware = hw
	return b
}

func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithDataCache sets the cache cleared on logout. When it also implements
// netstatus.OnlineSetter it receives every committed connectivity change.
func (b *Builder) WithDataCache(c DataCache) *Builder {
	b.cache = c
	return b
}

// WithProber sets the connectivity probe. Without one, Network.ProbeURL is
// probed with HEAD requests when set; otherwise the monitor only learns
// connectivity from Controller.ObserveNetwork.
func (b *Builder) WithProber(p netstatus.Prober) *Builder {
	b.prober = p
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.log = l
	return b
}

func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the capabilities. It performs
// no I/O; call Controller.Start to run the startup protocol.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.auth == nil {
		return nil, errors.New("auth client required")
	}
	if b.hardware == nil {
		return nil, errors.New("biometric hardware required")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	clk := b.clock
	if clk == nil {
		clk = clock.Real()
	}

	var hasher *password.Hasher
	if cfg.Password.HashStoredPassword {
		h, err := password.NewHasher(cfg.passwordConfig())
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	vault := credstore.NewVault(credstore.Prefixed(b.store, cfg.Storage.Prefix), hasher, log.Named("credstore"))

	prober := b.prober
	if prober == nil && cfg.Network.ProbeURL != "" {
		prober = &netstatus.HTTPProber{URL: cfg.Network.ProbeURL}
	}
	monitorOpts := []netstatus.Option{
		netstatus.WithClock(clk),
		netstatus.WithLogger(log.Named("netstatus")),
	}
	if setter, ok := b.cache.(netstatus.OnlineSetter); ok {
		monitorOpts = append(monitorOpts, netstatus.WithSetter(setter))
	}

	c := &Controller{
		cfg:     cfg,
		log:     log,
		clock:   clk,
		vault:   vault,
		auth:    b.auth,
		gate:    biometric.NewGate(b.hardware, cfg.biometricConfig(), log.Named("biometric")),
		idle:    idle.New(cfg.Idle.Timeout, idle.WithClock(clk), idle.WithLogger(log.Named("idle"))),
		monitor: netstatus.NewMonitor(prober, cfg.netstatusConfig(), monitorOpts...),
		cache:   b.cache,
		nav:     b.navigator,
		metrics: NewMetrics(cfg.Metrics),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink, clk, log.Named("audit")),
		phase:   PhaseInitializing,
		subs:    make(map[uint64]func(Snapshot)),
	}

	b.built = true
	return c, nil
}

// NewQueryCache builds the data cache described by cfg.Cache, persisting
// through store under the configured storage prefix.
func NewQueryCache(cfg Config, store credstore.Store, log *zap.Logger) *querycache.Cache {
	qc := querycache.DefaultConfig()
	qc.StaleTime = cfg.Cache.StaleTime
	qc.MaxAge = cfg.Cache.MaxAge
	qc.Retries = cfg.Cache.Retries
	opts := []querycache.Option{querycache.WithLogger(log)}
	if store != nil {
		opts = append(opts, querycache.WithStore(credstore.Prefixed(store, cfg.Storage.Prefix)))
	}
	return querycache.New(qc, opts...)
}
