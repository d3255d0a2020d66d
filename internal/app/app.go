package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"eth-spike-alerts/internal/alerting"
	"eth-spike-alerts/internal/chain"
	"eth-spike-alerts/internal/config"
	"eth-spike-alerts/internal/detector"
	"eth-spike-alerts/internal/metrics"
	"eth-spike-alerts/internal/retry"
	"eth-spike-alerts/internal/scheduler"
	"eth-spike-alerts/internal/service"
	"eth-spike-alerts/internal/state"
	"eth-spike-alerts/internal/storage"
	"eth-spike-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newDataSource builds the configured provider wrapped with retries and metrics.
func (a *App) newDataSource() (chain.DataSource, func(), error) {
	if err := a.Config.ValidateSource(); err != nil {
		return nil, nil, err
	}

	cc := a.Config.Chain
	var (
		source chain.DataSource
		closer = func() {}
	)
	switch strings.ToLower(cc.Provider) {
	case "rpc":
		rpc := chain.NewRPC(chain.RPCOptions{URL: cc.RPC.URL, Timeout: cc.RequestTimeout}, a.Logger)
		source, closer = rpc, rpc.Close
	default:
		ua := cc.Etherscan.UserAgent
		if ua == "" {
			ua = version.UserAgent()
		}
		source = chain.NewEtherscan(chain.EtherscanOptions{
			BaseURL:           cc.Etherscan.BaseURL,
			APIKey:            cc.Etherscan.APIKey,
			ChainID:           cc.Etherscan.ChainID,
			Timeout:           cc.RequestTimeout,
			RequestsPerSecond: cc.Etherscan.RequestsPerSecond,
			UserAgent:         ua,
		}, a.Logger)
	}

	source = chain.NewInstrumented(source, metrics.RecordSourceRequest)
	source = chain.NewRetrying(source, retry.Policy{
		MaxAttempts: cc.Retry.MaxAttempts,
		BaseDelay:   cc.Retry.BaseDelay,
		MaxDelay:    cc.Retry.MaxDelay,
		Jitter:      cc.Retry.Jitter,
	}, a.Logger)
	return source, closer, nil
}

// newNotifier fans out to every configured channel. It returns nil when
// alerting is disabled.
func (a *App) newNotifier() (alerting.Notifier, func(), error) {
	ac := a.Config.Alerting
	if !ac.Enabled {
		return nil, func() {}, nil
	}
	if err := a.Config.ValidateAlerting(); err != nil {
		return nil, nil, err
	}

	var (
		named   []alerting.Named
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	for _, ch := range ac.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case "telegram":
			named = append(named, alerting.Named{
				Name:     "telegram",
				Notifier: alerting.NewTelegramNotifier(ac.Telegram.BotToken, ac.Telegram.ChatID, ac.Telegram.APIBase, ac.SendTimeout, a.Logger),
			})
		case "discord":
			for i, url := range ac.Discord.WebhookURLs {
				named = append(named, alerting.Named{
					Name:     "discord#" + strconv.Itoa(i),
					Notifier: alerting.NewDiscordNotifier(url, ac.SendTimeout),
				})
			}
		case "kafka":
			k, err := alerting.DialKafka(ac.Kafka.Brokers, ac.Kafka.Topic)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("connect kafka: %w", err)
			}
			closers = append(closers, func() {
				if err := k.Close(); err != nil {
					a.Logger.Warn().Err(err).Msg("close kafka producer")
				}
			})
			named = append(named, alerting.Named{Name: "kafka", Notifier: k})
		case "log":
			named = append(named, alerting.Named{Name: "log", Notifier: alerting.NewLogNotifier(a.Logger)})
		}
	}
	if len(named) == 0 {
		return nil, closeAll, nil
	}
	return alerting.NewMulti(named...), closeAll, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(a.Config.Database.DSN, storage.MigrateUp); err != nil {
			return nil, nil, err
		}
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openState() (state.Store, error) {
	st, err := state.Open(state.Options{Backend: a.Config.State.Backend, Path: a.Config.State.Path})
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return st, nil
}

func (a *App) monitorOptions() service.Options {
	d := a.Config.Detector
	return service.Options{
		WindowBlocks: d.WindowBlocks,
		Alpha:        d.Alpha,
		Thresholds: detector.Thresholds{
			MinCount: d.MinCount,
			Z:        d.ZThreshold,
			Ratio:    d.RatioThreshold,
		},
		Value:         detector.NewValueThreshold(d.ValueThreshold, d.ValueDecimals),
		Concurrency:   a.Config.Chain.Concurrency,
		Asset:         d.Asset,
		Network:       a.Config.Chain.Network,
		AlertsEnabled: a.Config.Alerting.Enabled,
		SendTimeout:   a.Config.Alerting.SendTimeout,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
	}
}

// session bundles everything a monitor needs and closes it in reverse order.
type session struct {
	monitor *service.Monitor
	closers []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

type sessionOptions struct {
	notifier bool
	history  bool
	// quiet evaluates and persists as usual but never dispatches alerts.
	quiet bool
}

func (a *App) openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	s := &session{}
	fail := func(err error) (*session, error) {
		s.Close()
		return nil, err
	}

	source, closeSource, err := a.newDataSource()
	if err != nil {
		return fail(err)
	}
	s.closers = append(s.closers, closeSource)

	st, err := a.openState()
	if err != nil {
		return fail(err)
	}
	s.closers = append(s.closers, func() {
		if err := st.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close state store")
		}
	})

	deps := service.Deps{Source: source, State: st, Logger: a.Logger}

	if opts.notifier && !opts.quiet {
		notifier, closeNotifier, err := a.newNotifier()
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, closeNotifier)
		deps.Notifier = notifier
	}

	if opts.history {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return fail(err)
		}
		if store == nil {
			a.Logger.Warn().Msg("database.dsn not configured; cycle history disabled")
		} else {
			s.closers = append(s.closers, closeStore)
			deps.History = store
			deps.Alerts = store
			deps.Locker = store
		}
	}

	mopts := a.monitorOptions()
	if opts.quiet {
		mopts.AlertsEnabled = false
	}
	m, err := service.New(mopts, deps)
	if err != nil {
		return fail(err)
	}
	m.Load(ctx)
	s.monitor = m
	return s, nil
}

// RunOptions tweak the run command.
type RunOptions struct {
	// Once runs a single cycle and exits with its error.
	Once bool
	// NoAlerts keeps the detector running without dispatching notifications.
	NoAlerts bool
}

// Run executes the long-running monitoring loop and, when configured, the
// ops HTTP server.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := a.openSession(ctx, sessionOptions{notifier: true, history: true, quiet: opts.NoAlerts})
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.Once {
		return sess.monitor.Tick(ctx, nowUTC())
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		RunImmediately: a.Config.Scheduler.RunImmediately,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	if listen := a.Config.Metrics.Listen; listen != "" {
		srv := metrics.NewServer(listen, func() any { return sess.monitor.Status() }, sess.monitor.Ready, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return sess.monitor.Run(gctx, sched) })

	d := a.Config.Detector
	a.Logger.Info().
		Str("provider", a.Config.Chain.Provider).
		Uint64("window_blocks", d.WindowBlocks).
		Str("value_threshold", d.ValueThreshold.String()).
		Dur("interval", a.Config.Scheduler.Interval).
		Bool("alerts", a.Config.Alerting.Enabled && !opts.NoAlerts).
		Msg("starting monitoring service")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting cycle history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}
