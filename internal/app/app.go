// Package app wires the download engine to its collaborators and runs a
// download session.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/italolelis/auto_ytdlp/internal/archive"
	"github.com/italolelis/auto_ytdlp/internal/config"
	"github.com/italolelis/auto_ytdlp/internal/downloader"
	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/fetch"
	"github.com/italolelis/auto_ytdlp/internal/fetch/ytdlp"
	"github.com/italolelis/auto_ytdlp/internal/httpapi"
	"github.com/italolelis/auto_ytdlp/internal/logctx"
	"github.com/italolelis/auto_ytdlp/internal/notifier"
	"github.com/italolelis/auto_ytdlp/internal/rotation"
	"github.com/italolelis/auto_ytdlp/internal/storage"
	"github.com/italolelis/auto_ytdlp/internal/storage/sqlite"
	"github.com/italolelis/auto_ytdlp/internal/task"
	"github.com/italolelis/auto_ytdlp/internal/telemetry"
	"github.com/italolelis/auto_ytdlp/internal/vpn"
)

// Version is set at build time.
var Version = "dev"

// Fetcher is the media fetcher plus the checks run before a session.
type Fetcher interface {
	fetch.Fetcher
	Available() error
	Version(ctx context.Context) (string, error)
}

// VPN is the network identity rotation tool.
type VPN interface {
	Available() error
	Connect(ctx context.Context) (bool, error)
	Disconnect(ctx context.Context) (bool, error)
	Status(ctx context.Context) (vpn.Status, error)
	Switch(ctx context.Context) error
}

// Option replaces a default collaborator.
type Option func(*App)

func WithFetcher(f Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

func WithVPN(v VPN) Option {
	return func(a *App) { a.vpn = v }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// App owns every long lived component of the program.
type App struct {
	cfg       *config.Config
	bus       *events.Bus
	registry  *task.Registry
	ledger    *archive.Ledger
	engine    *downloader.Downloader
	rotator   *rotation.Rotator
	fetcher   Fetcher
	vpn       VPN
	notifier  notifier.Notifier
	telemetry *telemetry.Telemetry
	db        *sql.DB
	history   *sqlite.InstrumentedDownloadRepository
	server    *http.Server
	sessionID string

	watchers sync.WaitGroup
	subs     []*events.Subscription

	prepareMu sync.Mutex
	prepared  bool

	mu            sync.Mutex
	session       bool
	stopRequested bool
	sessionWG     sync.WaitGroup
}

// New builds the application from cfg. bus must be the bus the process
// logger publishes to, so the TUI sees the same log lines.
func New(ctx context.Context, cfg *config.Config, bus *events.Bus, opts ...Option) (*App, error) {
	logger := logctx.LoggerFromContext(ctx)

	a := &App{
		cfg:       cfg,
		bus:       bus,
		sessionID: downloader.NewSessionID(),
	}

	for _, o := range opts {
		o(a)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.telemetry = tel

	// =========================================================================
	// Start Database
	if cfg.Storage.DBPath != "" {
		db, err := sqlite.InitDB(cfg.Storage.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return nil, err
		}

		a.db = db
		a.history = sqlite.NewInstrumentedDownloadRepository(db, tel)
	}

	// =========================================================================
	// Open Archive
	store, err := a.archiveStore()
	if err != nil {
		a.closeDB(ctx)

		return nil, err
	}

	ledger, err := archive.Open(ctx, store)
	if err != nil {
		logger.Warn("starting with an empty archive", "err", err)
	}

	a.ledger = ledger

	// =========================================================================
	// Build Engine
	if a.fetcher == nil {
		a.fetcher = ytdlp.New(cfg.YtDlp.Binary)
	}

	if a.vpn == nil && cfg.VPN.Enabled {
		a.vpn = vpn.NewInstrumentedClient(vpn.NewClient(cfg.VPN.Command, cfg.VPN.SwitchPause), tel)
	}

	a.registry = task.NewRegistry(bus)

	engineOpts := []downloader.Option{
		downloader.WithProgressPublisher(bus),
		downloader.WithTelemetry(tel),
	}

	if a.history != nil {
		engineOpts = append(engineOpts, downloader.WithHistory(a.history))
	}

	if cfg.VPN.Enabled && a.vpn != nil {
		a.rotator = rotation.NewRotator(a.vpn, bus, tel)
		trigger := rotation.NewTrigger(cfg.VPN.SwitchAfter, cfg.VPN.SpeedThreshold)
		engineOpts = append(engineOpts, downloader.WithRotation(trigger, a.rotator))
	}

	a.engine = downloader.NewDownloader(a.registry, a.ledger, a.fetcher, downloader.Options{
		MaxConcurrent: cfg.Performance.MaxConcurrentDownloads,
		StopTimeout:   cfg.Performance.StopTimeout,
		SessionID:     a.sessionID,
		Fetch:         a.fetchOptions(),
	}, engineOpts...)

	// =========================================================================
	// Start Observers
	if a.notifier == nil {
		a.notifier = a.buildNotifier(ctx)
	}

	a.startWatchers(ctx)

	// =========================================================================
	// Start API Service
	if cfg.Web.BindAddress != "" {
		if err := a.startServer(ctx); err != nil {
			a.stopWatchers()
			a.closeDB(ctx)

			return nil, fmt.Errorf("failed to start status server: %w", err)
		}
	}

	logger.Info("session created",
		"session_id", a.sessionID,
		"archived", a.ledger.Len(),
		"max_concurrent", cfg.Performance.MaxConcurrentDownloads,
		"vpn", cfg.VPN.Enabled)

	return a, nil
}

func (a *App) archiveStore() (archive.Store, error) {
	switch a.cfg.Storage.ArchiveBackend {
	case config.ArchiveBackendSQLite:
		if a.db == nil {
			return nil, errors.New("sqlite archive backend requires storage.db_path")
		}

		return sqlite.NewInstrumentedArchiveRepository(a.db, a.telemetry), nil
	default:
		return archive.NewFileStore(a.cfg.YtDlp.ArchiveFile), nil
	}
}

func (a *App) fetchOptions() fetch.Options {
	opts := fetch.Options{
		OutputTemplate: a.cfg.YtDlp.OutputTemplate,
		DownloadDir:    a.cfg.General.DownloadDir,
		Format:         a.cfg.YtDlp.Format,
		RateLimit:      a.cfg.RateLimit(),
		ExtraArgs:      a.cfg.YtDlp.ExtraArgs,
	}

	if a.cfg.YtDlp.UseNativeArchive {
		opts.ArchiveFile = a.cfg.YtDlp.ArchiveFile
	}

	return opts
}

func (a *App) buildNotifier(ctx context.Context) notifier.Notifier {
	logger := logctx.LoggerFromContext(ctx)

	var multi notifier.Multi

	if a.cfg.Notifications.Desktop {
		desktop := notifier.NewDesktopNotifier()
		if desktop.Available() {
			multi = append(multi, desktop)
		} else {
			logger.Debug("desktop notifications unavailable")
		}
	}

	if a.cfg.Notifications.DiscordWebhookURL != "" {
		multi = append(multi, notifier.NewDiscordNotifier(a.cfg.Notifications.DiscordWebhookURL))
	}

	if len(multi) == 0 {
		return nil
	}

	return multi
}

// startServer serves the status API on cfg.Web.BindAddress.
func (a *App) startServer(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	var history storage.DownloadReadRepository
	if a.history != nil {
		history = a.history
	}

	h := httpapi.NewHandler(a.registry, a.engine, history, a.telemetry)

	ln, err := net.Listen("tcp", a.cfg.Web.BindAddress)
	if err != nil {
		return err
	}

	a.server = &http.Server{
		ReadTimeout:  a.cfg.Web.ReadTimeout,
		WriteTimeout: a.cfg.Web.WriteTimeout,
		IdleTimeout:  a.cfg.Web.IdleTimeout,
		Handler:      h.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("Initializing API support", "host", ln.Addr().String())

		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "err", err)
		}
	}()

	return nil
}

// Bus returns the event bus of the session.
func (a *App) Bus() *events.Bus {
	return a.bus
}

// Registry returns the task registry of the session.
func (a *App) Registry() *task.Registry {
	return a.registry
}

// State returns the downloader state.
func (a *App) State() downloader.State {
	return a.engine.State()
}

// Summary returns the per status task counters.
func (a *App) Summary() task.Stats {
	return a.registry.Stats()
}

// ExitCode is the process exit code of a headless run.
func (a *App) ExitCode() int {
	if a.cfg.Performance.FailOnError && a.registry.Stats().Error > 0 {
		return 1
	}

	return 0
}

func (a *App) closeDB(ctx context.Context) {
	if a.db == nil {
		return
	}

	if err := a.db.Close(); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to close database", "err", err)
	}
}
