// Command nfcauthd is the local RFID/NFC authentication daemon: it merges
// tag-presence reports from any number of Reader Listener backends,
// arbitrates client requests over a Unix-socket wire protocol, and
// persists user/tag associations to a credential file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/nfcauthd/internal/acceptor"
	"github.com/dantte-lp/nfcauthd/internal/config"
	"github.com/dantte-lp/nfcauthd/internal/coordinator"
	"github.com/dantte-lp/nfcauthd/internal/credstore"
	"github.com/dantte-lp/nfcauthd/internal/listener"
	"github.com/dantte-lp/nfcauthd/internal/lockobserver"
	nfcmetrics "github.com/dantte-lp/nfcauthd/internal/metrics"
	"github.com/dantte-lp/nfcauthd/internal/session"
	"github.com/dantte-lp/nfcauthd/internal/uidset"
	appversion "github.com/dantte-lp/nfcauthd/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to drain
// during graceful shutdown. The client acceptor is not bounded by it; it
// stops when the run context is canceled.
const shutdownTimeout = 10 * time.Second

// credWriterHelperName is the binary nfcauthd resolves via exec.LookPath
// when socket.cred_writer_path is left empty in configuration.
const credWriterHelperName = "nfcauthd-credwriter"

// errHelperNotFound is returned when socket.cred_writer_path is unset and
// the helper binary cannot be found on $PATH either.
var errHelperNotFound = errors.New("nfcauthd-credwriter helper not found on PATH and socket.cred_writer_path is unset")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("nfcauthd starting",
		slog.String("version", appversion.Version),
		slog.String("socket", cfg.Socket.Path),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	helperPath, err := resolveCredWriterPath(cfg.Socket.CredWriterPath)
	if err != nil {
		logger.Error("failed to resolve credential write helper", slog.String("error", err.Error()))
		return 1
	}

	reg := prometheus.NewRegistry()
	collector := nfcmetrics.NewCollector(reg)

	store := credstore.New(cfg.Socket.CredentialFile)
	if _, err := store.Load(); err != nil {
		logger.Warn("initial credential file load failed, starting with an empty store",
			slog.String("error", err.Error()),
		)
	}

	var lockObs *lockobserver.Observer
	if cfg.LockWatch.Enabled {
		lockObs, err = lockobserver.New(lockobserver.Options{LockOnAnyChange: cfg.LockWatch.LockOnAnyChange}, logger)
		if err != nil {
			logger.Error("failed to start session-lock observer", slog.String("error", err.Error()))
			return 1
		}
		defer lockObs.Close()
	}

	activeSetCh := make(chan coordinator.ActiveSet, 8)

	coord := coordinator.New(store, coordinator.Options{
		ForceCloseTimeout:  cfg.Socket.ForceCloseTimeout,
		MaxAuthRequestWait: cfg.Socket.MaxAuthRequestWait,
		TranslationTable:   cfg.Security.UIDsTranslationTable,
		ActiveSetChanges:   activeSetCh,
		Metrics:            collector,
	}, logger)

	handler := session.New(session.Options{
		Inbox:          coord.Inbox(),
		CredentialPath: cfg.Socket.CredentialFile,
		Writer:         session.NewHelperCredentialWriter(helperPath),
		Metrics:        collector,
	}, logger)

	acc := acceptor.New(cfg.Socket.Path, cfg.Security.RemoteUserParentProcessNames, cfg.Socket.MaxConnections, handler.Factory(), logger)

	if err := runServers(cfg, coord, acc, collector, reg, lockObs, activeSetCh, logger, *configPath, logLevel); err != nil {
		logger.Error("nfcauthd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("nfcauthd stopped")
	return 0
}

// runServers wires every long-lived goroutine under one errgroup bound to a
// signal-aware context, exactly as the daemon lifecycle convention
// requires: the Coordinator, the Acceptor, every enabled listener, the
// active-set fan-out, systemd integration, SIGHUP reload, and the metrics
// HTTP server.
func runServers(
	cfg *config.Config,
	coord *coordinator.Coordinator,
	acc *acceptor.Acceptor,
	collector *nfcmetrics.Collector,
	reg *prometheus.Registry,
	lockObs *lockobserver.Observer,
	activeSetCh <-chan coordinator.ActiveSet,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		coord.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		return acc.Run(gCtx)
	})

	startListeners(gCtx, g, cfg, coord.Inbox(), collector, logger)

	var lockObsCh chan uidset.Set
	if lockObs != nil {
		lockObsCh = make(chan uidset.Set, 8)
		g.Go(func() error {
			lockObs.Run(gCtx, lockObsCh)
			return nil
		})
	}
	startActiveSetFanout(gCtx, g, activeSetCh, collector, lockObsCh)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startListeners starts one goroutine per enabled listener backend. The
// specific wire dialect of every reader family is an external collaborator
// out of this daemon's scope; only the subprocess-driven CLI reader
// (Proxmark3-shaped: spawn a child, treat each stdout line as a raw UID) is
// concretely wired here, since it needs nothing beyond os/exec. Any other
// backend enabled in configuration logs a clear notice instead of silently
// doing nothing.
func startListeners(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	inbox chan<- coordinator.Message,
	collector *nfcmetrics.Collector,
	logger *slog.Logger,
) {
	sink := &coordinatorSink{inbox: inbox, metrics: collector}

	for name, backend := range cfg.Listeners.Backends {
		if !backend.Watch {
			continue
		}

		if name != "pm3" {
			logger.Warn("listener backend enabled but has no wired driver in this build",
				slog.String("backend", name),
			)
			continue
		}

		if backend.DevFile == "" {
			logger.Error("pm3 listener enabled but dev_file (client command) is empty; skipping", slog.String("backend", name))
			continue
		}

		// readTimeout is 0 (disabled): a CLI reader blocks on stdin until a
		// tag is presented, which can take arbitrarily long between reads.
		// Presence expiry is governed by InactiveTimeout below, not by how
		// often the child actually prints a line.
		dev := listener.NewSubprocess(backend.DevFile, nil, 0)
		l := listener.NewEventDriven(name, dev, backend.InactiveTimeout, sink, logger)
		g.Go(func() error {
			l.Run(ctx)
			return nil
		})
		logger.Info("listener started", slog.String("backend", name))
	}
}

// coordinatorSink adapts listener.Sink onto the Coordinator's inbox,
// recording a drop metric instead of blocking when the inbox is full.
type coordinatorSink struct {
	inbox   chan<- coordinator.Message
	metrics *nfcmetrics.Collector
}

func (s *coordinatorSink) UidsUpdate(listenerName string, snapshot uidset.Set) {
	select {
	case s.inbox <- coordinator.ListenerUpdate{Listener: listenerName, Snapshot: snapshot}:
	default:
		s.metrics.IncListenerDrop(listenerName)
	}
}

func (s *coordinatorSink) KeepAlive(listenerName string) {
	s.metrics.IncListenerKeepalive(listenerName)
	select {
	case s.inbox <- coordinator.ListenerUpdate{Listener: listenerName, KeepAlive: true}:
	default:
		s.metrics.IncListenerDrop(listenerName)
	}
}

// startActiveSetFanout consumes ActiveSet snapshots broadcast by the
// Coordinator, updating the active-uids gauge. It never blocks the
// Coordinator: the channel itself is the non-blocking boundary.
func startActiveSetFanout(
	ctx context.Context,
	g *errgroup.Group,
	activeSetCh <-chan coordinator.ActiveSet,
	collector *nfcmetrics.Collector,
	lockObsCh chan<- uidset.Set,
) {
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-activeSetCh:
				if !ok {
					return nil
				}
				collector.SetActiveUids(len(snap))
				if lockObsCh != nil {
					select {
					case lockObsCh <- snap:
					default:
					}
				}
			}
		}
	})
}

// startDaemonGoroutines registers the systemd watchdog and SIGHUP reload
// goroutines.
func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only
// -------------------------------------------------------------------------

// handleSIGHUP reloads the dynamic log level on SIGHUP. Listener enablement
// is not reconciled here: the concrete backends this build wires (a
// subprocess CLI reader) own a child process for the duration of their
// goroutine, and restarting one safely belongs to process supervision
// (systemctl reload / restart), not an in-process diff.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server / Config / Logger Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// resolveCredWriterPath returns configured unconditionally if non-empty,
// otherwise looks nfcauthd-credwriter up on $PATH.
func resolveCredWriterPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	path, err := exec.LookPath(credWriterHelperName)
	if err != nil {
		return "", errHelperNotFound
	}
	return path, nil
}
