// Package server wires the gleand daemon: NATS, the producer registry, the
// relay, the control API and the optional metrics listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/gleanrelay/internal/api"
	"github.com/sekia-ai/gleanrelay/internal/metrics"
	"github.com/sekia-ai/gleanrelay/internal/natsserver"
	"github.com/sekia-ai/gleanrelay/internal/registry"
	"github.com/sekia-ai/gleanrelay/internal/relay"
	"github.com/sekia-ai/gleanrelay/pkg/glean"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

// Daemon is the gleand process.
type Daemon struct {
	cfg     Config
	logger  zerolog.Logger
	records io.Writer

	mu       sync.Mutex
	identity GleanConfig

	nats      *natsserver.Server
	nc        *nats.Conn
	registry  *registry.Registry
	relay     *relay.Relay
	apiServer *api.Server
	metricsLn *http.Server
	watcher   *configWatcher
	startedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDaemon creates a Daemon from config. Glean records are written to
// records, one JSON object per line.
func NewDaemon(cfg Config, logger zerolog.Logger, records io.Writer) *Daemon {
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		records:  records,
		identity: cfg.Glean,
		stopCh:   make(chan struct{}),
	}
}

// Run starts all subsystems and blocks until a signal is received or Stop is called.
func (d *Daemon) Run() error {
	d.startedAt = time.Now()

	// 1. NATS, embedded or external.
	if err := d.connectNATS(); err != nil {
		return err
	}

	// 2. Producer registry.
	reg, err := registry.New(d.nc, d.logger)
	if err != nil {
		d.shutdown()
		return fmt.Errorf("start registry: %w", err)
	}
	d.registry = reg

	// 3. Relay.
	d.relay = relay.New(d.newEventLogger(d.cfg.Glean), d.cfg.Security.EventSecret, d.logger)
	if err := d.relay.Subscribe(d.nc, d.cfg.NATS.Subject); err != nil {
		d.shutdown()
		return err
	}
	if d.cfg.Security.EventSecret == "" {
		d.logger.Warn().Msg("security.event_secret is not set; NATS events are accepted unsigned")
	}

	// 4. Control API.
	var reload api.ReloadFunc
	if d.cfg.File != "" {
		reload = d.Reload
	}
	d.apiServer = api.New(d.cfg.Server.Socket, reg, d.relay, reload, d.startedAt, d.logger)
	errCh := make(chan error, 2)
	go func() {
		errCh <- d.apiServer.Start()
	}()

	// 5. Metrics.
	if d.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		d.metricsLn = &http.Server{Addr: d.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := d.metricsLn.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
		d.logger.Info().Str("listen", d.cfg.Metrics.Listen).Msg("metrics listener started")
	}

	// 6. Config watcher.
	if d.cfg.Reload.Watch && d.cfg.File != "" {
		w, err := watchConfig(d.cfg.File, func() {
			if _, err := d.Reload(); err != nil {
				d.logger.Error().Err(err).Msg("config reload failed")
			}
		}, d.logger)
		if err != nil {
			d.logger.Warn().Err(err).Str("file", d.cfg.File).Msg("config watcher not started")
		} else {
			d.watcher = w
		}
	}

	d.logger.Info().
		Str("socket", d.cfg.Server.Socket).
		Str("application_id", d.cfg.Glean.ApplicationID).
		Str("channel", d.cfg.Glean.Channel).
		Msg("gleand started")

	// 7. Wait for signal, stop call, or listener error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-d.stopCh:
		d.logger.Info().Msg("stop requested, shutting down")
	case err := <-errCh:
		if err != nil {
			d.logger.Error().Err(err).Msg("listener error")
		}
	}

	return d.shutdown()
}

func (d *Daemon) connectNATS() error {
	if d.cfg.NATS.Embedded {
		ns, err := natsserver.New(natsserver.Config{
			Host:  d.cfg.NATS.Host,
			Port:  d.cfg.NATS.Port,
			Token: d.cfg.NATS.Token,
		}, d.logger)
		if err != nil {
			return fmt.Errorf("start nats: %w", err)
		}
		d.nats = ns
		d.nc = ns.Conn()
		return nil
	}

	opts := []nats.Option{nats.Name("gleand"), nats.MaxReconnects(-1)}
	if d.cfg.NATS.Token != "" {
		opts = append(opts, nats.Token(d.cfg.NATS.Token))
	}
	nc, err := nats.Connect(d.cfg.NATS.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", d.cfg.NATS.URL, err)
	}
	d.nc = nc
	d.logger.Info().Str("url", d.cfg.NATS.URL).Msg("connected to external NATS")
	return nil
}

func (d *Daemon) newEventLogger(g GleanConfig) *glean.EventsServerEventLogger {
	return glean.NewEventsServerEventLogger(g.ApplicationID, g.AppDisplayVersion, g.Channel, glean.NewMozlogLogger(d.records))
}

// Reload re-reads the config file and swaps the glean identity when it
// changed. Other settings take effect on restart.
func (d *Daemon) Reload() (protocol.ReloadResponse, error) {
	cfg, err := LoadConfig(d.cfg.File)
	if err != nil {
		metrics.IdentityReloads.WithLabelValues("error").Inc()
		return protocol.ReloadResponse{}, fmt.Errorf("reload %s: %w", d.cfg.File, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cfg.Glean == d.identity {
		metrics.IdentityReloads.WithLabelValues("unchanged").Inc()
		return d.identity.Identity(), nil
	}

	d.relay.SetEventLogger(d.newEventLogger(cfg.Glean))
	d.logger.Info().
		Str("application_id", cfg.Glean.ApplicationID).
		Str("app_display_version", cfg.Glean.AppDisplayVersion).
		Str("channel", cfg.Glean.Channel).
		Str("previous_version", d.identity.AppDisplayVersion).
		Msg("glean identity reloaded")
	d.identity = cfg.Glean
	metrics.IdentityReloads.WithLabelValues("changed").Inc()
	return d.identity.Identity(), nil
}

// Stop signals the daemon to shut down. Safe to call from another goroutine.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// NATSClientURL returns the URL producers should connect to.
func (d *Daemon) NATSClientURL() string {
	if d.nats == nil {
		return d.cfg.NATS.URL
	}
	return d.nats.ClientURL()
}

// NATSConnectOpts returns the NATS options producers in this process need.
func (d *Daemon) NATSConnectOpts() []nats.Option {
	if d.nats == nil {
		if d.cfg.NATS.Token != "" {
			return []nats.Option{nats.Token(d.cfg.NATS.Token)}
		}
		return nil
	}
	return d.nats.ConnectOpts()
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.apiServer != nil {
		d.apiServer.Shutdown(ctx)
	}
	if d.metricsLn != nil {
		d.metricsLn.Shutdown(ctx)
	}
	if d.relay != nil {
		d.relay.Close()
	}
	if d.registry != nil {
		d.registry.Close()
	}
	if d.nats != nil {
		d.nats.Shutdown()
	} else if d.nc != nil {
		d.nc.Drain()
	}
	return nil
}
