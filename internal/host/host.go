// Package host wires the daemon together: runtime discovery, the
// channel registry, the agent runner, the gateway, the heartbeat, and
// the metrics endpoint.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/idlehands/idlehands/internal/config"
	"github.com/idlehands/idlehands/internal/gateway"
	"github.com/idlehands/idlehands/internal/metrics"
	"github.com/idlehands/idlehands/pkg/agent"
	"github.com/idlehands/idlehands/pkg/channels"
	"github.com/idlehands/idlehands/pkg/hooks"
	"github.com/idlehands/idlehands/pkg/lanes"
	"github.com/idlehands/idlehands/pkg/runtime"
)

// ErrNotConfigured means the runtime store has no usable host, backend,
// and model yet.
var ErrNotConfigured = errors.New("runtime not configured")

// AutoModelMarker in the runtime store delegates the model choice to
// catalog discovery at startup.
const AutoModelMarker = "auto"

// Daemon is the assembled idlehands process.
type Daemon struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   *runtime.Store
	handle  *runtime.Handle
	bus     *hooks.Bus
	queue   *lanes.Queue
	runner  *agent.Runner
	reg     *channels.Registry
	metrics *metrics.Metrics

	gw            *gateway.Server
	cron          *cron.Cron
	watcher       *runtime.Watcher
	metricsServer *http.Server
}

// New builds the daemon. It fails with ErrNotConfigured when the
// runtime store gate is closed, and with a wrapped error when any
// component refuses its configuration.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Daemon, error) {
	store, err := runtime.NewStore(cfg.Runtime.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open runtime store: %w", err)
	}
	rc := store.Load()
	if !rc.Configured() {
		return nil, ErrNotConfigured
	}

	endpoint := rc.Hosts[0]
	backend := rc.Backends[0]
	if cfg.Runtime.WaitOnStart {
		if !runtime.WaitForEndpoint(ctx, endpoint, runtime.WaitOptions{}) {
			return nil, fmt.Errorf("backend endpoint %s did not become ready", endpoint)
		}
	}

	model := rc.Models[0]
	if model == AutoModelMarker {
		picked, err := runtime.AutoPickModel(ctx, runtime.NewHTTPClient(endpoint), runtime.PickOptions{
			PreferredFamily: cfg.Agent.PreferredModelFamily,
		})
		if err != nil {
			return nil, err
		}
		model = picked
	}
	handle := runtime.NewHandle(endpoint, backend, model)
	logger.Info().Str("endpoint", endpoint).Str("backend", backend).Str("model", model).Msg("runtime resolved")

	provider, err := agent.NewProvider(handle, agent.ProviderCredentials{APIKey: cfg.Agent.AnthropicAPIKey})
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		handle:  handle,
		bus:     hooks.NewBus(logger),
		queue:   lanes.New(logger),
		metrics: metrics.New(),
	}

	tools := agent.NewToolSet()
	d.runner, err = agent.NewRunner(agent.Config{
		Provider:     provider,
		Tools:        tools,
		Bus:          d.bus,
		Queue:        d.queue,
		Handle:       handle,
		Metrics:      d.metrics,
		Logger:       logger,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
		MaxTurns:     cfg.Agent.MaxTurns,
	})
	if err != nil {
		return nil, err
	}

	d.reg, err = channels.NewRegistry(channels.Config{
		Dispatch: d.Dispatch,
		Runtime:  handle,
		Tools:    tools,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	specs := buildPluginSpecs(cfg)
	if cfg.Gateway.Enabled {
		d.gw, err = gateway.NewServer(gateway.Config{
			Host:     cfg.Gateway.Host,
			Port:     cfg.Gateway.Port,
			Token:    cfg.Gateway.Token,
			Dispatch: d.reg.Dispatch,
			Status:   d.Status,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		if err := d.bus.Register(d.gw.HookPlugin()); err != nil {
			return nil, err
		}
		specs = append(specs, channels.PluginSpec{Plugin: directPlugin{name: gateway.ChannelName}})
	}
	if err := d.reg.RegisterAll(specs); err != nil {
		return nil, err
	}

	return d, nil
}

// Run starts every component and blocks until the context is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.reg.StartAll(ctx); err != nil {
		return err
	}
	if d.gw != nil {
		if err := d.gw.Start(); err != nil {
			return err
		}
	}
	if err := d.startWatcher(); err != nil {
		return err
	}
	if err := d.startHeartbeat(); err != nil {
		return err
	}
	d.startMetrics()

	if err := d.bus.Emit(ctx, hooks.EventStartup, hooks.Payload{Model: d.handle.Model()}); err != nil {
		d.logger.Warn().Err(err).Msg("startup hook failure")
	}
	d.logger.Info().Strs("channels", d.reg.Names()).Msg("idlehands running")

	<-ctx.Done()
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.cron != nil {
		d.cron.Stop()
	}
	if d.watcher != nil {
		_ = d.watcher.Stop()
	}
	if d.gw != nil {
		_ = d.gw.Stop(shutdownCtx)
	}
	if d.metricsServer != nil {
		_ = d.metricsServer.Shutdown(shutdownCtx)
	}
	err := d.reg.StopAll(shutdownCtx)
	_ = d.queue.Close()
	d.logger.Info().Msg("idlehands stopped")
	return err
}

// startWatcher follows runtime store edits: a changed model takes
// effect on the next turn without a restart.
func (d *Daemon) startWatcher() error {
	watcher, err := runtime.NewWatcher(runtime.WatcherConfig{
		Store:  d.store,
		Logger: d.logger,
		OnReload: func(rc runtime.Config) {
			if !rc.Configured() {
				return
			}
			model := rc.Models[0]
			if model == AutoModelMarker || model == d.handle.Model() {
				return
			}
			d.logger.Info().Str("model", model).Msg("runtime model updated")
			d.handle.SetModel(model)
		},
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	d.watcher = watcher
	return nil
}

// startHeartbeat schedules the optional cron wake. Ticks are skipped
// silently while the runtime store is unconfigured.
func (d *Daemon) startHeartbeat() error {
	schedule := d.cfg.Heartbeat.Schedule
	if schedule == "" {
		return nil
	}
	d.cron = cron.New()
	_, err := d.cron.AddFunc(schedule, func() {
		if !d.store.Load().Configured() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if !d.probeBackend(ctx) {
			d.logger.Warn().Str("endpoint", d.handle.Endpoint()).Msg("heartbeat skipped, backend unreachable")
			return
		}
		if _, err := d.reg.Dispatch(ctx, channels.InboundMessage{
			Channel:      gateway.ChannelName,
			Conversation: "heartbeat",
			Content:      d.cfg.Heartbeat.Instruction,
		}); err != nil {
			d.logger.Warn().Err(err).Msg("heartbeat turn failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", schedule, err)
	}
	d.cron.Start()
	d.logger.Info().Str("schedule", schedule).Msg("heartbeat scheduled")
	return nil
}

// probeBackend health-checks the active endpoint and records the
// outcome.
func (d *Daemon) probeBackend(ctx context.Context) bool {
	ok := runtime.ProbeEndpoint(ctx, d.handle.Endpoint())
	result := "up"
	if !ok {
		result = "down"
	}
	d.metrics.ProbesTotal.WithLabelValues(result).Inc()
	return ok
}

func (d *Daemon) startMetrics() {
	if !d.cfg.Metrics.Enabled {
		return
	}
	listener, err := net.Listen("tcp", d.cfg.Metrics.Listen)
	if err != nil {
		d.logger.Warn().Err(err).Str("listen", d.cfg.Metrics.Listen).Msg("metrics listener failed")
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	d.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := d.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	d.logger.Info().Str("addr", listener.Addr().String()).Msg("metrics listening")
}

// Status reports daemon state for the gateway status method.
func (d *Daemon) Status() map[string]interface{} {
	return map[string]interface{}{
		"configured": d.store.Load().Configured(),
		"endpoint":   d.handle.Endpoint(),
		"backend":    d.handle.Backend(),
		"model":      d.handle.Model(),
		"channels":   d.reg.Names(),
	}
}

// directPlugin registers a no-op ingress channel, used for the gateway
// session namespace.
type directPlugin struct {
	name string
}

func (p directPlugin) Descriptor() channels.Descriptor {
	return channels.Descriptor{ID: p.name, Name: p.name, Description: "direct ingress"}
}

func (p directPlugin) Register(api channels.RegisterAPI) error {
	return api.RegisterChannel(channels.NewDirectChannel(p.name))
}
