// Package app wires the transport, the stream tracker and the process
// orchestrators together and exposes the client's operations.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/gstream/internal/config"
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/events"
	"github.com/mantonx/gstream/internal/history"
	"github.com/mantonx/gstream/internal/metrics"
	"github.com/mantonx/gstream/internal/packet"
	"github.com/mantonx/gstream/internal/playback"
	"github.com/mantonx/gstream/internal/probe"
	"github.com/mantonx/gstream/internal/process"
	"github.com/mantonx/gstream/internal/stream"
	"github.com/mantonx/gstream/internal/transport"
)

const (
	sourceTransport = "transport"
	sourceTracker   = "tracker"
	sourceProbe     = "probe"
	sourcePlayback  = "playback"
	sourceSettings  = "settings"

	shutdownGrace = 2 * time.Second
)

// Options holds the collaborators of an App. History and Metrics are
// optional.
type Options struct {
	Config  *config.ConfigManager
	Bus     events.Bus
	History *history.Store
	Metrics *metrics.Metrics
	Logger  hclog.Logger
}

type hostAddr struct {
	address string
	port    uint16
}

func (h hostAddr) valid() bool {
	return h.address != "" && h.port != 0
}

// App is the client core
type App struct {
	cfg     *config.ConfigManager
	bus     events.Bus
	history *history.Store
	metrics *metrics.Metrics
	logger  hclog.Logger

	client   *transport.Client
	tracker  *stream.Tracker
	prober   *probe.Orchestrator
	player   *playback.Orchestrator
	registry *process.Registry

	// settingsMu serializes the settings operations; mu guards the fields below
	settingsMu sync.Mutex
	mu         sync.Mutex
	host       hostAddr
	playerPath string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an App from the current configuration. Nothing connects or
// runs until Start.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cfg := opts.Config.GetConfig()

	registry := process.NewRegistry(logger)
	a := &App{
		cfg:      opts.Config,
		bus:      opts.Bus,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   logger.Named("app"),
		tracker:  stream.NewTracker(cfg.Display.ShowOffline),
		registry: registry,
		prober:   probe.NewOrchestrator(probe.Config{Grace: shutdownGrace}, registry, logger),
		player:   playback.NewOrchestrator(playback.Config{Grace: shutdownGrace}, registry, logger),
		host:     hostAddr{address: cfg.Host.Address, port: uint16(cfg.Host.Port)},

		playerPath: cfg.Player.Path,
	}

	var observer transport.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	a.client = transport.NewClient(transport.Config{
		DialTimeout:       cfg.Host.DialTimeout,
		ReconnectDelay:    cfg.Host.ReconnectDelay,
		MaxReconnectDelay: cfg.Host.MaxReconnectDelay,
		MaxFrameSize:      cfg.Host.MaxFrameSize,
	}, logger, observer)
	a.client.SetAutoReconnect(cfg.Host.AutoReconnect)

	opts.Config.AddWatcher(a.onConfigChange)
	return a, nil
}

// Start launches the transport and connects if a host is configured
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.client.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	a.wg.Add(1)
	go a.consume()

	a.mu.Lock()
	host := a.host
	a.mu.Unlock()
	if host.valid() {
		a.client.Connect(host.address, host.port)
	} else {
		a.logger.Info("no coordination host configured")
	}
	return nil
}

// Stop disconnects, terminates every child process and waits for the event
// loop to finish
func (a *App) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}

	if err := a.client.Close(); err != nil {
		a.logger.Warn("error closing transport", "error", err)
	}
	a.wg.Wait()

	a.prober.Cancel()
	a.player.Stop()
	err := a.registry.Shutdown(ctx, shutdownGrace)
	a.cancel()
	if err != nil {
		return fmt.Errorf("failed to stop child processes: %w", err)
	}
	return nil
}

// Connected reports whether the transport is connected
func (a *App) Connected() bool {
	return a.client.Connected()
}

// Settings returns a copy of the current configuration
func (a *App) Settings() *config.Config {
	return a.cfg.GetConfig()
}

// Streams returns the rendered rows, or every stream when all is set
func (a *App) Streams(all bool) stream.Set {
	if all {
		return a.tracker.All()
	}
	return a.tracker.Visible()
}

// Processes lists the live child processes
func (a *App) Processes() []process.Info {
	return a.registry.List()
}

func (a *App) consume() {
	defer a.wg.Done()
	for ev := range a.client.Events() {
		a.handleTransportEvent(ev)
	}
}

func (a *App) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		a.logger.Info("connected to host", "addr", ev.Addr)
		a.publish(events.Event{
			Type:    events.EventConnected,
			Source:  sourceTransport,
			Title:   "Connected",
			Message: "Connected to " + ev.Addr,
			Data:    map[string]interface{}{"addr": ev.Addr},
		})

	case transport.EventDisconnected:
		a.logger.Warn("disconnected from host", "addr", ev.Addr, "error", ev.Err)
		a.publish(events.Event{
			Type:     events.EventDisconnected,
			Source:   sourceTransport,
			Title:    "Disconnected",
			Message:  fmt.Sprintf("Disconnected from %s: %v", ev.Addr, ev.Err),
			Data:     map[string]interface{}{"addr": ev.Addr, "error": errString(ev.Err)},
			Priority: events.PriorityHigh,
		})

	case transport.EventConnectFailed:
		a.logger.Warn("connection attempt failed", "addr", ev.Addr, "error", ev.Err)
		a.publish(events.Event{
			Type:    events.EventConnectFailed,
			Source:  sourceTransport,
			Title:   "Connection failed",
			Message: fmt.Sprintf("Could not connect to %s: %v", ev.Addr, ev.Err),
			Data:    map[string]interface{}{"addr": ev.Addr, "error": errString(ev.Err)},
		})

	case transport.EventPacket:
		a.handlePacket(ev)
	}
}

func (a *App) handlePacket(ev transport.Event) {
	if ev.PacketType != packet.TypeStreamsUpdate {
		a.logger.Debug("ignoring packet", "type", ev.PacketType)
		a.metrics.FrameDropped("unknown_type")
		return
	}

	set, err := packet.DecodeStreamUpdate(ev.Payload)
	if err != nil {
		a.logger.Warn("dropping stream update", "addr", ev.Addr, "error", err)
		a.metrics.FrameDropped(gerrors.Kind(err))
		return
	}

	update := a.tracker.Apply(set)
	online := update.All.Online()
	a.metrics.StreamsUpdated(len(update.All), len(online), len(update.NewlyOnline))

	a.publish(events.Event{
		Type:   events.EventStreamsUpdated,
		Source: sourceTracker,
		Data: map[string]interface{}{
			"streams": update.Visible,
			"all":     update.All,
		},
	})

	if len(update.NewlyOnline) == 0 {
		return
	}

	a.logger.Info("streams came online", "count", len(update.NewlyOnline))
	a.publish(events.Event{
		Type:     events.EventNewlyOnline,
		Source:   sourceTracker,
		Title:    stream.NewlyOnlineTitle,
		Message:  stream.FormatNewlyOnline(update.NewlyOnline),
		Data:     map[string]interface{}{"streams": update.NewlyOnline},
		Priority: events.PriorityHigh,
	})

	if a.history != nil {
		if err := a.history.RecordNewlyOnline(a.ctx, update.NewlyOnline); err != nil {
			a.logger.Error("failed to record newly online streams", "error", err)
		}
	}
}

// publish waits for bus space so events keep their order
func (a *App) publish(ev events.Event) {
	if a.bus == nil {
		return
	}
	if err := a.bus.Publish(a.context(), ev); err != nil {
		a.logger.Debug("event not published", "event_type", ev.Type, "error", err)
	}
}

// publishAsync drops the event if the bus is saturated
func (a *App) publishAsync(ev events.Event) {
	if a.bus == nil {
		return
	}
	if err := a.bus.PublishAsync(ev); err != nil {
		a.logger.Trace("event dropped", "event_type", ev.Type, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
