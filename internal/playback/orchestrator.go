// Package playback launches the long-running media player process and relays
// its output as it is produced.
package playback

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/process"
)

// SpawnFailedCode is passed to onExit when the player could not be started
const SpawnFailedCode = -1

const opStartPlayback = "start_playback"

// LineFunc receives one line of player output
type LineFunc func(stream process.Stream, line string)

// ExitFunc receives the player's exit code
type ExitFunc func(code int)

// Config tunes the orchestrator
type Config struct {
	Grace time.Duration
	Shell string
}

// Orchestrator keeps at most one player process alive. Starting a new one
// terminates the previous one first.
type Orchestrator struct {
	cfg      Config
	registry *process.Registry
	logger   hclog.Logger

	mu      sync.Mutex
	current *process.Handle
}

// NewOrchestrator creates a playback orchestrator. registry may be nil.
func NewOrchestrator(cfg Config, registry *process.Registry, logger hclog.Logger) *Orchestrator {
	if cfg.Grace <= 0 {
		cfg.Grace = process.DefaultGrace
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		logger:   logger.Named("playback"),
	}
}

// Start spawns command and returns as soon as it is running. onLine gets
// every output line for the life of the process; onExit is called once when
// it ends. If the process cannot be spawned, onExit(SpawnFailedCode) is
// called before Start returns the error. Either callback may be nil.
func (o *Orchestrator) Start(command string, onLine LineFunc, onExit ExitFunc) (*process.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopLocked()

	var once sync.Once
	exit := func(code int) {
		once.Do(func() {
			if onExit != nil {
				onExit(code)
			}
		})
	}

	opts := process.Options{
		Owner:  "playback",
		Shell:  o.cfg.Shell,
		Logger: o.logger,
		OnExit: func(code int) {
			o.logger.Info("player exited", "exit_code", code)
			exit(code)
		},
	}
	// always relay so output is never buffered for the life of the player
	opts.OnLine = func(s process.Stream, line string) {
		if onLine != nil {
			onLine(s, line)
		}
	}

	h, err := process.Start(command, opts)
	if err != nil {
		o.logger.Error("failed to start player", "command", command, "error", err)
		exit(SpawnFailedCode)
		return nil, gerrors.Playback(opStartPlayback, gerrors.ErrSpawnFailed, err)
	}
	if o.registry != nil {
		if err := o.registry.Track(h); err != nil {
			o.logger.Warn("failed to track player process", "error", err)
		}
	}

	o.current = h
	o.logger.Info("player started", "handle_id", h.ID, "pid", h.PID())
	return h, nil
}

// Stop terminates the running player, if any
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

// Current returns the live player process, or nil
func (o *Orchestrator) Current() *process.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && o.current.Exited() {
		o.current = nil
	}
	return o.current
}

func (o *Orchestrator) stopLocked() {
	if o.current == nil {
		return
	}
	prev := o.current
	o.current = nil
	if err := prev.Terminate(o.cfg.Grace); err != nil {
		o.logger.Error("failed to terminate previous player", "handle_id", prev.ID, "error", err)
	}
}
