// Package probe runs the one-shot status command for a stream and interprets
// what it prints.
package probe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/process"
)

const (
	opRunProbe   = "run_probe"
	maxErrDetail = 2048
)

// Config tunes the orchestrator
type Config struct {
	Grace time.Duration // SIGTERM to SIGKILL window when stopping a probe
	Shell string
}

// Output is what a finished probe printed
type Output struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Orchestrator runs at most one probe at a time. Starting a new probe
// terminates the one in flight; its caller gets ErrSuperseded.
type Orchestrator struct {
	cfg      Config
	registry *process.Registry
	logger   hclog.Logger

	mu      sync.Mutex
	current *process.Handle
	token   string
}

// NewOrchestrator creates a probe orchestrator. registry may be nil.
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
		logger:   logger.Named("probe"),
	}
}

// Run executes command and waits for it to finish, for timeout to elapse
// (zero means no timeout) or for ctx to end. Only the calling goroutine
// blocks. Output is returned only for a clean, complete run.
func (o *Orchestrator) Run(ctx context.Context, command string, timeout time.Duration) (*Output, error) {
	h, token, err := o.spawn(command)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("handle_id", h.ID)
	logger.Debug("probe started", "command", command, "timeout", timeout)

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-h.Done():
	case <-timeoutC:
		o.release(token, h)
		logger.Warn("probe timed out", "timeout", timeout)
		return nil, gerrors.Probe(opRunProbe, gerrors.ErrTimedOut, nil).WithDetail("timeout", timeout.String())
	case <-ctx.Done():
		o.release(token, h)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, gerrors.Probe(opRunProbe, gerrors.ErrTimedOut, ctx.Err())
		}
		return nil, gerrors.New(gerrors.ErrorTypeProbe, opRunProbe, ctx.Err())
	}

	o.mu.Lock()
	superseded := o.token != token
	if !superseded {
		o.current = nil
		o.token = ""
	}
	o.mu.Unlock()

	if superseded {
		logger.Debug("probe result discarded, superseded")
		return nil, gerrors.Probe(opRunProbe, gerrors.ErrSuperseded, nil)
	}

	stdout, stderr := h.Output()
	code := h.ExitCode()
	out := &Output{Stdout: stdout, Stderr: stderr, Duration: time.Since(h.StartedAt)}

	switch {
	case process.LaunchFailed(code):
		return nil, gerrors.Probe(opRunProbe, gerrors.ErrSpawnFailed, nil).
			WithDetail("exit_code", code).
			WithDetail("stderr", truncate(stderr))
	case code != 0:
		return nil, gerrors.Probe(opRunProbe, gerrors.ErrNonZeroExit, nil).
			WithDetail("exit_code", code).
			WithDetail("stderr", truncate(stderr))
	}

	logger.Debug("probe finished", "duration", out.Duration)
	return out, nil
}

// Busy reports whether a probe is in flight
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// Cancel terminates the probe in flight, if any. Its caller gets ErrSuperseded.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopCurrentLocked()
}

func (o *Orchestrator) spawn(command string) (*process.Handle, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopCurrentLocked()

	h, err := process.Start(command, process.Options{
		Owner:  "probe",
		Shell:  o.cfg.Shell,
		Logger: o.logger,
	})
	if err != nil {
		return nil, "", gerrors.Probe(opRunProbe, gerrors.ErrSpawnFailed, err)
	}
	if o.registry != nil {
		if err := o.registry.Track(h); err != nil {
			o.logger.Warn("failed to track probe process", "error", err)
		}
	}

	token := uuid.NewString()
	o.current = h
	o.token = token
	return h, token, nil
}

func (o *Orchestrator) stopCurrentLocked() {
	if o.current == nil {
		return
	}
	prev := o.current
	o.current = nil
	o.token = ""
	if err := prev.Terminate(o.cfg.Grace); err != nil {
		o.logger.Error("failed to terminate previous probe", "handle_id", prev.ID, "error", err)
	}
}

// release terminates h and clears it if it is still the current probe
func (o *Orchestrator) release(token string, h *process.Handle) {
	o.mu.Lock()
	if o.token == token {
		o.current = nil
		o.token = ""
	}
	o.mu.Unlock()

	if err := h.Terminate(o.cfg.Grace); err != nil {
		o.logger.Error("failed to terminate probe", "handle_id", h.ID, "error", err)
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrDetail {
		b = b[len(b)-maxErrDetail:]
	}
	return string(b)
}
