package app

import (
	"context"
	"errors"
	"strings"
	"time"

	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/events"
	"github.com/mantonx/gstream/internal/history"
	"github.com/mantonx/gstream/internal/probe"
	"github.com/mantonx/gstream/internal/process"
)

// PollResult is what a successful probe found
type PollResult struct {
	URL       string        `json:"url"`
	Online    bool          `json:"online"`
	Qualities []string      `json:"qualities"`
	ChatURL   string        `json:"chat_url"`
	Duration  time.Duration `json:"duration"`
}

// WatchResult identifies a launched player
type WatchResult struct {
	HandleID string `json:"handle_id"`
	PID      int    `json:"pid"`
	Command  string `json:"command"`
}

// HistorySnapshot is the recent persisted history
type HistorySnapshot struct {
	Online    []history.OnlineTransition `json:"online"`
	Probes    []history.ProbeRecord      `json:"probes"`
	Playbacks []history.PlaybackSession  `json:"playbacks"`
}

// ChatURL returns the chat page for a stream
func ChatURL(url string) string {
	if url == "" {
		return ""
	}
	return strings.TrimRight(url, "/") + "/chat"
}

// Poll probes url and parses the result. A failed probe means the status is
// unknown, never that the stream is offline. A newer Poll supersedes one
// still running.
func (a *App) Poll(ctx context.Context, url string) (*PollResult, error) {
	cfg := a.cfg.GetConfig()
	command := process.Render(cfg.Probe.Command, map[string]string{
		process.KeyURL:    url,
		process.KeyPlayer: a.PlayerPath(),
	})

	a.publish(events.Event{
		Type:   events.EventProbeStarted,
		Source: sourceProbe,
		Data:   map[string]interface{}{"url": url},
	})

	start := time.Now()
	out, err := a.prober.Run(ctx, command, cfg.Probe.Timeout)
	duration := time.Since(start)
	a.metrics.ProbeFinished(gerrors.Kind(err), duration)

	if err != nil {
		var ge *gerrors.Error
		if errors.As(err, &ge) {
			ge.WithURL(url)
		}
		a.logger.Warn("probe failed", "url", url, "kind", gerrors.Kind(err), "error", err)
		a.recordProbe(url, false, nil, duration, err)
		a.publish(events.Event{
			Type:   events.EventProbeFinished,
			Source: sourceProbe,
			Data: map[string]interface{}{
				"url":    url,
				"status": "unknown",
				"error":  err.Error(),
				"kind":   gerrors.Kind(err),
			},
		})
		return nil, err
	}

	online, qualities := probe.ParseOutput(out.Stdout, out.Stderr)

	a.recordProbe(url, online, qualities, duration, nil)
	a.publish(events.Event{
		Type:   events.EventProbeFinished,
		Source: sourceProbe,
		Data: map[string]interface{}{
			"url":       url,
			"online":    online,
			"qualities": qualities,
		},
	})

	return &PollResult{
		URL:       url,
		Online:    online,
		Qualities: qualities,
		ChatURL:   ChatURL(url),
		Duration:  duration,
	}, nil
}

type playbackSession struct {
	url      string
	handleID string
	ready    chan struct{}
}

// Watch launches the player for url at quality with the current player
// path, replacing any player already running. Output lines and the exit are
// published on the bus.
func (a *App) Watch(url, quality string) (*WatchResult, error) {
	cfg := a.cfg.GetConfig()
	command := process.Render(cfg.Player.PlaybackCommand, map[string]string{
		process.KeyURL:     url,
		process.KeyQuality: quality,
		process.KeyPlayer:  a.PlayerPath(),
	})

	session := &playbackSession{url: url, ready: make(chan struct{})}
	h, err := a.player.Start(command,
		func(s process.Stream, line string) {
			a.publishAsync(events.Event{
				Type:     events.EventPlaybackOutputLine,
				Source:   sourcePlayback,
				Message:  line,
				Data:     map[string]interface{}{"url": url, "stream": s.String()},
				Priority: events.PriorityLow,
			})
		},
		func(code int) { a.playbackExited(session, code) },
	)
	if err != nil {
		close(session.ready)
		a.metrics.PlaybackStarted(gerrors.Kind(err))
		var ge *gerrors.Error
		if errors.As(err, &ge) {
			ge.WithURL(url)
		}
		return nil, err
	}

	a.metrics.PlaybackStarted("ok")
	if a.history != nil {
		if err := a.history.StartPlayback(a.context(), h.ID, url, quality, command); err != nil {
			a.logger.Error("failed to record playback start", "error", err)
		}
	}
	session.handleID = h.ID
	close(session.ready)

	return &WatchResult{HandleID: h.ID, PID: h.PID(), Command: command}, nil
}

// StopPlayback terminates the running player, if any
func (a *App) StopPlayback() {
	a.player.Stop()
}

func (a *App) playbackExited(s *playbackSession, code int) {
	a.publish(events.Event{
		Type:    events.EventPlaybackExited,
		Source:  sourcePlayback,
		Message: "Player exited",
		Data:    map[string]interface{}{"url": s.url, "exit_code": code},
	})

	// the exit can be reported before Watch has returned
	go func() {
		<-s.ready
		if s.handleID == "" || a.history == nil {
			return
		}
		if err := a.history.FinishPlayback(context.Background(), s.handleID, code); err != nil {
			a.logger.Error("failed to record playback exit", "error", err)
		}
	}()
}

// History returns up to limit rows of each kind, newest first
func (a *App) History(ctx context.Context, limit int) (*HistorySnapshot, error) {
	snap := &HistorySnapshot{}
	if a.history == nil {
		return snap, nil
	}

	var err error
	if snap.Online, err = a.history.RecentTransitions(ctx, limit); err != nil {
		return nil, err
	}
	if snap.Probes, err = a.history.RecentProbes(ctx, limit); err != nil {
		return nil, err
	}
	if snap.Playbacks, err = a.history.RecentPlaybacks(ctx, limit); err != nil {
		return nil, err
	}
	return snap, nil
}

func (a *App) recordProbe(url string, online bool, qualities []string, d time.Duration, probeErr error) {
	if a.history == nil {
		return
	}
	if err := a.history.RecordProbe(a.context(), url, online, qualities, d, probeErr); err != nil {
		a.logger.Error("failed to record probe", "error", err)
	}
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}
