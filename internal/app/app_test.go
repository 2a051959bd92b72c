package app

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/gstream/internal/config"
	"github.com/mantonx/gstream/internal/database"
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/events"
	"github.com/mantonx/gstream/internal/history"
	"github.com/mantonx/gstream/internal/metrics"
	"github.com/mantonx/gstream/internal/packet"
	"github.com/mantonx/gstream/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) handle(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) ofType(t events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *collector) waitFor(t *testing.T, et events.EventType, n int) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.ofType(et)) >= n }, 5*time.Second, 10*time.Millisecond,
		"waiting for %d %s events", n, et)
	return c.ofType(et)
}

type fixture struct {
	app     *App
	cfg     *config.ConfigManager
	events  *collector
	history *history.Store
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cm := config.NewConfigManager(nil)
	require.NoError(t, cm.LoadConfig(path))
	require.NoError(t, cm.Update(func(c *config.Config) {
		c.Host.ReconnectDelay = 50 * time.Millisecond
		c.Host.MaxReconnectDelay = 100 * time.Millisecond
		c.Probe.Command = `echo {url} >/dev/null; echo 'Available streams: 720p, 1080p (best)'`
		c.Probe.Timeout = 5 * time.Second
		c.Player.Path = "myplayer"
		c.Player.PlaybackCommand = `echo playing {url} {quality} with {player}`
		if mutate != nil {
			mutate(c)
		}
	}))

	bus := events.NewBus(events.DefaultBusConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	col := &collector{}
	_, err := bus.Subscribe(events.EventFilter{}, "test", col.handle)
	require.NoError(t, err)

	db, err := database.Open(database.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	store := history.NewStore(db)
	require.NoError(t, store.Migrate())

	m, err := metrics.New()
	require.NoError(t, err)

	a, err := New(Options{Config: cm, Bus: bus, History: store, Metrics: m})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, a.Stop(ctx))
		_ = bus.Stop(ctx)
		_ = database.Close(db)
	})

	return &fixture{app: a, cfg: cm, events: col, history: store, metrics: m}
}

func listen(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, uint16(l.Addr().(*net.TCPAddr).Port)
}

func accept(t *testing.T, l net.Listener) net.Conn {
	t.Helper()
	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			ch <- conn
		}
	}()
	select {
	case conn := <-ch:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func sendStreams(t *testing.T, conn net.Conn, set stream.Set) {
	t.Helper()
	require.NoError(t, packet.WriteFrame(conn, packet.TypeStreamsUpdate, packet.EncodeStreamUpdate(set)))
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestStreamUpdatesFlowToBus(t *testing.T) {
	l, port := listen(t)
	f := newFixture(t, func(c *config.Config) {
		c.Host.Address = "127.0.0.1"
		c.Host.Port = int(port)
	})
	conn := accept(t, l)

	connected := f.events.waitFor(t, events.EventConnected, 1)
	assert.Contains(t, connected[0].Message, "127.0.0.1")

	sendStreams(t, conn, stream.Set{
		{Name: "alpha", URL: "http://a", Online: true, Qualities: []string{"720p"}},
		{Name: "beta", URL: "http://b", Online: false},
	})

	updates := f.events.waitFor(t, events.EventStreamsUpdated, 1)
	visible := updates[0].Data["streams"].(stream.Set)
	require.Len(t, visible, 1, "offline streams are hidden by default")
	assert.Equal(t, "alpha", visible[0].Name)

	newly := f.events.waitFor(t, events.EventNewlyOnline, 1)
	assert.Equal(t, stream.NewlyOnlineTitle, newly[0].Title)
	assert.Equal(t, " - alpha\n", newly[0].Message)

	// same state again: an update but no new alert
	sendStreams(t, conn, stream.Set{
		{Name: "alpha", URL: "http://a", Online: true, Qualities: []string{"720p"}},
		{Name: "beta", URL: "http://b", Online: false},
	})
	f.events.waitFor(t, events.EventStreamsUpdated, 2)

	// beta comes online
	sendStreams(t, conn, stream.Set{
		{Name: "alpha", URL: "http://a", Online: true},
		{Name: "beta", URL: "http://b", Online: true},
	})
	f.events.waitFor(t, events.EventStreamsUpdated, 3)
	newly = f.events.waitFor(t, events.EventNewlyOnline, 2)
	assert.Len(t, newly, 2)
	assert.Equal(t, " - beta\n", newly[1].Message)

	assert.Len(t, f.app.Streams(false), 2)

	require.Eventually(t, func() bool {
		rows, err := f.history.RecentTransitions(context.Background(), 10)
		return err == nil && len(rows) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	l, port := listen(t)
	f := newFixture(t, func(c *config.Config) {
		c.Host.Address = "127.0.0.1"
		c.Host.Port = int(port)
	})
	conn := accept(t, l)
	f.events.waitFor(t, events.EventConnected, 1)

	// a record without a url fails decoding as a whole
	bad := packet.EncodeStreamUpdate(stream.Set{{Name: "x", URL: "", Online: true}})
	require.NoError(t, packet.WriteFrame(conn, packet.TypeStreamsUpdate, bad))
	sendStreams(t, conn, stream.Set{{Name: "ok", URL: "http://ok", Online: true}})

	updates := f.events.waitFor(t, events.EventStreamsUpdated, 1)
	assert.Equal(t, "ok", updates[0].Data["streams"].(stream.Set)[0].Name)
	assert.Len(t, f.events.ofType(events.EventStreamsUpdated), 1)
	assert.True(t, f.app.Connected())
}

func TestDisconnectIsReported(t *testing.T) {
	l, port := listen(t)
	f := newFixture(t, func(c *config.Config) {
		c.Host.Address = "127.0.0.1"
		c.Host.Port = int(port)
		c.Host.AutoReconnect = false
	})
	conn := accept(t, l)
	f.events.waitFor(t, events.EventConnected, 1)

	conn.Close()
	disconnected := f.events.waitFor(t, events.EventDisconnected, 1)
	assert.Equal(t, events.PriorityHigh, disconnected[0].Priority)
}

func TestReconfigureHost(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.app.Connected())

	l, port := listen(t)
	require.NoError(t, f.app.ReconfigureHost("127.0.0.1", port))
	accept(t, l)
	f.events.waitFor(t, events.EventConnected, 1)

	saved := config.NewConfigManager(nil)
	require.NoError(t, saved.LoadConfig(f.cfg.Path()))
	assert.Equal(t, "127.0.0.1", saved.GetConfig().Host.Address)
	assert.Equal(t, int(port), saved.GetConfig().Host.Port)

	// switching hosts replaces the connection
	l2, port2 := listen(t)
	require.NoError(t, f.app.ReconfigureHost("127.0.0.1", port2))
	accept(t, l2)
	f.events.waitFor(t, events.EventConnected, 2)

	err := f.app.ReconfigureHost("", 0)
	assert.ErrorIs(t, err, gerrors.ErrInvalidConfig)
}

func TestSetPlayerPath(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.app.SetPlayerPath("/usr/bin/mpv"))
	assert.Equal(t, "/usr/bin/mpv", f.app.PlayerPath())
	assert.Equal(t, "/usr/bin/mpv", f.cfg.GetConfig().Player.Path)
	f.events.waitFor(t, events.EventSettingsChanged, 1)
}

func TestSetShowOffline(t *testing.T) {
	l, port := listen(t)
	f := newFixture(t, func(c *config.Config) {
		c.Host.Address = "127.0.0.1"
		c.Host.Port = int(port)
	})
	conn := accept(t, l)
	sendStreams(t, conn, stream.Set{
		{Name: "alpha", URL: "http://a", Online: true},
		{Name: "beta", URL: "http://b", Online: false},
	})
	f.events.waitFor(t, events.EventStreamsUpdated, 1)
	assert.Len(t, f.app.Streams(false), 1)

	visible, err := f.app.SetShowOffline(true)
	require.NoError(t, err)
	assert.Len(t, visible, 2)
	assert.True(t, f.cfg.GetConfig().Display.ShowOffline)

	// toggling does not touch the known state: no re-alert
	sendStreams(t, conn, stream.Set{
		{Name: "alpha", URL: "http://a", Online: true},
		{Name: "beta", URL: "http://b", Online: false},
	})
	f.events.waitFor(t, events.EventStreamsUpdated, 3)
	assert.Len(t, f.events.ofType(events.EventNewlyOnline), 1)
}

func TestPoll(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.app.Poll(context.Background(), "http://twitch.tv/x")
	require.NoError(t, err)
	assert.True(t, res.Online)
	assert.Equal(t, []string{"720p", "1080p"}, res.Qualities)
	assert.Equal(t, "http://twitch.tv/x/chat", res.ChatURL)

	f.events.waitFor(t, events.EventProbeStarted, 1)
	finished := f.events.waitFor(t, events.EventProbeFinished, 1)
	assert.Equal(t, true, finished[0].Data["online"])

	probes, err := f.history.RecentProbes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, probes, 1)
	assert.Equal(t, "720p,1080p", probes[0].Qualities)
}

func TestPoll_StderrDiagnosticsDoNotOverrideStdout(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Probe.Command = `echo {url} >/dev/null; echo 'error: plugin vimeo failed to load' >&2; echo 'Found streams: 480p, source (best)'`
	})

	res, err := f.app.Poll(context.Background(), "http://twitch.tv/x")
	require.NoError(t, err)
	assert.True(t, res.Online)
	assert.Equal(t, []string{"480p", "source"}, res.Qualities)
}

func TestPoll_FailureIsStatusUnknown(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Probe.Command = `echo {url} >&2; exit 1`
	})

	res, err := f.app.Poll(context.Background(), "http://twitch.tv/x")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, gerrors.IsStatusUnknown(err))
	assert.ErrorIs(t, err, gerrors.ErrNonZeroExit)

	finished := f.events.waitFor(t, events.EventProbeFinished, 1)
	assert.Equal(t, "unknown", finished[0].Data["status"])
	_, hasOnline := finished[0].Data["online"]
	assert.False(t, hasOnline, "a failed probe never reports offline")
}

func TestWatch(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.app.Watch("http://twitch.tv/x", "720p")
	require.NoError(t, err)
	assert.NotEmpty(t, res.HandleID)
	assert.Equal(t, "echo playing http://twitch.tv/x 720p with myplayer", res.Command)

	lines := f.events.waitFor(t, events.EventPlaybackOutputLine, 1)
	assert.Equal(t, "playing http://twitch.tv/x 720p with myplayer", lines[0].Message)
	exited := f.events.waitFor(t, events.EventPlaybackExited, 1)
	assert.Equal(t, 0, exited[0].Data["exit_code"])

	require.Eventually(t, func() bool {
		snap, err := f.app.History(context.Background(), 10)
		return err == nil && len(snap.Playbacks) == 1 && snap.Playbacks[0].ExitCode != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_UsesNewPlayerPath(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.app.SetPlayerPath("otherplayer"))

	res, err := f.app.Watch("http://twitch.tv/x", "best")
	require.NoError(t, err)
	assert.Contains(t, res.Command, "with otherplayer")
}

func TestConfigFileChangeAppliesHost(t *testing.T) {
	f := newFixture(t, nil)
	l, port := listen(t)

	require.NoError(t, f.cfg.Update(func(c *config.Config) {
		c.Host.Address = "127.0.0.1"
		c.Host.Port = int(port)
	}))
	accept(t, l)
	f.events.waitFor(t, events.EventConnected, 1)
}

func TestStopTerminatesPlayer(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Player.PlaybackCommand = `exec sleep 30 # {url} {quality} {player}`
	})

	res, err := f.app.Watch("http://twitch.tv/x", "720p")
	require.NoError(t, err)
	assert.Len(t, f.app.Processes(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.app.Stop(ctx))
	assert.Empty(t, f.app.Processes())
	assert.NotZero(t, res.PID)
}

func TestChatURL(t *testing.T) {
	assert.Equal(t, "http://twitch.tv/x/chat", ChatURL("http://twitch.tv/x/"))
	assert.Empty(t, ChatURL(""))
}
