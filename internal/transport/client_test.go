package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	gerrors "github.com/mantonx/gstream/internal/errors"
	"github.com/mantonx/gstream/internal/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DialTimeout = time.Second
	cfg.ReconnectDelay = 50 * time.Millisecond
	cfg.MaxReconnectDelay = 100 * time.Millisecond
	return cfg
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
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func newStartedClient(t *testing.T, auto bool, obs Observer) *Client {
	t.Helper()
	c := NewClient(testConfig(), hclog.NewNullLogger(), obs)
	c.SetAutoReconnect(auto)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func next(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNone(t *testing.T, c *Client, d time.Duration) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(d):
	}
}

type countingObserver struct {
	attempts  atomic.Int32
	received  atomic.Int32
	dropped   atomic.Int32
	connected atomic.Bool
}

func (o *countingObserver) ConnectAttempt()            { o.attempts.Add(1) }
func (o *countingObserver) ConnectionState(up bool)    { o.connected.Store(up) }
func (o *countingObserver) FrameReceived(packet.Type)  { o.received.Add(1) }
func (o *countingObserver) FrameDropped(reason string) { o.dropped.Add(1) }

func TestClient_DeliversPacketsInOrderAcrossPartialReads(t *testing.T) {
	l, port := listen(t)
	obs := &countingObserver{}
	c := newStartedClient(t, false, obs)
	c.Connect("127.0.0.1", port)

	server := accept(t, l)
	ev := next(t, c)
	require.Equal(t, EventConnected, ev.Kind)
	assert.True(t, c.Connected())

	var wire []byte
	for i := 0; i < 5; i++ {
		frame, err := packet.EncodeFrame(packet.Type(100+i), structpb.NewNumberValue(float64(i)))
		require.NoError(t, err)
		wire = append(wire, frame...)
	}
	for i := 0; i < len(wire); i += 3 {
		end := i + 3
		if end > len(wire) {
			end = len(wire)
		}
		_, err := server.Write(wire[i:end])
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 5; i++ {
		ev := next(t, c)
		require.Equal(t, EventPacket, ev.Kind)
		assert.Equal(t, packet.Type(100+i), ev.PacketType)
		assert.Equal(t, float64(i), ev.Payload.GetNumberValue())
	}
	assert.Equal(t, int32(5), obs.received.Load())
	assert.True(t, obs.connected.Load())
}

func TestClient_MalformedFramesAreDroppedNotFatal(t *testing.T) {
	l, port := listen(t)
	obs := &countingObserver{}
	c := newStartedClient(t, false, obs)
	c.Connect("127.0.0.1", port)
	server := accept(t, l)
	require.Equal(t, EventConnected, next(t, c).Kind)

	var wire []byte
	// payload that is not a protobuf value
	wire = packet.AppendFrame(wire, packet.TypeStreamsUpdate, []byte{0xff, 0xff, 0xff})
	// length too short for a type tag
	short := make([]byte, 4)
	binary.BigEndian.PutUint32(short, 0)
	wire = append(wire, short...)
	good, err := packet.EncodeFrame(packet.TypeStreamsUpdate, packet.EncodeStreamUpdate(nil))
	require.NoError(t, err)
	wire = append(wire, good...)

	_, err = server.Write(wire)
	require.NoError(t, err)

	ev := next(t, c)
	require.Equal(t, EventPacket, ev.Kind)
	assert.Equal(t, packet.TypeStreamsUpdate, ev.PacketType)
	assert.Equal(t, int32(2), obs.dropped.Load())
	assert.True(t, c.Connected())
}

func TestClient_AutoReconnectAfterServerClose(t *testing.T) {
	l, port := listen(t)
	obs := &countingObserver{}
	c := newStartedClient(t, true, obs)
	c.Connect("127.0.0.1", port)

	first := accept(t, l)
	require.Equal(t, EventConnected, next(t, c).Kind)
	first.Close()

	ev := next(t, c)
	require.Equal(t, EventDisconnected, ev.Kind)
	assert.True(t, errors.Is(ev.Err, gerrors.ErrDisconnected))

	accept(t, l)
	require.Equal(t, EventConnected, next(t, c).Kind)
	assert.GreaterOrEqual(t, obs.attempts.Load(), int32(2))
}

func TestClient_NoReconnectWhenDisabled(t *testing.T) {
	l, port := listen(t)
	c := newStartedClient(t, false, nil)
	c.Connect("127.0.0.1", port)

	server := accept(t, l)
	require.Equal(t, EventConnected, next(t, c).Kind)
	server.Close()

	require.Equal(t, EventDisconnected, next(t, c).Kind)
	expectNone(t, c, 300*time.Millisecond)
	assert.False(t, c.Connected())

	// an explicit connect brings it back
	c.Connect("127.0.0.1", port)
	accept(t, l)
	require.Equal(t, EventConnected, next(t, c).Kind)
}

func TestClient_ConnectFailedRetriesWithDelay(t *testing.T) {
	l, port := listen(t)
	l.Close()

	c := newStartedClient(t, true, nil)
	c.Connect("127.0.0.1", port)

	first := next(t, c)
	require.Equal(t, EventConnectFailed, first.Kind)
	assert.True(t, errors.Is(first.Err, gerrors.ErrConnectFailed))
	start := time.Now()

	second := next(t, c)
	require.Equal(t, EventConnectFailed, second.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestClient_ConnectFailedWithoutAutoReconnectStops(t *testing.T) {
	l, port := listen(t)
	l.Close()

	c := newStartedClient(t, false, nil)
	c.Connect("127.0.0.1", port)

	require.Equal(t, EventConnectFailed, next(t, c).Kind)
	expectNone(t, c, 300*time.Millisecond)
}

func TestClient_ConnectWhileConnectedSwitchesHost(t *testing.T) {
	la, portA := listen(t)
	lb, portB := listen(t)

	c := newStartedClient(t, true, nil)
	c.Connect("127.0.0.1", portA)
	accept(t, la)
	ev := next(t, c)
	require.Equal(t, EventConnected, ev.Kind)
	assert.Contains(t, ev.Addr, portString(portA))

	c.Connect("127.0.0.1", portB)
	ev = next(t, c)
	require.Equal(t, EventDisconnected, ev.Kind)
	assert.Contains(t, ev.Addr, portString(portA))

	accept(t, lb)
	ev = next(t, c)
	require.Equal(t, EventConnected, ev.Kind)
	assert.Contains(t, ev.Addr, portString(portB))
	assert.Equal(t, ev.Addr, c.Addr())
}

func TestClient_DisconnectStopsReconnecting(t *testing.T) {
	l, port := listen(t)
	c := newStartedClient(t, true, nil)
	c.Connect("127.0.0.1", port)
	accept(t, l)
	require.Equal(t, EventConnected, next(t, c).Kind)

	c.Disconnect()
	require.Equal(t, EventDisconnected, next(t, c).Kind)
	expectNone(t, c, 300*time.Millisecond)
}

func TestClient_CloseClosesEvents(t *testing.T) {
	c := NewClient(testConfig(), nil, nil)
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))
	require.NoError(t, c.Close())

	_, ok := <-c.Events()
	assert.False(t, ok)

	unstarted := NewClient(Config{}, nil, nil)
	assert.NoError(t, unstarted.Close())
}

func TestBackoff(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 300*time.Millisecond)

	d := b.Next()
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 125*time.Millisecond)

	d = b.Next()
	assert.GreaterOrEqual(t, d, 200*time.Millisecond)

	d = b.Next()
	assert.GreaterOrEqual(t, d, 300*time.Millisecond)
	assert.Less(t, d, 375*time.Millisecond)

	b.Reset()
	assert.Less(t, b.Next(), 125*time.Millisecond)

	floor := newBackoff(0, 0)
	assert.GreaterOrEqual(t, floor.Next(), minReconnectDelay)
}

func portString(p uint16) string {
	return ":" + strconv.Itoa(int(p))
}
