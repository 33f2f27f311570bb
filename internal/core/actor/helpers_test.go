package actor

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/berfenger/ecopilot2mqtt/internal/core/domain"
	"github.com/berfenger/ecopilot2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// eventCollector records every event published on a stream, in order.
type eventCollector struct {
	mu     sync.Mutex
	events []any
}

func collectEvents(es *eventstream.EventStream) *eventCollector {
	c := &eventCollector{}
	es.Subscribe(func(evt any) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, evt)
	})
	return c
}

func (c *eventCollector) all() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.events...)
}

func (c *eventCollector) count(match func(any) bool) int {
	n := 0
	for _, evt := range c.all() {
		if match(evt) {
			n++
		}
	}
	return n
}

func (c *eventCollector) readings(field string) []domain.Reading {
	var readings []domain.Reading
	for _, evt := range c.all() {
		if r, ok := evt.(domain.ReadingUpdated); ok && r.Field == field {
			readings = append(readings, r.Reading)
		}
	}
	return readings
}

func isOnline(evt any) bool {
	_, ok := evt.(domain.DeviceOnline)
	return ok
}

func isOffline(evt any) bool {
	_, ok := evt.(domain.DeviceOffline)
	return ok
}

func isRemoved(evt any) bool {
	_, ok := evt.(domain.DeviceRemoved)
	return ok
}

func isDiscovered(evt any) bool {
	_, ok := evt.(domain.DeviceDiscovered)
	return ok
}

// fakeDevice is a loopback listener standing in for a device.
type fakeDevice struct {
	listener net.Listener
	conns    chan net.Conn
}

func newFakeDevice(t *testing.T) *fakeDevice {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDevice{listener: l, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				close(d.conns)
				return
			}
			d.conns <- conn
		}
	}()
	t.Cleanup(func() {
		l.Close()
	})
	return d
}

func (d *fakeDevice) address() string {
	return d.listener.Addr().String()
}

func (d *fakeDevice) accept(t *testing.T) net.Conn {
	select {
	case conn, ok := <-d.conns:
		require.True(t, ok, "listener closed")
		t.Cleanup(func() {
			conn.Close()
		})
		return conn
	case <-time.After(waitTimeout):
		require.FailNow(t, "device was never dialed")
		return nil
	}
}

// closedAddress returns an address nothing listens on.
func closedAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := l.Addr().String()
	l.Close()
	return address
}

func refused(network string) error {
	return &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
}

// countingDialer refuses every dial and counts the attempts.
type countingDialer struct {
	dials atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	return nil, refused(network)
}

func (d *countingDialer) count() int {
	return int(d.dials.Load())
}

// timedDialer records when each dial happens. The first failures dials are refused, the rest
// reach the network.
type timedDialer struct {
	mu       sync.Mutex
	times    []time.Time
	failures int
	dialer   net.Dialer
}

func (d *timedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.times = append(d.times, time.Now())
	refuse := len(d.times) <= d.failures
	d.mu.Unlock()
	if refuse {
		return nil, refused(network)
	}
	return d.dialer.DialContext(ctx, network, address)
}

func (d *timedDialer) dials() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.times...)
}

// fakeBrowser relays announcements pushed by the test.
type fakeBrowser struct {
	announcements chan port.Announcement
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{announcements: make(chan port.Announcement, 16)}
}

func (b *fakeBrowser) Browse(ctx context.Context, out chan<- port.Announcement) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-b.announcements:
			out <- a
		}
	}
}

// spawnInbox spawns an actor forwarding every user message it receives to the returned channel.
func spawnInbox(root *actor.RootContext) (*actor.PID, chan any) {
	messages := make(chan any, 64)
	pid := root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch ctx.Message().(type) {
		case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
		default:
			messages <- ctx.Message()
		}
	}))
	return pid, messages
}

func receive(t *testing.T, messages chan any, timeout time.Duration) any {
	select {
	case msg := <-messages:
		return msg
	case <-time.After(timeout):
		require.FailNow(t, "no message received")
		return nil
	}
}

func healthCheck(root *actor.RootContext, pid *actor.PID) (domain.ActorHealthResponse, error) {
	res, err := root.RequestFuture(pid, domain.ActorHealthRequest{}, waitTimeout).Result()
	if err != nil {
		return domain.ActorHealthResponse{}, err
	}
	return res.(domain.ActorHealthResponse), nil
}
