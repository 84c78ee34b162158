package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/fieldnode/internal/report"
	"github.com/stone-age-io/fieldnode/internal/tasks"
	"github.com/stone-age-io/fieldnode/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func mustRecord(t *testing.T, seq uint32) report.Record {
	t.Helper()
	r, err := report.New(4242, 3177562153, seq, 0.87)
	require.NoError(t, err)
	return r
}

func mustEncode(t *testing.T, r report.Record) []byte {
	t.Helper()
	data, err := wire.Encode(r)
	require.NoError(t, err)
	return data
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "mesh.3177562153.pkg", PackageSubject("mesh", 3177562153))
	assert.Equal(t, "site.forest.4242.cmd.status", CommandSubject("site.forest", 4242, "status"))
}

type fakePublisher struct {
	subject     string
	data        []byte
	hadDeadline bool
	err         error
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	p.subject = subject
	p.data = data
	_, p.hadDeadline = ctx.Deadline()
	return p.err
}

func TestTransportSendReport(t *testing.T) {
	pub := &fakePublisher{}
	tr := NewTransport(pub, "mesh", time.Second, zap.NewNop())
	r := mustRecord(t, 17)

	require.NoError(t, tr.SendReport(context.Background(), r))

	assert.Equal(t, "mesh.3177562153.pkg", pub.subject)
	assert.True(t, pub.hadDeadline, "publish must be bounded by the send timeout")

	got, err := wire.Decode(pub.data)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestTransportSendReportFailure(t *testing.T) {
	pub := &fakePublisher{err: nats.ErrTimeout}
	tr := NewTransport(pub, "mesh", time.Second, zap.NewNop())

	err := tr.SendReport(context.Background(), mustRecord(t, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrTimeout)
	assert.Contains(t, err.Error(), "4242_1.jpg")
}

func TestNodeIDFromInterfaces(t *testing.T) {
	tests := []struct {
		name    string
		ifaces  []net.Interface
		want    uint32
		wantErr bool
	}{
		{
			name: "single interface",
			ifaces: []net.Interface{
				{Name: "eth0", HardwareAddr: net.HardwareAddr{0x02, 0x42, 0xbd, 0x66, 0x10, 0x29}},
			},
			want: 0xbd661029,
		},
		{
			name: "lowest name wins",
			ifaces: []net.Interface{
				{Name: "wlan0", HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 2}},
				{Name: "eth0", HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 1}},
			},
			want: 1,
		},
		{
			name: "loopback skipped",
			ifaces: []net.Interface{
				{Name: "a-lo", Flags: net.FlagLoopback, HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 9}},
				{Name: "eth0", HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 5}},
			},
			want: 5,
		},
		{
			name: "zero address skipped",
			ifaces: []net.Interface{
				{Name: "dummy0", HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 0}},
				{Name: "eth0", HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 7}},
			},
			want: 7,
		},
		{
			name:    "no hardware",
			ifaces:  []net.Interface{{Name: "lo", Flags: net.FlagLoopback}, {Name: "tun0"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nodeIDFromInterfaces(tt.ifaces)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveNodeIDConfigured(t *testing.T) {
	id, err := ResolveNodeID(4242)
	require.NoError(t, err)
	assert.Equal(t, uint32(4242), id)
}

func TestRouterDispatch(t *testing.T) {
	router := NewRouter(zap.NewNop())

	var received []report.Record
	require.NoError(t, router.Handle(wire.TypeReport, func(data []byte) error {
		r, err := wire.Decode(data)
		if err != nil {
			return err
		}
		received = append(received, r)
		return nil
	}))

	require.NoError(t, router.Dispatch(mustEncode(t, mustRecord(t, 3))))
	require.Len(t, received, 1)
	assert.Equal(t, uint32(3), received[0].Sequence())

	err := router.Dispatch([]byte(`{"type":40}`))
	assert.ErrorIs(t, err, ErrUnknownPackage)

	err = router.Dispatch([]byte(`not json`))
	assert.ErrorIs(t, err, wire.ErrInvalidMessage)

	err = router.Dispatch([]byte(`{"type":31,"from":4242}`))
	assert.ErrorIs(t, err, wire.ErrInvalidMessage)
	assert.Len(t, received, 1)
}

func TestRouterHandleRegistration(t *testing.T) {
	router := NewRouter(zap.NewNop())
	noop := func([]byte) error { return nil }

	assert.ErrorIs(t, router.Handle(5, noop), ErrReservedType)
	require.NoError(t, router.Handle(wire.TypeReport, noop))
	assert.Error(t, router.Handle(wire.TypeReport, noop))
}

func TestRouterHandleMsgLogsRejection(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := NewRouter(zap.New(core))

	router.HandleMsg(&nats.Msg{Subject: "mesh.4242.pkg", Data: []byte(`{"type":99}`)})

	assert.Equal(t, 1, logs.FilterMessage("Package rejected").Len())
}

func TestNewPackageResponse(t *testing.T) {
	ok := newPackageResponse(nil)
	assert.True(t, ok.Accepted)
	assert.Empty(t, ok.Error)

	rejected := newPackageResponse(ErrUnknownPackage)
	assert.False(t, rejected.Accepted)
	assert.Equal(t, ErrUnknownPackage.Error(), rejected.Error)

	data, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"accepted":true`)
}

func TestHandleWithRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := handleWithRecovery(zap.New(core), "boom", func(msg *nats.Msg) {
		panic("handler exploded")
	})

	assert.NotPanics(t, func() {
		handler(&nats.Msg{Subject: "mesh.4242.cmd.ping", Reply: "_INBOX.1"})
	})
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered in handler").Len())
}

type fakeSubscriber struct {
	handlers  map[string]nats.MsgHandler
	err       error
	connected bool
	stats     nats.Statistics
}

func (s *fakeSubscriber) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.handlers[subject] = handler
	return nil, nil
}

func (s *fakeSubscriber) IsConnected() bool { return s.connected }

func (s *fakeSubscriber) Stats() nats.Statistics { return s.stats }

type fakeLifecycle struct {
	state   string
	stalled bool
}

func (l *fakeLifecycle) State() string { return l.state }

func (l *fakeLifecycle) Stalled() bool { return l.stalled }

type fakeFreeSpace struct {
	bytes uint64
	err   error
}

func (f *fakeFreeSpace) FreeBytes() (uint64, error) { return f.bytes, f.err }

func newTestHandlers(lifecycle StateReporter, free FreeSpacer) *CommandHandlers {
	exec := tasks.NewExecutor(zap.NewNop(), clockwork.NewFakeClock(), tasks.Settings{
		NodeID:        4242,
		Destination:   3177562153,
		Threshold:     0.5,
		QueueCapacity: 10,
	}, nil, nil, nil, nil)
	return NewCommandHandlers(zap.NewNop(), "mesh", 4242, "1.2.3", exec, lifecycle, free)
}

func TestSubscribeAll(t *testing.T) {
	h := newTestHandlers(&fakeLifecycle{state: "Operational"}, &fakeFreeSpace{})
	sub := &fakeSubscriber{handlers: make(map[string]nats.MsgHandler)}

	require.NoError(t, h.SubscribeAll(sub, NewRouter(zap.NewNop())))

	for _, subject := range []string{
		"mesh.4242.pkg",
		"mesh.4242.cmd.ping",
		"mesh.4242.cmd.status",
		"mesh.4242.cmd.metrics",
	} {
		assert.Contains(t, sub.handlers, subject)
	}

	// handlers without a bound subscription must not panic
	assert.NotPanics(t, func() {
		sub.handlers["mesh.4242.cmd.ping"](&nats.Msg{Subject: "mesh.4242.cmd.ping"})
		sub.handlers["mesh.4242.cmd.metrics"](&nats.Msg{Subject: "mesh.4242.cmd.metrics"})
	})
}

func TestSubscribeAllFailure(t *testing.T) {
	h := newTestHandlers(&fakeLifecycle{}, &fakeFreeSpace{})
	sub := &fakeSubscriber{handlers: make(map[string]nats.MsgHandler), err: errors.New("connection closed")}

	assert.Error(t, h.SubscribeAll(sub, NewRouter(zap.NewNop())))
}

func TestBuildStatus(t *testing.T) {
	h := newTestHandlers(&fakeLifecycle{state: "Operational"}, &fakeFreeSpace{bytes: 512 * 1024 * 1024})

	status := h.buildStatus(context.Background())

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, uint32(4242), status.NodeID)
	assert.Equal(t, uint32(4242), status.ShortID)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, h.BootID(), status.BootID)
	assert.Equal(t, "Operational", status.State)
	require.NotNil(t, status.CardFreeMB)
	assert.Equal(t, 512.0, *status.CardFreeMB)
	require.NotNil(t, status.Tasks)
	assert.Equal(t, 10, status.Tasks.QueueCapacity)
	assert.Nil(t, status.Tasks.Counter)
}

func TestBuildStatusStalled(t *testing.T) {
	h := newTestHandlers(
		&fakeLifecycle{state: "CameraUninitialized", stalled: true},
		&fakeFreeSpace{err: errors.New("card missing")},
	)

	status := h.buildStatus(context.Background())

	assert.Equal(t, "stalled", status.Status)
	assert.True(t, status.Stalled)
	assert.Nil(t, status.CardFreeMB)
	assert.Nil(t, status.Mesh, "no connection before SubscribeAll")

	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "card_free_mb")
}

func TestBuildStatusReportsMeshConnection(t *testing.T) {
	h := newTestHandlers(&fakeLifecycle{state: "Operational"}, &fakeFreeSpace{})
	sub := &fakeSubscriber{
		handlers:  make(map[string]nats.MsgHandler),
		connected: true,
		stats:     nats.Statistics{Reconnects: 3, InMsgs: 12, OutMsgs: 40, OutBytes: 4096},
	}
	require.NoError(t, h.SubscribeAll(sub, NewRouter(zap.NewNop())))

	status := h.buildStatus(context.Background())

	require.NotNil(t, status.Mesh)
	assert.True(t, status.Mesh.Connected)
	assert.Equal(t, uint64(3), status.Mesh.Reconnects)
	assert.Equal(t, uint64(12), status.Mesh.InMsgs)
	assert.Equal(t, uint64(40), status.Mesh.OutMsgs)
	assert.Equal(t, uint64(4096), status.Mesh.OutBytes)

	sub.connected = false
	assert.False(t, h.buildStatus(context.Background()).Mesh.Connected)
}
