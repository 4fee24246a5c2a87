package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAudioServer answers requests asynchronously through post, the way the
// real connection does. It keeps a tiny server-side model.
type fakeAudioServer struct {
	post func(Event)

	mu          sync.Mutex
	connects    int
	disconnects int
	connectErr  error
	failSetVol  bool
	sinkVolumes []uint32
	sinkMute    bool
	sourceMute  bool
	setVolCalls [][]uint32
}

func newFakeAudioServer(percent int) *fakeAudioServer {
	return &fakeAudioServer{sinkVolumes: stereo(percent)}
}

func (f *fakeAudioServer) async(ev Event) {
	go f.post(ev)
}

func (f *fakeAudioServer) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.async(ConnStateChanged{State: ConnReady})
	return nil
}

func (f *fakeAudioServer) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeAudioServer) Subscribe() error { return nil }

func (f *fakeAudioServer) GetServerInfo() error {
	f.async(ServerInfoObserved{DefaultSinkName: "alsa_output.pci", DefaultSourceName: "alsa_input.pci"})
	return nil
}

func (f *fakeAudioServer) sink() DeviceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return DeviceInfo{Index: testSinkIndex, Name: "alsa_output.pci", Volumes: copyVolumes(f.sinkVolumes), Mute: f.sinkMute}
}

func (f *fakeAudioServer) source() DeviceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return DeviceInfo{Index: testSourceIndex, Name: "alsa_input.pci", Mute: f.sourceMute}
}

func (f *fakeAudioServer) GetSinkByName(name string, reason QueryReason) error {
	f.async(SinkObserved{Reason: reason, Info: f.sink()})
	return nil
}

func (f *fakeAudioServer) GetSinkByIndex(index DeviceIndex, reason QueryReason) error {
	f.async(SinkObserved{Reason: reason, Info: f.sink()})
	return nil
}

func (f *fakeAudioServer) ListSinks() error {
	f.async(SinkListObserved{Infos: []DeviceInfo{f.sink()}})
	return nil
}

func (f *fakeAudioServer) GetSourceByName(name string, reason QueryReason) error {
	f.async(SourceObserved{Reason: reason, Info: f.source()})
	return nil
}

func (f *fakeAudioServer) GetSourceByIndex(index DeviceIndex, reason QueryReason) error {
	f.async(SourceObserved{Reason: reason, Info: f.source()})
	return nil
}

func (f *fakeAudioServer) ListSources() error {
	f.async(SourceListObserved{Infos: []DeviceInfo{f.source()}})
	return nil
}

func (f *fakeAudioServer) SetSinkVolume(index DeviceIndex, volumes []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setVolCalls = append(f.setVolCalls, copyVolumes(volumes))
	if f.failSetVol {
		f.async(OperationCompleted{Op: OpSetSinkVolume, Index: index, Success: false, Err: errors.New("access denied")})
		return nil
	}
	f.sinkVolumes = copyVolumes(volumes)
	f.async(OperationCompleted{Op: OpSetSinkVolume, Index: index, Success: true})
	return nil
}

func (f *fakeAudioServer) SetSinkMute(index DeviceIndex, mute bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinkMute = mute
	f.async(OperationCompleted{Op: OpSetSinkMute, Index: index, Success: true})
	return nil
}

func (f *fakeAudioServer) SetSourceMute(index DeviceIndex, mute bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceMute = mute
	f.async(OperationCompleted{Op: OpSetSourceMute, Index: index, Success: true})
	return nil
}

func (f *fakeAudioServer) counts() (connects, disconnects, setVols int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, len(f.setVolCalls)
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.seen...)
}

func (r *recordingNotifier) last() (Notification, bool) {
	all := r.all()
	if len(all) == 0 {
		return Notification{}, false
	}
	return all[len(all)-1], true
}

// recordingSettings captures persisted step sizes.
type recordingSettings struct {
	mu     sync.Mutex
	values []int
}

func (r *recordingSettings) SetStepSize(v int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
	return nil
}

type daemonHarness struct {
	t        *testing.T
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan Event
	server   *fakeAudioServer
	notifier *recordingNotifier
	settings *recordingSettings
	facade   *Facade
	done     chan struct{}
}

func startDaemon(t *testing.T, server *fakeAudioServer, broadcasts chan<- StateBroadcast) *daemonHarness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := &daemonHarness{
		t:        t,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan Event, 64),
		server:   server,
		notifier: &recordingNotifier{},
		settings: &recordingSettings{},
		done:     make(chan struct{}),
	}
	post := func(ev Event) {
		select {
		case h.events <- ev:
		case <-ctx.Done():
		}
	}
	server.post = post
	h.facade = NewFacade(h.events, discardLogger())

	fx := Effects{
		Server:    server,
		Reconnect: newReconnectTimer(post),
		Notifier:  h.notifier,
		Settings:  h.settings,
	}
	cfg := ReducerConfig{ReconnectDelay: 20 * time.Millisecond}

	go func() {
		defer close(h.done)
		runDaemon(ctx, h.events, fx, cfg, NewDaemonState(defaultStepSize), broadcasts, discardLogger())
	}()

	t.Cleanup(h.stop)
	return h
}

func (h *daemonHarness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		h.t.Fatalf("timeout waiting for daemon to stop")
	}
}

func (h *daemonHarness) snapshot() StateSnapshot {
	h.t.Helper()
	snap, err := requestSnapshot(h.ctx, h.events, time.Second)
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func (h *daemonHarness) waitReady() {
	h.t.Helper()
	waitUntil(h.t, time.Second, func() bool {
		s := h.snapshot()
		return s.Connection == "ready" && s.SinkKnown && s.SourceKnown
	}, "daemon did not select both devices")
}

func TestDaemon_RaiseThroughFacade(t *testing.T) {
	server := newFakeAudioServer(50)
	h := startDaemon(t, server, nil)
	h.waitReady()

	h.facade.Raise()

	waitUntil(t, time.Second, func() bool {
		n, ok := h.notifier.last()
		return ok && n == Notification{Category: CategoryMedium, Value: 55}
	}, "expected 55% notification")

	if _, _, setVols := server.counts(); setVols != 1 {
		t.Fatalf("expected 1 SetSinkVolume, got %d", setVols)
	}
	if s := h.snapshot(); s.VolumePercent != 55 {
		t.Fatalf("expected model at 55%%, got %d", s.VolumePercent)
	}
}

func TestDaemon_MuteAndMicAreIndependent(t *testing.T) {
	server := newFakeAudioServer(80)
	h := startDaemon(t, server, nil)
	h.waitReady()

	h.facade.ToggleMicMute()
	waitUntil(t, time.Second, func() bool {
		n, ok := h.notifier.last()
		return ok && n.Category == CategoryMicMuted
	}, "expected mic_muted notification")

	h.facade.ToggleMute()
	waitUntil(t, time.Second, func() bool {
		n, ok := h.notifier.last()
		return ok && n.Category == CategoryMuted
	}, "expected muted notification")

	s := h.snapshot()
	if !s.Muted || !s.MicMuted {
		t.Fatalf("expected both muted, got %+v", s)
	}
	if len(h.notifier.all()) != 2 {
		t.Fatalf("expected exactly 2 notifications, got %+v", h.notifier.all())
	}
}

func TestDaemon_FailedOperationReverts(t *testing.T) {
	server := newFakeAudioServer(50)
	server.failSetVol = true
	h := startDaemon(t, server, nil)
	h.waitReady()

	h.facade.Lower()

	waitUntil(t, time.Second, func() bool {
		_, _, setVols := server.counts()
		return setVols == 1 && h.snapshot().VolumePercent == 50
	}, "expected volume reverted to 50%")

	if got := h.notifier.all(); len(got) != 0 {
		t.Fatalf("expected no notifications after a failed step, got %+v", got)
	}
}

func TestDaemon_ReconnectsAfterFailure(t *testing.T) {
	server := newFakeAudioServer(50)
	h := startDaemon(t, server, nil)
	h.waitReady()

	h.events <- ConnStateChanged{State: ConnFailed, Err: io.EOF}

	waitUntil(t, time.Second, func() bool {
		connects, _, _ := server.counts()
		return connects == 2
	}, "expected a second connect after the reconnect delay")
	h.waitReady()
}

func TestDaemon_ConnectErrorSchedulesRetry(t *testing.T) {
	server := newFakeAudioServer(50)
	server.connectErr = errors.New("connection refused")
	h := startDaemon(t, server, nil)

	waitUntil(t, time.Second, func() bool {
		connects, _, _ := server.counts()
		return connects >= 2
	}, "expected connect to be retried")

	if s := h.snapshot(); s.SinkKnown || s.Connection == "ready" {
		t.Fatalf("expected no device while disconnected, got %+v", s)
	}
}

func TestDaemon_ActionsWhileDisconnectedAreDropped(t *testing.T) {
	server := newFakeAudioServer(50)
	server.connectErr = errors.New("connection refused")
	h := startDaemon(t, server, nil)

	h.facade.Raise()
	h.facade.ToggleMute()
	_ = h.snapshot()

	if _, _, setVols := server.counts(); setVols != 0 {
		t.Fatalf("expected no SetSinkVolume while disconnected, got %d", setVols)
	}
	if got := h.notifier.all(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %+v", got)
	}
}

func TestDaemon_ShutdownDisconnects(t *testing.T) {
	server := newFakeAudioServer(50)
	h := startDaemon(t, server, nil)
	h.waitReady()

	h.stop()

	if _, disconnects, _ := server.counts(); disconnects != 1 {
		t.Fatalf("expected 1 Disconnect on shutdown, got %d", disconnects)
	}
}

func TestDaemon_PersistsDefaultStepSize(t *testing.T) {
	server := newFakeAudioServer(50)
	h := startDaemon(t, server, nil)

	h.events <- StepSizeChanged{Value: 400, Set: true}

	waitUntil(t, time.Second, func() bool {
		h.settings.mu.Lock()
		defer h.settings.mu.Unlock()
		return len(h.settings.values) == 1 && h.settings.values[0] == defaultStepSize
	}, "expected default step size persisted")

	if s := h.snapshot(); s.StepSize != defaultStepSize {
		t.Fatalf("expected step %d, got %d", defaultStepSize, s.StepSize)
	}
}

func TestDaemon_PublishesBroadcasts(t *testing.T) {
	server := newFakeAudioServer(50)
	broadcasts := make(chan StateBroadcast, 64)
	h := startDaemon(t, server, broadcasts)
	h.waitReady()

	h.facade.Raise()

	deadline := time.After(time.Second)
	for {
		select {
		case b := <-broadcasts:
			if v, ok := b.(BroadcastVolumeChanged); ok && v.Percent == 55 {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for volume broadcast")
		}
	}
}

func TestEventName(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{VolumeStep{Direction: DirectionUp}, "raise"},
		{VolumeStep{Direction: DirectionDown}, "lower"},
		{ToggleMicMute{}, "toggle_mic_mute"},
		{OperationCompleted{Op: OpSetSinkMute}, "set_sink_mute"},
		{SinkObserved{}, "sink_info"},
		{Shutdown{}, "main.Shutdown"},
	}
	for _, tt := range tests {
		if got := eventName(tt.ev); got != tt.want {
			t.Errorf("eventName(%T) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}
