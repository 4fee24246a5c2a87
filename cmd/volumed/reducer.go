package main

import (
	"time"
)

// This file implements the reducer:
//
//   - Events in (user actions, connection transitions, server replies and pushes)
//   - next state + Commands + Broadcasts out
//   - no I/O, no blocking
//
// The daemon loop executes Commands and feeds observations back as Events.
// Device selection lives in selector.go, the notification/diff logic in reconcile.go.

// ReducerConfig holds the static knobs the reducer needs.
type ReducerConfig struct {
	ReconnectDelay time.Duration

	// GaugeNotifications selects the 101/-1 overshoot/undershoot sentinels.
	GaugeNotifications bool
}

// Rejection records an event the reducer refused or could not apply.
// The loop logs these; nothing is reported back to the caller.
type Rejection struct {
	Event  Event
	Reason string
}

// ReduceResult is the output of Reduce().
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
	Rejections []Rejection
}

func (r *ReduceResult) command(c ...Command)          { r.Commands = append(r.Commands, c...) }
func (r *ReduceResult) broadcast(b ...StateBroadcast) { r.Broadcasts = append(r.Broadcasts, b...) }
func (r *ReduceResult) reject(ev Event, reason string) {
	r.Rejections = append(r.Rejections, Rejection{Event: ev, Reason: reason})
}

func (r *ReduceResult) notify(n Notification) {
	r.command(CmdNotify{Notification: n})
}

// Rejection reasons.
const (
	reasonNotReady      = "audio server not ready"
	reasonNoSink        = "no sink selected"
	reasonNoSource      = "no source selected"
	reasonMalformedInfo = "device info has no channel volumes"

	reasonOperationFailed = "server rejected the operation"
)

// Reduce is the pure reducer. It must not perform I/O, block, or touch
// anything outside the returned state.
func Reduce(s *DaemonState, e Event, cfg ReducerConfig) ReduceResult {
	if s == nil {
		s = NewDaemonState(defaultStepSize)
	}
	rr := ReduceResult{State: s}

	var at time.Time
	if te, ok := e.(TimedEvent); ok {
		at = te.At
		e = te.Event
	}

	switch ev := e.(type) {
	case VolumeStep:
		reduceVolumeStep(s, ev, at, &rr)

	case ToggleMute:
		reduceToggleMute(s, ev, at, &rr)

	case ToggleMicMute:
		reduceToggleMicMute(s, ev, at, &rr)

	case ConnStateChanged:
		reduceConnState(s, ev, at, cfg, &rr)

	case Start:
		reduceConnect(s, at, &rr)

	case ReconnectTimerFired:
		s.Conn.ReconnectPending = false
		reduceConnect(s, at, &rr)

	case Shutdown:
		s.Conn.ShuttingDown = true
		if s.Conn.ReconnectPending {
			s.Conn.ReconnectPending = false
			rr.command(CmdCancelReconnect{})
		}
		rr.command(CmdDisconnect{})

	case ServerInfoObserved:
		reduceServerInfo(s, ev, &rr)

	case SinkObserved:
		reduceSinkObserved(s, ev, at, &rr)

	case SinkListObserved:
		reduceSinkList(s, ev, at, &rr)

	case SourceObserved:
		reduceSourceObserved(s, ev, at, &rr)

	case SourceListObserved:
		reduceSourceList(s, ev, at, &rr)

	case SubscriptionEvent:
		reduceSubscriptionEvent(s, ev, at, &rr)

	case QueryFailed:
		// Selection stays as it was; a later server event retries.

	case OperationCompleted:
		reduceCompletion(s, ev, at, cfg, &rr)

	case StepSizeChanged:
		reduceStepSize(s, ev, &rr)

	case RequestStateSnapshot:
		rr.command(CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot()})

	default:
		// Unknown event type: no-op.
	}

	return rr
}

func reduceVolumeStep(s *DaemonState, ev VolumeStep, at time.Time, rr *ReduceResult) {
	if !s.Ready() {
		rr.reject(ev, reasonNotReady)
		return
	}
	if !s.Sink.Selected() {
		rr.reject(ev, reasonNoSink)
		return
	}

	prev := ReadablePercent(s.Sink.Volumes)
	delta := StepToNative(s.StepSize)

	var next []uint32
	if ev.Direction == DirectionDown {
		next = LowerVolumes(s.Sink.Volumes, delta)
	} else {
		next = RaiseVolumes(s.Sink.Volumes, delta)
	}

	s.PendingSink = &PendingChange{
		Kind:            PendingVolume,
		Index:           s.Sink.Index,
		PreviousPercent: prev,
		PreviousVolumes: copyVolumes(s.Sink.Volumes),
		PreviousMute:    s.Sink.Mute,
	}
	s.Sink.Volumes = next
	s.SinkInFlight++

	rr.command(CmdSetSinkVolume{Index: s.Sink.Index, Volumes: copyVolumes(next)})
	if p := ReadablePercent(next); p != prev {
		rr.broadcast(BroadcastVolumeChanged{Percent: p, At: at})
	}
}

func reduceToggleMute(s *DaemonState, ev ToggleMute, at time.Time, rr *ReduceResult) {
	if !s.Ready() {
		rr.reject(ev, reasonNotReady)
		return
	}
	if !s.Sink.Selected() {
		rr.reject(ev, reasonNoSink)
		return
	}

	s.PendingSink = &PendingChange{
		Kind:            PendingMute,
		Index:           s.Sink.Index,
		PreviousPercent: ReadablePercent(s.Sink.Volumes),
		PreviousVolumes: copyVolumes(s.Sink.Volumes),
		PreviousMute:    s.Sink.Mute,
	}
	s.Sink.Mute = !s.Sink.Mute
	s.SinkInFlight++

	rr.command(CmdSetSinkMute{Index: s.Sink.Index, Mute: s.Sink.Mute})
	rr.broadcast(BroadcastMuteChanged{Muted: s.Sink.Mute, At: at})
}

func reduceToggleMicMute(s *DaemonState, ev ToggleMicMute, at time.Time, rr *ReduceResult) {
	if !s.Ready() {
		rr.reject(ev, reasonNotReady)
		return
	}
	if !s.Source.Selected() {
		rr.reject(ev, reasonNoSource)
		return
	}

	s.PendingMic = &PendingMicChange{Index: s.Source.Index, PreviousMute: s.Source.Mute}
	s.Source.Mute = !s.Source.Mute
	s.MicInFlight++

	rr.command(CmdSetSourceMute{Index: s.Source.Index, Mute: s.Source.Mute})
	rr.broadcast(BroadcastMicMuteChanged{Muted: s.Source.Mute, At: at})
}

// reduceConnect starts a connection attempt unless one is up or underway.
func reduceConnect(s *DaemonState, at time.Time, rr *ReduceResult) {
	if s.Conn.ShuttingDown {
		return
	}
	switch s.Conn.State {
	case ConnReady, ConnConnecting, ConnAuthenticating:
		return
	}
	s.Conn.State = ConnConnecting
	rr.command(CmdConnect{})
	rr.broadcast(BroadcastConnectionChanged{State: ConnConnecting, At: at})
}

func reduceConnState(s *DaemonState, ev ConnStateChanged, at time.Time, cfg ReducerConfig, rr *ReduceResult) {
	prev := s.Conn.State

	switch ev.State {
	case ConnReady:
		if prev == ConnReady {
			return
		}
		s.Conn.State = ConnReady
		rr.command(CmdSubscribe{}, CmdGetServerInfo{})

	case ConnFailed:
		hadDevices := s.Sink.Selected() || s.Source.Selected()
		s.Conn.State = ConnFailed
		s.clearDevices()
		if hadDevices {
			deviceUnsetBroadcasts(rr, at)
		}
		if !s.Conn.ReconnectPending && !s.Conn.ShuttingDown {
			s.Conn.ReconnectPending = true
			delay := cfg.ReconnectDelay
			if delay <= 0 {
				delay = defaultReconnectDelay
			}
			rr.command(CmdScheduleReconnect{After: delay})
		}

	case ConnTerminated:
		hadDevices := s.Sink.Selected() || s.Source.Selected()
		s.Conn.State = ConnTerminated
		s.clearDevices()
		if hadDevices {
			deviceUnsetBroadcasts(rr, at)
		}

	default:
		// Connecting/Authenticating/Unconnected are bookkeeping only.
		s.Conn.State = ev.State
	}

	if s.Conn.State != prev {
		rr.broadcast(BroadcastConnectionChanged{State: s.Conn.State, At: at})
	}
}

func deviceUnsetBroadcasts(rr *ReduceResult, at time.Time) {
	rr.broadcast(
		BroadcastDeviceChanged{Kind: DeviceKindSink, Index: InvalidIndex, At: at},
		BroadcastDeviceChanged{Kind: DeviceKindSource, Index: InvalidIndex, At: at},
	)
}

func reduceStepSize(s *DaemonState, ev StepSizeChanged, rr *ReduceResult) {
	if !ev.Set || ev.Value < 0 || ev.Value > 100 {
		s.StepSize = defaultStepSize
		rr.command(CmdPersistStepSize{Value: defaultStepSize})
		return
	}
	s.StepSize = ev.Value
}
