package main

import (
	"log/slog"
	"time"
)

// AudioServer is the connection to the audio server as seen by the effects layer.
//
// Every method only starts a request and returns at once. Results arrive later
// as Events (ConnStateChanged, *Observed, OperationCompleted, QueryFailed).
// A returned error means the request could not even be started.
// Disconnect is synchronous and reports nothing; the caller records Terminated.
type AudioServer interface {
	Connect() error
	Disconnect()
	Subscribe() error
	GetServerInfo() error
	GetSinkByName(name string, reason QueryReason) error
	GetSinkByIndex(index DeviceIndex, reason QueryReason) error
	ListSinks() error
	GetSourceByName(name string, reason QueryReason) error
	GetSourceByIndex(index DeviceIndex, reason QueryReason) error
	ListSources() error
	SetSinkVolume(index DeviceIndex, volumes []uint32) error
	SetSinkMute(index DeviceIndex, mute bool) error
	SetSourceMute(index DeviceIndex, mute bool) error
}

// Reconnector arms and disarms the one-shot reconnect timer.
type Reconnector interface {
	Schedule(after time.Duration)
	Cancel()
}

// StepSizeWriter persists the step size.
type StepSizeWriter interface {
	SetStepSize(v int) error
}

// Effects bundles the collaborators commands are executed against.
type Effects struct {
	Server    AudioServer
	Reconnect Reconnector
	Notifier  Notifier
	Settings  StepSizeWriter
}

// runEffect executes a single reducer-emitted Command and reports what it
// observed via onEvent.
//
// It must never call Reduce() directly; the daemon loop sequences
// Reduce -> Commands -> runEffect -> Events -> Reduce.
func runEffect(fx Effects, cmd Command, logger *slog.Logger, onEvent func(Event)) {
	if onEvent == nil {
		return
	}

	switch c := cmd.(type) {
	case CmdConnect:
		if fx.Server == nil {
			onEvent(ConnStateChanged{State: ConnFailed, Err: errNoServer})
			return
		}
		if err := fx.Server.Connect(); err != nil {
			logger.Warn("connect could not be started", "error", err)
			onEvent(ConnStateChanged{State: ConnFailed, Err: err})
		}

	case CmdDisconnect:
		if fx.Server != nil {
			fx.Server.Disconnect()
		}
		onEvent(ConnStateChanged{State: ConnTerminated})

	case CmdSubscribe:
		startQuery(fx, "subscribe", logger, onEvent, func(s AudioServer) error { return s.Subscribe() })

	case CmdGetServerInfo:
		startQuery(fx, "server_info", logger, onEvent, func(s AudioServer) error { return s.GetServerInfo() })

	case CmdGetSink:
		startQuery(fx, "sink_info", logger, onEvent, func(s AudioServer) error {
			if c.Name != "" {
				return s.GetSinkByName(c.Name, c.Reason)
			}
			return s.GetSinkByIndex(c.Index, c.Reason)
		})

	case CmdListSinks:
		startQuery(fx, "sink_list", logger, onEvent, func(s AudioServer) error { return s.ListSinks() })

	case CmdGetSource:
		startQuery(fx, "source_info", logger, onEvent, func(s AudioServer) error {
			if c.Name != "" {
				return s.GetSourceByName(c.Name, c.Reason)
			}
			return s.GetSourceByIndex(c.Index, c.Reason)
		})

	case CmdListSources:
		startQuery(fx, "source_list", logger, onEvent, func(s AudioServer) error { return s.ListSources() })

	case CmdSetSinkVolume:
		startOperation(fx, OpSetSinkVolume, c.Index, logger, onEvent, func(s AudioServer) error {
			return s.SetSinkVolume(c.Index, c.Volumes)
		})

	case CmdSetSinkMute:
		startOperation(fx, OpSetSinkMute, c.Index, logger, onEvent, func(s AudioServer) error {
			return s.SetSinkMute(c.Index, c.Mute)
		})

	case CmdSetSourceMute:
		startOperation(fx, OpSetSourceMute, c.Index, logger, onEvent, func(s AudioServer) error {
			return s.SetSourceMute(c.Index, c.Mute)
		})

	case CmdScheduleReconnect:
		if fx.Reconnect == nil {
			logger.Warn("no reconnect timer configured; staying disconnected")
			return
		}
		logger.Info("reconnecting later", "after", c.After)
		fx.Reconnect.Schedule(c.After)

	case CmdCancelReconnect:
		if fx.Reconnect != nil {
			fx.Reconnect.Cancel()
		}

	case CmdNotify:
		if fx.Notifier != nil {
			fx.Notifier.Notify(c.Notification)
		}

	case CmdPersistStepSize:
		if fx.Settings == nil {
			return
		}
		if err := fx.Settings.SetStepSize(c.Value); err != nil {
			logger.Warn("persist step size failed", "error", err, "value", c.Value)
		}

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop on a requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}

// startQuery issues a read-only request; failing to start it is logged and
// reported as QueryFailed.
func startQuery(fx Effects, name string, logger *slog.Logger, onEvent func(Event), start func(AudioServer) error) {
	if fx.Server == nil {
		onEvent(QueryFailed{Query: name, Err: errNoServer})
		return
	}
	if err := start(fx.Server); err != nil {
		logger.Warn("query could not be started", "query", name, "error", err)
		onEvent(QueryFailed{Query: name, Err: err})
	}
}

// startOperation issues a mutating request. If it cannot start, the operation
// is dropped and reported as a failed completion so the optimistic edit is
// reverted.
func startOperation(fx Effects, op Operation, index DeviceIndex, logger *slog.Logger, onEvent func(Event), start func(AudioServer) error) {
	var err error
	if fx.Server == nil {
		err = errNoServer
	} else {
		err = start(fx.Server)
	}
	if err == nil {
		return
	}
	logger.Warn("operation dropped", "operation", op.String(), "index", uint32(index), "error", err)
	onEvent(OperationCompleted{Op: op, Index: index, Success: false, Err: err})
}
