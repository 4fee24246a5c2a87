package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// The loop is the only goroutine that owns DaemonState.
//
//   - Events arrive from the facade, the audio server connection, the
//     reconnect timer and the settings watcher.
//   - Reduce computes next state, Commands and Broadcasts. It does no I/O.
//   - runEffect executes Commands; what it observes is queued as Events.
//
// Events and commands are kept in explicit queues, so nothing re-enters the
// reducer while it runs.
//
// ============================================================================

// runDaemon runs until ctx is canceled or events is closed.
//
// On cancellation it reduces a final Shutdown so the connection is closed
// and no reconnect stays armed.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	fx Effects,
	cfg ReducerConfig,
	state *DaemonState,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	if state == nil {
		logger.Error("daemon state is nil")
		return
	}

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, b := range bs {
			select {
			case broadcasts <- b:
			default:
				logger.Debug("state broadcast dropped (channel full)")
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			for _, r := range rr.Rejections {
				logger.Warn("event rejected", "event", eventName(r.Event), "reason", r.Reason)
			}
			publish(rr.Broadcasts)
			cmdQueue = append(cmdQueue, rr.Commands...)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			logger.Debug("executing command", "command", cmd.String())
			runEffect(fx, cmd, logger, func(obs Event) {
				enqueueEvent(TimedEvent{Event: obs, At: time.Now()})
			})

			// Reduce observations right away so follow-up commands keep order.
			flushEvents()
		}
	}

	step := func(ev Event) {
		enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
		flushEvents()
		flushCommands()
	}

	step(Start{})

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			step(Shutdown{})
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				step(Shutdown{})
				return
			}
			step(ev)
		}
	}
}

// eventName is a short label for logs.
func eventName(ev Event) string {
	switch e := ev.(type) {
	case Action:
		return e.actionName()
	case OperationCompleted:
		return e.Op.String()
	case SinkObserved:
		return "sink_info"
	case SourceObserved:
		return "source_info"
	default:
		return fmt.Sprintf("%T", ev)
	}
}
