package main

import (
	"errors"
	"log/slog"
)

var errEventQueueFull = errors.New("daemon event queue full")

// Facade is the entry point for user actions (hotkeys, IPC).
//
// Every call only queues an Action for the daemon loop and returns. Nothing
// is reported back: not-ready and no-device cases are logged by the loop.
type Facade struct {
	events chan<- Event
	logger *slog.Logger
}

func NewFacade(events chan<- Event, logger *slog.Logger) *Facade {
	return &Facade{events: events, logger: logger}
}

// Submit queues a without blocking.
func (f *Facade) Submit(a Action) error {
	select {
	case f.events <- a:
		return nil
	default:
		return errEventQueueFull
	}
}

func (f *Facade) submit(a Action) {
	if err := f.Submit(a); err != nil {
		f.logger.Warn("action dropped", "action", a.actionName(), "error", err)
	}
}

// Raise increases the sink volume by the configured step.
func (f *Facade) Raise() { f.submit(VolumeStep{Direction: DirectionUp}) }

// Lower decreases the sink volume by the configured step.
func (f *Facade) Lower() { f.submit(VolumeStep{Direction: DirectionDown}) }

// ToggleMute flips the sink mute flag.
func (f *Facade) ToggleMute() { f.submit(ToggleMute{}) }

// ToggleMicMute flips the source mute flag.
func (f *Facade) ToggleMicMute() { f.submit(ToggleMicMute{}) }
