package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

func decodeInputEvent(buf []byte) (inputEvent, error) {
	var ev inputEvent
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev)
	return ev, err
}

// translateKeyEvent maps a multimedia key to an Action.
// Volume keys act on press and autorepeat; mute keys only on press.
func translateKeyEvent(ev inputEvent) (Action, bool) {
	if ev.Type != EV_KEY {
		return nil, false
	}

	switch ev.Code {
	case KEY_VOLUMEUP:
		if ev.Value == evValuePress || ev.Value == evValueRepeat {
			return VolumeStep{Direction: DirectionUp}, true
		}
	case KEY_VOLUMEDOWN:
		if ev.Value == evValuePress || ev.Value == evValueRepeat {
			return VolumeStep{Direction: DirectionDown}, true
		}
	case KEY_MUTE:
		if ev.Value == evValuePress {
			return ToggleMute{}, true
		}
	case KEY_MICMUTE:
		if ev.Value == evValuePress {
			return ToggleMicMute{}, true
		}
	}
	return nil, false
}

// readInputEvents reads input events from r until it fails or done is closed.
func readInputEvents(r io.Reader, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, inputEventSize)

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			select {
			case readErr <- err:
			case <-done:
			}
			return
		}

		ev, err := decodeInputEvent(buf)
		if err != nil {
			// Skip malformed events
			continue
		}

		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}

// runHotkeys listens on the given evdev devices and submits the mapped
// Actions to the facade. It returns when ctx is canceled or a device fails.
func runHotkeys(ctx context.Context, devices []string, facade *Facade, logger *slog.Logger) error {
	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
	}

	done := make(chan struct{})
	defer close(done)

	events := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputDevices(files, events, readErr, done)

	logger.Info("hotkeys listening", "devices", devices)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-events:
			a, ok := translateKeyEvent(ev)
			if !ok {
				continue
			}
			logger.Debug("hotkey", "code", ev.Code, "value", ev.Value, "action", a.actionName())
			if err := facade.Submit(a); err != nil {
				logger.Warn("hotkey dropped", "action", a.actionName(), "error", err)
			}
		}
	}
}
