//go:build !linux

package main

import (
	"errors"
	"os"
)

// readInputDevices falls back to one blocking reader per device.
func readInputDevices(files []*os.File, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	if len(files) == 0 {
		select {
		case readErr <- errors.New("no input devices provided"):
		case <-done:
		}
		return
	}
	for _, f := range files {
		go readInputEvents(f, events, readErr, done)
	}
}
