//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// epollWaitMS bounds each epoll_wait so the reader notices done.
const epollWaitMS = 500

// readInputDevices reads from all devices on one goroutine using epoll.
func readInputDevices(files []*os.File, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	fail := func(err error) {
		select {
		case readErr <- err:
		case <-done:
		}
	}

	if len(files) == 0 {
		fail(errors.New("no input devices provided"))
		return
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		fail(fmt.Errorf("epoll_create1: %w", err))
		return
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			fail(fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err))
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, inputEventSize)

	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollWaitMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			fail(fmt.Errorf("epoll_wait: %w", err))
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				// Any device error is fatal; the daemon keeps running without hotkeys.
				fail(fmt.Errorf("device error/hangup: %s", f.Name()))
				return
			}

			if _, err := f.Read(buf); err != nil {
				fail(fmt.Errorf("read from %s: %w", f.Name(), err))
				return
			}

			ev, err := decodeInputEvent(buf)
			if err != nil {
				continue
			}

			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}
}
