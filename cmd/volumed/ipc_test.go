package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// startIPC serves a socket in a temp dir and returns its path plus the event
// channel the facade feeds.
func startIPC(t *testing.T, queue int) (string, chan Event) {
	t.Helper()

	// Unix socket paths are length limited; keep it short.
	dir, err := os.MkdirTemp("", "vd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	events := make(chan Event, queue)
	facade := NewFacade(events, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runIPCServer(ctx, sock, facade, events, discardLogger())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, "socket not created")
	return sock, events
}

func dialIPC(t *testing.T, sock string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func ipcRoundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, line string) IPCResponse {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp IPCResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return resp
}

func expectStatus(t *testing.T, resp IPCResponse, status string) {
	t.Helper()
	if resp.Status != status {
		t.Fatalf("expected status %q, got %+v", status, resp)
	}
}

func TestIPC_ActionsAreQueued(t *testing.T) {
	sock, events := startIPC(t, 8)
	conn, r := dialIPC(t, sock)

	expectStatus(t, ipcRoundTrip(t, conn, r, `{"type":"raise"}`), "ok")
	expectStatus(t, ipcRoundTrip(t, conn, r, `{"type":"toggle_mic_mute"}`), "ok")

	if len(events) != 2 {
		t.Fatalf("expected 2 queued events, got %d", len(events))
	}
	if ev := <-events; ev != (VolumeStep{Direction: DirectionUp}) {
		t.Fatalf("first event: %#v", ev)
	}
	if ev := <-events; ev != (ToggleMicMute{}) {
		t.Fatalf("second event: %#v", ev)
	}
}

func TestIPC_SocketIsOwnerOnly(t *testing.T) {
	sock, _ := startIPC(t, 1)

	fi, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected mode 0600, got %o", perm)
	}
}

func TestIPC_Errors(t *testing.T) {
	sock, _ := startIPC(t, 1)
	conn, r := dialIPC(t, sock)

	resp := ipcRoundTrip(t, conn, r, `{not json`)
	expectStatus(t, resp, "error")
	if !strings.Contains(resp.Error, "parse event") {
		t.Errorf("unexpected parse error: %q", resp.Error)
	}

	resp = ipcRoundTrip(t, conn, r, `{"type":"self_destruct"}`)
	expectStatus(t, resp, "error")
	if !strings.Contains(resp.Error, "unknown event type") {
		t.Errorf("unexpected type error: %q", resp.Error)
	}

	// The queue holds one event; the second is refused.
	expectStatus(t, ipcRoundTrip(t, conn, r, `{"type":"lower"}`), "ok")
	resp = ipcRoundTrip(t, conn, r, `{"type":"lower"}`)
	expectStatus(t, resp, "error")
	if resp.Error != errEventQueueFull.Error() {
		t.Errorf("expected queue full, got %q", resp.Error)
	}
}

func TestIPC_Status(t *testing.T) {
	sock, events := startIPC(t, 4)

	go func() {
		ev := <-events
		req, ok := ev.(RequestStateSnapshot)
		if !ok {
			return
		}
		req.Reply <- StateSnapshot{Connection: "ready", SinkKnown: true, VolumePercent: 30, MicMuted: true, StepSize: 5}
	}()

	conn, r := dialIPC(t, sock)
	resp := ipcRoundTrip(t, conn, r, `{"type":"status"}`)
	expectStatus(t, resp, "ok")
	if resp.State == nil {
		t.Fatalf("expected a state snapshot")
	}
	if resp.State.VolumePercent != 30 || !resp.State.MicMuted {
		t.Fatalf("unexpected snapshot: %+v", *resp.State)
	}
}

func TestRequestSnapshot_Timeout(t *testing.T) {
	events := make(chan Event, 1)

	_, err := requestSnapshot(context.Background(), events, 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
