package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// External tools (volumectl, scripts, window manager key bindings) drive the
// daemon through a Unix domain socket.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "raise"} / {"type": "volume_step", "data": {"direction": -1}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//   - {"type": "status"} answers with {"status": "ok", "state": {...}}
//
// "ok" means the action was queued, not that it was applied.
// ============================================================================

const ipcStatusType = "status"

// snapshotTimeout bounds a snapshot round-trip through the daemon loop.
const snapshotTimeout = time.Second

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	State  *StateSnapshot `json:"state,omitempty"`
}

// runIPCServer serves the socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, facade *Facade, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Owner only; the daemon runs per user.
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, facade, events, logger.With("conn_id", uuid.NewString()))
	}
}

// handleIPCConnection serves one client until it hangs up.
func handleIPCConnection(ctx context.Context, conn net.Conn, facade *Facade, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection")

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		var env EventEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			respond(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		if env.Type == ipcStatusType {
			snap, err := requestSnapshot(ctx, events, snapshotTimeout)
			if err != nil {
				respond(IPCResponse{Status: "error", Error: err.Error()})
				continue
			}
			respond(IPCResponse{Status: "ok", State: &snap})
			continue
		}

		action, err := actionFromEnvelope(env)
		if err != nil {
			respond(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		if err := facade.Submit(action); err != nil {
			respond(IPCResponse{Status: "error", Error: err.Error()})
			continue
		}
		respond(IPCResponse{Status: "ok"})
	}

	logger.Debug("IPC connection closed")
}

// requestSnapshot asks the daemon loop for a StateSnapshot.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (StateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("request snapshot: %w", ctx.Err())
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("await snapshot: %w", ctx.Err())
	}
}
