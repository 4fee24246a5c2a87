package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
)

// ============================================================================
// volumectl - Command-line IPC Client
// ============================================================================
// Sends commands to volumed over its Unix domain socket. Meant to be bound to
// multimedia keys in a window manager.
//
// Usage:
//   volumectl raise
//   volumectl lower
//   volumectl mute
//   volumectl mic-mute
//   volumectl status
//   volumectl shell
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/volumed.sock)
// ============================================================================

const defaultSocketPath = "/tmp/volumed.sock"

// Wire types (duplicated from volumed for a standalone binary)

// Envelope is one request line.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StateSnapshot is the daemon state returned by "status".
type StateSnapshot struct {
	Connection    string `json:"connection"`
	SinkKnown     bool   `json:"sink_known"`
	SinkIndex     uint32 `json:"sink_index"`
	SinkName      string `json:"sink_name,omitempty"`
	VolumePercent int    `json:"volume_percent"`
	Muted         bool   `json:"muted"`
	SourceKnown   bool   `json:"source_known"`
	SourceIndex   uint32 `json:"source_index"`
	SourceName    string `json:"source_name,omitempty"`
	MicMuted      bool   `json:"mic_muted"`
	StepSize      int    `json:"step_size"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	State  *StateSnapshot `json:"state,omitempty"`
}

var (
	okText    = color.New(color.FgGreen).SprintFunc()
	errText   = color.New(color.FgRed).SprintFunc()
	warnText  = color.New(color.FgYellow).SprintFunc()
	labelText = color.New(color.Bold).SprintFunc()
)

// commandType maps a command line word to an envelope type.
func commandType(cmd string) (string, bool) {
	switch cmd {
	case "raise", "up", "volume-up":
		return "raise", true
	case "lower", "down", "volume-down":
		return "lower", true
	case "mute", "toggle-mute":
		return "toggle_mute", true
	case "mic-mute", "micmute", "toggle-mic-mute":
		return "toggle_mic_mute", true
	case "status":
		return "status", true
	default:
		return "", false
	}
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "help", "-h", "--help":
		printUsage()
		return
	case "shell":
		if err := runShell(socketPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errText("error:"), err)
			os.Exit(1)
		}
		return
	}

	typ, ok := commandType(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "%s unknown command: %s\n", errText("error:"), args[0])
		printUsage()
		os.Exit(1)
	}

	conn, err := dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errText("error:"), err)
		os.Exit(1)
	}
	defer conn.Close()

	resp, err := conn.send(typ)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errText("error:"), err)
		os.Exit(1)
	}
	printResponse(os.Stdout, resp)
}

// client is one connection to the daemon; several requests may share it.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(socketPath string) (*client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	return &client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) send(typ string) (IPCResponse, error) {
	data, err := json.Marshal(Envelope{Type: typ})
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	_ = c.conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := fmt.Fprintf(c.conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return IPCResponse{}, fmt.Errorf("read response: %w", err)
	}

	var resp IPCResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printResponse(w io.Writer, resp IPCResponse) {
	if resp.State == nil {
		fmt.Fprintln(w, okText("ok"))
		return
	}
	printState(w, *resp.State)
}

func printState(w io.Writer, s StateSnapshot) {
	conn := okText(s.Connection)
	if s.Connection != "ready" {
		conn = warnText(s.Connection)
	}
	fmt.Fprintf(w, "%s %s\n", labelText("connection:"), conn)

	if s.SinkKnown {
		vol := fmt.Sprintf("%d%%", s.VolumePercent)
		if s.Muted {
			vol += " " + errText("(muted)")
		}
		fmt.Fprintf(w, "%s %s [%d] %s\n", labelText("sink:"), s.SinkName, s.SinkIndex, vol)
	} else {
		fmt.Fprintf(w, "%s %s\n", labelText("sink:"), warnText("none"))
	}

	if s.SourceKnown {
		mic := okText("active")
		if s.MicMuted {
			mic = errText("muted")
		}
		fmt.Fprintf(w, "%s %s [%d] %s\n", labelText("source:"), s.SourceName, s.SourceIndex, mic)
	} else {
		fmt.Fprintf(w, "%s %s\n", labelText("source:"), warnText("none"))
	}

	fmt.Fprintf(w, "%s %d%%\n", labelText("step:"), s.StepSize)
}

// runShell is an interactive prompt keeping one connection open.
func runShell(socketPath string) error {
	conn, err := dial(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "volume> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("raise"),
			readline.PcItem("lower"),
			readline.PcItem("mute"),
			readline.PcItem("mic-mute"),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "Commands: raise, lower, mute, mic-mute, status, exit")

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}

		input := strings.ToLower(strings.TrimSpace(line))
		switch input {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			fmt.Fprintln(out, "Commands: raise, lower, mute, mic-mute, status, exit")
			continue
		}

		typ, ok := commandType(input)
		if !ok {
			fmt.Fprintf(out, "%s unknown command: %s\n", errText("error:"), input)
			continue
		}

		resp, err := conn.send(typ)
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", errText("error:"), err)
			if !strings.HasPrefix(err.Error(), "daemon error") {
				// The connection is gone; the daemon may have restarted.
				return err
			}
			continue
		}
		printResponse(out, resp)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `volumectl - Control volumed via IPC

Usage:
  volumectl [options] <command>

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  raise, up               Raise the volume by one step
  lower, down             Lower the volume by one step
  mute, toggle-mute       Toggle speaker mute
  mic-mute                Toggle microphone mute
  status                  Show the daemon's view of sink and source
  shell                   Interactive prompt
  help, -h, --help        Show this help message

Examples:
  volumectl raise
  volumectl -socket /run/user/1000/volumed.sock mute
`, defaultSocketPath)
}
