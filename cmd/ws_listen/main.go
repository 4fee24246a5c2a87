package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

// ws_listen follows volumed's state websocket and prints every change.
// Useful to check what an on-screen display would receive.

type message struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

var (
	stamp   = color.New(color.FgHiBlack).SprintfFunc()
	volume  = color.New(color.FgGreen).SprintfFunc()
	muted   = color.New(color.FgRed).SprintfFunc()
	device  = color.New(color.FgCyan).SprintfFunc()
	connect = color.New(color.FgYellow).SprintfFunc()
)

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws/state", "volumed state websocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The server pings every 20s; answer with pongs and keep the deadline moving.
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(data))
				continue
			}
			fmt.Println(formatMessage(data))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatMessage renders one state frame as a single line.
func formatMessage(data []byte) string {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return "[TEXT] " + string(data)
	}

	prefix := stamp("%s", m.Ts.Local().Format("15:04:05.000"))

	switch m.Type {
	case "state_init":
		var s struct {
			Connection    string `json:"connection"`
			SinkName      string `json:"sink_name"`
			VolumePercent int    `json:"volume_percent"`
			Muted         bool   `json:"muted"`
			SourceName    string `json:"source_name"`
			MicMuted      bool   `json:"mic_muted"`
		}
		if err := json.Unmarshal(m.Data, &s); err != nil {
			break
		}
		return fmt.Sprintf("%s [INIT] %s sink=%q %s source=%q mic_muted=%v",
			prefix, connect("%s", s.Connection), s.SinkName, volume("%d%%", s.VolumePercent), s.SourceName, s.MicMuted) +
			muteSuffix(s.Muted)

	case "volume_changed":
		var v struct {
			Percent int `json:"percent"`
		}
		if err := json.Unmarshal(m.Data, &v); err != nil {
			break
		}
		return fmt.Sprintf("%s [VOLUME] %s", prefix, volume("%d%%", v.Percent))

	case "mute_changed", "mic_mute_changed":
		var v struct {
			Muted bool `json:"muted"`
		}
		if err := json.Unmarshal(m.Data, &v); err != nil {
			break
		}
		label := "[MUTE]"
		if m.Type == "mic_mute_changed" {
			label = "[MIC]"
		}
		status := volume("UNMUTED")
		if v.Muted {
			status = muted("MUTED")
		}
		return fmt.Sprintf("%s %s %s", prefix, label, status)

	case "connection_changed":
		var v struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(m.Data, &v); err != nil {
			break
		}
		return fmt.Sprintf("%s [CONNECTION] %s", prefix, connect("%s", v.State))

	case "device_changed":
		var v struct {
			Kind  string `json:"kind"`
			Known bool   `json:"known"`
			Index uint32 `json:"index"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal(m.Data, &v); err != nil {
			break
		}
		if !v.Known {
			return fmt.Sprintf("%s [DEVICE] %s none", prefix, v.Kind)
		}
		return fmt.Sprintf("%s [DEVICE] %s %s", prefix, v.Kind, device("%s (#%d)", v.Name, v.Index))
	}

	return fmt.Sprintf("%s [%s] %s", prefix, m.Type, string(m.Data))
}

func muteSuffix(m bool) string {
	if m {
		return " " + muted("(muted)")
	}
	return ""
}
