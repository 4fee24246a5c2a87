package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfreymuth/pulse/proto"
)

const (
	pulseDialTimeout    = 2 * time.Second
	pulseRequestTimeout = time.Second
	pulseNativePort     = "4713"
	pulseCookieSize     = 256
)

// pulseAddr is one candidate from a server string.
type pulseAddr struct {
	network string
	address string
}

// parsePulseServer parses a server string such as
// "{host}unix:/run/user/1000/pulse/native tcp:localhost". Entries pinned to
// another host name are skipped; unknown forms are ignored.
func parsePulseServer(server, hostname string) []pulseAddr {
	var addrs []pulseAddr
	for _, s := range strings.Fields(server) {
		if strings.HasPrefix(s, "{") {
			end := strings.IndexByte(s, '}')
			if end < 0 {
				continue
			}
			if s[1:end] != hostname {
				continue
			}
			s = s[end+1:]
		}

		switch {
		case s == "":
		case strings.HasPrefix(s, "/"):
			addrs = append(addrs, pulseAddr{"unix", s})
		case strings.HasPrefix(s, "unix:"):
			addrs = append(addrs, pulseAddr{"unix", s[len("unix:"):]})
		case strings.HasPrefix(s, "tcp4:"):
			addrs = append(addrs, pulseAddr{"tcp4", withPulsePort(s[len("tcp4:"):])})
		case strings.HasPrefix(s, "tcp6:"):
			addrs = append(addrs, pulseAddr{"tcp6", withPulsePort(s[len("tcp6:"):])})
		case strings.HasPrefix(s, "tcp:"):
			addrs = append(addrs, pulseAddr{"tcp", withPulsePort(s[len("tcp:"):])})
		}
	}
	return addrs
}

func withPulsePort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), pulseNativePort)
}

// pulseServerAddrs resolves the configured server, then $PULSE_SERVER, then
// the per-user runtime socket.
func pulseServerAddrs(server string) ([]pulseAddr, error) {
	if server == "" {
		server = os.Getenv("PULSE_SERVER")
	}
	if server == "" {
		runtime := os.Getenv("XDG_RUNTIME_DIR")
		if runtime == "" {
			return nil, errNoServer
		}
		server = filepath.Join(runtime, "pulse", "native")
	}

	hostname, _ := os.Hostname()
	addrs := parsePulseServer(server, hostname)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %q", errNoServer, server)
	}
	return addrs, nil
}

// pulseCookie reads the auth cookie. Without one the server only accepts
// us if anonymous auth is enabled, which any cookie satisfies.
func pulseCookie() ([]byte, error) {
	path := os.Getenv("PULSE_COOKIE")
	if path == "" {
		path = ExpandPath("~/.config/pulse/cookie")
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make([]byte, pulseCookieSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookie: %w", err)
	}
	return b, nil
}

// openPulseClient dials the first reachable address and authenticates.
// cb is installed before the protocol read loop starts.
func openPulseClient(server string, cb func(interface{})) (*proto.Client, net.Conn, error) {
	addrs, err := pulseServerAddrs(server)
	if err != nil {
		return nil, nil, err
	}
	cookie, err := pulseCookie()
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for _, a := range addrs {
		conn, err := net.DialTimeout(a.network, a.address, pulseDialTimeout)
		if err != nil {
			lastErr = err
			continue
		}

		c := &proto.Client{Callback: cb}
		c.SetTimeout(pulseRequestTimeout)
		c.Open(conn)

		var reply proto.AuthReply
		if err := c.Request(&proto.Auth{Version: c.Version(), Cookie: cookie}, &reply); err != nil {
			_ = conn.Close()
			lastErr = fmt.Errorf("auth %s: %w", a.address, err)
			continue
		}
		c.SetVersion(reply.Version)
		return c, conn, nil
	}
	return nil, nil, lastErr
}
