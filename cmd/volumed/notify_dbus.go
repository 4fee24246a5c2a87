package main

import (
	"fmt"
	"slices"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"
)

// Capabilities of notify-osd style servers that draw a value gauge.
const (
	capIconOnly    = "x-canonical-private-icon-only"
	capSynchronous = "x-canonical-private-synchronous"

	hintValue = "value"
)

// dbusBackend talks to org.freedesktop.Notifications on the session bus.
// Each volume notification replaces the previous one instead of stacking.
type dbusBackend struct {
	conn    *dbus.Conn
	appName string
	lastID  uint32
}

func newDBusBackend(appName string) (*dbusBackend, []string, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, nil, fmt.Errorf("connect session bus: %w", err)
	}
	caps, err := notify.GetCapabilities(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("get capabilities: %w", err)
	}
	return &dbusBackend{conn: conn, appName: appName}, caps, nil
}

func (b *dbusBackend) Show(m desktopMessage) error {
	id, err := notify.SendNotification(b.conn, notify.Notification{
		AppName:       b.appName,
		ReplacesID:    b.lastID,
		AppIcon:       m.Icon,
		Summary:       m.Title,
		Body:          m.Body,
		Hints:         notificationHints(m),
		ExpireTimeout: notify.ExpireTimeoutSetByNotificationServer,
	})
	if err != nil {
		return err
	}
	b.lastID = id
	return nil
}

func (b *dbusBackend) Close() error {
	return b.conn.Close()
}

// notificationHints carries the gauge value and asks synchronous servers to
// replace the previous bubble.
func notificationHints(m desktopMessage) map[string]dbus.Variant {
	hints := map[string]dbus.Variant{
		capSynchronous: dbus.MakeVariant("volume"),
	}
	if m.HasValue {
		hints[hintValue] = dbus.MakeVariant(int32(m.Value))
	}
	return hints
}

// supportsGauge reports whether the server draws the value hint as a gauge.
func supportsGauge(caps []string) bool {
	return slices.Contains(caps, capIconOnly) && slices.Contains(caps, capSynchronous)
}
