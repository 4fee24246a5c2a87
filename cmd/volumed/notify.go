package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Category selects the icon and wording of a notification.
type Category string

const (
	CategoryMuted     Category = "muted"
	CategoryOff       Category = "off"
	CategoryLow       Category = "low"
	CategoryMedium    Category = "medium"
	CategoryHigh      Category = "high"
	CategoryMicMuted  Category = "mic_muted"
	CategoryMicActive Category = "mic_active"
)

// Notification is one desktop notification request.
// Value is a percentage; 101 and -1 are the overshoot/undershoot sentinels
// used when the notifier renders a gauge.
type Notification struct {
	Category Category
	Value    int
}

const (
	overshootGaugeValue  = 101
	undershootGaugeValue = -1
)

// categoryFor maps a readable percentage to an icon category.
func categoryFor(percent int) Category {
	switch {
	case percent <= 0:
		return CategoryOff
	case percent < 34:
		return CategoryLow
	case percent < 67:
		return CategoryMedium
	default:
		return CategoryHigh
	}
}

func volumeNotification(percent int) Notification {
	return Notification{Category: categoryFor(percent), Value: percent}
}

func overshootNotification(gauge bool) Notification {
	if gauge {
		return Notification{Category: CategoryHigh, Value: overshootGaugeValue}
	}
	return Notification{Category: CategoryHigh, Value: 100}
}

func undershootNotification(gauge bool) Notification {
	if gauge {
		return Notification{Category: CategoryOff, Value: undershootGaugeValue}
	}
	return Notification{Category: CategoryOff, Value: 0}
}

func mutedNotification() Notification {
	return Notification{Category: CategoryMuted, Value: 0}
}

func micNotification(muted bool) Notification {
	if muted {
		return Notification{Category: CategoryMicMuted}
	}
	return Notification{Category: CategoryMicActive}
}

// Notifier displays notifications. Notify must not block the caller.
type Notifier interface {
	Notify(n Notification)
}

// noopNotifier is used when notifications are disabled.
type noopNotifier struct{}

func (noopNotifier) Notify(Notification) {}

// notificationIcon returns the freedesktop icon name for a category.
func notificationIcon(c Category) string {
	switch c {
	case CategoryMuted:
		return "audio-volume-muted"
	case CategoryOff:
		return "audio-volume-off"
	case CategoryLow:
		return "audio-volume-low"
	case CategoryMedium:
		return "audio-volume-medium"
	case CategoryHigh:
		return "audio-volume-high"
	case CategoryMicMuted:
		return "microphone-sensitivity-muted"
	case CategoryMicActive:
		return "microphone-sensitivity-high"
	default:
		return "audio-volume-medium"
	}
}

// notificationText returns the title and body for a notification.
// Sentinel values are shown as the nearest bound.
func notificationText(appName string, n Notification) (string, string) {
	switch n.Category {
	case CategoryMuted:
		return appName, "Muted"
	case CategoryMicMuted:
		return "Microphone", "Muted"
	case CategoryMicActive:
		return "Microphone", "Active"
	}
	v := n.Value
	if v > 100 {
		v = 100
	}
	if v < 0 {
		v = 0
	}
	return appName, fmt.Sprintf("%d%%", v)
}

// desktopMessage is one notification as handed to a backend.
type desktopMessage struct {
	Title string
	Body  string
	Icon  string

	// Value is the raw gauge value, 101/-1 sentinels included. Only volume
	// notifications carry one.
	Value    int
	HasValue bool
}

// desktopMessageFor renders n. With an icon-only server the gauge replaces
// the text body.
func desktopMessageFor(appName string, n Notification, iconOnly bool) desktopMessage {
	title, body := notificationText(appName, n)
	m := desktopMessage{Title: title, Body: body, Icon: notificationIcon(n.Category)}

	switch n.Category {
	case CategoryMicMuted, CategoryMicActive:
		return m
	}
	m.Value = n.Value
	m.HasValue = true
	if iconOnly {
		m.Body = ""
	}
	return m
}

// notificationBackend shows one message. Calls come from a single goroutine.
type notificationBackend interface {
	Show(m desktopMessage) error
}

// beeepBackend is the fallback when the notification server cannot be
// reached over D-Bus directly. It has no hints, so gauges show as text.
type beeepBackend struct{}

func (beeepBackend) Show(m desktopMessage) error {
	return beeep.Notify(m.Title, m.Body, m.Icon)
}

// DesktopNotifier shows notifications on its own goroutine, so D-Bus
// round-trips never stall the daemon loop.
type DesktopNotifier struct {
	appName string
	queue   chan Notification
	backend notificationBackend
	// gauge is set when the server draws the value hint as a gauge.
	gauge  bool
	logger *slog.Logger
}

// NewDesktopNotifier creates a notifier on the session bus notification
// server, falling back to beeep when it is unavailable. Call Run(ctx) to
// start delivering.
func NewDesktopNotifier(appName string, queueSize int, logger *slog.Logger) *DesktopNotifier {
	b, caps, err := newDBusBackend(appName)
	if err != nil {
		logger.Warn("notification server unavailable; falling back to beeep", "error", err)
		return newDesktopNotifier(appName, queueSize, beeepBackend{}, false, logger)
	}
	gauge := supportsGauge(caps)
	logger.Debug("notification server capabilities", "capabilities", caps, "gauge", gauge)
	return newDesktopNotifier(appName, queueSize, b, gauge, logger)
}

func newDesktopNotifier(appName string, queueSize int, backend notificationBackend, gauge bool, logger *slog.Logger) *DesktopNotifier {
	if queueSize <= 0 {
		queueSize = defaultNotifyQueueSize
	}
	return &DesktopNotifier{
		appName: appName,
		queue:   make(chan Notification, queueSize),
		backend: backend,
		gauge:   gauge,
		logger:  logger,
	}
}

// Gauge reports whether the server renders gauges, in which case the
// reducer should send overshoot/undershoot sentinels.
func (d *DesktopNotifier) Gauge() bool { return d.gauge }

// Notify enqueues n. When the queue is full the notification is dropped.
func (d *DesktopNotifier) Notify(n Notification) {
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping", "category", n.Category, "value", n.Value)
	}
}

// Run delivers queued notifications until ctx is canceled.
func (d *DesktopNotifier) Run(ctx context.Context) {
	if c, ok := d.backend.(io.Closer); ok {
		defer c.Close()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			if err := d.backend.Show(desktopMessageFor(d.appName, n, d.gauge)); err != nil {
				d.logger.Warn("desktop notification failed", "error", err, "category", n.Category)
				continue
			}
			d.logger.Debug("notification shown", "category", n.Category, "value", n.Value)
		}
	}
}
