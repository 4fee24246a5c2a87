package main

import (
	"time"

	"github.com/jfreymuth/pulse/proto"
)

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_MUTE       = 113
	KEY_VOLUMEDOWN = 114
	KEY_VOLUMEUP   = 115
	KEY_MICMUTE    = 248
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Native volume and index values, as uint32 for the model.
const (
	// pulseVolumeNorm is the native "100%" volume.
	pulseVolumeNorm = uint32(proto.VolumeNorm)

	pulseInvalidIndex = uint32(proto.Undefined)
)

// Daemon defaults
const (
	defaultStepSize = 5 // percent per raise/lower

	defaultReconnectDelay    = 5 * time.Second
	defaultReconnectDelayMS  = 5000
	defaultHeartbeatMS       = 2000
	defaultRequestQueueSize  = 32
	defaultClientName        = "volumed"
	defaultNotifyAppName     = "Volume"
	defaultIPCSocketPath     = "/tmp/volumed.sock"
	defaultStateWSListen     = "127.0.0.1:3002"
	defaultStateWSPath       = "/ws/state"
	defaultSettingsPath      = "~/.config/volumed/settings.yaml"
	defaultSettingsDebounce  = 100 * time.Millisecond
	defaultNotifyQueueSize   = 8
	defaultEventsChannelSize = 64

	// placeholderDevicePrefix marks the server's null sink/source. Never auto-selected.
	placeholderDevicePrefix = "auto_null"
)
