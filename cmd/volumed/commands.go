package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop:
// audio server requests, notifications, timers and settings writes.
type Command interface {
	commandMarker()
	String() string
}

// CmdConnect starts a new connection attempt.
type CmdConnect struct{}

func (CmdConnect) commandMarker() {}
func (CmdConnect) String() string { return "CmdConnect()" }

// CmdDisconnect tears down the connection on purpose.
type CmdDisconnect struct{}

func (CmdDisconnect) commandMarker() {}
func (CmdDisconnect) String() string { return "CmdDisconnect()" }

// CmdSubscribe subscribes to sink, source and server change events.
type CmdSubscribe struct{}

func (CmdSubscribe) commandMarker() {}
func (CmdSubscribe) String() string { return "CmdSubscribe()" }

// CmdGetServerInfo queries default sink and source names.
type CmdGetServerInfo struct{}

func (CmdGetServerInfo) commandMarker() {}
func (CmdGetServerInfo) String() string { return "CmdGetServerInfo()" }

// CmdGetSink queries one sink, by name when Name is set, otherwise by index.
type CmdGetSink struct {
	Index  DeviceIndex
	Name   string
	Reason QueryReason
}

func (CmdGetSink) commandMarker() {}
func (c CmdGetSink) String() string {
	return fmt.Sprintf("CmdGetSink(index=%d, name=%q, reason=%s)", c.Index, c.Name, c.Reason)
}

// CmdListSinks queries all sinks.
type CmdListSinks struct{}

func (CmdListSinks) commandMarker() {}
func (CmdListSinks) String() string { return "CmdListSinks()" }

// CmdGetSource queries one source, by name when Name is set, otherwise by index.
type CmdGetSource struct {
	Index  DeviceIndex
	Name   string
	Reason QueryReason
}

func (CmdGetSource) commandMarker() {}
func (c CmdGetSource) String() string {
	return fmt.Sprintf("CmdGetSource(index=%d, name=%q, reason=%s)", c.Index, c.Name, c.Reason)
}

// CmdListSources queries all sources.
type CmdListSources struct{}

func (CmdListSources) commandMarker() {}
func (CmdListSources) String() string { return "CmdListSources()" }

// CmdSetSinkVolume sets per-channel volumes on a sink.
type CmdSetSinkVolume struct {
	Index   DeviceIndex
	Volumes []uint32
}

func (CmdSetSinkVolume) commandMarker() {}
func (c CmdSetSinkVolume) String() string {
	return fmt.Sprintf("CmdSetSinkVolume(index=%d, volumes=%v)", c.Index, c.Volumes)
}

// CmdSetSinkMute sets the sink mute flag.
type CmdSetSinkMute struct {
	Index DeviceIndex
	Mute  bool
}

func (CmdSetSinkMute) commandMarker() {}
func (c CmdSetSinkMute) String() string {
	return fmt.Sprintf("CmdSetSinkMute(index=%d, mute=%v)", c.Index, c.Mute)
}

// CmdSetSourceMute sets the source mute flag.
type CmdSetSourceMute struct {
	Index DeviceIndex
	Mute  bool
}

func (CmdSetSourceMute) commandMarker() {}
func (c CmdSetSourceMute) String() string {
	return fmt.Sprintf("CmdSetSourceMute(index=%d, mute=%v)", c.Index, c.Mute)
}

// CmdScheduleReconnect arms the one-shot reconnect timer.
type CmdScheduleReconnect struct {
	After time.Duration
}

func (CmdScheduleReconnect) commandMarker() {}
func (c CmdScheduleReconnect) String() string {
	return fmt.Sprintf("CmdScheduleReconnect(after=%s)", c.After)
}

// CmdCancelReconnect disarms the reconnect timer.
type CmdCancelReconnect struct{}

func (CmdCancelReconnect) commandMarker() {}
func (CmdCancelReconnect) String() string { return "CmdCancelReconnect()" }

// CmdNotify shows a desktop notification.
type CmdNotify struct {
	Notification Notification
}

func (CmdNotify) commandMarker() {}
func (c CmdNotify) String() string {
	return fmt.Sprintf("CmdNotify(category=%s, value=%d)", c.Notification.Category, c.Notification.Value)
}

// CmdPersistStepSize writes the step size back to the settings store.
type CmdPersistStepSize struct {
	Value int
}

func (CmdPersistStepSize) commandMarker() {}
func (c CmdPersistStepSize) String() string {
	return fmt.Sprintf("CmdPersistStepSize(value=%d)", c.Value)
}

// CmdPublishStateSnapshot delivers a reducer-built snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// ==============================
// Broadcasts (state push to UIs)
// ==============================

// StateBroadcast is a reducer-emitted change notice for websocket clients.
type StateBroadcast interface {
	broadcastMarker()
}

type BroadcastVolumeChanged struct {
	Percent int
	At      time.Time
}

func (BroadcastVolumeChanged) broadcastMarker() {}

type BroadcastMuteChanged struct {
	Muted bool
	At    time.Time
}

func (BroadcastMuteChanged) broadcastMarker() {}

type BroadcastMicMuteChanged struct {
	Muted bool
	At    time.Time
}

func (BroadcastMicMuteChanged) broadcastMarker() {}

type BroadcastConnectionChanged struct {
	State ConnState
	At    time.Time
}

func (BroadcastConnectionChanged) broadcastMarker() {}

// DeviceKind is sink or source.
type DeviceKind string

const (
	DeviceKindSink   DeviceKind = "sink"
	DeviceKindSource DeviceKind = "source"
)

type BroadcastDeviceChanged struct {
	Kind  DeviceKind
	Known bool
	Index DeviceIndex
	Name  string
	At    time.Time
}

func (BroadcastDeviceChanged) broadcastMarker() {}
