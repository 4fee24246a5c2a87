package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jfreymuth/pulse/proto"
)

// ============================================================================
// Events - reducer inputs
// ============================================================================
// Events come from the command facade (user actions), the audio server
// connection (state changes, query replies, completions, subscription
// pushes), the reconnect timer and the settings store.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Action is an Event that carries user intent.
type Action interface {
	Event
	actionName() string
}

// Direction is the sign of a volume step.
type Direction int

const (
	DirectionDown Direction = -1
	DirectionUp   Direction = 1
)

// VolumeStep raises (Up) or lowers (Down) the sink volume by the configured step.
type VolumeStep struct {
	Direction Direction `json:"direction"`
}

func (VolumeStep) eventMarker() {}
func (a VolumeStep) actionName() string {
	if a.Direction == DirectionDown {
		return "lower"
	}
	return "raise"
}

// ToggleMute flips the sink mute flag.
type ToggleMute struct{}

func (ToggleMute) eventMarker()       {}
func (ToggleMute) actionName() string { return "toggle_mute" }

// ToggleMicMute flips the source mute flag.
type ToggleMicMute struct{}

func (ToggleMicMute) eventMarker()       {}
func (ToggleMicMute) actionName() string { return "toggle_mic_mute" }

// TimedEvent attaches the time the daemon received an event.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// ConnStateChanged reports a connection lifecycle transition.
type ConnStateChanged struct {
	State ConnState
	Err   error
}

func (ConnStateChanged) eventMarker() {}

// Start is the first event the daemon loop reduces. It opens the connection.
type Start struct{}

func (Start) eventMarker() {}

// ReconnectTimerFired is posted when the reconnect delay elapsed.
type ReconnectTimerFired struct{}

func (ReconnectTimerFired) eventMarker() {}

// Shutdown asks the daemon to stop reconnecting and disconnect.
type Shutdown struct{}

func (Shutdown) eventMarker() {}

// ServerInfoObserved carries the server's default device names.
type ServerInfoObserved struct {
	DefaultSinkName   string
	DefaultSourceName string
}

func (ServerInfoObserved) eventMarker() {}

// QueryReason says why a device query was issued. It decides how the reply
// is applied.
type QueryReason int

const (
	// ReasonDefault: the server's default device, selected unconditionally.
	ReasonDefault QueryReason = iota
	// ReasonCandidate: a newly seen device, selected if nothing is and it qualifies.
	ReasonCandidate
	// ReasonUpdate: a change to the currently selected device.
	ReasonUpdate
)

func (r QueryReason) String() string {
	switch r {
	case ReasonDefault:
		return "default"
	case ReasonCandidate:
		return "candidate"
	case ReasonUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// SinkObserved carries one sink info reply.
type SinkObserved struct {
	Reason QueryReason
	Info   DeviceInfo
}

func (SinkObserved) eventMarker() {}

// SinkListObserved carries the full sink list, in server order.
type SinkListObserved struct {
	Infos []DeviceInfo
}

func (SinkListObserved) eventMarker() {}

// SourceObserved carries one source info reply.
type SourceObserved struct {
	Reason QueryReason
	Info   DeviceInfo
}

func (SourceObserved) eventMarker() {}

// SourceListObserved carries the full source list, in server order.
type SourceListObserved struct {
	Infos []DeviceInfo
}

func (SourceListObserved) eventMarker() {}

// QueryFailed reports a failed info query. The reducer keeps its state.
type QueryFailed struct {
	Query string
	Err   error
}

func (QueryFailed) eventMarker() {}

// Facility is the kind of object a subscription event refers to.
type Facility int

const (
	FacilitySink Facility = iota
	FacilitySource
	FacilityServer
	FacilityOther
)

// SubscriptionEventType is new/change/remove.
type SubscriptionEventType int

const (
	SubscriptionNew SubscriptionEventType = iota
	SubscriptionChange
	SubscriptionRemove
)

// SubscriptionEvent is a server push about a sink, source or the server.
type SubscriptionEvent struct {
	Facility Facility
	Type     SubscriptionEventType
	Index    DeviceIndex
}

func (SubscriptionEvent) eventMarker() {}

// decodeSubscriptionEvent splits the native event word into facility and type.
func decodeSubscriptionEvent(event proto.SubscriptionEventType, index uint32) SubscriptionEvent {
	ev := SubscriptionEvent{Index: DeviceIndex(index)}

	switch event.GetFacility() {
	case proto.EventSink:
		ev.Facility = FacilitySink
	case proto.EventSource:
		ev.Facility = FacilitySource
	case proto.EventServer:
		ev.Facility = FacilityServer
	default:
		ev.Facility = FacilityOther
	}

	switch event.GetType() {
	case proto.EventNew:
		ev.Type = SubscriptionNew
	case proto.EventRemove:
		ev.Type = SubscriptionRemove
	default:
		ev.Type = SubscriptionChange
	}
	return ev
}

// Operation identifies an asynchronous mutating request.
type Operation int

const (
	OpSetSinkVolume Operation = iota
	OpSetSinkMute
	OpSetSourceMute
)

func (o Operation) String() string {
	switch o {
	case OpSetSinkVolume:
		return "set_sink_volume"
	case OpSetSinkMute:
		return "set_sink_mute"
	case OpSetSourceMute:
		return "set_source_mute"
	default:
		return "unknown"
	}
}

// OperationCompleted is posted when the server answered a mutating request.
type OperationCompleted struct {
	Op      Operation
	Index   DeviceIndex
	Success bool
	Err     error
}

func (OperationCompleted) eventMarker() {}

// StepSizeChanged is posted by the settings store when the step-size key changed.
// Set is false when the key is missing.
type StepSizeChanged struct {
	Value int
	Set   bool
}

func (StepSizeChanged) eventMarker() {}

// RequestStateSnapshot asks the reducer for a snapshot. The effects layer
// delivers it on Reply.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support (IPC)
// ============================================================================

// EventEnvelope wraps an action with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON envelope into a concrete Action.
func UnmarshalAction(data []byte) (Action, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return actionFromEnvelope(env)
}

func actionFromEnvelope(env EventEnvelope) (Action, error) {
	switch env.Type {
	case "raise":
		return VolumeStep{Direction: DirectionUp}, nil
	case "lower":
		return VolumeStep{Direction: DirectionDown}, nil
	case "volume_step":
		var a VolumeStep
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal VolumeStep: %w", err)
		}
		if a.Direction != DirectionUp && a.Direction != DirectionDown {
			return nil, fmt.Errorf("volume_step direction must be 1 or -1, got %d", a.Direction)
		}
		return a, nil
	case "toggle_mute":
		return ToggleMute{}, nil
	case "toggle_mic_mute":
		return ToggleMicMute{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalAction serializes an Action into a JSON envelope.
func MarshalAction(a Action) ([]byte, error) {
	var env EventEnvelope
	switch a := a.(type) {
	case VolumeStep:
		env.Type = a.actionName()
	case ToggleMute:
		env.Type = "toggle_mute"
	case ToggleMicMute:
		env.Type = "toggle_mic_mute"
	default:
		return nil, fmt.Errorf("unsupported action type: %T", a)
	}
	return json.Marshal(env)
}
