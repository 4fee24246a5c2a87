package main

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon loop touches it. Other goroutines observe it through
// reducer-emitted broadcasts and snapshots.
type DaemonState struct {
	Conn ConnectionState

	Sink   SinkState
	Source SourceState

	// PendingSink is the snapshot taken when the last sink command was issued.
	// A newer command overwrites it; the next completion consumes it.
	PendingSink *PendingChange

	// PendingMic is the source-mute equivalent of PendingSink.
	PendingMic *PendingMicChange

	// Requests issued but not yet completed, per device kind.
	SinkInFlight int
	MicInFlight  int

	// Set after a failed command. The device is re-read from the server and
	// the next refresh is applied without a notification.
	SinkResync bool
	MicResync  bool

	// StepSize is the raise/lower step in percent (0..100).
	StepSize int
}

// ConnState is the lifecycle of the audio server connection.
type ConnState int

const (
	ConnUnconnected ConnState = iota
	ConnConnecting
	ConnAuthenticating
	ConnReady
	ConnFailed
	ConnTerminated
)

func (s ConnState) String() string {
	switch s {
	case ConnUnconnected:
		return "unconnected"
	case ConnConnecting:
		return "connecting"
	case ConnAuthenticating:
		return "authenticating"
	case ConnReady:
		return "ready"
	case ConnFailed:
		return "failed"
	case ConnTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ConnectionState tracks the connection lifecycle plus reconnect bookkeeping.
type ConnectionState struct {
	State ConnState

	// ReconnectPending is set while a reconnect timer is armed.
	ReconnectPending bool

	// ShuttingDown suppresses reconnects once shutdown began.
	ShuttingDown bool
}

// PendingKind says which sink command a PendingChange belongs to.
type PendingKind int

const (
	PendingVolume PendingKind = iota
	PendingMute
)

// PendingChange is the sink state captured right before a command was issued.
type PendingChange struct {
	Kind            PendingKind
	Index           DeviceIndex
	PreviousPercent int
	PreviousVolumes []uint32
	PreviousMute    bool
}

// PendingMicChange is the source state captured before a mic-mute command.
type PendingMicChange struct {
	Index        DeviceIndex
	PreviousMute bool
}

// NewDaemonState returns a state with no devices selected.
func NewDaemonState(stepSize int) *DaemonState {
	if stepSize < 0 || stepSize > 100 {
		stepSize = defaultStepSize
	}
	return &DaemonState{
		Conn:     ConnectionState{State: ConnUnconnected},
		Sink:     unsetSink(),
		Source:   unsetSource(),
		StepSize: stepSize,
	}
}

// Ready reports whether commands may be issued.
func (s *DaemonState) Ready() bool { return s.Conn.State == ConnReady }

// clearDevices drops both selections and any in-flight snapshots.
func (s *DaemonState) clearDevices() {
	s.Sink = unsetSink()
	s.Source = unsetSource()
	s.PendingSink = nil
	s.PendingMic = nil
	s.SinkInFlight = 0
	s.MicInFlight = 0
	s.SinkResync = false
	s.MicResync = false
}

// StateSnapshot is a read-only view of DaemonState handed to other goroutines.
type StateSnapshot struct {
	Connection string `json:"connection"`

	SinkKnown     bool   `json:"sink_known"`
	SinkIndex     uint32 `json:"sink_index"`
	SinkName      string `json:"sink_name,omitempty"`
	VolumePercent int    `json:"volume_percent"`
	Muted         bool   `json:"muted"`

	SourceKnown bool   `json:"source_known"`
	SourceIndex uint32 `json:"source_index"`
	SourceName  string `json:"source_name,omitempty"`
	MicMuted    bool   `json:"mic_muted"`

	StepSize int `json:"step_size"`
}

// Snapshot builds a StateSnapshot. Slices are not shared with the state.
func (s *DaemonState) Snapshot() StateSnapshot {
	return StateSnapshot{
		Connection:    s.Conn.State.String(),
		SinkKnown:     s.Sink.Selected(),
		SinkIndex:     uint32(s.Sink.Index),
		SinkName:      s.Sink.Name,
		VolumePercent: ReadablePercent(s.Sink.Volumes),
		Muted:         s.Sink.Mute,
		SourceKnown:   s.Source.Selected(),
		SourceIndex:   uint32(s.Source.Index),
		SourceName:    s.Source.Name,
		MicMuted:      s.Source.Mute,
		StepSize:      s.StepSize,
	}
}
