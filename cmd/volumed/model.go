package main

import (
	"math"
	"strings"
)

// DeviceIndex identifies a sink or source on the audio server.
// InvalidIndex means "no device selected".
type DeviceIndex uint32

const InvalidIndex = DeviceIndex(pulseInvalidIndex)

// Valid reports whether the index refers to a device.
func (i DeviceIndex) Valid() bool { return i != InvalidIndex }

// DeviceInfo is what the server reports about one sink or source.
type DeviceInfo struct {
	Index   DeviceIndex
	Name    string
	Volumes []uint32
	Mute    bool
}

// SinkState is the cached view of the selected output device.
type SinkState struct {
	Index   DeviceIndex
	Name    string
	Volumes []uint32
	Mute    bool
}

// Selected reports whether a sink is currently selected.
func (s SinkState) Selected() bool { return s.Index.Valid() }

// SourceState is the cached view of the selected input device.
type SourceState struct {
	Index DeviceIndex
	Name  string
	Mute  bool
}

// Selected reports whether a source is currently selected.
func (s SourceState) Selected() bool { return s.Index.Valid() }

func unsetSink() SinkState     { return SinkState{Index: InvalidIndex} }
func unsetSource() SourceState { return SourceState{Index: InvalidIndex} }

// ReadablePercent converts native per-channel volumes to a 0..100 percentage
// using the channel average.
func ReadablePercent(vols []uint32) int {
	if len(vols) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range vols {
		sum += uint64(v)
	}
	avg := float64(sum) / float64(len(vols))
	p := int(math.Round(avg * 100 / float64(pulseVolumeNorm)))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// StepToNative converts a percentage step to native volume units.
func StepToNative(step int) uint32 {
	if step <= 0 {
		return 0
	}
	return uint32(math.Round(float64(step) * float64(pulseVolumeNorm) / 100))
}

// RaiseVolumes returns a copy of vols with every channel increased by delta,
// clamped to pulseVolumeNorm. Channels above the norm are pulled down to it.
func RaiseVolumes(vols []uint32, delta uint32) []uint32 {
	out := make([]uint32, len(vols))
	for i, v := range vols {
		n := uint64(v) + uint64(delta)
		if n > uint64(pulseVolumeNorm) {
			n = uint64(pulseVolumeNorm)
		}
		out[i] = uint32(n)
	}
	return out
}

// LowerVolumes returns a copy of vols with every channel decreased by delta,
// clamped at zero.
func LowerVolumes(vols []uint32, delta uint32) []uint32 {
	out := make([]uint32, len(vols))
	for i, v := range vols {
		if v > pulseVolumeNorm {
			v = pulseVolumeNorm
		}
		if v < delta {
			out[i] = 0
			continue
		}
		out[i] = v - delta
	}
	return out
}

func copyVolumes(vols []uint32) []uint32 {
	if vols == nil {
		return nil
	}
	out := make([]uint32, len(vols))
	copy(out, vols)
	return out
}

// isPlaceholderDevice reports whether name is the server's null device.
func isPlaceholderDevice(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), placeholderDevicePrefix)
}

// qualifiesForSelection reports whether a device may be auto-selected.
func qualifiesForSelection(info DeviceInfo) bool {
	return info.Index.Valid() && !isPlaceholderDevice(info.Name)
}
