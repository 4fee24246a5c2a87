package main

import "time"

// Reconciliation of the cached model with the server.
//
// Completion path: a command we issued finished. The pending snapshot taken
// at issue time decides between a normal, overshoot or undershoot
// notification. A failed command reverts the optimistic edit when the pending
// snapshot still belongs to it, and re-reads the device either way: an earlier
// completion may have consumed the snapshot, leaving nothing to revert to.
//
// External path: the server pushed a change for the selected device that may
// or may not come from us. Only a real difference is notified.

func reduceCompletion(s *DaemonState, ev OperationCompleted, at time.Time, cfg ReducerConfig, rr *ReduceResult) {
	switch ev.Op {
	case OpSetSinkVolume, OpSetSinkMute:
		pending := s.PendingSink
		s.PendingSink = nil
		if s.SinkInFlight > 0 {
			s.SinkInFlight--
		}

		if !s.Sink.Selected() || s.Sink.Index != ev.Index {
			// The device went away or changed while the request was in flight.
			return
		}

		if !ev.Success {
			rr.reject(ev, reasonOperationFailed)
			revertSink(s, ev.Op, pending, at, rr)
			s.SinkResync = true
			rr.command(CmdGetSink{Index: s.Sink.Index, Reason: ReasonUpdate})
			return
		}

		if ev.Op == OpSetSinkMute {
			if s.Sink.Mute {
				rr.notify(mutedNotification())
			} else {
				rr.notify(volumeNotification(ReadablePercent(s.Sink.Volumes)))
			}
			return
		}

		current := ReadablePercent(s.Sink.Volumes)
		if pending == nil || pending.Kind != PendingVolume {
			// Superseded by a later press whose completion already consumed the snapshot.
			rr.notify(volumeNotification(current))
			return
		}
		rr.notify(classifyVolumeChange(pending.PreviousPercent, current, cfg.GaugeNotifications))

	case OpSetSourceMute:
		pending := s.PendingMic
		s.PendingMic = nil
		if s.MicInFlight > 0 {
			s.MicInFlight--
		}

		if !s.Source.Selected() || s.Source.Index != ev.Index {
			return
		}

		if !ev.Success {
			rr.reject(ev, reasonOperationFailed)
			if pending != nil && pending.Index == s.Source.Index && pending.PreviousMute != s.Source.Mute {
				s.Source.Mute = pending.PreviousMute
				rr.broadcast(BroadcastMicMuteChanged{Muted: s.Source.Mute, At: at})
			}
			s.MicResync = true
			rr.command(CmdGetSource{Index: s.Source.Index, Reason: ReasonUpdate})
			return
		}
		rr.notify(micNotification(s.Source.Mute))
	}
}

// classifyVolumeChange picks the notification for a completed volume step.
// A step that could not move past 100 or 0 is an overshoot/undershoot.
func classifyVolumeChange(prev, current int, gauge bool) Notification {
	switch {
	case prev == 100 && current >= prev:
		return overshootNotification(gauge)
	case prev == 0 && current <= prev:
		return undershootNotification(gauge)
	default:
		return volumeNotification(current)
	}
}

// revertSink restores the sink to its pre-command values after a failed request.
func revertSink(s *DaemonState, op Operation, pending *PendingChange, at time.Time, rr *ReduceResult) {
	if pending == nil || pending.Index != s.Sink.Index {
		return
	}
	switch op {
	case OpSetSinkVolume:
		if pending.Kind != PendingVolume {
			return
		}
		before := ReadablePercent(s.Sink.Volumes)
		s.Sink.Volumes = copyVolumes(pending.PreviousVolumes)
		if p := ReadablePercent(s.Sink.Volumes); p != before {
			rr.broadcast(BroadcastVolumeChanged{Percent: p, At: at})
		}
	case OpSetSinkMute:
		if pending.Kind != PendingMute {
			return
		}
		if s.Sink.Mute != pending.PreviousMute {
			s.Sink.Mute = pending.PreviousMute
			rr.broadcast(BroadcastMuteChanged{Muted: s.Sink.Mute, At: at})
		}
	}
}

// applyExternalSinkChange takes the server's values for the selected sink and
// notifies only when something a user can see changed.
//
// While one of our commands is in flight the reply may predate it, so the
// values are applied without a notification; the completion notifies. The
// re-read after a failed command is quiet too.
func applyExternalSinkChange(s *DaemonState, info DeviceInfo, at time.Time, rr *ReduceResult) {
	oldPercent := ReadablePercent(s.Sink.Volumes)
	oldMute := s.Sink.Mute
	quiet := s.SinkInFlight > 0 || s.SinkResync
	s.SinkResync = false

	s.Sink.Name = info.Name
	s.Sink.Volumes = copyVolumes(info.Volumes)
	s.Sink.Mute = info.Mute

	newPercent := ReadablePercent(s.Sink.Volumes)

	if oldMute != info.Mute {
		rr.broadcast(BroadcastMuteChanged{Muted: info.Mute, At: at})
	}
	if newPercent != oldPercent {
		rr.broadcast(BroadcastVolumeChanged{Percent: newPercent, At: at})
	}
	if quiet {
		return
	}

	switch {
	case oldMute != info.Mute:
		if info.Mute {
			rr.notify(mutedNotification())
		} else {
			rr.notify(volumeNotification(newPercent))
		}
	case newPercent != oldPercent:
		rr.notify(volumeNotification(newPercent))
	}
}

// applyExternalSourceChange is the source equivalent; only mute is tracked.
func applyExternalSourceChange(s *DaemonState, info DeviceInfo, at time.Time, rr *ReduceResult) {
	oldMute := s.Source.Mute
	quiet := s.MicInFlight > 0 || s.MicResync
	s.MicResync = false
	s.Source.Name = info.Name
	s.Source.Mute = info.Mute

	if oldMute != info.Mute {
		rr.broadcast(BroadcastMicMuteChanged{Muted: info.Mute, At: at})
		if !quiet {
			rr.notify(micNotification(info.Mute))
		}
	}
}
