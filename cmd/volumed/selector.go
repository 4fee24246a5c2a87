package main

import "time"

// Device selection.
//
// After the server info arrives, the default sink/source is fetched by name.
// Without a default, the device list is fetched and the first non-placeholder
// device wins. Subscription events either refresh the selected device, drop
// it on removal, or offer a new candidate while nothing is selected.

func reduceServerInfo(s *DaemonState, ev ServerInfoObserved, rr *ReduceResult) {
	if !s.Ready() {
		return
	}
	if ev.DefaultSinkName != "" {
		rr.command(CmdGetSink{Index: InvalidIndex, Name: ev.DefaultSinkName, Reason: ReasonDefault})
	} else {
		rr.command(CmdListSinks{})
	}
	if ev.DefaultSourceName != "" {
		rr.command(CmdGetSource{Index: InvalidIndex, Name: ev.DefaultSourceName, Reason: ReasonDefault})
	} else {
		rr.command(CmdListSources{})
	}
}

func reduceSinkObserved(s *DaemonState, ev SinkObserved, at time.Time, rr *ReduceResult) {
	if !s.Ready() {
		return
	}
	if len(ev.Info.Volumes) == 0 {
		rr.reject(ev, reasonMalformedInfo)
		return
	}

	switch ev.Reason {
	case ReasonDefault:
		if s.Sink.Index == ev.Info.Index {
			// Same device: treat as a refresh.
			applyExternalSinkChange(s, ev.Info, at, rr)
			return
		}
		selectSink(s, ev.Info, at, rr)

	case ReasonCandidate:
		if s.Sink.Selected() || !qualifiesForSelection(ev.Info) {
			return
		}
		selectSink(s, ev.Info, at, rr)

	case ReasonUpdate:
		if !s.Sink.Selected() || s.Sink.Index != ev.Info.Index {
			// Reply for a device that is no longer selected.
			return
		}
		applyExternalSinkChange(s, ev.Info, at, rr)
	}
}

func reduceSinkList(s *DaemonState, ev SinkListObserved, at time.Time, rr *ReduceResult) {
	if !s.Ready() || s.Sink.Selected() {
		return
	}
	for _, info := range ev.Infos {
		if !qualifiesForSelection(info) || len(info.Volumes) == 0 {
			continue
		}
		selectSink(s, info, at, rr)
		return
	}
}

func selectSink(s *DaemonState, info DeviceInfo, at time.Time, rr *ReduceResult) {
	s.Sink = SinkState{
		Index:   info.Index,
		Name:    info.Name,
		Volumes: copyVolumes(info.Volumes),
		Mute:    info.Mute,
	}
	s.PendingSink = nil
	s.SinkInFlight = 0
	s.SinkResync = false
	rr.broadcast(
		BroadcastDeviceChanged{Kind: DeviceKindSink, Known: true, Index: info.Index, Name: info.Name, At: at},
		BroadcastVolumeChanged{Percent: ReadablePercent(info.Volumes), At: at},
		BroadcastMuteChanged{Muted: info.Mute, At: at},
	)
}

func reduceSourceObserved(s *DaemonState, ev SourceObserved, at time.Time, rr *ReduceResult) {
	if !s.Ready() {
		return
	}

	switch ev.Reason {
	case ReasonDefault:
		if s.Source.Index == ev.Info.Index {
			applyExternalSourceChange(s, ev.Info, at, rr)
			return
		}
		selectSource(s, ev.Info, at, rr)

	case ReasonCandidate:
		if s.Source.Selected() || !qualifiesForSelection(ev.Info) {
			return
		}
		selectSource(s, ev.Info, at, rr)

	case ReasonUpdate:
		if !s.Source.Selected() || s.Source.Index != ev.Info.Index {
			return
		}
		applyExternalSourceChange(s, ev.Info, at, rr)
	}
}

func reduceSourceList(s *DaemonState, ev SourceListObserved, at time.Time, rr *ReduceResult) {
	if !s.Ready() || s.Source.Selected() {
		return
	}
	for _, info := range ev.Infos {
		if !qualifiesForSelection(info) {
			continue
		}
		selectSource(s, info, at, rr)
		return
	}
}

func selectSource(s *DaemonState, info DeviceInfo, at time.Time, rr *ReduceResult) {
	s.Source = SourceState{
		Index: info.Index,
		Name:  info.Name,
		Mute:  info.Mute,
	}
	s.PendingMic = nil
	s.MicInFlight = 0
	s.MicResync = false
	rr.broadcast(
		BroadcastDeviceChanged{Kind: DeviceKindSource, Known: true, Index: info.Index, Name: info.Name, At: at},
		BroadcastMicMuteChanged{Muted: info.Mute, At: at},
	)
}

func reduceSubscriptionEvent(s *DaemonState, ev SubscriptionEvent, at time.Time, rr *ReduceResult) {
	if !s.Ready() {
		return
	}

	switch ev.Facility {
	case FacilityServer:
		rr.command(CmdGetServerInfo{})

	case FacilitySink:
		switch {
		case s.Sink.Selected() && ev.Index == s.Sink.Index:
			if ev.Type == SubscriptionRemove {
				s.Sink = unsetSink()
				s.PendingSink = nil
				s.SinkInFlight = 0
				s.SinkResync = false
				rr.broadcast(BroadcastDeviceChanged{Kind: DeviceKindSink, Index: InvalidIndex, At: at})
				return
			}
			rr.command(CmdGetSink{Index: ev.Index, Reason: ReasonUpdate})
		case !s.Sink.Selected() && ev.Type != SubscriptionRemove:
			rr.command(CmdGetSink{Index: ev.Index, Reason: ReasonCandidate})
		}

	case FacilitySource:
		switch {
		case s.Source.Selected() && ev.Index == s.Source.Index:
			if ev.Type == SubscriptionRemove {
				s.Source = unsetSource()
				s.PendingMic = nil
				s.MicInFlight = 0
				s.MicResync = false
				rr.broadcast(BroadcastDeviceChanged{Kind: DeviceKindSource, Index: InvalidIndex, At: at})
				return
			}
			rr.command(CmdGetSource{Index: ev.Index, Reason: ReasonUpdate})
		case !s.Source.Selected() && ev.Type != SubscriptionRemove:
			rr.command(CmdGetSource{Index: ev.Index, Reason: ReasonCandidate})
		}
	}
}
