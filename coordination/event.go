package coordination

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// AdaptationHint is the directive carried by every adaptation event.
const AdaptationHint = "adjust server weights; prioritize alert queues"

// AdaptationEvent tells one peer that load-balancing policy should be reconsidered.
type AdaptationEvent struct {
	ID      string
	Source  string
	Peer    string
	Channel ChannelID
	Metrics Metrics
	Hint    string
	At      time.Time
}

func (e AdaptationEvent) fields() map[string]any {
	return map[string]any{
		"id":               e.ID,
		"channel":          string(e.Channel),
		"traffic_volume":   e.Metrics.TrafficVolume,
		"delay":            e.Metrics.Delay,
		"congestion_alert": e.Metrics.CongestionAlert,
		"hint":             e.Hint,
	}
}

func encodeEvent(e AdaptationEvent) (*structpb.Struct, error) {
	f := e.fields()
	f["source"] = e.Source
	f["peer"] = e.Peer
	f["at"] = e.At.UTC().Format(time.RFC3339Nano)
	return structpb.NewStruct(f)
}

func decodeEvent(s *structpb.Struct) (AdaptationEvent, error) {
	f := s.GetFields()
	e := AdaptationEvent{
		ID:      f["id"].GetStringValue(),
		Source:  f["source"].GetStringValue(),
		Peer:    f["peer"].GetStringValue(),
		Channel: ChannelID(f["channel"].GetStringValue()),
		Metrics: Metrics{
			TrafficVolume:   f["traffic_volume"].GetNumberValue(),
			Delay:           f["delay"].GetNumberValue(),
			CongestionAlert: f["congestion_alert"].GetBoolValue(),
		},
		Hint: f["hint"].GetStringValue(),
	}
	if e.Source == "" || e.Peer == "" {
		return e, fmt.Errorf("adaptation event needs source and peer")
	}
	if at := f["at"].GetStringValue(); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return e, fmt.Errorf("invalid event time %q: %w", at, err)
		}
		e.At = t
	}
	return e, nil
}
