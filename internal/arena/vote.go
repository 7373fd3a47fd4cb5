package arena

import "fmt"

// Preference is the outcome a listener picked for a battle.
type Preference string

const (
	PreferenceA       Preference = "A"
	PreferenceB       Preference = "B"
	PreferenceTie     Preference = "TIE"
	PreferenceBothBad Preference = "BOTH_BAD"
)

// ListenEventType is one kind of audio player interaction.
type ListenEventType string

const (
	ListenPlay  ListenEventType = "PLAY"
	ListenPause ListenEventType = "PAUSE"
	ListenSeek  ListenEventType = "SEEK"
	ListenStop  ListenEventType = "STOP"
	ListenTick  ListenEventType = "TICK"
)

// ListenEvent is one player interaction with a unix timestamp in seconds.
type ListenEvent struct {
	Event     ListenEventType `json:"event"`
	Timestamp float64         `json:"timestamp"`
}

// Vote is the listener's judgment of a battle plus the listening activity
// that backs it up.
type Vote struct {
	Preference     Preference    `json:"preference"`
	PreferenceTime float64       `json:"preference_time"`
	AListenData    []ListenEvent `json:"a_listen_data"`
	BListenData    []ListenEvent `json:"b_listen_data"`
	AFeedback      string        `json:"a_feedback,omitempty"`
	BFeedback      string        `json:"b_feedback,omitempty"`
}

// Validate checks the preference enum, the vote timestamp and every listen
// event type.
func (v *Vote) Validate() error {
	switch v.Preference {
	case PreferenceA, PreferenceB, PreferenceTie, PreferenceBothBad:
	default:
		return fmt.Errorf("invalid preference %q", v.Preference)
	}
	if v.PreferenceTime <= 0 {
		return fmt.Errorf("preference_time must be positive, got %g", v.PreferenceTime)
	}
	for _, side := range [][]ListenEvent{v.AListenData, v.BListenData} {
		for _, e := range side {
			switch e.Event {
			case ListenPlay, ListenPause, ListenSeek, ListenStop, ListenTick:
			default:
				return fmt.Errorf("invalid listen event %q", e.Event)
			}
		}
	}
	return nil
}

// SumListenTime totals the seconds of actual playback in events. A PLAY
// opens an interval; PAUSE and STOP close it; TICK closes it and opens a new
// one at the same instant; SEEK does not affect playback accounting. An
// interval still open after the last event is closed at end, which callers
// pass as the vote timestamp.
func SumListenTime(events []ListenEvent, end float64) float64 {
	var total float64
	playing := false
	var start float64
	for _, e := range events {
		switch e.Event {
		case ListenPlay:
			if !playing {
				playing = true
				start = e.Timestamp
			}
		case ListenPause, ListenStop:
			if playing {
				total += e.Timestamp - start
				playing = false
			}
		case ListenTick:
			if playing {
				total += e.Timestamp - start
				start = e.Timestamp
			}
		}
	}
	if playing && end > start {
		total += end - start
	}
	return total
}

// Winner maps the preference onto the two competing keys. Ties and
// BOTH_BAD have no winner.
func (v *Vote) Winner(a, b SystemKey) *SystemKey {
	switch v.Preference {
	case PreferenceA:
		return &a
	case PreferenceB:
		return &b
	default:
		return nil
	}
}
