// Package protocol defines the events a feed sends to its subscribers and
// their framing. Every frame is a JSON object followed by a single tag byte.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"watchsync/internal/media"
	"watchsync/internal/playback"
)

// Tag is appended to every encoded event so a transport can route frames
// without inspecting the payload.
const Tag byte = 0x10

// Event names.
const (
	NameConnected      = "connected"
	NameAddVideo       = "addVideo"
	NameRemoveVideo    = "removeVideo"
	NameSkip           = "skip"
	NamePause          = "pause"
	NamePlay           = "play"
	NameTimeSync       = "timeSync"
	NameSetTime        = "setTime"
	NameSetRate        = "setRate"
	NameClearPlaylist  = "clearPlaylist"
	NameToggleLock     = "toggleLock"
	NameUpdatePlaylist = "updatePlaylist"
	NameSetNextItem    = "setNextItem"
	NamePlayItem       = "playItem"
)

// Decode errors.
var (
	ErrUntagged = errors.New("frame missing protocol tag")
	ErrNoEvent  = errors.New("frame has no event name")
)

// Event is any payload produced by the constructors below.
type Event interface {
	EventName() string
}

type header struct {
	Event string `json:"event"`
}

// EventName returns the wire name of the event.
func (h header) EventName() string { return h.Event }

// Connected is the full snapshot a client receives when it subscribes.
type Connected struct {
	header
	VideoList []media.Item      `json:"videoList"`
	ItemPos   int               `json:"itemPos"`
	IsOpen    bool              `json:"isOpen"`
	Time      playback.TimeData `json:"time"`
}

// AddVideo announces an item inserted after the current one, or appended
// when AtEnd is set.
type AddVideo struct {
	header
	Item  media.Item `json:"item"`
	AtEnd bool       `json:"atEnd"`
}

// URLEvent carries removeVideo, skip, setNextItem and playItem.
type URLEvent struct {
	header
	URL string `json:"url"`
}

// TimeEvent carries pause, play and setTime.
type TimeEvent struct {
	header
	Time float64 `json:"time"`
}

// TimeSync is the periodic clock broadcast.
type TimeSync struct {
	header
	playback.TimeData
}

// SetRate carries a new playback rate.
type SetRate struct {
	header
	Rate float64 `json:"rate"`
}

// ToggleLock reports whether the playlist is open to users.
type ToggleLock struct {
	header
	IsOpen bool `json:"isOpen"`
}

// UpdatePlaylist replaces the client's playlist, as after a shuffle.
type UpdatePlaylist struct {
	header
	VideoList []media.Item `json:"videoList"`
}

// Bare is an event without fields, such as clearPlaylist.
type Bare struct {
	header
}

// NewConnected builds a snapshot. A nil item list encodes as [].
func NewConnected(items []media.Item, pos int, open bool, td playback.TimeData) Connected {
	if items == nil {
		items = []media.Item{}
	}
	return Connected{header{NameConnected}, items, pos, open, td}
}

// NewAddVideo announces item.
func NewAddVideo(item media.Item, atEnd bool) AddVideo {
	return AddVideo{header{NameAddVideo}, item, atEnd}
}

// NewRemoveVideo announces the removal of the item at url.
func NewRemoveVideo(url string) URLEvent { return URLEvent{header{NameRemoveVideo}, url} }

// NewSkip announces that the item at url was skipped.
func NewSkip(url string) URLEvent { return URLEvent{header{NameSkip}, url} }

// NewSetNextItem moves the item at url right after the current one.
func NewSetNextItem(url string) URLEvent { return URLEvent{header{NameSetNextItem}, url} }

// NewPlayItem switches playback to the item at url.
func NewPlayItem(url string) URLEvent { return URLEvent{header{NamePlayItem}, url} }

// NewPause pauses playback at t seconds.
func NewPause(t float64) TimeEvent { return TimeEvent{header{NamePause}, t} }

// NewPlay resumes playback from t seconds.
func NewPlay(t float64) TimeEvent { return TimeEvent{header{NamePlay}, t} }

// NewSetTime seeks to t seconds.
func NewSetTime(t float64) TimeEvent { return TimeEvent{header{NameSetTime}, t} }

// NewTimeSync wraps a clock snapshot.
func NewTimeSync(td playback.TimeData) TimeSync { return TimeSync{header{NameTimeSync}, td} }

// NewSetRate sets the playback rate.
func NewSetRate(rate float64) SetRate { return SetRate{header{NameSetRate}, rate} }

// NewToggleLock reports the playlist lock state.
func NewToggleLock(open bool) ToggleLock { return ToggleLock{header{NameToggleLock}, open} }

// NewClearPlaylist empties the playlist.
func NewClearPlaylist() Bare { return Bare{header{NameClearPlaylist}} }

// NewUpdatePlaylist replaces the playlist. A nil list encodes as [].
func NewUpdatePlaylist(items []media.Item) UpdatePlaylist {
	if items == nil {
		items = []media.Item{}
	}
	return UpdatePlaylist{header{NameUpdatePlaylist}, items}
}

// Encode serializes ev and appends Tag.
func Encode(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	b := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return append(b, Tag), nil
}

// Decode verifies and strips the tag, returning the event name and its JSON payload.
func Decode(frame []byte) (name string, payload []byte, err error) {
	if len(frame) == 0 || frame[len(frame)-1] != Tag {
		return "", nil, ErrUntagged
	}
	payload = frame[:len(frame)-1]
	var h header
	if err := json.Unmarshal(payload, &h); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}
	if h.Event == "" {
		return "", nil, ErrNoEvent
	}
	return h.Event, payload, nil
}

// DecodeInto decodes a tagged frame into v and returns the event name.
func DecodeInto(frame []byte, v any) (string, error) {
	name, payload, err := Decode(frame)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return name, nil
}
