package media

import (
	"encoding/json"
	"math"
)

// LiveDuration is the wire value for an item without a fixed end.
// JSON has no infinity, so live streams travel as this sentinel.
const LiveDuration = float64(math.MaxInt32)

// Type is the embed kind a client uses to render an item.
type Type int

const (
	TypeRaw Type = iota
	TypeYouTube
	TypeTwitch
	TypeIframe
	TypeTikTok
	TypeTikTokLive
)

// Item describes one playable video. Items are compared by URL.
type Item struct {
	URL      string
	Title    string
	Author   string
	Duration float64 // seconds; +Inf for live streams
	ID       string  // platform embed id or embed URL
	Type     Type
}

// NewLive returns an item with no fixed end time.
func NewLive(url, title, author, id string, typ Type) Item {
	return Item{URL: url, Title: title, Author: author, Duration: math.Inf(1), ID: id, Type: typ}
}

// IsLive reports whether the item is exempt from auto-advance.
func (i Item) IsLive() bool {
	return math.IsInf(i.Duration, 1)
}

type itemJSON struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Duration float64 `json:"duration"`
	ID       string  `json:"id"`
	Type     Type    `json:"type"`
}

// MarshalJSON implements json.Marshaler.
func (i Item) MarshalJSON() ([]byte, error) {
	d := i.Duration
	if i.IsLive() {
		d = LiveDuration
	}
	return json.Marshal(itemJSON{URL: i.URL, Title: i.Title, Author: i.Author, Duration: d, ID: i.ID, Type: i.Type})
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Item) UnmarshalJSON(b []byte) error {
	var v itemJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	d := v.Duration
	if d >= LiveDuration {
		d = math.Inf(1)
	}
	*i = Item{URL: v.URL, Title: v.Title, Author: v.Author, Duration: d, ID: v.ID, Type: v.Type}
	return nil
}

// SameURL returns a predicate matching items with the given URL.
func SameURL(url string) func(Item) bool {
	return func(i Item) bool { return i.URL == url }
}
