package command

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxCommands is the number of commands honored from a single post body.
const DefaultMaxCommands = 10

// Kind identifies a playback command.
type Kind int

const (
	AddVideo Kind = iota + 1
	RemoveVideo
	SkipVideo
	Pause
	Play
	SetTime
	ClearPlaylist
	SetRate
	// The kinds below are only issued through direct control calls.
	SetNext
	PlayItem
	Shuffle
)

var kindNames = map[Kind]string{
	AddVideo:      "add",
	RemoveVideo:   "remove",
	SkipVideo:     "skip",
	Pause:         "pause",
	Play:          "play",
	SetTime:       "seek",
	ClearPlaylist: "clear",
	SetRate:       "rate",
	SetNext:       "next",
	PlayItem:      "playItem",
	Shuffle:       "shuffle",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the defined kinds. The zero Kind is not.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a wire name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, true
		}
	}
	return 0, false
}

// NeedsArg reports whether the kind carries a single argument.
func (k Kind) NeedsArg() bool {
	switch k {
	case AddVideo, RemoveVideo, SetTime, SetRate, SetNext, PlayItem:
		return true
	}
	return false
}

// Command is one playback operation with an optional argument.
type Command struct {
	Kind Kind   `json:"kind"`
	Arg  string `json:"arg,omitempty"`
}

// MarshalText encodes the kind by name so commands render readably in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown command kind %q", string(b))
	}
	*k = v
	return nil
}

var linePattern = regexp.MustCompile(`(?im)^\.(?:(play|remove|seek|rate)[ \t]+(\S+)|(pause|unpause|skip|clear))[ \t]*\r?$`)

// Parse extracts at most max commands from a post body, one per line.
// Lines that do not match are ignored. A max of zero or less uses DefaultMaxCommands.
func Parse(body string, max int) []Command {
	if max <= 0 {
		max = DefaultMaxCommands
	}

	var out []Command
	for _, m := range linePattern.FindAllStringSubmatch(body, -1) {
		if len(out) >= max {
			break
		}
		if m[1] != "" {
			var k Kind
			switch strings.ToLower(m[1]) {
			case "play":
				k = AddVideo
			case "remove":
				k = RemoveVideo
			case "seek":
				k = SetTime
			case "rate":
				k = SetRate
			}
			out = append(out, Command{Kind: k, Arg: m[2]})
			continue
		}
		switch strings.ToLower(m[3]) {
		case "pause":
			out = append(out, Command{Kind: Pause})
		case "unpause":
			out = append(out, Command{Kind: Play})
		case "skip":
			out = append(out, Command{Kind: SkipVideo})
		case "clear":
			out = append(out, Command{Kind: ClearPlaylist})
		}
	}
	return out
}

// ParseTimestamp reads plain seconds ("45.5"), "MM:SS" or "HH:MM:SS".
func ParseTimestamp(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ":") {
		return parseSeconds(s)
	}

	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		m, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, false
		}
		sec, ok := parseSeconds(parts[1])
		if !ok {
			return 0, false
		}
		return float64(m*60) + sec, true
	case 3:
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, false
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, false
		}
		sec, ok := parseSeconds(parts[2])
		if !ok {
			return 0, false
		}
		return float64(h*3600+m*60) + sec, true
	}
	return 0, false
}

// ParseRate reads a playback rate argument. Range checks belong to the clock.
func ParseRate(s string) (float64, bool) {
	return parseSeconds(strings.TrimSpace(s))
}

func parseSeconds(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
