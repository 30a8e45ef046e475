package watch

import (
	"errors"
	"strconv"
	"time"

	"watchsync/internal/command"
	"watchsync/internal/playback"
	"watchsync/internal/playlist"
)

// ThreadID identifies the discussion thread a feed is attached to.
type ThreadID int64

func (t ThreadID) String() string { return strconv.FormatInt(int64(t), 10) }

// ParseThreadID parses a decimal thread id.
func ParseThreadID(s string) (ThreadID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrBadThreadID
	}
	return ThreadID(n), nil
}

// StateKeyPrefix namespaces persisted feed state in the durable store.
const StateKeyPrefix = "watchsync:state:"

// StateKey returns the durable store key for a thread.
func StateKey(t ThreadID) string { return StateKeyPrefix + t.String() }

// PersistedState is the snapshot written to the durable store.
type PersistedState struct {
	VideoList playlist.State `json:"video_list"`
	Timer     playback.State `json:"timer"`
}

// Client is one local subscriber connection. Send must not block; it returns
// false when the connection is gone or its queue is full, and the feed then
// drops the client.
type Client interface {
	ID() string
	Send(frame []byte) bool
}

// Stats is the registry metrics snapshot.
type Stats struct {
	Feeds       int `json:"feeds"`
	Subscribers int `json:"subscribers"`
}

var (
	// ErrDisabled is returned when the watch feature is switched off.
	ErrDisabled = errors.New("watch feature disabled")

	// ErrNoFeed is returned for a thread without an active feed in this process.
	ErrNoFeed = errors.New("no active feed for thread")

	// ErrBadThreadID is returned for a thread id that is not a positive integer.
	ErrBadThreadID = errors.New("invalid thread id")
)

// Config holds the feed and registry tunables. Zero values fall back to defaults.
type Config struct {
	Enabled             bool
	MaxPlaylistSize     int
	MaxCommands         int
	TickInterval        time.Duration
	ReBakeCheckInterval time.Duration
	AutoAdvanceDelay    time.Duration
	PersistDebounce     time.Duration
	PersistTimeout      time.Duration
	StateTTL            time.Duration
	FetchTimeout        time.Duration
}

const (
	DefaultTickInterval        = time.Second
	DefaultReBakeCheckInterval = 5 * time.Minute
	DefaultAutoAdvanceDelay    = time.Second
	DefaultPersistDebounce     = time.Second
	DefaultPersistTimeout      = 2 * time.Second
	DefaultStateTTL            = 24 * time.Hour
	DefaultFetchTimeout        = 10 * time.Second

	// EndEpsilon is how close to its duration an item must be to count as finished.
	EndEpsilon = 0.01
)

func (c Config) withDefaults() Config {
	if c.MaxPlaylistSize <= 0 {
		c.MaxPlaylistSize = playlist.DefaultMaxSize
	}
	if c.MaxCommands <= 0 {
		c.MaxCommands = command.DefaultMaxCommands
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ReBakeCheckInterval <= 0 {
		c.ReBakeCheckInterval = DefaultReBakeCheckInterval
	}
	if c.AutoAdvanceDelay <= 0 {
		c.AutoAdvanceDelay = DefaultAutoAdvanceDelay
	}
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = DefaultPersistDebounce
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}
