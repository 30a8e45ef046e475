package playback

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// MinRate and MaxRate bound the playback rate multiplier.
	MinRate = 1.0 / 16
	MaxRate = 16.0

	// ReBakeInterval is how long a clock may accumulate offsets before it is due a re-bake.
	ReBakeInterval = time.Hour

	// MaxTime is the largest position SetTime accepts, roughly a century.
	MaxTime = 100 * 365 * 24 * 3600.0
)

var (
	// ErrInvalidArgument is the parent of every argument error returned by Clock.
	ErrInvalidArgument = errors.New("invalid argument")

	ErrNegativeTime   = fmt.Errorf("%w: time must be non-negative", ErrInvalidArgument)
	ErrTimeOutOfRange = fmt.Errorf("%w: time too large", ErrInvalidArgument)
	ErrRateOutOfRange = fmt.Errorf("%w: rate must be between %.4f and %.0f", ErrInvalidArgument, MinRate, MaxRate)
)

// TimeData is the (time, paused, rate) triple clients reconcile against.
type TimeData struct {
	Time   float64 `json:"time"`
	Paused bool    `json:"paused"`
	Rate   float64 `json:"rate"`
}

// State is the serializable representation of a Clock.
//
// While playing, elapsed time is (RateStart - Origin) + (now - RateStart) * Rate.
// While paused it is PauseStart - Origin.
type State struct {
	Started    bool      `json:"is_started"`
	Origin     time.Time `json:"start_time"`
	PauseStart time.Time `json:"pause_start_time"`
	RateStart  time.Time `json:"rate_start_time"`
	Rate       float64   `json:"rate"`
	ReBakeAt   time.Time `json:"-"`
}

// Clock is a server-authoritative playback position derived from a few
// instants rather than a ticking counter. Reads never mutate.
type Clock struct {
	clk clock.Clock

	mu sync.RWMutex
	st State
}

// New returns a stopped clock reading time from clk.
func New(clk clock.Clock) *Clock {
	if clk == nil {
		clk = clock.New()
	}
	return &Clock{clk: clk, st: State{Rate: 1}}
}

// Start resets to playing at elapsed zero, keeping the previous rate.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
}

// Stop clears all timing state. The rate survives so the next Start keeps it.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st = State{Rate: rateOrDefault(c.st.Rate)}
}

// Pause freezes the clock at its current time. Pausing twice is a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.st.Started || !c.st.PauseStart.IsZero() {
		return
	}
	now := c.clk.Now()
	t := c.timeAt(now)
	c.st.PauseStart = now
	c.st.Origin = now.Add(-seconds(t))
	c.st.RateStart = time.Time{}
}

// Resume continues from the paused time, starting the clock if it never ran.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.st.Started {
		c.startLocked()
		return
	}
	if c.st.PauseStart.IsZero() {
		return
	}
	now := c.clk.Now()
	t := c.timeAt(now)
	c.st.Origin = now.Add(-seconds(t))
	c.st.RateStart = now
	c.st.PauseStart = time.Time{}
}

// Time returns the elapsed playback time in seconds.
func (c *Clock) Time() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeAt(c.clk.Now())
}

// SetTime re-anchors the clock so Time returns seconds, keeping the play/pause state.
// Setting the time of an unstarted clock leaves it started but paused.
func (c *Clock) SetTime(sec float64) error {
	if sec < 0 || math.IsNaN(sec) {
		return fmt.Errorf("set time %v: %w", sec, ErrNegativeTime)
	}
	if sec > MaxTime {
		return fmt.Errorf("set time %v: %w", sec, ErrTimeOutOfRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	origin := now.Add(-seconds(sec))
	if c.pausedLocked() {
		if !c.st.Started {
			c.st.Started = true
			c.st.ReBakeAt = now.Add(ReBakeInterval)
		}
		c.st.Origin = origin
		c.st.PauseStart = now
		c.st.RateStart = time.Time{}
		return nil
	}
	c.st.Origin = origin
	c.st.RateStart = now
	return nil
}

// Rate returns the playback rate multiplier.
func (c *Clock) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rateOrDefault(c.st.Rate)
}

// SetRate changes the rate. Time already elapsed is kept at the old rate.
func (c *Clock) SetRate(rate float64) error {
	if rate < MinRate || rate > MaxRate || math.IsNaN(rate) {
		return fmt.Errorf("set rate %v: %w", rate, ErrRateOutOfRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pausedLocked() {
		c.st.Rate = rate
		return nil
	}
	now := c.clk.Now()
	t := c.timeAt(now)
	c.st.Origin = now.Add(-seconds(t))
	c.st.RateStart = now
	c.st.Rate = rate
	return nil
}

// IsPaused reports true for an unstarted clock or one mid-pause.
func (c *Clock) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pausedLocked()
}

// IsStarted reports whether the clock has been started and not stopped since.
func (c *Clock) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st.Started
}

// TimeData returns a consistent (time, paused, rate) reading.
func (c *Clock) TimeData() TimeData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return TimeData{
		Time:   c.timeAt(c.clk.Now()),
		Paused: c.pausedLocked(),
		Rate:   rateOrDefault(c.st.Rate),
	}
}

// NeedsReBake reports whether the scheduled re-bake instant has passed.
func (c *Clock) NeedsReBake() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dueLocked(c.clk.Now())
}

// ReBake collapses the accumulated offsets into a fresh origin without
// changing the observable time. It does nothing unless a re-bake is due.
func (c *Clock) ReBake() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	if !c.st.Started || !c.dueLocked(now) {
		return false
	}
	t := c.timeAt(now)
	c.st.Origin = now.Add(-seconds(t))
	if c.st.PauseStart.IsZero() {
		c.st.RateStart = now
	} else {
		c.st.PauseStart = now
	}
	c.st.ReBakeAt = now.Add(ReBakeInterval)
	return true
}

// Snapshot returns the clock state for persistence.
func (c *Clock) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st
}

// Restore replaces the clock state with a persisted snapshot and schedules a re-bake.
func (c *Clock) Restore(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.Rate = rateOrDefault(st.Rate)
	if st.Rate < MinRate || st.Rate > MaxRate {
		st.Rate = 1
	}
	if !st.Started {
		st = State{Rate: st.Rate}
	} else {
		if st.PauseStart.IsZero() && st.RateStart.IsZero() {
			st.RateStart = st.Origin
		}
		st.ReBakeAt = c.clk.Now().Add(ReBakeInterval)
	}
	c.st = st
}

func (c *Clock) startLocked() {
	now := c.clk.Now()
	c.st = State{
		Started:   true,
		Origin:    now,
		RateStart: now,
		Rate:      rateOrDefault(c.st.Rate),
		ReBakeAt:  now.Add(ReBakeInterval),
	}
}

func (c *Clock) pausedLocked() bool {
	return !c.st.Started || !c.st.PauseStart.IsZero()
}

func (c *Clock) dueLocked(now time.Time) bool {
	return !c.st.ReBakeAt.IsZero() && !now.Before(c.st.ReBakeAt)
}

// timeAt evaluates the clock at now. Instants from the real clock carry
// monotonic readings, so wall-clock steps only matter for restored state; a
// now earlier than the current segment start counts as zero progress, which
// keeps the reading at or above the segment base and never below zero.
func (c *Clock) timeAt(now time.Time) float64 {
	if !c.st.Started {
		return 0
	}
	var t float64
	if !c.st.PauseStart.IsZero() {
		t = c.st.PauseStart.Sub(c.st.Origin).Seconds()
	} else {
		base := c.st.RateStart.Sub(c.st.Origin).Seconds()
		run := now.Sub(c.st.RateStart).Seconds()
		if run < 0 {
			run = 0
		}
		t = base + run*rateOrDefault(c.st.Rate)
	}
	if t < 0 {
		return 0
	}
	return t
}

func rateOrDefault(r float64) float64 {
	if r == 0 {
		return 1
	}
	return r
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
