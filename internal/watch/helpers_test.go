package watch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"watchsync/internal/media"
	"watchsync/internal/protocol"

	"github.com/benbjohnson/clock"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// recClient records every frame it is sent.
type recClient struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	dead   bool
}

func newRecClient(id string) *recClient { return &recClient{id: id} }

func (c *recClient) ID() string { return c.id }

func (c *recClient) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return false
	}
	b := make([]byte, len(frame))
	copy(b, frame)
	c.frames = append(c.frames, b)
	return true
}

func (c *recClient) kill() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

func (c *recClient) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		name, _, err := protocol.Decode(f)
		if err != nil {
			out = append(out, "!"+err.Error())
			continue
		}
		out = append(out, name)
	}
	return out
}

func (c *recClient) count(name string) int {
	n := 0
	for _, got := range c.names() {
		if got == name {
			n++
		}
	}
	return n
}

// lastFrame decodes the most recent frame named name into v.
func (c *recClient) lastFrame(t *testing.T, name string, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		got, _, err := protocol.Decode(c.frames[i])
		if err == nil && got == name {
			if _, err := protocol.DecodeInto(c.frames[i], v); err != nil {
				t.Fatal(err)
			}
			return
		}
	}
	t.Fatalf("no %s frame received", name)
}

// waitFor polls cond until it holds or a real-time deadline passes. Timer
// callbacks of the mock clock run on their own goroutines.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func video(n int, dur float64) media.Item {
	return media.Item{
		URL:      fmt.Sprintf("https://www.youtube.com/watch?v=vid%d", n),
		Title:    fmt.Sprintf("video %d", n),
		Duration: dur,
		ID:       fmt.Sprintf("vid%d", n),
		Type:     media.TypeYouTube,
	}
}

// testConfig keeps the background tickers out of the way; tests drive tick() directly.
func testConfig() Config {
	return Config{
		Enabled:             true,
		TickInterval:        1000 * time.Hour,
		ReBakeCheckInterval: 2000 * time.Hour,
	}
}

type feedFixture struct {
	feed   *Feed
	clock  *clock.Mock
	store  *InMemoryStore
	client *recClient
}

func newFeedFixture(t *testing.T, saved *PersistedState) *feedFixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(epoch)
	store := NewInMemoryStore(mock)
	f := NewFeed(1, testConfig(), Options{Clock: mock, Store: store}, saved)
	t.Cleanup(f.Close)

	c := newRecClient("c1")
	f.AddClient(c)
	return &feedFixture{feed: f, clock: mock, store: store, client: c}
}

func (fx *feedFixture) items() []media.Item {
	return fx.feed.State().VideoList.Items
}

func (fx *feedFixture) stored(t *testing.T) (PersistedState, bool) {
	t.Helper()
	st := LoadState(context.Background(), fx.store, 1, fx.feed.log)
	if st == nil {
		return PersistedState{}, false
	}
	return *st, true
}
