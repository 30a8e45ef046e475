package watch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"watchsync/internal/media"
	"watchsync/internal/platform/logger"
	"watchsync/internal/platform/metrics"
	"watchsync/internal/playback"
	"watchsync/internal/playlist"
	"watchsync/internal/protocol"

	"github.com/benbjohnson/clock"
)

// Options carries the collaborators shared by a registry and its feeds.
// Zero fields fall back to a wall clock, a discarding logger, an in-memory
// store and a no-op relay. Metrics may be nil.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Store   Store
	Relay   Relay
	Fetcher media.Fetcher
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
	if o.Store == nil {
		o.Store = NewInMemoryStore(o.Clock)
	}
	if o.Relay == nil {
		o.Relay = NoopRelay{}
	}
	return o
}

// Feed is the synchronization state of one thread in this process: a
// playback clock, a playlist and the local subscribers. Its methods are
// serialized by one mutex, which also guards every timer callback, so no two
// handlers of the same feed ever run at once.
//
// User commands that fail a precondition (locked playlist, nothing playing,
// bad argument) are silently ignored.
type Feed struct {
	thread  ThreadID
	cfg     Config
	clk     clock.Clock
	log     *slog.Logger
	store   Store
	relay   Relay
	metrics *metrics.Metrics

	// writeMu orders durable writes; it is always taken before mu.
	writeMu sync.Mutex

	mu         sync.Mutex
	clients    map[string]Client
	timer      *playback.Clock
	list       *playlist.Playlist
	advance    *clock.Timer
	advanceSeq uint64
	persist    *clock.Timer
	closed     bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFeed builds a feed, seeding it from saved when non-nil, and starts its
// tick and re-bake loops.
func NewFeed(thread ThreadID, cfg Config, opts Options, saved *PersistedState) *Feed {
	cfg = cfg.withDefaults()
	opts = opts.withDefaults()

	f := &Feed{
		thread:  thread,
		cfg:     cfg,
		clk:     opts.Clock,
		log:     opts.Logger.With(slog.String("thread_id", thread.String())),
		store:   opts.Store,
		relay:   opts.Relay,
		metrics: opts.Metrics,
		clients: make(map[string]Client),
		timer:   playback.New(opts.Clock),
		list:    playlist.New(cfg.MaxPlaylistSize),
		stop:    make(chan struct{}),
	}
	if saved != nil {
		f.list.Restore(saved.VideoList)
		f.timer.Restore(saved.Timer)
		if f.list.Len() == 0 {
			f.timer.Stop()
		}
	}

	tick := f.clk.Ticker(cfg.TickInterval)
	rebake := f.clk.Ticker(cfg.ReBakeCheckInterval)
	f.wg.Add(1)
	go f.run(tick, rebake)

	f.log.Info("feed started", slog.Bool("restored_state", saved != nil), slog.Int("items", f.list.Len()))
	return f
}

// Thread returns the thread the feed belongs to.
func (f *Feed) Thread() ThreadID { return f.thread }

func (f *Feed) run(tick, rebake *clock.Ticker) {
	defer f.wg.Done()
	defer tick.Stop()
	defer rebake.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-tick.C:
			f.tick()
		case <-rebake.C:
			f.reBake()
		}
	}
}

// AddClient registers c and sends it the connected snapshot.
func (f *Feed) AddClient(c Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	data, err := protocol.Encode(f.snapshotLocked())
	if err != nil {
		f.log.Error("encode connected snapshot", slog.String("error", err.Error()))
		return
	}
	if !c.Send(data) {
		f.log.Debug("client dropped before snapshot", slog.String("client_id", c.ID()))
		return
	}
	f.clients[c.ID()] = c
}

// RemoveClient unregisters a client and reports whether none are left.
func (f *Feed) RemoveClient(id string) (empty bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, id)
	return len(f.clients) == 0
}

// ClientCount returns the number of local subscribers.
func (f *Feed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// AddVideo appends item unless the playlist is locked, full, or already has its URL.
// The first item starts the clock.
func (f *Feed) AddVideo(item media.Item, atEnd bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() {
		return
	}
	if !f.list.Insert(item, atEnd) {
		f.log.Debug("add video ignored", slog.String("url", item.URL), slog.Bool("full", f.list.IsFull()))
		return
	}
	if f.list.Len() == 1 {
		f.timer.Start()
	}
	f.commitLocked(protocol.NewAddVideo(item, atEnd))
}

// RemoveVideo removes the item with url.
func (f *Feed) RemoveVideo(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() {
		return
	}
	idx := f.list.IndexOf(media.SameURL(url))
	if idx < 0 {
		return
	}
	f.list.RemoveAt(idx)
	f.commitLocked(protocol.NewRemoveVideo(url))
}

// SkipVideo drops the current item.
func (f *Feed) SkipVideo() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() {
		return
	}
	f.skipLocked()
}

// Pause freezes playback.
func (f *Feed) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() || f.list.Len() == 0 {
		return
	}
	f.timer.Pause()
	f.commitLocked(protocol.NewPause(f.timer.Time()))
}

// Play resumes playback. It is allowed on a locked playlist.
func (f *Feed) Play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.playLocked()
}

// SetTime seeks the current item.
func (f *Feed) SetTime(sec float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() || f.list.Len() == 0 {
		return
	}
	if err := f.timer.SetTime(sec); err != nil {
		f.log.Debug("invalid seek", slog.Float64("time", sec), slog.String("error", err.Error()))
		return
	}
	f.commitLocked(protocol.NewSetTime(sec))
}

// SetRate changes the playback rate.
func (f *Feed) SetRate(rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() || f.list.Len() == 0 {
		return
	}
	if err := f.timer.SetRate(rate); err != nil {
		f.log.Debug("invalid rate", slog.Float64("rate", rate), slog.String("error", err.Error()))
		return
	}
	f.commitLocked(protocol.NewSetRate(rate))
}

// ClearPlaylist empties the playlist and stops the clock.
func (f *Feed) ClearPlaylist() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() {
		return
	}
	f.list.Clear()
	f.timer.Stop()
	f.commitLocked(protocol.NewClearPlaylist())
}

// ToggleLock sets the open flag. It is the one structural change allowed while locked.
func (f *Feed) ToggleLock(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.list.SetOpen(open)
	f.commitLocked(protocol.NewToggleLock(open))
}

// SetNextItem moves the item with url right after the current one.
func (f *Feed) SetNextItem(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() {
		return
	}
	idx := f.list.IndexOf(media.SameURL(url))
	if idx < 0 || idx == f.list.Pos() {
		return
	}
	if err := f.list.SetNext(idx); err != nil {
		f.log.Debug("set next ignored", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	f.commitLocked(protocol.NewSetNextItem(url))
}

// PlayItem jumps to the item with url and rewinds to its start.
func (f *Feed) PlayItem(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() {
		return
	}
	idx := f.list.IndexOf(media.SameURL(url))
	if idx < 0 {
		return
	}
	f.list.SetPos(idx)
	_ = f.timer.SetTime(0)
	f.commitLocked(protocol.NewPlayItem(url))
}

// Shuffle randomizes the upcoming items, moving the current one to the front.
func (f *Feed) Shuffle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || !f.list.IsOpen() || f.list.Len() < 2 {
		return
	}
	f.list.Shuffle()
	f.commitLocked(protocol.NewUpdatePlaylist(f.list.Items()))
}

// IsOpen reports whether the playlist accepts user changes.
func (f *Feed) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list.IsOpen()
}

// Snapshot returns the payload sent to a newly connected client.
func (f *Feed) Snapshot() protocol.Connected {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// State returns the persisted form of the feed.
func (f *Feed) State() PersistedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

// BroadcastLocal replays a frame produced by another worker to local clients only.
func (f *Feed) BroadcastLocal(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.sendLocked(frame)
}

// Close stops every timer and loop, drops the clients and writes the final
// state: the durable key is deleted when the playlist is empty.
func (f *Feed) Close() {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.advance != nil {
		f.advance.Stop()
		f.advance = nil
	}
	if f.persist != nil {
		f.persist.Stop()
		f.persist = nil
	}
	f.clients = make(map[string]Client)
	st := f.stateLocked()
	close(f.stop)
	f.mu.Unlock()

	f.wg.Wait()
	f.write(st)
	f.log.Debug("feed closed")
}

func (f *Feed) tick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	item, err := f.list.Current()
	if err != nil {
		if errors.Is(err, playlist.ErrInvalidState) {
			f.log.Error("playlist invariant broken", slog.String("error", err.Error()))
			f.list.SetPos(0)
		}
		return
	}
	if item.IsLive() {
		f.broadcastLocked(protocol.NewTimeSync(f.timer.TimeData()))
		return
	}

	end := item.Duration - EndEpsilon
	if end < 0 {
		end = 0
	}
	if f.timer.Time() > end {
		f.timer.Pause()
		_ = f.timer.SetTime(end)
		f.scheduleAdvanceLocked(item.URL)
		return
	}
	f.broadcastLocked(protocol.NewTimeSync(f.timer.TimeData()))
}

func (f *Feed) reBake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if f.timer.ReBake() {
		f.log.Debug("clock re-baked")
	}
}

// scheduleAdvanceLocked replaces any pending auto-advance. The sequence
// number lets a callback that already fired recognize it was superseded.
func (f *Feed) scheduleAdvanceLocked(url string) {
	if f.advance != nil {
		f.advance.Stop()
	}
	f.advanceSeq++
	seq := f.advanceSeq
	f.advance = f.clk.AfterFunc(f.cfg.AutoAdvanceDelay, func() { f.autoAdvance(seq, url) })
}

func (f *Feed) autoAdvance(seq uint64, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || seq != f.advanceSeq {
		return
	}
	f.advance = nil
	cur, err := f.list.Current()
	if err != nil || cur.URL != url {
		return
	}
	f.skipLocked()
	f.playLocked()
}

func (f *Feed) skipLocked() {
	cur, err := f.list.Current()
	if err != nil {
		return
	}
	wrapped := f.list.Skip()
	if f.list.Len() == 0 {
		f.timer.Stop()
	} else {
		_ = f.timer.SetTime(0)
	}
	f.log.Debug("skipped", slog.String("url", cur.URL), slog.Bool("wrapped", wrapped))
	f.commitLocked(protocol.NewSkip(cur.URL))
}

func (f *Feed) playLocked() {
	if f.list.Len() == 0 {
		return
	}
	t := f.timer.Time()
	f.timer.Resume()
	f.commitLocked(protocol.NewPlay(t))
}

// commitLocked finishes a mutation: it checks the playlist, broadcasts ev
// and schedules a durable write.
func (f *Feed) commitLocked(ev protocol.Event) {
	if err := f.list.CheckInvariant(); err != nil {
		f.log.Error("playlist invariant broken", slog.String("event", ev.EventName()), slog.String("error", err.Error()))
		f.list.SetPos(0)
	}
	f.broadcastLocked(ev)
	f.schedulePersistLocked()
}

func (f *Feed) broadcastLocked(ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		f.log.Error("encode event", slog.String("event", ev.EventName()), slog.String("error", err.Error()))
		return
	}
	f.sendLocked(data)
	if f.metrics != nil {
		f.metrics.IncEventsBroadcast()
	}
	if err := f.relay.Publish(context.Background(), f.thread, data); err != nil {
		f.log.Warn("relay publish failed", slog.String("event", ev.EventName()), slog.String("error", err.Error()))
	}
}

func (f *Feed) sendLocked(data []byte) {
	for id, c := range f.clients {
		if !c.Send(data) {
			delete(f.clients, id)
			f.log.Debug("client pruned", slog.String("client_id", id))
		}
	}
}

func (f *Feed) schedulePersistLocked() {
	if f.persist != nil {
		return
	}
	f.persist = f.clk.AfterFunc(f.cfg.PersistDebounce, f.persistNow)
}

func (f *Feed) persistNow() {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.persist = nil
	st := f.stateLocked()
	f.mu.Unlock()

	f.write(st)
}

// write stores st, or deletes the key when the playlist is empty. Failures
// are logged; persistence is best-effort.
func (f *Feed) write(st PersistedState) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.PersistTimeout)
	defer cancel()

	key := StateKey(f.thread)
	var err error
	if len(st.VideoList.Items) == 0 {
		err = f.store.Delete(ctx, key)
	} else {
		var b []byte
		b, err = json.Marshal(st)
		if err == nil {
			err = f.store.Set(ctx, key, b, f.cfg.StateTTL)
		}
	}
	if err != nil {
		f.log.Error("state write failed", slog.String("error", err.Error()))
		if f.metrics != nil {
			f.metrics.IncPersistErrors()
		}
	}
}

func (f *Feed) snapshotLocked() protocol.Connected {
	return protocol.NewConnected(f.list.Items(), f.list.Pos(), f.list.IsOpen(), f.timer.TimeData())
}

func (f *Feed) stateLocked() PersistedState {
	return PersistedState{VideoList: f.list.State(), Timer: f.timer.Snapshot()}
}

// LoadState reads the persisted state for thread. A missing key, a store
// failure or an undecodable value all yield nil; failures are logged.
func LoadState(ctx context.Context, store Store, thread ThreadID, log *slog.Logger) *PersistedState {
	b, ok, err := store.Get(ctx, StateKey(thread))
	if err != nil {
		log.Warn("state load failed", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	var st PersistedState
	if err := json.Unmarshal(b, &st); err != nil {
		log.Warn("state decode failed", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
		return nil
	}
	return &st
}
