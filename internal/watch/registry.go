package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"watchsync/internal/command"
	"watchsync/internal/media"
)

// Registry owns the feeds of this process, keyed by thread. Feeds are
// created lazily by the first subscriber and torn down with the last one.
type Registry struct {
	cfg  Config
	opts Options
	log  *slog.Logger

	// mu guards the maps only; store I/O never happens under it.
	mu    sync.Mutex
	feeds map[ThreadID]*Feed
	// closing holds threads whose feed is flushing its final state.
	closing map[ThreadID]chan struct{}
	// flushes counts finished teardowns; a load that raced one is redone.
	flushes uint64

	fetchMu sync.Mutex
	queues  map[ThreadID][]string

	// ctx bounds background metadata lookups; Close cancels it.
	ctx     context.Context
	cancel  context.CancelFunc
	fetches sync.WaitGroup
}

// NewRegistry returns an empty registry. A nil opts.Fetcher rejects every URL.
func NewRegistry(cfg Config, opts Options) *Registry {
	cfg = cfg.withDefaults()
	opts = opts.withDefaults()
	if opts.Fetcher == nil {
		opts.Fetcher = media.FetcherFunc(func(context.Context, string) (media.Item, bool) { return media.Item{}, false })
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:     cfg,
		opts:    opts,
		log:     opts.Logger,
		feeds:   make(map[ThreadID]*Feed),
		closing: make(map[ThreadID]chan struct{}),
		queues:  make(map[ThreadID][]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enabled reports whether the watch feature is switched on.
func (r *Registry) Enabled() bool { return r.cfg.Enabled }

// MaxCommands is the per-post command cap.
func (r *Registry) MaxCommands() int { return r.cfg.MaxCommands }

// Subscribe attaches c to the thread's feed, creating the feed from persisted
// state when needed. The client receives the connected snapshot immediately.
// Only the subscribing thread waits on the store.
func (r *Registry) Subscribe(ctx context.Context, thread ThreadID, c Client) error {
	if !r.cfg.Enabled {
		return ErrDisabled
	}
	var (
		saved  *PersistedState
		loaded bool
		seen   uint64
	)
	for {
		r.mu.Lock()
		f, ok := r.feeds[thread]
		flushing, isClosing := r.closing[thread]
		if loaded && seen != r.flushes {
			loaded = false
		}
		if !ok && !isClosing && loaded {
			f = NewFeed(thread, r.cfg, r.opts, saved)
			r.feeds[thread] = f
			ok = true
		}
		if ok {
			f.AddClient(c)
			r.mu.Unlock()
			r.log.Debug("client subscribed", slog.String("thread_id", thread.String()), slog.String("client_id", c.ID()))
			return nil
		}
		seen = r.flushes
		r.mu.Unlock()

		if isClosing {
			// The previous feed is still writing its final state; load after it.
			select {
			case <-flushing:
			case <-ctx.Done():
				return ctx.Err()
			}
			loaded = false
			continue
		}

		loadCtx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
		saved = LoadState(loadCtx, r.opts.Store, thread, r.log)
		cancel()
		loaded = true
	}
}

// Unsubscribe detaches a client. The feed is torn down when it has no
// clients left.
func (r *Registry) Unsubscribe(thread ThreadID, clientID string) {
	r.mu.Lock()
	f, ok := r.feeds[thread]
	if !ok || !f.RemoveClient(clientID) {
		r.mu.Unlock()
		return
	}
	done := r.detachLocked(thread)
	r.mu.Unlock()

	r.teardown(thread, f, done)
	r.log.Info("feed removed (no clients)", slog.String("thread_id", thread.String()))
}

// detachLocked removes the thread's feed from the map and marks it as
// flushing. Caller must hold r.mu.
func (r *Registry) detachLocked(thread ThreadID) chan struct{} {
	delete(r.feeds, thread)
	done := make(chan struct{})
	r.closing[thread] = done
	return done
}

// teardown closes f outside r.mu and releases subscribers waiting on the flush.
func (r *Registry) teardown(thread ThreadID, f *Feed, done chan struct{}) {
	f.Close()
	r.mu.Lock()
	if r.closing[thread] == done {
		delete(r.closing, thread)
	}
	r.flushes++
	r.mu.Unlock()
	close(done)
}

// HandleCommand applies cmd to the thread's feed. Commands for threads
// without a feed in this process are dropped with ErrNoFeed. Bad arguments
// are not errors; the feed ignores them.
func (r *Registry) HandleCommand(thread ThreadID, cmd command.Command) error {
	if !r.cfg.Enabled {
		return ErrDisabled
	}
	f, ok := r.Feed(thread)
	if !ok {
		return fmt.Errorf("thread %s: %w", thread, ErrNoFeed)
	}
	if m := r.opts.Metrics; m != nil {
		m.IncCommand(cmd.Kind.String())
	}

	switch cmd.Kind {
	case command.AddVideo:
		r.enqueueFetch(thread, cmd.Arg)
	case command.RemoveVideo:
		f.RemoveVideo(cmd.Arg)
	case command.SkipVideo:
		f.SkipVideo()
	case command.Pause:
		f.Pause()
	case command.Play:
		f.Play()
	case command.SetTime:
		sec, ok := command.ParseTimestamp(cmd.Arg)
		if !ok {
			r.log.Debug("invalid timestamp", slog.String("thread_id", thread.String()), slog.String("arg", cmd.Arg))
			return nil
		}
		f.SetTime(sec)
	case command.SetRate:
		rate, ok := command.ParseRate(cmd.Arg)
		if !ok {
			r.log.Debug("invalid rate", slog.String("thread_id", thread.String()), slog.String("arg", cmd.Arg))
			return nil
		}
		f.SetRate(rate)
	case command.ClearPlaylist:
		f.ClearPlaylist()
	case command.SetNext:
		f.SetNextItem(cmd.Arg)
	case command.PlayItem:
		f.PlayItem(cmd.Arg)
	case command.Shuffle:
		f.Shuffle()
	default:
		return fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
	return nil
}

// HandleCommands applies cmds in order, stopping at the first error.
func (r *Registry) HandleCommands(thread ThreadID, cmds []command.Command) error {
	for _, cmd := range cmds {
		if err := r.HandleCommand(thread, cmd); err != nil {
			return err
		}
	}
	return nil
}

// enqueueFetch queues url for metadata lookup. Each thread has one worker,
// so items land in the order they were posted.
func (r *Registry) enqueueFetch(thread ThreadID, url string) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()
	q, running := r.queues[thread]
	r.queues[thread] = append(q, url)
	if running {
		return
	}
	r.fetches.Add(1)
	go r.drainFetches(thread)
}

func (r *Registry) drainFetches(thread ThreadID) {
	defer r.fetches.Done()
	for {
		r.fetchMu.Lock()
		q := r.queues[thread]
		if len(q) == 0 || r.ctx.Err() != nil {
			delete(r.queues, thread)
			r.fetchMu.Unlock()
			return
		}
		url := q[0]
		r.queues[thread] = q[1:]
		r.fetchMu.Unlock()

		r.fetchAndAdd(thread, url)
	}
}

// fetchAndAdd resolves url and adds the result to whichever feed the thread
// has once the lookup returns.
func (r *Registry) fetchAndAdd(thread ThreadID, url string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.FetchTimeout)
	defer cancel()

	item, ok := r.opts.Fetcher.Fetch(ctx, url)
	if !ok {
		r.log.Debug("video not resolved", slog.String("thread_id", thread.String()), slog.String("url", url))
		return
	}
	f, ok := r.Feed(thread)
	if !ok {
		r.log.Debug("resolved video dropped, no feed", slog.String("thread_id", thread.String()), slog.String("url", url))
		return
	}
	f.AddVideo(item, true)
}

// ToggleLock opens or locks the thread's playlist.
func (r *Registry) ToggleLock(thread ThreadID, open bool) error {
	f, ok := r.Feed(thread)
	if !ok {
		return fmt.Errorf("thread %s: %w", thread, ErrNoFeed)
	}
	f.ToggleLock(open)
	return nil
}

// Feed returns the thread's feed if this process has one.
func (r *Registry) Feed(thread ThreadID) (*Feed, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[thread]
	return f, ok
}

// Remove tears a feed down regardless of its subscribers.
func (r *Registry) Remove(thread ThreadID) {
	r.mu.Lock()
	f, ok := r.feeds[thread]
	if !ok {
		r.mu.Unlock()
		return
	}
	done := r.detachLocked(thread)
	r.mu.Unlock()

	r.teardown(thread, f, done)
}

// Deliver replays a relayed frame to the local subscribers of thread.
// Frames for threads without a local feed are dropped.
func (r *Registry) Deliver(thread ThreadID, frame []byte) {
	f, ok := r.Feed(thread)
	if !ok {
		return
	}
	f.BroadcastLocal(frame)
}

// Metrics returns feed and subscriber counts.
func (r *Registry) Metrics() Stats {
	r.mu.Lock()
	feeds := make([]*Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		feeds = append(feeds, f)
	}
	r.mu.Unlock()

	st := Stats{Feeds: len(feeds)}
	for _, f := range feeds {
		st.Subscribers += f.ClientCount()
	}
	return st
}

// Close cancels pending lookups and tears down every feed.
func (r *Registry) Close() {
	r.cancel()
	r.fetches.Wait()

	type detached struct {
		thread ThreadID
		feed   *Feed
		done   chan struct{}
	}
	r.mu.Lock()
	all := make([]detached, 0, len(r.feeds))
	for id, f := range r.feeds {
		all = append(all, detached{id, f, r.detachLocked(id)})
	}
	r.mu.Unlock()

	for _, d := range all {
		r.teardown(d.thread, d.feed, d.done)
	}
}
