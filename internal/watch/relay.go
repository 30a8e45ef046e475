package watch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Relay forwards encoded frames to sibling worker processes. Receivers only
// replay frames to their own local subscribers; they never re-apply the
// mutation that produced them.
type Relay interface {
	// Publish queues frame for every other worker. It must not block on the network.
	Publish(ctx context.Context, thread ThreadID, frame []byte) error
	// Run delivers frames published by other workers until ctx is done.
	Run(ctx context.Context, deliver func(thread ThreadID, frame []byte)) error
	Close() error
}

// ErrRelayBacklog is returned when a relay queue is full and a frame was dropped.
var ErrRelayBacklog = errors.New("relay queue full")

// ErrRelayClosed is returned by Publish after Close.
var ErrRelayClosed = errors.New("relay closed")

// NoopRelay is the relay of a single-worker deployment.
type NoopRelay struct{}

func (NoopRelay) Publish(context.Context, ThreadID, []byte) error { return nil }

func (NoopRelay) Run(ctx context.Context, _ func(ThreadID, []byte)) error {
	<-ctx.Done()
	return nil
}

func (NoopRelay) Close() error { return nil }

const localQueueSize = 256

type localFrame struct {
	thread ThreadID
	frame  []byte
}

// LocalHub connects relays living in one process, standing in for a message
// bus when several registries share a process.
type LocalHub struct {
	mu      sync.RWMutex
	members map[string]*LocalRelay
}

// NewLocalHub returns an empty hub.
func NewLocalHub() *LocalHub {
	return &LocalHub{members: make(map[string]*LocalRelay)}
}

// Join returns a new relay attached to the hub.
func (h *LocalHub) Join() *LocalRelay {
	r := &LocalRelay{
		hub:   h,
		id:    uuid.NewString(),
		inbox: make(chan localFrame, localQueueSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.members[r.id] = r
	h.mu.Unlock()
	return r
}

func (h *LocalHub) leave(id string) {
	h.mu.Lock()
	delete(h.members, id)
	h.mu.Unlock()
}

// LocalRelay is one member of a LocalHub.
type LocalRelay struct {
	hub   *LocalHub
	id    string
	inbox chan localFrame

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the relay's origin id.
func (r *LocalRelay) ID() string { return r.id }

// Publish implements Relay.Publish. The frame is copied once and shared by
// every receiver, which only read it.
func (r *LocalRelay) Publish(_ context.Context, thread ThreadID, frame []byte) error {
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}
	b := make([]byte, len(frame))
	copy(b, frame)

	r.hub.mu.RLock()
	defer r.hub.mu.RUnlock()
	var err error
	for id, m := range r.hub.members {
		if id == r.id {
			continue
		}
		select {
		case m.inbox <- localFrame{thread: thread, frame: b}:
		default:
			err = ErrRelayBacklog
		}
	}
	return err
}

// Run implements Relay.Run.
func (r *LocalRelay) Run(ctx context.Context, deliver func(ThreadID, []byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case f := <-r.inbox:
			deliver(f.thread, f.frame)
		}
	}
}

// Close implements Relay.Close.
func (r *LocalRelay) Close() error {
	r.closeOnce.Do(func() {
		r.hub.leave(r.id)
		close(r.done)
	})
	return nil
}
