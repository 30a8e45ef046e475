package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"watchsync/internal/platform/logger"
	"watchsync/internal/platform/metrics"
	"watchsync/internal/protocol"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the Pub/Sub channel shared by every worker.
const DefaultRelayChannel = "watchsync:relay"

const (
	redisOutboxSize     = 1024
	redisPublishTimeout = 2 * time.Second
)

// RedisRelay fans frames out over Redis Pub/Sub. Envelopes carry the origin
// worker id so a worker skips its own publications. Frames from one worker
// are published by a single goroutine, so their order is kept.
type RedisRelay struct {
	rdb     redis.UniversalClient
	channel string
	origin  string
	log     *slog.Logger
	metrics *metrics.Metrics

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRedisRelay starts the publishing goroutine. An empty channel uses DefaultRelayChannel.
// log and m may be nil.
func NewRedisRelay(rdb redis.UniversalClient, channel string, log *slog.Logger, m *metrics.Metrics) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if log == nil {
		log = logger.Discard()
	}
	r := &RedisRelay{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
		metrics: m,
		outbox:  make(chan []byte, redisOutboxSize),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.publishLoop()
	return r
}

// Origin returns the id stamped on this worker's envelopes.
func (r *RedisRelay) Origin() string { return r.origin }

// Publish implements Relay.Publish.
func (r *RedisRelay) Publish(_ context.Context, thread ThreadID, frame []byte) error {
	b, err := protocol.MarshalEnvelope(r.origin, int64(thread), frame)
	if err != nil {
		return err
	}
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}
	select {
	case r.outbox <- b:
		return nil
	default:
		return ErrRelayBacklog
	}
}

func (r *RedisRelay) publishLoop() {
	defer r.wg.Done()
	for {
		select {
		case b := <-r.outbox:
			r.publish(b)
		case <-r.done:
			// Drain what was queued before Close.
			for {
				select {
				case b := <-r.outbox:
					r.publish(b)
				default:
					return
				}
			}
		}
	}
}

func (r *RedisRelay) publish(b []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		r.log.Warn("relay publish failed", slog.String("channel", r.channel), slog.String("error", err.Error()))
		return
	}
	if r.metrics != nil {
		r.metrics.IncRelayPublished()
	}
}

// Run implements Relay.Run.
func (r *RedisRelay) Run(ctx context.Context, deliver func(ThreadID, []byte)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := protocol.UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				r.log.Debug("relay message dropped", slog.String("error", err.Error()))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			if r.metrics != nil {
				r.metrics.IncRelayReceived()
			}
			deliver(ThreadID(env.Thread), env.Data)
		}
	}
}

// Close stops accepting frames and flushes the queue.
func (r *RedisRelay) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}
