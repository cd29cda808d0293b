package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

type invalidation struct {
	Origin string   `json:"origin"`
	Tags   []string `json:"tags"`
}

// Broadcast wraps a local cache and fans invalidations out to other
// processes over a redis channel. Delivery is best effort; the inner cache's
// TTL still bounds staleness when a message is lost.
type Broadcast struct {
	inner   Cache
	rdb     redis.UniversalClient
	channel string
	origin  string

	sub    *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewBroadcast subscribes to channel and starts applying remote
// invalidations to inner.
func NewBroadcast(inner Cache, rdb redis.UniversalClient, channel string) *Broadcast {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcast{
		inner:   inner,
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		sub:     rdb.Subscribe(ctx, channel),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.listen(ctx)
	return b
}

func (b *Broadcast) Get(key string) (any, bool) { return b.inner.Get(key) }

func (b *Broadcast) Set(key string, value any, tags ...string) { b.inner.Set(key, value, tags...) }

// Invalidate clears the local entries first, then publishes the tags.
func (b *Broadcast) Invalidate(tags ...string) {
	b.inner.Invalidate(tags...)
	if len(tags) == 0 {
		return
	}

	payload, err := json.Marshal(invalidation{Origin: b.origin, Tags: tags})
	if err != nil {
		logger.Warn().Err(err).Msg("[Cache] Failed to encode invalidation")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		logger.Warn().Err(err).Strs("tags", tags).Msg("[Cache] Failed to publish invalidation")
	}
}

func (b *Broadcast) listen(ctx context.Context) {
	defer close(b.done)
	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.apply(msg.Payload)
		}
	}
}

// apply handles one message from the channel. Messages this instance
// published itself are ignored.
func (b *Broadcast) apply(payload string) {
	var inv invalidation
	if err := json.Unmarshal([]byte(payload), &inv); err != nil {
		logger.Warn().Err(err).Msg("[Cache] Ignoring malformed invalidation")
		return
	}
	if inv.Origin == b.origin || len(inv.Tags) == 0 {
		return
	}
	logger.Debug().Strs("tags", inv.Tags).Str("origin", inv.Origin).Msg("[Cache] Remote invalidation")
	b.inner.Invalidate(inv.Tags...)
}

// Close stops the subscriber and closes the inner cache. The redis client is
// owned by the caller.
func (b *Broadcast) Close() error {
	var result error
	b.once.Do(func() {
		b.cancel()
		if err := b.sub.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		<-b.done
		if err := b.inner.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}
