// Package redisbus fans entitlement cache invalidations out to every
// whitelistkit instance sharing a Redis server.
package redisbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fernandezvara/whitelistkit"
)

// DefaultChannel is the pub/sub channel used when none is given.
const DefaultChannel = "whitelistkit:invalidate"

type message struct {
	Origin string    `json:"origin"`
	SentAt time.Time `json:"sent_at"`
}

// Bus implements whitelistkit.InvalidationBus over Redis pub/sub.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  logrus.FieldLogger
}

// New creates a bus on channel. An empty channel uses DefaultChannel.
func New(rdb *redis.Client, channel string, logger logrus.FieldLogger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.WithField("component", "redisbus"),
	}
}

// Origin identifies this instance in published messages.
func (b *Bus) Origin() string { return b.origin }

// Publish tells the other instances to drop their cached entitlements.
func (b *Bus) Publish(ctx context.Context) error {
	payload, err := json.Marshal(message{Origin: b.origin, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe calls onInvalidate for every message published by another
// instance until ctx is cancelled. It blocks until the subscription is
// confirmed, then delivers in a background goroutine.
func (b *Bus) Subscribe(ctx context.Context, onInvalidate func()) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.logger.WithError(err).Warn("dropping malformed invalidation message")
					continue
				}
				if m.Origin == b.origin {
					continue
				}
				b.logger.WithField("origin", m.Origin).Debug("remote invalidation")
				onInvalidate()
			}
		}
	}()
	return nil
}

var _ whitelistkit.InvalidationBus = (*Bus)(nil)
