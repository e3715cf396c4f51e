// Package redisbus implements internal/eventbus.Consumer and Producer
// atop Redis Streams: XADD to publish, XREADGROUP/XAUTOCLAIM/XACK/XLEN to
// consume (spec §4.L, §6).
package redisbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/siemgate/internal/eventbus"
)

// Consumer reads from the per-tenant streams siem:events:{tenant_id}
// under a single consumer group, reclaiming abandoned pending entries on
// an interval via XAUTOCLAIM.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	count    int64

	lastClaim time.Time
	claimEvery time.Duration
}

// Config configures a redisbus.Consumer.
type Config struct {
	Group       string
	ConsumerID  string
	TenantIDs   []string // streams to subscribe; one per tenant
	BatchSize   int64
	ClaimEvery  time.Duration // how often to run XAUTOCLAIM (spec: "every interval I")
}

// NewConsumer creates the consumer groups (MKSTREAM, idempotent via
// BUSYGROUP suppression) for every tenant stream and returns a ready
// Consumer.
func NewConsumer(ctx context.Context, client *redis.Client, cfg Config) (*Consumer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimEvery <= 0 {
		cfg.ClaimEvery = time.Minute
	}

	streams := make([]string, 0, len(cfg.TenantIDs))
	for _, t := range cfg.TenantIDs {
		key := eventbus.RedisStreamKey(t)
		streams = append(streams, key)
		err := client.XGroupCreateMkStream(ctx, key, cfg.Group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return nil, fmt.Errorf("creating consumer group for %s: %w", key, err)
		}
	}

	return &Consumer{
		client:     client,
		group:      cfg.Group,
		consumer:   cfg.ConsumerID,
		streams:    streams,
		count:      cfg.BatchSize,
		claimEvery: cfg.ClaimEvery,
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Poll issues XREADGROUP across every subscribed stream, then — on the
// configured interval — runs XAUTOCLAIM per stream to reclaim entries
// idle for at least eventbus.ReclaimIdle (spec §4.L).
func (c *Consumer) Poll(ctx context.Context) ([]eventbus.Message, error) {
	var out []eventbus.Message

	if time.Since(c.lastClaim) >= c.claimEvery {
		c.lastClaim = time.Now()
		claimed, err := c.reclaimAbandoned(ctx)
		if err != nil {
			return nil, fmt.Errorf("redisbus: reclaiming abandoned entries: %w", err)
		}
		out = append(out, claimed...)
	}

	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.count,
		Block:    eventbus.PollTimeout,
	}).Result()
	if err != nil && err != redis.Nil {
		return out, fmt.Errorf("redisbus: XREADGROUP: %w", err)
	}

	for _, stream := range res {
		tenantID := tenantFromStreamKey(stream.Stream)
		for _, entry := range stream.Messages {
			payload, _ := entry.Values["payload"].(string)
			out = append(out, eventbus.Message{
				TenantID: tenantID,
				Payload:  []byte(payload),
				StreamID: entry.ID,
				Topic:    stream.Stream,
			})
		}
	}
	return out, nil
}

func (c *Consumer) reclaimAbandoned(ctx context.Context) ([]eventbus.Message, error) {
	var out []eventbus.Message
	for _, stream := range c.streams {
		start := "0-0"
		for {
			res, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  eventbus.ReclaimIdle,
				Start:    start,
				Count:    c.count,
			}).Result()
			if err != nil {
				return out, err
			}
			tenantID := tenantFromStreamKey(stream)
			for _, entry := range res {
				payload, _ := entry.Values["payload"].(string)
				out = append(out, eventbus.Message{
					TenantID: tenantID,
					Payload:  []byte(payload),
					StreamID: entry.ID,
					Topic:    stream,
				})
			}
			if len(res) < int(c.count) {
				break
			}
		}
	}
	return out, nil
}

// Ack acknowledges msg's stream entry for the consumer group (XACK),
// called only after evaluation against every active rule (spec §4.L).
func (c *Consumer) Ack(ctx context.Context, msg eventbus.Message) error {
	return c.client.XAck(ctx, msg.Topic, c.group, msg.StreamID).Err()
}

// Lag sums XLEN across every subscribed stream as a coarse lag estimate;
// it overstates true pending-count lag but is cheap and monotonic enough
// for the consumer_lag_total gauge (spec §4.M).
func (c *Consumer) Lag(ctx context.Context) (int64, error) {
	var total int64
	for _, stream := range c.streams {
		n, err := c.client.XLen(ctx, stream).Result()
		if err != nil {
			return total, fmt.Errorf("redisbus: XLEN %s: %w", stream, err)
		}
		total += n
	}
	return total, nil
}

func (c *Consumer) Close() error { return nil }

// Producer publishes canonical events onto their tenant's stream via XADD.
type Producer struct {
	client *redis.Client
}

// NewProducer wraps an existing Redis client.
func NewProducer(client *redis.Client) *Producer {
	return &Producer{client: client}
}

func (p *Producer) Publish(ctx context.Context, tenantID string, payload []byte) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventbus.RedisStreamKey(tenantID),
		Values: map[string]any{"payload": payload},
	}).Err()
}

// tenantFromStreamKey extracts the tenant_id suffix from a
// siem:events:{tenant_id} stream key.
func tenantFromStreamKey(key string) string {
	const prefix = "siem:events:"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}
