// Package events fans progression events out to every server instance through
// a Redis stream, so a learner connected to instance A sees what instance B applied.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"linguahub/internal/logger"
	"linguahub/models"
)

const (
	DefaultStreamKey = "progression:events"
	streamMaxLen     = 10000
	publishTimeout   = 2 * time.Second
	reclaimIdle      = 30 * time.Second
)

// Notifier delivers an event to the connections held by this instance
type Notifier interface {
	Notify(userID string, event models.ProgressionEvent)
}

type envelope struct {
	UserID string                  `json:"userId"`
	Event  models.ProgressionEvent `json:"event"`
}

func encode(userID string, event models.ProgressionEvent) (string, error) {
	b, err := json.Marshal(envelope{UserID: userID, Event: event})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(values map[string]interface{}) (envelope, error) {
	var env envelope
	data, ok := values["data"].(string)
	if !ok {
		return env, fmt.Errorf("invalid message format: missing data field")
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return env, fmt.Errorf("unmarshal event: %w", err)
	}
	if env.UserID == "" {
		return env, fmt.Errorf("event without user id")
	}
	return env, nil
}

// StreamNotifier publishes events to the stream. If publishing fails the
// event is delivered locally only.
type StreamNotifier struct {
	rdb       *redis.Client
	streamKey string
	local     Notifier
	log       *logger.Logger
}

func NewStreamNotifier(rdb *redis.Client, streamKey string, local Notifier, log *logger.Logger) *StreamNotifier {
	if streamKey == "" {
		streamKey = DefaultStreamKey
	}
	return &StreamNotifier{rdb: rdb, streamKey: streamKey, local: local, log: log.With("component", "event_stream")}
}

func (n *StreamNotifier) Notify(userID string, event models.ProgressionEvent) {
	data, err := encode(userID, event)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err = n.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: n.streamKey,
			Values: map[string]interface{}{"data": data},
			MaxLen: streamMaxLen,
			Approx: true,
		}).Err()
	}
	if err != nil {
		n.log.Warn("failed to publish progression event, delivering locally", "user_id", userID, "type", event.Type, "error", err)
		n.local.Notify(userID, event)
	}
}

// StreamConsumer reads the stream and hands each event to the local hub.
// Every instance reads through its own consumer group so that all of them
// see every event.
type StreamConsumer struct {
	rdb          *redis.Client
	streamKey    string
	groupName    string
	consumerName string
	local        Notifier
	log          *logger.Logger
}

func NewStreamConsumer(rdb *redis.Client, streamKey string, local Notifier, log *logger.Logger) *StreamConsumer {
	if streamKey == "" {
		streamKey = DefaultStreamKey
	}
	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &StreamConsumer{
		rdb:          rdb,
		streamKey:    streamKey,
		groupName:    fmt.Sprintf("%s:group:%s", streamKey, instanceID),
		consumerName: "consumer-" + instanceID,
		local:        local,
		log:          log.With("component", "event_stream", "group", instanceID),
	}
}

// Run consumes until ctx is cancelled, then removes this instance's group
func (sc *StreamConsumer) Run(ctx context.Context) error {
	// "$": only events published after this instance started
	err := sc.rdb.XGroupCreateMkStream(ctx, sc.streamKey, sc.groupName, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := sc.rdb.XGroupDestroy(cleanup, sc.streamKey, sc.groupName).Err(); err != nil {
			sc.log.Warn("failed to remove consumer group", "error", err)
		}
	}()

	lastReclaim := time.Now()
	for ctx.Err() == nil {
		streams, err := sc.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sc.groupName,
			Consumer: sc.consumerName,
			Streams:  []string{sc.streamKey, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			sc.log.Warn("stream read failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				sc.deliver(ctx, message)
			}
		}

		if time.Since(lastReclaim) > reclaimIdle {
			sc.reclaimPending(ctx)
			lastReclaim = time.Now()
		}
	}
	return nil
}

func (sc *StreamConsumer) deliver(ctx context.Context, message redis.XMessage) {
	env, err := decode(message.Values)
	if err != nil {
		sc.log.Warn("dropping malformed stream message", "id", message.ID, "error", err)
	} else {
		sc.local.Notify(env.UserID, env.Event)
	}
	if err := sc.rdb.XAck(ctx, sc.streamKey, sc.groupName, message.ID).Err(); err != nil {
		sc.log.Warn("failed to ack stream message", "id", message.ID, "error", err)
	}
}

// reclaimPending redelivers messages read but never acked
func (sc *StreamConsumer) reclaimPending(ctx context.Context) {
	pending, err := sc.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: sc.streamKey,
		Group:  sc.groupName,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return
	}
	for _, p := range pending {
		if p.Idle < reclaimIdle {
			continue
		}
		claimed, err := sc.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   sc.streamKey,
			Group:    sc.groupName,
			Consumer: sc.consumerName,
			MinIdle:  reclaimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			continue
		}
		for _, msg := range claimed {
			sc.deliver(ctx, msg)
		}
	}
}
