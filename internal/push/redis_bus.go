package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/chat-agents/internal/logger"
)

const (
	roomChannelPrefix  = "chat:sse:"
	CompletionChannel  = "chat:ai:complete"
	roomChannelPattern = roomChannelPrefix + "*"
)

func RoomChannel(roomID string) string { return roomChannelPrefix + roomID }

// RedisBus carries room events and completion notifications between the
// worker (producer) and API (SSE) processes.
type RedisBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisBus(addr, password string, db int, log *logger.Logger) (*RedisBus, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBusFromClient(rdb, log), nil
}

func NewRedisBusFromClient(rdb *goredis.Client, log *logger.Logger) *RedisBus {
	return &RedisBus{log: logger.OrNop(log).With("component", "push.RedisBus"), rdb: rdb}
}

// Publish is fire-and-forget; failures are logged, never returned.
func (b *RedisBus) Publish(ctx context.Context, roomID, eventType string, data map[string]any) {
	raw, err := json.Marshal(Event{ChatroomID: roomID, Type: eventType, Data: data})
	if err != nil {
		b.log.Warn("marshal push event", "room_id", roomID, "event", eventType, "error", err)
		return
	}
	if err := b.rdb.Publish(context.WithoutCancel(ctx), RoomChannel(roomID), raw).Err(); err != nil {
		b.log.Warn("redis publish failed", "room_id", roomID, "event", eventType, "error", err)
	}
}

func (b *RedisBus) NotifyComplete(ctx context.Context, c Completion) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.rdb.Publish(context.WithoutCancel(ctx), CompletionChannel, raw).Err()
}

// Forward pattern-subscribes to every room channel and hands decoded events
// to deliver until ctx is cancelled.
func (b *RedisBus) Forward(ctx context.Context, deliver func(Event)) error {
	if deliver == nil {
		return fmt.Errorf("deliver callback required")
	}
	sub := b.rdb.PSubscribe(ctx, roomChannelPattern)
	return b.pump(ctx, sub, func(payload string) {
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			b.log.Warn("bad redis push payload", "error", err)
			return
		}
		deliver(ev)
	})
}

// OnComplete subscribes to completion notifications.
func (b *RedisBus) OnComplete(ctx context.Context, fn func(Completion)) error {
	if fn == nil {
		return fmt.Errorf("callback required")
	}
	sub := b.rdb.Subscribe(ctx, CompletionChannel)
	return b.pump(ctx, sub, func(payload string) {
		var c Completion
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			b.log.Warn("bad completion payload", "error", err)
			return
		}
		fn(c)
	})
}

func (b *RedisBus) pump(ctx context.Context, sub *goredis.PubSub, handle func(string)) error {
	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				handle(m.Payload)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
