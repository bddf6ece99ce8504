package queue

import (
	"context"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventPublisher fans submission events out on a redis pub/sub channel.
type EventPublisher struct {
	rdb     redis.Cmdable
	channel string
}

func NewEventPublisher(rdb redis.Cmdable, channel string) *EventPublisher {
	return &EventPublisher{rdb: rdb, channel: channel}
}

func (p *EventPublisher) Publish(ctx context.Context, ev model.SubmissionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("EventPublisher.Publish: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("EventPublisher.Publish: %w", err)
	}
	return nil
}
