package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"fintrack/backend/internal/domain"
)

const DefaultChannelPrefix = "fintrack:changes:"

// Redis carries changes over Redis pub/sub so every backend instance sees
// mutations made by the others. One channel per owner.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(addr string, password string, db int, prefix string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) channel(ownerID string) string {
	return r.prefix + ownerID
}

func (r *Redis) Publish(ctx context.Context, change domain.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(change.OwnerID), payload).Err()
}

func (r *Redis) Subscribe(ownerID string, onChange func(domain.Change)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, r.channel(ownerID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change domain.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					log.Printf("[notify] WARN: dropping malformed change on %s: %v", msg.Channel, err)
					continue
				}
				onChange(change)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}
}
