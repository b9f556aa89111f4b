package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/relay/internal/models"
)

const (
	mainQueueKey     = "queue:main"
	priorityQueueKey = "queue:priority"
	deadLetterKey    = "queue:dead_letter"
	offlineIndexKey  = "offline:index"
)

// offlineRecord is the persisted envelope for offline messages: the wire
// message plus an explicit expiry.
type offlineRecord struct {
	Message   *models.WireMessage `json:"message"`
	Recipient string              `json:"recipient"`
	ExpiresAt int64               `json:"expiresAt"` // unix ms
}

// RedisStore is the Redis-backed Store, used when REDIS_URL is set.
// Queues are lists, offline inboxes are per-recipient sorted sets scored
// by expiry.
type RedisStore struct {
	client     *redis.Client
	offlineTTL time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, offlineTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if offlineTTL <= 0 {
		offlineTTL = DefaultOfflineTTL
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, offlineTTL: offlineTTL}, nil
}

func offlineKey(recipientID string) string {
	return fmt.Sprintf("offline:%s", recipientID)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (s *RedisStore) Enqueue(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg.ToWire())
	if err != nil {
		return err
	}
	key := mainQueueKey
	if msg.Priority >= models.PriorityHigh {
		key = priorityQueueKey
	}
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Dequeue(ctx context.Context) (*models.Message, error) {
	for _, key := range []string{priorityQueueKey, mainQueueKey} {
		data, err := s.client.LPop(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, unavailable(err)
		}
		var wire models.WireMessage
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			continue
		}
		return models.FromWire(&wire)
	}
	return nil, nil
}

func (s *RedisStore) EnqueueOffline(ctx context.Context, msg *models.Message, recipientID string) error {
	expiresAt := time.Now().Add(s.offlineTTL)
	record := offlineRecord{
		Message:   msg.ToWire(),
		Recipient: recipientID,
		ExpiresAt: expiresAt.UnixMilli(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	key := offlineKey(recipientID)
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(record.ExpiresAt), Member: string(data)})
	pipe.Expire(ctx, key, s.offlineTTL+time.Hour)
	pipe.HSet(ctx, offlineIndexKey, msg.ID, recipientID)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) GetOffline(ctx context.Context, recipientID string) ([]*models.Message, error) {
	key := offlineKey(recipientID)
	now := time.Now()

	// Lazy purge: drop entries whose expiry is in the past.
	nowScore := strconv.FormatInt(now.UnixMilli(), 10)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", "("+nowScore).Err(); err != nil {
		return nil, unavailable(err)
	}

	results, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	messages := make([]*models.Message, 0, len(results))
	for _, data := range results {
		var record offlineRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		msg, err := models.FromWire(record.Message)
		if err != nil {
			continue
		}
		// The message's own TTL is checked at read time as well.
		if msg.Expired(now) {
			s.client.ZRem(ctx, key, data)
			s.client.HDel(ctx, offlineIndexKey, msg.ID)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) RemoveOffline(ctx context.Context, messageID string) error {
	recipient, err := s.client.HGet(ctx, offlineIndexKey, messageID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return unavailable(err)
	}

	key := offlineKey(recipient)
	results, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return unavailable(err)
	}
	for _, data := range results {
		var record offlineRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			continue
		}
		if record.Message.ID == messageID {
			s.client.ZRem(ctx, key, data)
			break
		}
	}
	s.client.HDel(ctx, offlineIndexKey, messageID)
	return nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, msg *models.Message) (bool, error) {
	msg.RetryCount++
	if msg.RetryCount <= msg.MaxRetries {
		return false, nil
	}
	data, err := json.Marshal(msg.ToWire())
	if err != nil {
		return true, err
	}
	if err := s.client.RPush(ctx, deadLetterKey, data).Err(); err != nil {
		return true, unavailable(err)
	}
	return true, nil
}

func (s *RedisStore) DeadLetters(ctx context.Context) ([]*models.Message, error) {
	results, err := s.client.LRange(ctx, deadLetterKey, 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	messages := make([]*models.Message, 0, len(results))
	for _, data := range results {
		var wire models.WireMessage
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			continue
		}
		msg, err := models.FromWire(&wire)
		if err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) ClearExpired(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0

	// Sweep the offline inboxes.
	nowScore := strconv.FormatInt(now.UnixMilli(), 10)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "offline:*", 100).Result()
		if err != nil {
			return removed, unavailable(err)
		}
		for _, key := range keys {
			if key == offlineIndexKey {
				continue
			}
			n, err := s.client.ZRemRangeByScore(ctx, key, "-inf", "("+nowScore).Result()
			if err == nil {
				removed += int(n)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	// Sweep the list queues for messages past their own TTL.
	for _, key := range []string{mainQueueKey, priorityQueueKey, deadLetterKey} {
		results, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return removed, unavailable(err)
		}
		for _, data := range results {
			var wire models.WireMessage
			if err := json.Unmarshal([]byte(data), &wire); err != nil {
				continue
			}
			msg, err := models.FromWire(&wire)
			if err != nil || !msg.Expired(now) {
				continue
			}
			if n, err := s.client.LRem(ctx, key, 1, data).Result(); err == nil {
				removed += int(n)
			}
		}
	}

	return removed, nil
}

func (s *RedisStore) QueueStatus(ctx context.Context) (Status, error) {
	var status Status

	main, err := s.client.LLen(ctx, mainQueueKey).Result()
	if err != nil {
		return status, unavailable(err)
	}
	priority, err := s.client.LLen(ctx, priorityQueueKey).Result()
	if err != nil {
		return status, unavailable(err)
	}
	dead, err := s.client.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return status, unavailable(err)
	}

	offline := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "offline:*", 100).Result()
		if err != nil {
			return status, unavailable(err)
		}
		for _, key := range keys {
			if key == offlineIndexKey {
				continue
			}
			if n, err := s.client.ZCard(ctx, key).Result(); err == nil {
				offline += int(n)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	status = Status{
		Main:       int(main),
		Priority:   int(priority),
		Offline:    offline,
		DeadLetter: int(dead),
	}
	status.Total = status.Main + status.Priority + status.Offline + status.DeadLetter
	return status, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
