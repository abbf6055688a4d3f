package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// RedisStore persists call records and messages in redis. Messages live
// in a per-caller list so LoadMessages spans calls; audio blobs get their
// own keys to keep list entries small.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore() (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", viper.GetString("redis.host"), viper.GetInt("redis.port")),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := viper.GetString("redis.key_prefix")
	if prefix == "" {
		prefix = "voxline"
	}
	ttl := viper.GetDuration("redis.ttl")
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) callKey(callID string) string {
	return fmt.Sprintf("%s:call:%s", s.prefix, callID)
}

func (s *RedisStore) messagesKey(callerID string) string {
	return fmt.Sprintf("%s:messages:%s", s.prefix, callerID)
}

func (s *RedisStore) callerKey(callerID string) string {
	return fmt.Sprintf("%s:caller:%s", s.prefix, callerID)
}

func (s *RedisStore) audioKey(messageID string) string {
	return fmt.Sprintf("%s:audio:%s", s.prefix, messageID)
}

// callerIndexKey maps a call back to its caller so message updates do not
// need the caller id threaded through.
func (s *RedisStore) callerIndexKey(callID string) string {
	return fmt.Sprintf("%s:call_caller:%s", s.prefix, callID)
}

func (s *RedisStore) StartCall(ctx context.Context, record CallRecord) (bool, error) {
	data, err := sonic.Marshal(record)
	if err != nil {
		return false, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.callKey(record.CallID), data, s.ttl)
	pipe.Set(ctx, s.callerIndexKey(record.CallID), record.CallerID, s.ttl)
	// SetNX result tells us whether the caller existed already.
	setNX := pipe.SetNX(ctx, s.callerKey(record.CallerID), record.Started.Format(time.RFC3339), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return !setNX.Val(), nil
}

func (s *RedisStore) EndCall(ctx context.Context, callID string, ended time.Time) error {
	data, err := s.client.Get(ctx, s.callKey(callID)).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var record CallRecord
	if err := sonic.Unmarshal(data, &record); err != nil {
		return err
	}
	record.Ended = ended
	updated, err := sonic.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.callKey(callID), updated, s.ttl).Err()
}

func (s *RedisStore) SaveMessage(ctx context.Context, callID string, msg StoredMessage) error {
	callerID, err := s.client.Get(ctx, s.callerIndexKey(callID)).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.messagesKey(callerID), data)
	pipe.Expire(ctx, s.messagesKey(callerID), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) UpdateMessageAudio(ctx context.Context, callID, messageID string, audio []byte, sampleRate, channels int) error {
	callerID, err := s.client.Get(ctx, s.callerIndexKey(callID)).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	key := s.messagesKey(callerID)
	items, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	// Walk from the tail; the message being updated is almost always
	// the latest one.
	for i := len(items) - 1; i >= 0; i-- {
		var msg StoredMessage
		if err := sonic.UnmarshalString(items[i], &msg); err != nil {
			continue
		}
		if msg.MessageID != messageID {
			continue
		}
		msg.HasAudio = true
		msg.AudioSize = len(audio)
		msg.SampleRate = sampleRate
		msg.Channels = channels
		updated, err := sonic.Marshal(msg)
		if err != nil {
			return err
		}
		pipe := s.client.TxPipeline()
		pipe.LSet(ctx, key, int64(i), updated)
		pipe.Set(ctx, s.audioKey(messageID), audio, s.ttl)
		_, err = pipe.Exec(ctx)
		return err
	}
	return ErrNotFound
}

func (s *RedisStore) LoadMessages(ctx context.Context, callerID string, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := s.client.LRange(ctx, s.messagesKey(callerID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	messages := make([]StoredMessage, 0, len(items))
	for _, item := range items {
		var msg StoredMessage
		if err := sonic.UnmarshalString(item, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
