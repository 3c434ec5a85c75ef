package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix       = "presence:"
	redisFieldOnline     = "online"
	redisFieldLastActive = "last_active_ms"
)

// RedisStore keeps presence in one Redis hash per user.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to the Redis instance at url and verifies it responds.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("presence: redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	flag := "0"
	if online {
		flag = "1"
	}
	return s.client.HSet(ctx, redisKeyPrefix+userID,
		redisFieldOnline, flag,
		redisFieldLastActive, strconv.FormatInt(at.UnixMilli(), 10),
	).Err()
}

func (s *RedisStore) Touch(ctx context.Context, userID string, at time.Time) error {
	return s.client.HSet(ctx, redisKeyPrefix+userID, redisFieldLastActive, strconv.FormatInt(at.UnixMilli(), 10)).Err()
}

func (s *RedisStore) Load(ctx context.Context, userIDs []string) (map[string]Record, error) {
	pipe := s.client.Pipeline()
	commands := make(map[string]*redis.MapStringStringCmd, len(userIDs))
	for _, userID := range userIDs {
		commands[userID] = pipe.HGetAll(ctx, redisKeyPrefix+userID)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	records := make(map[string]Record, len(userIDs))
	for userID, command := range commands {
		fields, err := command.Result()
		if err != nil {
			return nil, err
		}
		record, ok := decodeRedisRecord(userID, fields)
		if ok {
			records[userID] = record
		}
	}
	return records, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRedisRecord(userID string, fields map[string]string) (Record, bool) {
	if len(fields) == 0 {
		return Record{}, false
	}
	record := Record{UserID: userID, Online: fields[redisFieldOnline] == "1"}
	if raw, ok := fields[redisFieldLastActive]; ok {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Record{}, false
		}
		record.LastActive = time.UnixMilli(millis).UTC()
	}
	return record, true
}
