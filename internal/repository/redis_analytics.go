package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GoPolymarket/autopilot/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisListSink keeps the most recent execution logs in a capped Redis list,
// newest at the head.
type RedisListSink struct {
	client redis.UniversalClient
	key    string
	max    int64
}

func NewRedisListSink(client redis.UniversalClient, key string, max int) *RedisListSink {
	if key == "" {
		key = "autopilot:executions"
	}
	if max <= 0 {
		max = 10000
	}
	return &RedisListSink{client: client, key: key, max: int64(max)}
}

func (s *RedisListSink) Name() string { return "redis" }

func (s *RedisListSink) LogExecution(ctx context.Context, entry *model.ExecutionLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	_, err = pipe.Exec(ctx)
	return err
}

// ListLogs scans the capped list. Filtering happens client side.
func (s *RedisListSink) ListLogs(ctx context.Context, filter model.LogFilter) ([]*model.ExecutionLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, s.key, 0, s.max-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.ExecutionLog, 0, limit)
	for _, item := range raw {
		var entry model.ExecutionLog
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode execution log: %w", err)
		}
		if !logMatches(&entry, filter) {
			continue
		}
		out = append(out, &entry)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func logMatches(entry *model.ExecutionLog, filter model.LogFilter) bool {
	if filter.Type != "" && entry.Type != filter.Type {
		return false
	}
	if filter.ItemID != "" && entry.ItemID != filter.ItemID {
		return false
	}
	if filter.Owner != "" && !strings.EqualFold(entry.Owner, filter.Owner) {
		return false
	}
	return true
}
