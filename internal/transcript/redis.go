package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "alice:transcript:"

// RedisSink appends lines to a Redis stream per run.
type RedisSink struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewRedisSink connects and pings Redis.
func NewRedisSink(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisSinkFromClient(rdb, logger), nil
}

// NewRedisSinkFromClient wraps an existing client.
func NewRedisSinkFromClient(rdb *redis.Client, logger *zap.Logger) *RedisSink {
	return &RedisSink{rdb: rdb, maxLen: 10000, logger: logger}
}

// StreamKey names the stream holding a run's transcript.
func StreamKey(runID string) string { return streamPrefix + runID }

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, line Line) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal line: %w", err)
	}
	stream := StreamKey(line.RunID)
	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}

// Tail returns up to count of the most recent lines of a run, oldest first.
func (s *RedisSink) Tail(ctx context.Context, runID string, count int64) ([]Line, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, StreamKey(runID), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", runID, err)
	}
	lines := make([]Line, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		if l, ok := decode(msgs[i]); ok {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Follow streams new lines of a run until ctx is cancelled.
func (s *RedisSink) Follow(ctx context.Context, runID string) <-chan Line {
	ch := make(chan Line, 16)
	stream := StreamKey(runID)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			if ctx.Err() != nil {
				return
			}
			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					s.logger.Debug("transcript follow read failed", zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					if l, ok := decode(msg); ok {
						select {
						case ch <- l:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	return ch
}

func decode(msg redis.XMessage) (Line, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return Line{}, false
	}
	var l Line
	if json.Unmarshal([]byte(data), &l) != nil {
		return Line{}, false
	}
	return l, true
}

// Close shuts down the Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
