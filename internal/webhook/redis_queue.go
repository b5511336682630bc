package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultRedisKey = "storefront:webhooks"
	pollTimeout     = 5 * time.Second
)

// RedisQueue keeps pending tasks in a Redis list so they survive restarts.
// Failed tasks go to a second list with the ":dead" suffix.
type RedisQueue struct {
	client  *redis.Client
	key     string
	deadKey string
	maxLen  int64
}

func NewRedisQueue(addr string, password string, db int, maxLen int) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisQueue{
		client:  client,
		key:     defaultRedisKey,
		deadKey: defaultRedisKey + ":dead",
		maxLen:  int64(maxLen),
	}
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if q.maxLen > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return err
		}
		if n >= q.maxLen {
			return ErrQueueFull
		}
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		vals, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, err
		}

		// BRPOP replies with [key, value].
		var task Task
		if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
			return Task{}, err
		}
		return task, nil
	}
}

func (q *RedisQueue) DeadLetter(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.deadKey, payload).Err()
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]Task, error) {
	vals, err := q.client.LRange(ctx, q.deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(vals))
	for _, v := range vals {
		var task Task
		if err := json.Unmarshal([]byte(v), &task); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
