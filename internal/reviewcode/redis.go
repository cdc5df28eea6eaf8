package reviewcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alsseok01/babsang/internal/models"
)

const keyPrefix = "babsang:review_code:"

// Redis shares codes between instances; expiry is left to redis.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, password string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Put(ctx context.Context, c models.ReviewCode, ttl time.Duration) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, keyPrefix+c.Code, b, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errTaken
	}
	return nil
}

func (r *Redis) Take(ctx context.Context, code string) (models.ReviewCode, error) {
	b, err := r.client.GetDel(ctx, keyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ReviewCode{}, ErrUnknownCode
	}
	if err != nil {
		return models.ReviewCode{}, err
	}
	var c models.ReviewCode
	if err := json.Unmarshal(b, &c); err != nil {
		return models.ReviewCode{}, fmt.Errorf("decode review code: %w", err)
	}
	return c, nil
}
