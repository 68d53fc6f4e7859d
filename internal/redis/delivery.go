package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrDeliveryInProgress = errors.New("webhook delivery in progress")

const pendingPrefix = "pending:"

// Delivery is a stored webhook response, replayed when the same delivery id
// arrives again.
type Delivery struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// DeliveryGuard deduplicates webhook deliveries by id. A delivery is claimed
// with SETNX, then either finished (response stored for replay) or aborted
// (claim dropped so the sender may retry).
type DeliveryGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeliveryGuard(client *redis.Client, ttl time.Duration) *DeliveryGuard {
	return &DeliveryGuard{client: client, ttl: ttl}
}

func deliveryKey(id string) string {
	return "webhook:delivery:" + id
}

// Begin claims id. On success it returns a token for Finish/Abort. If the id
// was already processed it returns the stored response instead. A claim held
// by someone else yields ErrDeliveryInProgress.
func (g *DeliveryGuard) Begin(ctx context.Context, id string) (*Delivery, string, error) {
	key := deliveryKey(id)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, pendingPrefix+token, g.ttl).Result()
	if err != nil {
		return nil, "", fmt.Errorf("claim delivery: %w", err)
	}
	if ok {
		return nil, token, nil
	}

	val, err := g.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrDeliveryInProgress
		}
		return nil, "", fmt.Errorf("read delivery: %w", err)
	}
	if strings.HasPrefix(val, pendingPrefix) {
		return nil, "", ErrDeliveryInProgress
	}

	var d Delivery
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return nil, "", fmt.Errorf("decode delivery: %w", err)
	}
	return &d, "", nil
}

var finishScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  return 0
end
`)

// Finish replaces the claim with the response, provided token still owns it.
func (g *DeliveryGuard) Finish(ctx context.Context, id, token string, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	_, err = finishScript.Run(ctx, g.client, []string{deliveryKey(id)},
		pendingPrefix+token, string(raw), g.ttl.Milliseconds()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("store delivery: %w", err)
	}
	return nil
}

var abortScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Abort drops the claim so a retry of the same delivery is processed again.
func (g *DeliveryGuard) Abort(ctx context.Context, id, token string) error {
	_, err := abortScript.Run(ctx, g.client, []string{deliveryKey(id)}, pendingPrefix+token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release delivery: %w", err)
	}
	return nil
}
