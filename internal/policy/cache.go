package policy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sentineltrust/controlplane/internal/logging"
)

// InvalidationChannel is the Redis pub/sub channel policies and signer
// caches across process instances listen on for policy.updated events.
const InvalidationChannel = "sentinel:policy:invalidate"

// Cache is a Redis-backed TTL cache of policy lists, invalidated either
// directly by a local write or by a policy.updated pub/sub message
// originating from another instance.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func activeCacheKey(state State) string { return "sentinel:policies:" + string(state) }

// GetList returns a cached policy list for state, if present.
func (c *Cache) GetList(ctx context.Context, state State) ([]Policy, bool) {
	raw, err := c.client.Get(ctx, activeCacheKey(state)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []Policy
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// SetList caches policies for state with the configured TTL.
func (c *Cache) SetList(ctx context.Context, state State, policies []Policy) {
	raw, err := json.Marshal(policies)
	if err != nil {
		return
	}
	c.client.Set(ctx, activeCacheKey(state), raw, c.ttl)
}

// Invalidate clears every cached policy list and publishes a policy.updated
// notification so other instances' caches drop their copies too.
func (c *Cache) Invalidate(ctx context.Context, policyName string) {
	for _, state := range []State{StateActive, StateCanary, StateDraft, StateSimulating, StateDeprecated} {
		c.client.Del(ctx, activeCacheKey(state))
	}
	c.client.Publish(ctx, InvalidationChannel, policyName)
}

// Subscribe listens for invalidation messages published by other instances
// and evicts local cache entries in response. It blocks until ctx is
// cancelled.
func (c *Cache) Subscribe(ctx context.Context) {
	sub := c.client.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			for _, state := range []State{StateActive, StateCanary, StateDraft, StateSimulating, StateDeprecated} {
				c.client.Del(ctx, activeCacheKey(state))
			}
			if c.logger != nil {
				c.logger.Info(ctx, "policy cache invalidated", map[string]interface{}{"policy_name": msg.Payload})
			}
		}
	}
}
