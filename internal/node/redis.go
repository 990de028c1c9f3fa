package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the connection used by RedisStore.
type RedisConfig struct {
	ConnectionURL  string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Connect opens a Redis client and waits until it answers a ping, retrying
// RetryAttempts times.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	for range max(cfg.RetryAttempts, 1) {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}

// RedisStore keeps every node as a JSON document under <prefix>node:<uuid>
// and indexes them in the sorted set <prefix>nodes, scored by creation time.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store using client. All keys start with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) nodeKey(id uuid.UUID) string {
	return s.prefix + "node:" + id.String()
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "nodes"
}

func (s *RedisStore) Create(ctx context.Context, n *Node) error {
	if n == nil {
		return ErrNilNode
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", n.UUID, err)
	}
	ok, err := s.client.SetNX(ctx, s.nodeKey(n.UUID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create node %s: %w", n.UUID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(n.CreatedAt.UnixNano()),
		Member: n.UUID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("index node %s: %w", n.UUID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Node, error) {
	data, err := s.client.Get(ctx, s.nodeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return decode(data)
}

func (s *RedisStore) Update(ctx context.Context, n *Node) error {
	if n == nil {
		return ErrNilNode
	}
	n.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", n.UUID, err)
	}
	ok, err := s.client.SetXX(ctx, s.nodeKey(n.UUID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update node %s: %w", n.UUID, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, s.nodeKey(id))
		p.ZRem(ctx, s.indexKey(), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Node, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.prefix + "node:" + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	out := make([]*Node, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// removed between ZRANGE and MGET
			continue
		}
		n, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func decode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.Join(ErrCorruptRecord, err)
	}
	return &n, nil
}

// Healthcheck returns a probe that pings Redis.
func (s *RedisStore) Healthcheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrRedisNotReady, err)
	}
	return nil
}
