package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var _ Memory = (*RedisStore)(nil)

// RedisStore is the shared-process Memory backend: every record is
// appended to a namespaced Redis list, letting several Hephaestus
// processes (or a restarted one) share the same history. Grounded on
// pkg/memory/implementations.go's RedisMemory in the teacher (connect,
// ping on construction, namespaced keys); record storage is generalized
// from that file's single-key Set/Get to an append-only list, since
// MemoryRecord is itself append-only (spec.md §4.8).
type RedisStore struct {
	client    *redis.Client
	namespace string
	mu        sync.Mutex
}

// NewRedisStore connects to redisURL and verifies reachability with a
// bounded ping, exactly as the teacher's NewRedisMemory does.
func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("memory: invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("memory: connecting to redis: %w", err)
	}

	if namespace == "" {
		namespace = "hephaestus:memory"
	}
	return &RedisStore{client: client, namespace: namespace}, nil
}

func (rs *RedisStore) key() string {
	return rs.namespace + ":records"
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func (rs *RedisStore) Record(ctx context.Context, r Record) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r.ClusterID == "" {
		r.ClusterID = ClusterID(r.Objective)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("memory: serializing record: %w", err)
	}
	if err := rs.client.RPush(ctx, rs.key(), data).Err(); err != nil {
		return fmt.Errorf("memory: persisting record: %w", err)
	}
	return nil
}

func (rs *RedisStore) loadAll(ctx context.Context) ([]Record, error) {
	raw, err := rs.client.LRange(ctx, rs.key(), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("memory: loading records: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for _, entry := range raw {
		var r Record
		if err := json.Unmarshal([]byte(entry), &r); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

func (rs *RedisStore) Summary(ctx context.Context, filter Filter) (Summary, error) {
	records, err := rs.loadAll(ctx)
	if err != nil {
		return Summary{}, err
	}
	return summarize(records, filter), nil
}

func (rs *RedisStore) SimilarFailures(ctx context.Context, objectiveText string, k int) ([]Record, error) {
	records, err := rs.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return similarFailures(records, objectiveText, k), nil
}

func (rs *RedisStore) Recent(ctx context.Context, n int) ([]Record, error) {
	records, err := rs.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	sortByTimestampDesc(records)
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}
