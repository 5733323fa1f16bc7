// Package persistence provides PersistentQueue backends (in-memory,
// disk, Redis, Postgres), a dead-letter queue, and an encrypting
// wrapper for queue payloads. A Pool with Config.Persistence enabled
// constructs the configured backend and an in-memory dead-letter
// queue; its own task dispatch does not go through a PersistentQueue.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue is full")
)

// QueueItem is one entry in a persistent queue: an opaque payload
// plus the bookkeeping needed to redeliver it if processing fails.
type QueueItem struct {
	ID        string
	Data      []byte
	Priority  int
	CreatedAt time.Time
	Attempts  int
}

// PersistentQueue is the storage interface the dead-letter queue
// depends on. InMemoryQueue, DiskQueue, RedisQueue
// and PostgresQueue all implement it.
type PersistentQueue interface {
	Push(ctx context.Context, item *QueueItem) error
	Pop(ctx context.Context) (*QueueItem, error)
	Peek(ctx context.Context) (*QueueItem, error)
	Ack(ctx context.Context, itemID string) error
	Nack(ctx context.Context, itemID string) error
	Len() int
	Close() error
}

// InMemoryQueue is the default backend: no durability, but no
// external dependency either. A Pool constructs one as its
// PersistentQueue when Config.Persistence is nil or disabled, and
// always uses one as its dead-letter queue's storage.
type InMemoryQueue struct {
	items      []*QueueItem
	processing sync.Map // map[string]*QueueItem
	maxSize    int
	mu         sync.RWMutex
}

func NewInMemoryQueue(maxSize int) *InMemoryQueue {
	return &InMemoryQueue{
		items:   make([]*QueueItem, 0),
		maxSize: maxSize,
	}
}

func (q *InMemoryQueue) Push(ctx context.Context, item *QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	return nil
}

func (q *InMemoryQueue) Pop(ctx context.Context) (*QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.processing.Store(item.ID, item)
	return item, nil
}

func (q *InMemoryQueue) Peek(ctx context.Context) (*QueueItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	return q.items[0], nil
}

func (q *InMemoryQueue) Ack(ctx context.Context, itemID string) error {
	q.processing.Delete(itemID)
	return nil
}

func (q *InMemoryQueue) Nack(ctx context.Context, itemID string) error {
	itemI, ok := q.processing.Load(itemID)
	if !ok {
		return errors.New("item not found in processing")
	}
	item := itemI.(*QueueItem)
	q.processing.Delete(itemID)
	return q.Push(ctx, item)
}

func (q *InMemoryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *InMemoryQueue) Close() error { return nil }

// DiskQueue persists to a single JSON file, rewritten atomically on
// every mutation. It survives a process restart but not concurrent
// processes sharing the same path.
type DiskQueue struct {
	path       string
	items      []*QueueItem
	processing sync.Map
	mu         sync.RWMutex
}

func NewDiskQueue(path string) (*DiskQueue, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	dq := &DiskQueue{path: path, items: make([]*QueueItem, 0)}
	if err := dq.load(); err != nil {
		return nil, err
	}
	return dq, nil
}

func (q *DiskQueue) Push(ctx context.Context, item *QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return q.flush()
}

func (q *DiskQueue) Pop(ctx context.Context) (*QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.processing.Store(item.ID, item)
	if err := q.flush(); err != nil {
		return nil, err
	}
	return item, nil
}

func (q *DiskQueue) Peek(ctx context.Context) (*QueueItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	return q.items[0], nil
}

func (q *DiskQueue) Ack(ctx context.Context, itemID string) error {
	q.processing.Delete(itemID)
	return nil
}

func (q *DiskQueue) Nack(ctx context.Context, itemID string) error {
	itemI, ok := q.processing.Load(itemID)
	if !ok {
		return errors.New("item not found in processing")
	}
	item := itemI.(*QueueItem)
	q.processing.Delete(itemID)
	return q.Push(ctx, item)
}

func (q *DiskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *DiskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flush()
}

func (q *DiskQueue) flush() error {
	data, err := json.Marshal(q.items)
	if err != nil {
		return err
	}
	queueFile := filepath.Join(q.path, "queue.json")
	tempFile := queueFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempFile, queueFile)
}

func (q *DiskQueue) load() error {
	data, err := os.ReadFile(filepath.Join(q.path, "queue.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &q.items)
}

func (q *DiskQueue) RecoverAbandoned(timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var recovered []*QueueItem
	q.processing.Range(func(key, value interface{}) bool {
		item := value.(*QueueItem)
		if now.Sub(item.CreatedAt) > timeout {
			recovered = append(recovered, item)
			q.processing.Delete(key)
		}
		return true
	})
	q.items = append(recovered, q.items...)
	if len(recovered) > 0 {
		return q.flush()
	}
	return nil
}

// RedisQueue backs a pool's task queue with a Redis list, keyed by
// pool name, so a task submitted right before a process crash can be
// picked up by a fresh process pointed at the same Redis instance.
type RedisQueue struct {
	client *redis.Client
	key    string
	procKey string
}

func NewRedisQueue(url, poolName string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisQueue{
		client:  client,
		key:     "workerpool:" + poolName + ":queue",
		procKey: "workerpool:" + poolName + ":processing",
	}, nil
}

func (q *RedisQueue) Push(ctx context.Context, item *QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (*QueueItem, error) {
	data, err := q.client.LPop(ctx, q.key).Result()
	if err == redis.Nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	var item QueueItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, err
	}
	if err := q.client.HSet(ctx, q.procKey, item.ID, data).Err(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *RedisQueue) Peek(ctx context.Context) (*QueueItem, error) {
	data, err := q.client.LIndex(ctx, q.key, 0).Result()
	if err == redis.Nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	var item QueueItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *RedisQueue) Ack(ctx context.Context, itemID string) error {
	return q.client.HDel(ctx, q.procKey, itemID).Err()
}

func (q *RedisQueue) Nack(ctx context.Context, itemID string) error {
	data, err := q.client.HGet(ctx, q.procKey, itemID).Result()
	if err == redis.Nil {
		return errors.New("item not found in processing")
	}
	if err != nil {
		return err
	}
	if err := q.client.HDel(ctx, q.procKey, itemID).Err(); err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// PostgresQueue backs a pool's task queue with a Postgres table,
// giving it the same crash-durability as RedisQueue with transactional
// Ack/Nack semantics instead of an in-memory processing set.
type PostgresQueue struct {
	pool     *pgxpool.Pool
	poolName string
}

func NewPostgresQueue(dsn, poolName string) (*PostgresQueue, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, err
	}
	q := &PostgresQueue{pool: pool, poolName: poolName}
	if err := q.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *PostgresQueue) ensureSchema(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workerpool_queue (
			id TEXT PRIMARY KEY,
			pool_name TEXT NOT NULL,
			data BYTEA NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			locked_at TIMESTAMPTZ
		)
	`)
	return err
}

func (q *PostgresQueue) Push(ctx context.Context, item *QueueItem) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO workerpool_queue (id, pool_name, data, priority, created_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET locked_at = NULL
	`, item.ID, q.poolName, item.Data, item.Priority, item.CreatedAt, item.Attempts)
	return err
}

func (q *PostgresQueue) Pop(ctx context.Context) (*QueueItem, error) {
	row := q.pool.QueryRow(ctx, `
		UPDATE workerpool_queue SET locked_at = now()
		WHERE id = (
			SELECT id FROM workerpool_queue
			WHERE pool_name = $1 AND locked_at IS NULL
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, data, priority, created_at, attempts
	`, q.poolName)

	var item QueueItem
	if err := row.Scan(&item.ID, &item.Data, &item.Priority, &item.CreatedAt, &item.Attempts); err != nil {
		return nil, ErrQueueEmpty
	}
	return &item, nil
}

func (q *PostgresQueue) Peek(ctx context.Context) (*QueueItem, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, data, priority, created_at, attempts FROM workerpool_queue
		WHERE pool_name = $1 AND locked_at IS NULL
		ORDER BY created_at ASC LIMIT 1
	`, q.poolName)

	var item QueueItem
	if err := row.Scan(&item.ID, &item.Data, &item.Priority, &item.CreatedAt, &item.Attempts); err != nil {
		return nil, ErrQueueEmpty
	}
	return &item, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, itemID string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM workerpool_queue WHERE id = $1`, itemID)
	return err
}

func (q *PostgresQueue) Nack(ctx context.Context, itemID string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE workerpool_queue SET locked_at = NULL, attempts = attempts + 1 WHERE id = $1
	`, itemID)
	return err
}

func (q *PostgresQueue) Len() int {
	var n int
	err := q.pool.QueryRow(context.Background(), `
		SELECT count(*) FROM workerpool_queue WHERE pool_name = $1 AND locked_at IS NULL
	`, q.poolName).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

func (q *PostgresQueue) Close() error {
	q.pool.Close()
	return nil
}
