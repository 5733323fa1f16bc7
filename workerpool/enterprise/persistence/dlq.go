package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DLQEntry is one task that exhausted its retries (or panicked beyond
// recovery) and was routed to the dead-letter queue instead of being
// dropped.
type DLQEntry struct {
	TaskID       string
	Data         []byte
	FailedAt     time.Time
	FailureCount int
	Errors       []string
	OriginalItem *QueueItem
}

// DeadLetterQueue stores tasks a Pool gave up on, backed by any
// PersistentQueue implementation.
type DeadLetterQueue struct {
	storage   PersistentQueue
	maxSize   int
	retention time.Duration
	onMessage func(*DLQEntry)
	mu        sync.RWMutex
}

type DLQConfig struct {
	MaxSize   int
	Retention time.Duration
	OnMessage func(*DLQEntry)
	Storage   PersistentQueue
}

func NewDeadLetterQueue(config DLQConfig) *DeadLetterQueue {
	return &DeadLetterQueue{
		storage:   config.Storage,
		maxSize:   config.MaxSize,
		retention: config.Retention,
		onMessage: config.OnMessage,
	}
}

func (dlq *DeadLetterQueue) Push(ctx context.Context, entry *DLQEntry) error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.maxSize > 0 && dlq.storage.Len() >= dlq.maxSize {
		if _, err := dlq.storage.Pop(ctx); err != nil && err != ErrQueueEmpty {
			return err
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	item := &QueueItem{
		ID:        entry.TaskID,
		Data:      data,
		CreatedAt: entry.FailedAt,
	}

	if err := dlq.storage.Push(ctx, item); err != nil {
		return err
	}

	if dlq.onMessage != nil {
		go dlq.onMessage(entry)
	}

	return nil
}

func (dlq *DeadLetterQueue) Pop(ctx context.Context) (*DLQEntry, error) {
	item, err := dlq.storage.Pop(ctx)
	if err != nil {
		return nil, err
	}
	return decodeEntry(item)
}

func (dlq *DeadLetterQueue) Peek(ctx context.Context) (*DLQEntry, error) {
	item, err := dlq.storage.Peek(ctx)
	if err != nil {
		return nil, err
	}
	return decodeEntry(item)
}

func decodeEntry(item *QueueItem) (*DLQEntry, error) {
	var entry DLQEntry
	if err := json.Unmarshal(item.Data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Replay hands the entry at the head of the DLQ to replayFn if its
// TaskID is taskID, and on success pops it from the underlying
// storage. Entries behind the head are not searched: if the head has a
// different TaskID, Replay returns ErrQueueEmpty.
func (dlq *DeadLetterQueue) Replay(ctx context.Context, taskID string, replayFn func(*DLQEntry) error) error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	entry, err := dlq.Peek(ctx)
	if err != nil {
		return err
	}
	if entry.TaskID != taskID {
		return ErrQueueEmpty
	}

	if err := replayFn(entry); err != nil {
		return err
	}
	_, err = dlq.storage.Pop(ctx)
	return err
}

// Cleanup drops entries older than Retention. A zero Retention
// disables cleanup entirely.
func (dlq *DeadLetterQueue) Cleanup(ctx context.Context) error {
	if dlq.retention == 0 {
		return nil
	}

	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	cutoff := time.Now().Add(-dlq.retention)
	for {
		entry, err := dlq.Peek(ctx)
		if err != nil {
			if err == ErrQueueEmpty {
				return nil
			}
			return err
		}
		if entry.FailedAt.After(cutoff) {
			return nil
		}
		if _, err := dlq.storage.Pop(ctx); err != nil {
			return err
		}
	}
}

func (dlq *DeadLetterQueue) Len() int { return dlq.storage.Len() }

func (dlq *DeadLetterQueue) Close() error { return dlq.storage.Close() }

func (dlq *DeadLetterQueue) GetStats() DLQStats {
	return DLQStats{
		Size:      dlq.Len(),
		MaxSize:   dlq.maxSize,
		Retention: dlq.retention,
	}
}

type DLQStats struct {
	Size      int
	MaxSize   int
	Retention time.Duration
}
