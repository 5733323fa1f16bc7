package persistence

import (
	"context"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrInvalidKeySize = errors.New("encryption key must be exactly 32 bytes")

// Crypter encrypts queue payloads at rest using secretbox, so a
// PersistentQueue backend (disk, Redis, Postgres) never stores a
// task's Data in plaintext when Config.Security.EncryptionEnabled is
// set.
type Crypter struct {
	key [32]byte
}

func NewCrypter(key []byte) (*Crypter, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	c := &Crypter{}
	copy(c.key[:], key)
	return c, nil
}

// Encrypt prepends a fresh random nonce to the sealed box.
func (c *Crypter) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return sealed, nil
}

func (c *Crypter) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &c.key)
	if !ok {
		return nil, errors.New("decryption failed: invalid key or corrupted data")
	}
	return plaintext, nil
}

// EncryptingQueue wraps a PersistentQueue, encrypting QueueItem.Data
// on Push and decrypting on Pop/Peek, so the rest of the package
// never has to know encryption is in play.
type EncryptingQueue struct {
	inner   PersistentQueue
	crypter *Crypter
}

func NewEncryptingQueue(inner PersistentQueue, crypter *Crypter) *EncryptingQueue {
	return &EncryptingQueue{inner: inner, crypter: crypter}
}

func (q *EncryptingQueue) Push(ctx context.Context, item *QueueItem) error {
	sealed, err := q.crypter.Encrypt(item.Data)
	if err != nil {
		return err
	}
	clone := *item
	clone.Data = sealed
	return q.inner.Push(ctx, &clone)
}

func (q *EncryptingQueue) decode(item *QueueItem, err error) (*QueueItem, error) {
	if err != nil {
		return nil, err
	}
	plain, err := q.crypter.Decrypt(item.Data)
	if err != nil {
		return nil, err
	}
	clone := *item
	clone.Data = plain
	return &clone, nil
}

func (q *EncryptingQueue) Pop(ctx context.Context) (*QueueItem, error) {
	return q.decode(q.inner.Pop(ctx))
}

func (q *EncryptingQueue) Peek(ctx context.Context) (*QueueItem, error) {
	return q.decode(q.inner.Peek(ctx))
}

func (q *EncryptingQueue) Ack(ctx context.Context, itemID string) error {
	return q.inner.Ack(ctx, itemID)
}

func (q *EncryptingQueue) Nack(ctx context.Context, itemID string) error {
	return q.inner.Nack(ctx, itemID)
}

func (q *EncryptingQueue) Len() int   { return q.inner.Len() }
func (q *EncryptingQueue) Close() error { return q.inner.Close() }
