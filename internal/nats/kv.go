package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/innovaquest/webchat/internal/storage"
)

// KVStore is a storage.KV backed by a JetStream key/value bucket.
type KVStore struct {
	client *Client
	kv     jetstream.KeyValue
}

// NewKVStore opens the bucket, creating it on first use. One history entry is
// kept per key: the widget only ever reads the latest list.
func NewKVStore(ctx context.Context, client *Client, bucket string) (*KVStore, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Chat widget conversation lists",
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open key/value bucket %s: %w", bucket, err)
	}

	return &KVStore{client: client, kv: kv}, nil
}

// Get returns the latest value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

// Put replaces the value stored under key.
func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.kv.Put(ctx, key, value)
	return err
}

// Ping reports the connection state.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
