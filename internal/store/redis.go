package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout
//
//	pacer:collections                         SET of known collection names
//	pacer:{collection}:doc:{id}               HASH holding one document
//	pacer:{collection}:idx:timestamp_ms       ZSET of document ids scored by timestampMs

const collectionsKey = "pacer:collections"

const pingTimeout = 5 * time.Second

// DocKey returns the Redis key of one document.
func DocKey(collection, id string) string {
	return fmt.Sprintf("pacer:%s:doc:%s", collection, id)
}

// TimestampIndexKey returns the Redis key of a collection's timestamp index.
func TimestampIndexKey(collection string) string {
	return fmt.Sprintf("pacer:%s:idx:timestamp_ms", collection)
}

// RedisStore keeps documents as hashes and maintains the timestamp index as a
// sorted set updated in the same transaction as the document.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedis connects to the Redis server named by url and verifies it answers.
func OpenRedis(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(opts)
}

// NewRedisStore builds a store from explicit connection options.
func NewRedisStore(opts *redis.Options) (*RedisStore, error) {
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// EnsureCollection registers the collection. The index sorted set needs no
// creation step: Redis materialises it on the first insert.
func (s *RedisStore) EnsureCollection(ctx context.Context, collection string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if err := s.rdb.SAdd(ctx, collectionsKey, collection).Err(); err != nil {
		return fmt.Errorf("register collection %s: %w", collection, err)
	}
	return nil
}

// Insert writes the document hash and its index entry atomically.
func (s *RedisStore) Insert(ctx context.Context, collection string, doc Document) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}

	hash := map[string]interface{}{
		"_id":          doc.ID,
		"runnerId":     doc.Sample.RunnerID,
		"positionX":    doc.Sample.PositionX,
		"positionY":    doc.Sample.PositionY,
		"speedX":       doc.Sample.SpeedX,
		"speedY":       doc.Sample.SpeedY,
		"timestampMs":  doc.Sample.TimestampMs,
		"receivedAtMs": doc.ReceivedAtMs,
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, DocKey(collection, doc.ID), hash)
		pipe.ZAdd(ctx, TimestampIndexKey(collection), redis.Z{
			Score:  float64(doc.Sample.TimestampMs),
			Member: doc.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
