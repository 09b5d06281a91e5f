// Package store provides the document stores the persistence runtime writes to.
//
// A store is addressed by a connection string whose scheme selects the backend:
//
//	sqlite://pacer.db          SQLite file (relative path)
//	sqlite:///var/lib/pacer.db SQLite file (absolute path)
//	file:pacer.db              SQLite file
//	redis://localhost:6379/0   Redis hashes with a sorted-set index
//
// Every backend organises documents into named collections and keeps a secondary
// index on the sample timestamp. Collection setup is idempotent.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dyluth/pacer/pkg/telemetry"
)

// ErrUnsupportedDSN is returned by Open for connection strings with an unknown scheme.
var ErrUnsupportedDSN = errors.New("unsupported store connection string")

// collectionPattern restricts collection names to safe SQL identifiers and Redis key segments.
var collectionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Store is a document-oriented store holding telemetry documents.
// Implementations are safe for use from the goroutines of a single owner.
type Store interface {
	// EnsureCollection creates the collection and its timestamp index if missing.
	EnsureCollection(ctx context.Context, collection string) error

	// Insert writes one document. Failures are returned, never retried.
	Insert(ctx context.Context, collection string, doc Document) error

	// Close releases the connection.
	Close() error
}

// Document is the stored form of one telemetry sample.
type Document struct {
	ID           string           `json:"_id"`
	Sample       telemetry.Sample `json:"sample"`
	ReceivedAtMs int64            `json:"receivedAtMs"`
}

// MarshalJSON flattens the sample fields into the document.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"_id":          d.ID,
		"runnerId":     d.Sample.RunnerID,
		"positionX":    d.Sample.PositionX,
		"positionY":    d.Sample.PositionY,
		"speedX":       d.Sample.SpeedX,
		"speedY":       d.Sample.SpeedY,
		"timestampMs":  d.Sample.TimestampMs,
		"receivedAtMs": d.ReceivedAtMs,
	})
}

// Open connects to the store named by dsn.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return OpenSQLite(strings.TrimPrefix(dsn, "file:"))
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return OpenRedis(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, dsn)
	}
}

// ValidateCollection checks that name can be used as a collection name.
func ValidateCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}
