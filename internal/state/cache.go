// Package state holds the single-slot cache of the most recent telemetry sample.
//
// The cache is the only structure the ingestion bridge mutates from more than one
// goroutine: the consumer loop writes it, HTTP handlers and the live-update
// broadcaster read it. Every access goes through one short-held mutex and readers
// always receive a copy.
package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dyluth/pacer/pkg/telemetry"
)

// WaitingStatus is the placeholder status reported before the first sample arrives.
const WaitingStatus = "waiting for data"

// Placeholder marks a slot that has not received any sample yet.
type Placeholder struct {
	Status      string `json:"status"`
	TimestampMs int64  `json:"timestamp"`
}

// Snapshot is an independent copy of the slot contents.
// Exactly one of Sample or Placeholder is meaningful, selected by HasSample.
type Snapshot struct {
	HasSample   bool
	Sample      telemetry.Sample
	Placeholder Placeholder
}

// MarshalJSON renders the sample fields when data is present and the
// placeholder fields otherwise, so API clients see one flat object.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.HasSample {
		return json.Marshal(s.Sample)
	}
	return json.Marshal(s.Placeholder)
}

// Cache is a lock-protected single slot holding the latest sample.
// The zero value is not usable; construct with NewCache.
type Cache struct {
	mu   sync.Mutex
	slot Snapshot
}

// NewCache returns a cache in placeholder state stamped with the current time.
func NewCache() *Cache {
	return &Cache{
		slot: Snapshot{
			Placeholder: Placeholder{
				Status:      WaitingStatus,
				TimestampMs: time.Now().UnixMilli(),
			},
		},
	}
}

// Update replaces the slot with sample. Once called, the cache never reports
// the placeholder again.
func (c *Cache) Update(sample telemetry.Sample) {
	c.mu.Lock()
	c.slot.HasSample = true
	c.slot.Sample = sample
	c.mu.Unlock()
}

// Read returns a copy of the current slot.
func (c *Cache) Read() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot
}
