package state

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCache_StartsWithPlaceholder(t *testing.T) {
	before := time.Now().UnixMilli()
	cache := NewCache()

	snap := cache.Read()
	assert.False(t, snap.HasSample)
	assert.Equal(t, WaitingStatus, snap.Placeholder.Status)
	assert.GreaterOrEqual(t, snap.Placeholder.TimestampMs, before)
}

func TestCache_UpdateThenRead(t *testing.T) {
	cache := NewCache()
	sample := telemetry.Sample{RunnerID: 9, PositionX: 1.25, PositionY: 2.5, SpeedX: 3, SpeedY: -4, TimestampMs: 1000}

	cache.Update(sample)

	snap := cache.Read()
	require.True(t, snap.HasSample)
	assert.Equal(t, sample, snap.Sample)
}

func TestCache_DecodedSampleRoundTrip(t *testing.T) {
	cache := NewCache()
	decoded, err := telemetry.Decode([]byte(`[5, 10.5, 20.5, 1.5, 2.5]`), 1234)
	require.NoError(t, err)

	cache.Update(decoded)

	snap := cache.Read()
	assert.Equal(t, telemetry.Sample{RunnerID: 5, PositionX: 10.5, PositionY: 20.5, SpeedX: 1.5, SpeedY: 2.5, TimestampMs: 1234}, snap.Sample)
}

func TestCache_ReadReturnsIndependentCopy(t *testing.T) {
	cache := NewCache()
	cache.Update(telemetry.Sample{RunnerID: 1, PositionX: 1})

	snap := cache.Read()
	cache.Update(telemetry.Sample{RunnerID: 2, PositionX: 2})

	assert.Equal(t, int64(1), snap.Sample.RunnerID, "earlier snapshot must not change after a later update")
	assert.Equal(t, int64(2), cache.Read().Sample.RunnerID)
}

func TestCache_NeverRevertsToPlaceholder(t *testing.T) {
	cache := NewCache()
	cache.Update(telemetry.Sample{RunnerID: 1})
	cache.Update(telemetry.Sample{})

	assert.True(t, cache.Read().HasSample)
}

// TestCache_NoTornReads hammers the cache from several writers and readers.
// Every written sample has all fields derived from one value k, so a reader
// seeing fields from two different writes would detect the mismatch.
func TestCache_NoTornReads(t *testing.T) {
	const (
		writers    = 8
		readers    = 8
		iterations = 2000
	)

	cache := NewCache()
	var wg sync.WaitGroup
	torn := make(chan telemetry.Sample, 1)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; i <= iterations; i++ {
				k := int64(w*iterations + i)
				f := float64(k)
				cache.Update(telemetry.Sample{RunnerID: k, PositionX: f, PositionY: f, SpeedX: f, SpeedY: f, TimestampMs: k})
			}
		}(w)
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				snap := cache.Read()
				if !snap.HasSample {
					continue
				}
				s := snap.Sample
				f := float64(s.RunnerID)
				if s.PositionX != f || s.PositionY != f || s.SpeedX != f || s.SpeedY != f || s.TimestampMs != s.RunnerID {
					select {
					case torn <- s:
					default:
					}
					return
				}
			}
		}()
	}

	wg.Wait()
	select {
	case s := <-torn:
		t.Fatalf("observed torn sample: %+v", s)
	default:
	}
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	t.Run("placeholder", func(t *testing.T) {
		snap := Snapshot{Placeholder: Placeholder{Status: WaitingStatus, TimestampMs: 77}}
		data, err := json.Marshal(snap)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"waiting for data","timestamp":77}`, string(data))
	})

	t.Run("sample", func(t *testing.T) {
		snap := Snapshot{HasSample: true, Sample: telemetry.Sample{RunnerID: 1, PositionX: 2, PositionY: 3, SpeedX: 4, SpeedY: 5, TimestampMs: 6}}
		data, err := json.Marshal(snap)
		require.NoError(t, err)
		assert.JSONEq(t, `{"runnerId":1,"positionX":2,"positionY":3,"speedX":4,"speedY":5,"timestampMs":6}`, string(data))
	})
}
