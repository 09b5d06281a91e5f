package telemetry

import "fmt"

// Sample is one position/speed reading from a runner.
// Samples are plain values: copying a Sample yields a fully independent value,
// which is what lets the cache hand out snapshots without sharing memory.
type Sample struct {
	RunnerID    int64   `json:"runnerId"`    // Runner identifier assigned by the producer
	PositionX   float64 `json:"positionX"`   // Latitude in the simulator's coordinate space
	PositionY   float64 `json:"positionY"`   // Longitude in the simulator's coordinate space
	SpeedX      float64 `json:"speedX"`      // Position delta per tick, scaled
	SpeedY      float64 `json:"speedY"`      // Position delta per tick, scaled
	TimestampMs int64   `json:"timestampMs"` // Producer- or broker-assigned Unix milliseconds
}

// String renders a compact, log-friendly form of the sample.
func (s Sample) String() string {
	return fmt.Sprintf("runner=%d pos=(%.5f,%.5f) speed=(%.2f,%.2f) ts=%d",
		s.RunnerID, s.PositionX, s.PositionY, s.SpeedX, s.SpeedY, s.TimestampMs)
}

// ArrayPayload encodes the sample in the positional wire form.
// The timestamp is not part of the array form; it travels as broker metadata.
func (s Sample) ArrayPayload() []any {
	return []any{s.RunnerID, s.PositionX, s.PositionY, s.SpeedX, s.SpeedY}
}

// ObjectPayload encodes the sample in the explicit-field wire form used by producers.
func (s Sample) ObjectPayload() map[string]any {
	return map[string]any{
		"runner_id":   s.RunnerID,
		"positionX":   s.PositionX,
		"positionY":   s.PositionY,
		"speedX":      s.SpeedX,
		"speedY":      s.SpeedY,
		"timestampMs": s.TimestampMs,
	}
}
