// Package telemetry defines the runner telemetry sample and the codec that turns
// raw queue payloads into samples.
//
// # Overview
//
// Runners are mobile agents (simulated or real) that periodically emit their
// position and speed. Each emission travels through the durable queue as an opaque
// byte payload and is decoded here into a Sample, the only unit of state the
// ingestion bridge caches and persists.
//
// # Wire Format
//
// Two payload shapes are accepted, whichever the producing deployment uses:
//
//	[17, 12.5, 40.25, 2.5, -1.0]
//
//	{"runner_id": 17, "positionX": 12.5, "positionY": 40.25,
//	 "speedX": 2.5, "speedY": -1.0, "timestampMs": 1718000000000}
//
// The array form is positional: runner id, position X, position Y, speed X, speed Y.
// The object form also accepts "runnerId" or "id" for the runner id. An explicit
// "timestampMs" in the object wins over the broker-assigned timestamp.
//
// Anything else (invalid JSON, wrong arity, non-numeric values, a fractional runner
// id) is rejected with an error wrapping ErrMalformed. Callers discard malformed
// payloads; they are never retried.
//
// # Usage Example
//
//	sample, err := telemetry.Decode(body, delivery.TimestampMs)
//	if errors.Is(err, telemetry.ErrMalformed) {
//		log.Printf("[WARN] dropping malformed payload: %v", err)
//		return
//	}
package telemetry
