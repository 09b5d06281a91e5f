package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"time"
)

// Payload formats accepted by the bridge.
const (
	FormatObject = "object"
	FormatArray  = "array"
)

// Publisher appends one payload to the queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte, timestampMs int64) (string, error)
}

// Options configures a simulation run.
type Options struct {
	Runners    int           // Number of runners (default 1)
	Interval   time.Duration // Time between ticks (default 100ms)
	Count      int           // Stop after this many messages; 0 runs until cancelled
	Seed       uint64        // 0 picks a random seed
	Format     string        // FormatObject (default) or FormatArray
	RetryDelay time.Duration // Pause after a failed publish (default 5s)
	Routes     []Route       // Defaults to DefaultRoutes
}

// Simulator drives a set of runners and publishes their samples.
type Simulator struct {
	pub     Publisher
	opts    Options
	runners []*Runner
	now     func() time.Time
}

// New creates a simulator.
func New(pub Publisher, opts Options) (*Simulator, error) {
	if opts.Runners <= 0 {
		opts.Runners = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Format == "" {
		opts.Format = FormatObject
	}
	if opts.Format != FormatObject && opts.Format != FormatArray {
		return nil, fmt.Errorf("unknown payload format %q (valid: %s, %s)", opts.Format, FormatObject, FormatArray)
	}
	if opts.Count < 0 {
		return nil, fmt.Errorf("count must be >= 0")
	}

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	s := &Simulator{pub: pub, opts: opts, now: time.Now}
	for i := 0; i < opts.Runners; i++ {
		r := NewRunner(rng, opts.Routes, opts.Interval)
		log.Printf("[INFO] Runner %d started, target speed %.2f km/h", r.ID, r.TargetKmh())
		s.runners = append(s.runners, r)
	}
	return s, nil
}

// Runners returns the simulated runners.
func (s *Simulator) Runners() []*Runner {
	return s.runners
}

// Run publishes one sample per runner per tick until ctx is cancelled or Count
// messages were sent. It returns the number of messages published.
func (s *Simulator) Run(ctx context.Context) (int, error) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	sent := 0
	for {
		for _, r := range s.runners {
			if s.opts.Count > 0 && sent >= s.opts.Count {
				return sent, nil
			}

			sample := r.Next(s.now())
			body, err := s.encode(sample.ArrayPayload(), sample.ObjectPayload())
			if err != nil {
				return sent, err
			}

			if _, err := s.pub.Publish(ctx, body, sample.TimestampMs); err != nil {
				if ctx.Err() != nil {
					return sent, nil
				}
				log.Printf("[WARN] Publish failed, retrying in %s: %v", s.opts.RetryDelay, err)
				if !sleep(ctx, s.opts.RetryDelay) {
					return sent, nil
				}
				continue
			}
			sent++
			log.Printf("[DEBUG] Sent %s", body)
		}

		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
}

func (s *Simulator) encode(array []any, object map[string]any) ([]byte, error) {
	var v any = object
	if s.opts.Format == FormatArray {
		v = array
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sample: %w", err)
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
