// Package simulator produces synthetic runner telemetry for local runs and demos.
//
// Each runner follows one of a fixed set of routes at a randomly chosen target
// speed, moving by linear interpolation along each segment. When a route is
// finished the runner starts a new race on a randomly chosen route.
package simulator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/dyluth/pacer/pkg/telemetry"
)

const (
	// MaxStepsPerSegment caps interpolation so slow runners still visibly move.
	MaxStepsPerSegment = 1000

	// SpeedScale turns per-tick position deltas into readable speed values.
	SpeedScale = 100000

	kmPerDegree = 111.0
	minSpeedKmh = 60.0
	maxSpeedKmh = 100.0
)

// Point is a route waypoint; X is latitude and Y longitude.
type Point struct {
	X, Y float64
}

// Route is an ordered list of waypoints.
type Route []Point

// DefaultRoutes are the built-in courses.
var DefaultRoutes = []Route{
	{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
	{{0, 0}, {15, 10}, {16, -17}, {-20, -15}},
	{{-5, -5}, {10, 3}, {15, 12}, {22, 13}},
}

// Runner is one simulated agent. Not safe for concurrent use.
type Runner struct {
	ID int64

	rng    *rand.Rand
	routes []Route
	tick   time.Duration

	route           Route
	segment         int
	step            int
	stepsPerSegment int
	targetKmh       float64

	posX, posY     float64
	speedX, speedY float64
}

// NewRunner creates a runner with a random ID that starts its first race immediately.
// tick is the time between samples and determines how many steps a segment takes.
func NewRunner(rng *rand.Rand, routes []Route, tick time.Duration) *Runner {
	if len(routes) == 0 {
		routes = DefaultRoutes
	}
	r := &Runner{
		ID:     rng.Int64N(math.MaxInt32) + 1,
		rng:    rng,
		routes: routes,
		tick:   tick,
	}
	r.startRace()
	return r
}

// TargetKmh returns the target speed of the current race.
func (r *Runner) TargetKmh() float64 {
	return r.targetKmh
}

func (r *Runner) startRace() {
	r.route = r.routes[r.rng.IntN(len(r.routes))]
	r.segment = 0
	r.step = 0
	r.targetKmh = minSpeedKmh + r.rng.Float64()*(maxSpeedKmh-minSpeedKmh)
	r.posX, r.posY = r.route[0].X, r.route[0].Y
	r.stepsPerSegment = r.segmentSteps()
}

// segmentSteps returns how many ticks the current segment takes at the target speed.
func (r *Runner) segmentSteps() int {
	if r.segment >= len(r.route)-1 {
		return 0
	}

	p1, p2 := r.route[r.segment], r.route[r.segment+1]
	distKm := math.Hypot(p2.X-p1.X, p2.Y-p1.Y) * kmPerDegree
	seconds := distKm / (r.targetKmh / 3600)

	steps := int(seconds / r.tick.Seconds())
	if steps < 1 {
		steps = 1
	}
	if steps > MaxStepsPerSegment {
		steps = MaxStepsPerSegment
	}
	return steps
}

// advance moves the runner one tick along its route.
func (r *Runner) advance() {
	if r.segment >= len(r.route)-1 {
		r.startRace()
		return
	}

	p1, p2 := r.route[r.segment], r.route[r.segment+1]
	t := math.Min(1, float64(r.step)/float64(r.stepsPerSegment))

	x := p1.X + (p2.X-p1.X)*t
	y := p1.Y + (p2.Y-p1.Y)*t

	r.speedX = (x - r.posX) * SpeedScale
	r.speedY = (y - r.posY) * SpeedScale
	r.posX, r.posY = x, y

	r.step++
	if r.step >= r.stepsPerSegment {
		r.segment++
		r.step = 0
		r.stepsPerSegment = r.segmentSteps()
	}
}

// Next advances one tick and returns the resulting sample stamped with now.
func (r *Runner) Next(now time.Time) telemetry.Sample {
	r.advance()
	return telemetry.Sample{
		RunnerID:    r.ID,
		PositionX:   r.posX,
		PositionY:   r.posY,
		SpeedX:      r.speedX,
		SpeedY:      r.speedY,
		TimestampMs: now.UnixMilli(),
	}
}
