// Package anim runs the fixed-timestep physics loop that bounces popup
// windows around the bounds of the monitor they were spawned on.
package anim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"popupstorm/internal/logger"
	"popupstorm/internal/surface"
)

// Velocity is a per-tick displacement in pixels.
type Velocity struct {
	DX float64
	DY float64
}

// Tuning groups the empirical "feel" constants of the bounce simulation.
// They are tuned for liveliness, not physical accuracy.
type Tuning struct {
	Timestep    time.Duration
	Friction    float64 // multiplicative drag per tick, <1
	Rebound     float64 // velocity gain on edge collision, >1
	Margin      int     // inward margin from monitor edges
	BoostChance float64 // chance of an extra speed boost on collision
	BoostMin    float64
	BoostMax    float64
	NudgeChance float64 // chance of a random velocity nudge per tick
	NudgeMax    float64
	MinSpeed    float64 // per-axis speed clamp
	MaxSpeed    float64
	BatchSize   int // windows moved per batch before a micro-sleep
	BatchPause  time.Duration
}

// DefaultTuning returns the stock feel values.
func DefaultTuning() Tuning {
	return Tuning{
		Timestep:    30 * time.Millisecond,
		Friction:    0.995,
		Rebound:     1.05,
		Margin:      8,
		BoostChance: 0.2,
		BoostMin:    1.1,
		BoostMax:    1.3,
		NudgeChance: 0.02,
		NudgeMax:    2.0,
		MinSpeed:    2,
		MaxSpeed:    35,
		BatchSize:   10,
		BatchPause:  2 * time.Millisecond,
	}
}

// RandomVelocity returns an initial velocity with per-axis magnitude in
// [10,20) and random sign per axis.
func RandomVelocity(rng *rand.Rand) Velocity {
	v := Velocity{
		DX: 10 + rng.Float64()*10,
		DY: 10 + rng.Float64()*10,
	}
	if rng.Intn(2) == 0 {
		v.DX = -v.DX
	}
	if rng.Intn(2) == 0 {
		v.DY = -v.DY
	}
	return v
}

// body is one window under simulation.
type body struct {
	surf   surface.Surface
	bounds surface.Geometry // owning monitor's bounds
	x, y   float64
	vel    Velocity
}

// Engine advances all tracked windows on a fixed timestep. It is safe to
// leave running with zero tracked windows.
type Engine struct {
	mu      sync.Mutex
	bodies  map[uuid.UUID]*body
	tuning  Tuning
	rng     *rand.Rand
	running bool
	stop    chan struct{}
	done    chan struct{}

	// apply pushes new geometry to a surface; wired to the popup
	// dispatcher so surface mutation stays serialized.
	apply func(s surface.Surface, x, y int)
}

// NewEngine creates an animation engine. apply is invoked outside the
// engine's lock for every geometry update.
func NewEngine(tuning Tuning, apply func(s surface.Surface, x, y int)) *Engine {
	return &Engine{
		bodies: make(map[uuid.UUID]*body),
		tuning: tuning,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		apply:  apply,
	}
}

// Track adds a window to the simulation and ensures the loop is running.
func (e *Engine) Track(id uuid.UUID, s surface.Surface, monitorBounds surface.Geometry, vel Velocity) {
	g := s.Geometry()

	e.mu.Lock()
	e.bodies[id] = &body{
		surf:   s,
		bounds: monitorBounds,
		x:      float64(g.X),
		y:      float64(g.Y),
		vel:    vel,
	}
	e.startLocked()
	e.mu.Unlock()
}

// Untrack removes a window from the simulation.
func (e *Engine) Untrack(id uuid.UUID) {
	e.mu.Lock()
	delete(e.bodies, id)
	e.mu.Unlock()
}

// Tracked returns the number of windows under simulation.
func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies)
}

// EnsureRunning starts the loop if it is not already running.
func (e *Engine) EnsureRunning() {
	e.mu.Lock()
	e.startLocked()
	e.mu.Unlock()
}

func (e *Engine) startLocked() {
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(e.stop, e.done)
	logger.WithComponent("anim").Debug().Msg("Animation loop started")
}

// Stop halts the loop and clears all velocities so no residual motion
// resumes on restart. Safe to call when not running.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.bodies = make(map[uuid.UUID]*body)
		e.mu.Unlock()
		return
	}
	e.running = false
	stop := e.stop
	done := e.done
	e.bodies = make(map[uuid.UUID]*body)
	e.mu.Unlock()

	close(stop)
	<-done
	logger.WithComponent("anim").Debug().Msg("Animation loop stopped")
}

func (e *Engine) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.tuning.Timestep)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick advances every body one step. Geometry is applied in batches with a
// micro-sleep between batches so a large window count cannot starve the
// dispatcher under load.
func (e *Engine) tick() {
	type move struct {
		surf surface.Surface
		x, y int
	}

	e.mu.Lock()
	moves := make([]move, 0, len(e.bodies))
	for id, b := range e.bodies {
		if !b.surf.Exists() {
			delete(e.bodies, id)
			continue
		}
		g := b.surf.Geometry()
		b.x, b.y, b.vel = step(b.x, b.y, b.vel, g.Width, g.Height, b.bounds, e.tuning, e.rng)
		moves = append(moves, move{surf: b.surf, x: int(b.x), y: int(b.y)})
	}
	e.mu.Unlock()

	for i, mv := range moves {
		if i > 0 && e.tuning.BatchSize > 0 && i%e.tuning.BatchSize == 0 {
			time.Sleep(e.tuning.BatchPause)
		}
		e.apply(mv.surf, mv.x, mv.y)
	}
}

// step computes one physics step for a window of size w×h at (x,y) moving
// with vel inside bounds. Pure except for rng draws.
func step(x, y float64, vel Velocity, w, h int, bounds surface.Geometry, t Tuning, rng *rand.Rand) (float64, float64, Velocity) {
	vel.DX *= t.Friction
	vel.DY *= t.Friction

	nx := x + vel.DX
	ny := y + vel.DY

	minX := float64(bounds.X + t.Margin)
	maxX := float64(bounds.X+bounds.Width-t.Margin) - float64(w)
	minY := float64(bounds.Y + t.Margin)
	maxY := float64(bounds.Y+bounds.Height-t.Margin) - float64(h)

	// A window larger than its monitor pins to the near edge.
	if maxX < minX {
		maxX = minX
	}
	if maxY < minY {
		maxY = minY
	}

	collided := false
	if nx < minX {
		nx = minX
		vel.DX = -vel.DX * t.Rebound
		collided = true
	} else if nx > maxX {
		nx = maxX
		vel.DX = -vel.DX * t.Rebound
		collided = true
	}
	if ny < minY {
		ny = minY
		vel.DY = -vel.DY * t.Rebound
		collided = true
	} else if ny > maxY {
		ny = maxY
		vel.DY = -vel.DY * t.Rebound
		collided = true
	}

	if collided {
		if rng.Float64() < t.BoostChance {
			boost := t.BoostMin + rng.Float64()*(t.BoostMax-t.BoostMin)
			vel.DX *= boost
			vel.DY *= boost
		}
	} else if rng.Float64() < t.NudgeChance {
		vel.DX += (rng.Float64()*2 - 1) * t.NudgeMax
		vel.DY += (rng.Float64()*2 - 1) * t.NudgeMax
	}

	vel.DX = clampSpeed(vel.DX, t.MinSpeed, t.MaxSpeed)
	vel.DY = clampSpeed(vel.DY, t.MinSpeed, t.MaxSpeed)

	return nx, ny, vel
}

// clampSpeed bounds the magnitude of one velocity component, preserving sign.
func clampSpeed(v, min, max float64) float64 {
	mag := math.Abs(v)
	if mag < min {
		mag = min
	} else if mag > max {
		mag = max
	}
	if math.Signbit(v) {
		return -mag
	}
	return mag
}
