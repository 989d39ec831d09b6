package anim

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"popupstorm/internal/surface"
)

// quiet returns tuning with all randomness disabled so steps are
// deterministic.
func quiet() Tuning {
	t := DefaultTuning()
	t.BoostChance = 0
	t.NudgeChance = 0
	return t
}

func TestStepReflectsAtMinX(t *testing.T) {
	tn := quiet()
	rng := rand.New(rand.NewSource(1))
	bounds := surface.Geometry{X: 0, Y: 0, Width: 1000, Height: 1000}

	// Window at x=12 moving left by 20 would cross the margin.
	x, y := 12.0, 500.0
	vel := Velocity{DX: -20, DY: 0}

	nx, ny, nvel := step(x, y, vel, 100, 100, bounds, tn, rng)

	minX := float64(bounds.X + tn.Margin)
	if nx < minX {
		t.Errorf("new x = %f tunneled past min bound %f", nx, minX)
	}
	if nvel.DX <= 0 {
		t.Errorf("dx = %f, want positive after reflection", nvel.DX)
	}
	// Strictly reflects and gains magnitude: |dx'| = |dx|*friction*rebound.
	wantMag := 20 * tn.Friction * tn.Rebound
	if math.Abs(math.Abs(nvel.DX)-wantMag) > 1e-9 {
		t.Errorf("|dx'| = %f, want %f", math.Abs(nvel.DX), wantMag)
	}
	if ny != 500 {
		t.Errorf("y moved unexpectedly to %f", ny)
	}
}

func TestStepReflectsAtMaxY(t *testing.T) {
	tn := quiet()
	rng := rand.New(rand.NewSource(1))
	bounds := surface.Geometry{X: 100, Y: 100, Width: 800, Height: 600}

	maxY := float64(bounds.Y+bounds.Height-tn.Margin) - 50
	_, ny, nvel := step(400, maxY-1, Velocity{DX: 0, DY: 30}, 50, 50, bounds, tn, rng)

	if ny > maxY {
		t.Errorf("new y = %f beyond max bound %f", ny, maxY)
	}
	if nvel.DY >= 0 {
		t.Errorf("dy = %f, want negative after reflection", nvel.DY)
	}
}

func TestStepRespectsMonitorOffset(t *testing.T) {
	tn := quiet()
	rng := rand.New(rand.NewSource(1))
	// Second monitor to the right of a 1920-wide primary.
	bounds := surface.Geometry{X: 1920, Y: 0, Width: 1280, Height: 1024}

	nx, _, nvel := step(1925, 200, Velocity{DX: -15, DY: 2}, 200, 150, bounds, tn, rng)

	if nx < float64(1920+tn.Margin) {
		t.Errorf("window escaped its owning monitor: x = %f", nx)
	}
	if nvel.DX <= 0 {
		t.Errorf("dx = %f, want reflected positive", nvel.DX)
	}
}

func TestStepClampsSpeed(t *testing.T) {
	tn := quiet()
	rng := rand.New(rand.NewSource(1))
	bounds := surface.Geometry{Width: 5000, Height: 5000}

	_, _, nvel := step(2500, 2500, Velocity{DX: 500, DY: -0.001}, 10, 10, bounds, tn, rng)
	if math.Abs(nvel.DX) > tn.MaxSpeed {
		t.Errorf("|dx| = %f exceeds max %f", math.Abs(nvel.DX), tn.MaxSpeed)
	}
	if math.Abs(nvel.DY) < tn.MinSpeed {
		t.Errorf("|dy| = %f below min %f", math.Abs(nvel.DY), tn.MinSpeed)
	}
	if nvel.DY > 0 {
		t.Errorf("dy sign flipped by clamp: %f", nvel.DY)
	}
}

func TestRandomVelocityRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		v := RandomVelocity(rng)
		for _, c := range []float64{v.DX, v.DY} {
			mag := math.Abs(c)
			if mag < 10 || mag >= 20 {
				t.Fatalf("component magnitude %f outside [10,20)", mag)
			}
		}
	}
}

func TestEngineStopClearsBodies(t *testing.T) {
	e := NewEngine(quiet(), func(surface.Surface, int, int) {})
	backend := surface.NewHeadlessBackend()
	s, _ := backend.Create()

	e.Track(uuid.New(), s, surface.Geometry{Width: 1000, Height: 1000}, Velocity{DX: 10, DY: 10})
	if e.Tracked() != 1 {
		t.Fatalf("tracked = %d, want 1", e.Tracked())
	}

	e.Stop()
	if e.Tracked() != 0 {
		t.Errorf("tracked after stop = %d, want 0", e.Tracked())
	}
	// Idempotent.
	e.Stop()
}

func TestEngineDropsDeadSurfaces(t *testing.T) {
	moved := make(chan struct{}, 1)
	e := NewEngine(quiet(), func(surface.Surface, int, int) {
		select {
		case moved <- struct{}{}:
		default:
		}
	})
	defer e.Stop()

	backend := surface.NewHeadlessBackend()
	s, _ := backend.Create()
	id := uuid.New()
	e.Track(id, s, surface.Geometry{Width: 1000, Height: 1000}, Velocity{DX: 10, DY: 10})

	select {
	case <-moved:
	case <-time.After(2 * time.Second):
		t.Fatal("animation loop never applied geometry")
	}

	s.Destroy()
	deadline := time.Now().Add(2 * time.Second)
	for e.Tracked() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("destroyed surface never dropped from velocity map")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
