package popup

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"popupstorm/internal/anim"
	"popupstorm/internal/catalog"
	"popupstorm/internal/logger"
	"popupstorm/internal/surface"
)

// Window is one live popup: a surface plus its tracking metadata. OnRemove
// releases loader-held decoder resources (video process, temp file) and is
// invoked exactly once, whichever removal path fires first.
type Window struct {
	ID        uuid.UUID
	Surface   surface.Surface
	Kind      catalog.Kind
	CreatedAt time.Time
	Monitor   surface.Monitor
	Bouncing  bool
	OnRemove  func()

	removeOnce sync.Once
	expiry     func() bool // cancels the scheduled expiry timer
}

// NewWindow wraps a surface into a registrable popup window.
func NewWindow(s surface.Surface, kind catalog.Kind, mon surface.Monitor) *Window {
	return &Window{
		ID:      uuid.New(),
		Surface: s,
		Kind:    kind,
		Monitor: mon,
	}
}

// Registry owns every live popup window. All map mutation happens under one
// mutex because registration, expiry timers and teardown race from the
// scheduler, dispatcher and animation contexts.
type Registry struct {
	pool       *Pool
	anim       *anim.Engine
	dispatcher *Dispatcher

	mu      sync.Mutex
	windows map[uuid.UUID]*Window
	rng     *rand.Rand
}

// NewRegistry creates a registry over the given pool, animation engine and
// dispatcher.
func NewRegistry(pool *Pool, animEngine *anim.Engine, dispatcher *Dispatcher) *Registry {
	return &Registry{
		pool:       pool,
		anim:       animEngine,
		dispatcher: dispatcher,
		windows:    make(map[uuid.UUID]*Window),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds a window to the active set. When bouncing is engine-enabled,
// one weighted coin flip decides whether this window bounces; winners get an
// initial random velocity and join the animation loop. Registration then
// synchronously enforces the window ceiling by evicting the oldest window,
// so the settled count never exceeds maxWindows.
func (r *Registry) Register(w *Window, bounceEnabled bool, bounceChance float64, maxWindows int) {
	w.CreatedAt = time.Now()

	r.mu.Lock()
	r.windows[w.ID] = w
	bounce := bounceEnabled && r.rng.Float64() < bounceChance
	var vel anim.Velocity
	if bounce {
		w.Bouncing = true
		vel = anim.RandomVelocity(r.rng)
	}
	count := len(r.windows)
	r.mu.Unlock()

	if bounce {
		r.anim.Track(w.ID, w.Surface, w.Monitor.Bounds(), vel)
	}

	logger.WithComponent("registry").Debug().
		Str("id", w.ID.String()).
		Str("kind", w.Kind.String()).
		Bool("bounce", bounce).
		Int("count", count).
		Msg("Popup registered")

	if maxWindows < 1 {
		maxWindows = 1
	}
	for r.Count() > maxWindows {
		if !r.evictOldest() {
			break
		}
	}
}

// ScheduleRemoval arranges for the window to be removed after the given
// duration via the dispatcher.
func (r *Registry) ScheduleRemoval(w *Window, after time.Duration) {
	id := w.ID
	w.expiry = r.dispatcher.PostDelayed(after, func() {
		r.Remove(id)
	})
}

// Remove releases the window's decoder resources, drops it from every
// tracking structure, and recycles its surface. Safe to call for unknown or
// already-removed IDs.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	w, ok := r.windows[id]
	if ok {
		delete(r.windows, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.teardown(w)
}

func (r *Registry) teardown(w *Window) {
	w.removeOnce.Do(func() {
		if w.expiry != nil {
			w.expiry()
		}
		r.anim.Untrack(w.ID)
		if w.OnRemove != nil {
			w.OnRemove()
		}
		r.pool.Release(w.Surface)

		logger.WithComponent("registry").Debug().
			Str("id", w.ID.String()).
			Msg("Popup removed")
	})
}

// evictOldest removes the single oldest-by-creation-time window. Returns
// false when the registry is empty.
func (r *Registry) evictOldest() bool {
	r.mu.Lock()
	var oldest *Window
	for _, w := range r.windows {
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	if oldest != nil {
		delete(r.windows, oldest.ID)
	}
	r.mu.Unlock()

	if oldest == nil {
		return false
	}
	r.teardown(oldest)
	return true
}

// ForceCloseAll synchronously tears down every tracked window and clears all
// tracking structures. Idempotent and safe to call when already empty.
func (r *Registry) ForceCloseAll() {
	r.mu.Lock()
	windows := make([]*Window, 0, len(r.windows))
	for _, w := range r.windows {
		windows = append(windows, w)
	}
	r.windows = make(map[uuid.UUID]*Window)
	r.mu.Unlock()

	for _, w := range windows {
		r.teardown(w)
	}

	if len(windows) > 0 {
		logger.WithComponent("registry").Info().
			Int("closed", len(windows)).
			Msg("Force-closed all popups")
	}
}

// Count returns the number of tracked windows.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}
