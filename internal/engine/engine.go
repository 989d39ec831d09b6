// Package engine ties the catalog, loaders, registry and animation loop
// together under one scheduler and owns the start/stop/panic lifecycle.
package engine

import (
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"popupstorm/internal/anim"
	"popupstorm/internal/catalog"
	"popupstorm/internal/config"
	"popupstorm/internal/logger"
	"popupstorm/internal/media"
	"popupstorm/internal/popup"
	"popupstorm/internal/surface"
)

const (
	// minSpawnSpacing is the floor between consecutive spawn attempts no
	// matter how low the configured interval goes.
	minSpawnSpacing = 50 * time.Millisecond

	// minWait is the floor for the scheduler's inter-spawn wait.
	minWait = 100 * time.Millisecond

	// stopJoinTimeout bounds how long Stop waits for the scheduler goroutine.
	// Past it the goroutine is abandoned; suppression plus ForceCloseAll have
	// already released every user-visible resource.
	stopJoinTimeout = 500 * time.Millisecond
)

// displayDurations is the base on-screen lifetime per media kind, scaled by
// the config duration multiplier.
var displayDurations = map[catalog.Kind]time.Duration{
	catalog.KindImage: 8 * time.Second,
	catalog.KindGif:   12 * time.Second,
	catalog.KindVideo: 20 * time.Second,
}

// ArchiveInfo describes one bundle file for the UI archive picker.
type ArchiveInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Selected bool   `json:"selected"`
}

// Engine is the popup display engine.
type Engine struct {
	cfg      *config.Manager
	backend  surface.Backend
	temp     *catalog.TempDir
	pool     *popup.Pool
	disp     *popup.Dispatcher
	anim     *anim.Engine
	registry *popup.Registry
	loaders  map[catalog.Kind]media.Loader
	state    State

	mu        sync.Mutex
	running   bool
	stopChan  chan struct{}
	schedDone chan struct{}
	cat       *catalog.Catalog
	monitors  []surface.Monitor
	watcher   *catalog.Watcher
	rng       *rand.Rand
}

// New assembles an engine over the given backend. Nothing runs until Start.
func New(cfg *config.Manager, backend surface.Backend) *Engine {
	settings := cfg.Get()

	e := &Engine{
		cfg:     cfg,
		backend: backend,
		temp:    catalog.NewTempDir(),
		disp:    popup.NewDispatcher(),
		cat:     &catalog.Catalog{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	e.pool = popup.NewPool(backend, settings.PoolCap)
	e.anim = anim.NewEngine(anim.DefaultTuning(), func(s surface.Surface, x, y int) {
		e.disp.Post(func() {
			if s.Exists() {
				s.SetPosition(x, y)
			}
		})
	})
	e.registry = popup.NewRegistry(e.pool, e.anim, e.disp)

	deps := &media.Deps{
		Catalog:     e.currentCatalog,
		Pool:        e.pool,
		Dispatcher:  e.disp,
		Temp:        e.temp,
		Suppressed:  e.state.Suppressed,
		PickMonitor: e.pickMonitor,
		ScalePct:    func() int { return e.cfg.Get().ScalePercent },
		OnBadArchive: func(archivePath string) {
			e.currentCatalog().PurgeArchive(archivePath)
		},
	}
	e.loaders = map[catalog.Kind]media.Loader{
		catalog.KindImage: media.NewImageLoader(deps),
		catalog.KindGif:   media.NewGifLoader(deps),
		catalog.KindVideo: media.NewVideoLoader(deps),
	}
	return e
}

// Start snapshots the monitor layout, sweeps stale temp files, refreshes the
// catalog and launches the scheduler. Idempotent while running.
func (e *Engine) Start() error {
	log := logger.WithComponent("engine")

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		log.Debug().Msg("Start ignored, engine already running")
		return nil
	}

	mons, err := e.backend.Monitors()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.monitors = mons
	e.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stopChan = stop
	e.schedDone = done
	e.mu.Unlock()

	e.state.Release()
	e.state.setRunning(true)

	e.temp.Sweep()
	e.Refresh()
	e.startWatcher()
	e.anim.EnsureRunning()

	go e.schedule(stop, done)

	log.Info().
		Int("monitors", len(mons)).
		Str("backend", e.backend.Name()).
		Msg("Engine started")
	return nil
}

// Stop suppresses spawning, tears down every popup and joins the scheduler.
// Safe to call when not running.
func (e *Engine) Stop() {
	e.state.Suppress()

	e.mu.Lock()
	running := e.running
	stop := e.stopChan
	done := e.schedDone
	watcher := e.watcher
	e.running = false
	e.stopChan = nil
	e.schedDone = nil
	e.watcher = nil
	e.mu.Unlock()

	if running {
		close(stop)
	}
	if watcher != nil {
		watcher.Stop()
	}

	// Ordering matters: the animation loop must be halted (and velocities
	// cleared) before windows are torn down, so no geometry update races a
	// destroyed surface.
	e.anim.Stop()
	e.registry.ForceCloseAll()

	if running {
		select {
		case <-done:
		case <-time.After(stopJoinTimeout):
			logger.WithComponent("engine").Warn().Msg("Scheduler did not exit in time, abandoning")
		}
		// Catch anything a mid-flight spawn registered during teardown.
		e.registry.ForceCloseAll()
	}

	e.state.setRunning(false)
	logger.WithComponent("engine").Info().Msg("Engine stopped")
}

// Panic is the emergency teardown: a full Stop plus deletion of every
// extracted temp file and the pooled surfaces.
func (e *Engine) Panic() {
	logger.WithComponent("engine").Warn().Msg("Panic teardown")
	e.Stop()
	e.temp.RemoveAll()
	e.pool.Drain()
}

// Close releases everything for process exit.
func (e *Engine) Close() {
	e.Stop()
	for _, l := range e.loaders {
		if c, ok := l.(interface{ Close() }); ok {
			c.Close()
		}
	}
	e.disp.Stop()
	e.pool.Drain()
	e.backend.Close()
}

// Refresh rebuilds the catalog from the bundle directory using the current
// archive selection.
func (e *Engine) Refresh() {
	s := e.cfg.Get()
	cat := catalog.NewScanner(s.BundleDir).Refresh(s.SelectedArchives)

	e.mu.Lock()
	e.cat = cat
	e.mu.Unlock()
}

func (e *Engine) startWatcher() {
	s := e.cfg.Get()
	w, err := catalog.NewWatcher(s.BundleDir, func() {
		if e.state.Running() {
			e.Refresh()
		}
	})
	if err != nil {
		logger.WithComponent("engine").Warn().Err(err).Msg("Bundle watcher unavailable")
		return
	}

	e.mu.Lock()
	e.watcher = w
	e.mu.Unlock()
}

// schedule is the spawn loop. Each round picks a media kind by weighted
// random choice over the kinds that actually have entries, displays one
// popup, and waits out the configured interval on an interruptible timer.
func (e *Engine) schedule(stop, done chan struct{}) {
	defer close(done)
	log := logger.WithComponent("scheduler")

	var lastSpawn time.Time
	for {
		if e.state.Suppressed() {
			return
		}

		if since := time.Since(lastSpawn); since < minSpawnSpacing {
			time.Sleep(minSpawnSpacing - since)
		}
		e.spawnOne(log)
		lastSpawn = time.Now()

		s := e.cfg.Get()
		wait := time.Duration(s.IntervalSeconds * float64(time.Second))
		if wait < minWait {
			wait = minWait
		}
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

func (e *Engine) spawnOne(log *zerolog.Logger) {
	s := e.cfg.Get()
	cat := e.currentCatalog()

	kind, ok := pickKind(cat, s.Weights, e.rng)
	if !ok {
		log.Debug().Msg("Catalog empty, nothing to spawn")
		return
	}

	win, err := e.loaders[kind].Display()
	if err != nil {
		log.Error().Err(err).Str("kind", kind.String()).Msg("Spawn failed")
		return
	}
	if win == nil {
		return
	}

	// A stop may have landed while the loader was decoding; tear the stray
	// popup down instead of registering it.
	if e.state.Suppressed() {
		if win.OnRemove != nil {
			win.OnRemove()
		}
		e.pool.Release(win.Surface)
		return
	}

	e.registry.Register(win, s.BounceEnabled, s.BounceChance, s.MaxWindows)
	e.registry.ScheduleRemoval(win, lifetime(kind, s.DurationScale))
	e.state.countDisplayed()
}

// lifetime returns the on-screen duration for a popup of the given kind.
func lifetime(kind catalog.Kind, scale float64) time.Duration {
	base := displayDurations[kind]
	if base == 0 {
		base = 8 * time.Second
	}
	if scale <= 0 {
		scale = 1
	}
	return time.Duration(float64(base) * scale)
}

// pickKind chooses a media kind weighted by the configured weights, limited
// to kinds with at least one catalog entry. All-zero weights over available
// kinds degrade to a uniform pick, never to "nothing".
func pickKind(cat *catalog.Catalog, w config.Weights, rng *rand.Rand) (catalog.Kind, bool) {
	type candidate struct {
		kind   catalog.Kind
		weight int
	}

	var cands []candidate
	total := 0
	for kind, weight := range map[catalog.Kind]int{
		catalog.KindImage: w.Image,
		catalog.KindGif:   w.Gif,
		catalog.KindVideo: w.Video,
	} {
		if cat.Count(kind) == 0 {
			continue
		}
		if weight < 0 {
			weight = 0
		}
		cands = append(cands, candidate{kind: kind, weight: weight})
		total += weight
	}
	if len(cands) == 0 {
		return 0, false
	}

	// Map iteration order is random; sort for a deterministic draw.
	sort.Slice(cands, func(i, j int) bool { return cands[i].kind < cands[j].kind })

	if total == 0 {
		return cands[rng.Intn(len(cands))].kind, true
	}

	n := rng.Intn(total)
	for _, c := range cands {
		if n < c.weight {
			return c.kind, true
		}
		n -= c.weight
	}
	return cands[len(cands)-1].kind, true
}

// pickMonitor selects a random spawn monitor, honoring the configured active
// set when it names valid indices.
func (e *Engine) pickMonitor() (surface.Monitor, bool) {
	e.mu.Lock()
	mons := e.monitors
	e.mu.Unlock()
	if len(mons) == 0 {
		return surface.Monitor{}, false
	}

	active := e.cfg.Get().ActiveMonitors
	if len(active) > 0 {
		var eligible []surface.Monitor
		for _, idx := range active {
			if idx >= 0 && idx < len(mons) {
				eligible = append(eligible, mons[idx])
			}
		}
		if len(eligible) > 0 {
			return eligible[e.rng.Intn(len(eligible))], true
		}
	}
	return mons[e.rng.Intn(len(mons))], true
}

func (e *Engine) currentCatalog() *catalog.Catalog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cat
}

// Running reports whether the scheduler is active.
func (e *Engine) Running() bool {
	return e.state.Running()
}

// Displayed returns the total popups shown since process start.
func (e *Engine) Displayed() int64 {
	return e.state.Displayed()
}

// WindowCount returns the number of currently live popups.
func (e *Engine) WindowCount() int {
	return e.registry.Count()
}

// CatalogCounts returns the per-kind entry counts of the current catalog.
func (e *Engine) CatalogCounts() map[string]int {
	cat := e.currentCatalog()
	return map[string]int{
		catalog.KindImage.String(): cat.Count(catalog.KindImage),
		catalog.KindGif.String():   cat.Count(catalog.KindGif),
		catalog.KindVideo.String(): cat.Count(catalog.KindVideo),
	}
}

// MonitorInfo returns the monitor layout as of the last Start, falling back
// to a live query before the first Start.
func (e *Engine) MonitorInfo() []surface.Monitor {
	e.mu.Lock()
	mons := e.monitors
	e.mu.Unlock()
	if len(mons) > 0 {
		return mons
	}

	live, err := e.backend.Monitors()
	if err != nil {
		return nil
	}
	return live
}

// ListArchives enumerates bundle files in the configured directory, marking
// the ones in the current selection. An empty selection means all selected.
func (e *Engine) ListArchives() ([]ArchiveInfo, error) {
	s := e.cfg.Get()

	entries, err := os.ReadDir(s.BundleDir)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool, len(s.SelectedArchives))
	for _, name := range s.SelectedArchives {
		selected[name] = true
	}

	var out []ArchiveInfo
	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") || !catalog.IsContainer(de.Name()) {
			continue
		}
		info, err := de.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, ArchiveInfo{
			Name:     de.Name(),
			Size:     size,
			Selected: len(selected) == 0 || selected[de.Name()],
		})
	}
	return out, nil
}
