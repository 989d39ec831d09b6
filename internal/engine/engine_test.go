package engine

import (
	"bytes"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"popupstorm/internal/catalog"
	"popupstorm/internal/config"
	"popupstorm/internal/surface"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 50, 50))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T, bundleDir string) *config.Manager {
	t.Helper()
	m, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}
	s := m.Get()
	s.BundleDir = bundleDir
	s.IntervalSeconds = 0.1
	s.MaxWindows = 5
	s.BounceEnabled = false
	if err := m.Update(s); err != nil {
		t.Fatalf("update config: %v", err)
	}
	return m
}

func newTestEngine(t *testing.T, bundleDir string, monitors ...surface.Monitor) *Engine {
	t.Helper()
	e := New(testConfig(t, bundleDir), surface.NewHeadlessBackend(monitors...))
	t.Cleanup(e.Close)
	return e
}

func scanDir(t *testing.T, dir string) *catalog.Catalog {
	t.Helper()
	return catalog.NewScanner(dir).Refresh(nil)
}

func TestPickKindRespectsWeights(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "b.gif"))
	touch(t, filepath.Join(dir, "c.mp4"))
	cat := scanDir(t, dir)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		kind, ok := pickKind(cat, config.Weights{Image: 60, Gif: 0, Video: 0}, rng)
		if !ok {
			t.Fatal("pickKind found nothing with a populated catalog")
		}
		if kind != catalog.KindImage {
			t.Fatalf("draw %d picked %v with weights {60,0,0}", i, kind)
		}
	}
}

func TestPickKindUniformFallbackOnZeroWeights(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	touch(t, filepath.Join(dir, "b.gif"))
	cat := scanDir(t, dir)

	rng := rand.New(rand.NewSource(2))
	seen := map[catalog.Kind]int{}
	for i := 0; i < 1000; i++ {
		kind, ok := pickKind(cat, config.Weights{}, rng)
		if !ok {
			t.Fatal("all-zero weights must fall back to uniform, not to nothing")
		}
		seen[kind]++
	}
	if seen[catalog.KindImage] == 0 || seen[catalog.KindGif] == 0 {
		t.Errorf("uniform fallback never picked one of the kinds: %v", seen)
	}
	if seen[catalog.KindVideo] != 0 {
		t.Errorf("picked a kind with no catalog entries %d times", seen[catalog.KindVideo])
	}
}

func TestPickKindSkipsEmptyBuckets(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.png"))
	cat := scanDir(t, dir)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		// All configured weight sits on a kind with no entries; the pick must
		// still land on something available.
		kind, ok := pickKind(cat, config.Weights{Image: 0, Gif: 0, Video: 100}, rng)
		if !ok || kind != catalog.KindImage {
			t.Fatalf("pick = (%v,%v), want the only available kind", kind, ok)
		}
	}
}

func TestPickKindEmptyCatalog(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	if _, ok := pickKind(&catalog.Catalog{}, config.Weights{Image: 60}, rng); ok {
		t.Error("pickKind reported a kind for an empty catalog")
	}
}

func TestLifetime(t *testing.T) {
	if got := lifetime(catalog.KindImage, 1); got != 8*time.Second {
		t.Errorf("image lifetime = %v, want 8s", got)
	}
	if got := lifetime(catalog.KindVideo, 0.5); got != 10*time.Second {
		t.Errorf("scaled video lifetime = %v, want 10s", got)
	}
	if got := lifetime(catalog.KindGif, 0); got != 12*time.Second {
		t.Errorf("zero scale must behave as 1, got %v", got)
	}
}

func TestStartStopLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "pic.png"))

	e := newTestEngine(t, dir)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !e.Running() {
		t.Fatal("engine not running after Start")
	}

	deadline := time.Now().Add(3 * time.Second)
	for e.Displayed() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if e.Displayed() == 0 {
		t.Fatal("no popup displayed within deadline")
	}

	e.Stop()
	if e.Running() {
		t.Error("engine still running after Stop")
	}
	if n := e.WindowCount(); n != 0 {
		t.Errorf("%d windows left after Stop, want 0", n)
	}

	// Restart must come up clean with a freshly built catalog.
	if err := e.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if counts := e.CatalogCounts(); counts["image"] != 1 {
		t.Errorf("restarted catalog counts = %v, want 1 image", counts)
	}
	e.Stop()
}

func TestStartIdempotent(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	e.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	e.Stop()
	e.Stop()
	if e.Running() {
		t.Error("engine reports running after Stop without Start")
	}
}

func TestPickMonitorHonorsActiveSet(t *testing.T) {
	mons := []surface.Monitor{
		{Index: 0, Width: 1920, Height: 1080},
		{Index: 1, X: 1920, Width: 1280, Height: 720},
	}
	e := newTestEngine(t, t.TempDir(), mons...)

	s := e.cfg.Get()
	s.ActiveMonitors = []int{1}
	if err := e.cfg.Update(s); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	for i := 0; i < 50; i++ {
		mon, ok := e.pickMonitor()
		if !ok || mon.Index != 1 {
			t.Fatalf("pickMonitor = (%+v,%v), want monitor 1", mon, ok)
		}
	}
}

func TestPickMonitorIgnoresInvalidActiveSet(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	s := e.cfg.Get()
	s.ActiveMonitors = []int{7}
	if err := e.cfg.Update(s); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if _, ok := e.pickMonitor(); !ok {
		t.Error("invalid active set must fall back to all monitors, got none")
	}
}

func TestListArchives(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "alpha.pst"))
	touch(t, filepath.Join(dir, "beta.zip"))
	touch(t, filepath.Join(dir, "notes.txt"))

	e := newTestEngine(t, dir)
	s := e.cfg.Get()
	s.SelectedArchives = []string{"alpha.pst"}
	if err := e.cfg.Update(s); err != nil {
		t.Fatal(err)
	}

	archives, err := e.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(archives) != 2 {
		t.Fatalf("listed %d archives, want 2", len(archives))
	}
	byName := map[string]ArchiveInfo{}
	for _, a := range archives {
		byName[a.Name] = a
	}
	if !byName["alpha.pst"].Selected || byName["beta.zip"].Selected {
		t.Errorf("selection flags wrong: %+v", archives)
	}
}
