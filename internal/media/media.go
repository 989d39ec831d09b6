// Package media holds the three popup loaders. Each decodes raw bytes from
// disk or from inside a zip bundle into a displayable popup, maintains its
// own bounded cache, and preloads in the background.
package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"os"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"popupstorm/internal/catalog"
	"popupstorm/internal/popup"
	"popupstorm/internal/surface"
)

// Deps bundles the collaborators every loader needs. Suppressed is checked
// at the top of every spawn path so no window is created after a stop has
// been requested, even when loader calls race the shutdown.
type Deps struct {
	Catalog      func() *catalog.Catalog
	Pool         *popup.Pool
	Dispatcher   *popup.Dispatcher
	Temp         *catalog.TempDir
	Suppressed   func() bool
	PickMonitor  func() (surface.Monitor, bool)
	ScalePct     func() int
	OnBadArchive func(archivePath string)
}

// Loader materializes one popup of its kind. A nil window with nil error is
// the normal miss outcome: empty catalog, engine stopping, or a decode
// failure that was already logged.
type Loader interface {
	Kind() catalog.Kind
	Display() (*popup.Window, error)
}

// readRef returns the raw bytes for a reference, reporting bad archives to
// the catalog purge hook.
func readRef(d *Deps, ref catalog.MediaReference) ([]byte, error) {
	if ref.InArchive() {
		data, err := catalog.ReadEntry(ref.Archive, ref.Entry)
		if err != nil {
			if errors.Is(err, catalog.ErrBadArchive) && d.OnBadArchive != nil {
				d.OnBadArchive(ref.Archive)
			}
			return nil, err
		}
		return data, nil
	}
	return os.ReadFile(ref.Path)
}

// pickRef selects a random reference of the given kind, or false when the
// bucket is empty.
func pickRef(d *Deps, kind catalog.Kind, rng *rand.Rand) (catalog.MediaReference, bool) {
	cat := d.Catalog()
	if cat == nil {
		return catalog.MediaReference{}, false
	}
	refs := cat.Refs(kind)
	if len(refs) == 0 {
		return catalog.MediaReference{}, false
	}
	return refs[rng.Intn(len(refs))], true
}

// minRenderSize is the floor for popup dimensions so tiny sources stay
// clickable.
const minRenderSize = 64

// fitSize scales (w,h) to fit within the monitor-derived max bounds, applies
// the user scale percent, and enforces the minimum render size.
func fitSize(w, h int, mon surface.Monitor, scalePct int) (int, int) {
	if w < 1 || h < 1 {
		return minRenderSize, minRenderSize
	}

	// Popups cap out at roughly half the owning monitor.
	maxW := mon.Width / 2
	maxH := mon.Height / 2
	if maxW < minRenderSize {
		maxW = minRenderSize
	}
	if maxH < minRenderSize {
		maxH = minRenderSize
	}

	scale := 1.0
	if w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if s := float64(maxH) / float64(h); h > maxH && s < scale {
		scale = s
	}
	scale *= float64(scalePct) / 100.0

	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < minRenderSize {
		nw = minRenderSize
	}
	if nh < minRenderSize {
		nh = minRenderSize
	}
	return nw, nh
}

// renderImage composites src onto a light background (flattening any alpha)
// and scales it to the target popup size.
func renderImage(src image.Image, mon surface.Monitor, scalePct int) *image.RGBA {
	b := src.Bounds()
	w, h := fitSize(b.Dx(), b.Dy(), mon, scalePct)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.RGBA{R: 0xf2, G: 0xf2, B: 0xf2, A: 0xff}}, image.Point{}, draw.Src)
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// randomPosition picks a spawn position for a popup of the given size on the
// monitor, keeping it fully on-screen where possible.
func randomPosition(mon surface.Monitor, w, h int, rng *rand.Rand) (int, int) {
	rangeX := mon.Width - w
	rangeY := mon.Height - h
	if rangeX < 1 {
		rangeX = 1
	}
	if rangeY < 1 {
		rangeY = 1
	}
	return mon.X + rng.Intn(rangeX), mon.Y + rng.Intn(rangeY)
}

// showOn paints img on a fresh pooled surface, positions it randomly on the
// monitor, and maps it. All surface calls run on the dispatcher.
func showOn(d *Deps, kind catalog.Kind, mon surface.Monitor, img *image.RGBA, rng *rand.Rand) (*popup.Window, error) {
	s, err := d.Pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire window surface: %w", err)
	}

	// A stop may have landed while we were decoding; discard rather than
	// show a post-shutdown popup.
	if d.Suppressed() {
		d.Pool.Release(s)
		return nil, nil
	}

	w := popup.NewWindow(s, kind, mon)
	x, y := randomPosition(mon, img.Bounds().Dx(), img.Bounds().Dy(), rng)

	var showErr error
	d.Dispatcher.Sync(func() {
		if err := s.SetImage(img); err != nil {
			showErr = err
			return
		}
		if err := s.SetPosition(x, y); err != nil {
			showErr = err
			return
		}
		showErr = s.Show()
	})
	if showErr != nil {
		d.Pool.Release(s)
		return nil, showErr
	}
	return w, nil
}

// cache is a bounded decoded-asset map. Eviction picks a random victim
// instead of tracking recency; at these capacities the bookkeeping of a
// strict LRU costs more than the occasional refetch.
type cache[T any] struct {
	mu    sync.Mutex
	cap   int
	items map[string]T
	rng   *rand.Rand
}

func newCache[T any](capacity int) *cache[T] {
	return &cache[T]{
		cap:   capacity,
		items: make(map[string]T),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *cache[T]) get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *cache[T]) put(key string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok && len(c.items) >= c.cap {
		n := c.rng.Intn(len(c.items))
		for k := range c.items {
			if n == 0 {
				delete(c.items, k)
				break
			}
			n--
		}
	}
	c.items[key] = v
}

func (c *cache[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
