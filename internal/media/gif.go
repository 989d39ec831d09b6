package media

import (
	"bytes"
	"image"
	"image/draw"
	"image/gif"
	"math/rand"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"

	"popupstorm/internal/catalog"
	"popupstorm/internal/logger"
	"popupstorm/internal/popup"
)

const (
	// gifFrameCap bounds decoded sequences; longer sources are sampled at a
	// stride so memory stays flat regardless of source length.
	gifFrameCap = 48

	gifCacheCap = 10

	gifMinDelay = 40 * time.Millisecond
	gifMaxDelay = 200 * time.Millisecond
)

// gifAsset is a decoded, composited frame sequence ready to play.
type gifAsset struct {
	frames []*image.RGBA
	delay  time.Duration
}

// GifLoader materializes animated GIF popups. Frame advancement runs
// cooperatively on the dispatcher: showing a frame schedules the next one
// with the computed delay. No extra OS thread per animation.
type GifLoader struct {
	deps    *Deps
	cache   *cache[*gifAsset]
	preload *preloader
	rng     *rand.Rand
}

// NewGifLoader creates a GIF loader with its own cache and preload worker.
func NewGifLoader(deps *Deps) *GifLoader {
	return &GifLoader{
		deps:    deps,
		cache:   newCache[*gifAsset](gifCacheCap),
		preload: newPreloader(1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Kind returns the media kind served by this loader.
func (l *GifLoader) Kind() catalog.Kind {
	return catalog.KindGif
}

// Close stops the preload worker.
func (l *GifLoader) Close() {
	l.preload.stop()
}

// Display decodes one random catalog GIF and shows it animating.
func (l *GifLoader) Display() (*popup.Window, error) {
	if l.deps.Suppressed() {
		return nil, nil
	}

	ref, ok := pickRef(l.deps, catalog.KindGif, l.rng)
	if !ok {
		return nil, nil
	}
	mon, ok := l.deps.PickMonitor()
	if !ok {
		return nil, nil
	}

	asset := l.decodeCached(ref)
	if asset == nil || len(asset.frames) == 0 {
		return nil, nil
	}

	// Pre-scale every frame to the popup size once, so the frame timer only
	// blits.
	first := asset.frames[0].Bounds()
	w, h := fitSize(first.Dx(), first.Dy(), mon, l.deps.ScalePct())
	scaled := make([]*image.RGBA, len(asset.frames))
	for i, f := range asset.frames {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), f, f.Bounds(), xdraw.Src, nil)
		scaled[i] = dst
	}

	win, err := showOn(l.deps, catalog.KindGif, mon, scaled[0], l.rng)
	if err != nil {
		logger.WithComponent("gif").Error().Err(err).Msg("Failed to show gif popup")
		return nil, nil
	}
	if win == nil {
		return nil, nil
	}

	l.animate(win, scaled, asset.delay)
	l.warmCache()
	return win, nil
}

// animate drives the frame sequence by rescheduling the next frame on the
// dispatcher after each one is shown. Removal flips the stop flag through
// OnRemove.
func (l *GifLoader) animate(win *popup.Window, frames []*image.RGBA, delay time.Duration) {
	var stopped atomic.Bool
	prev := win.OnRemove
	win.OnRemove = func() {
		stopped.Store(true)
		if prev != nil {
			prev()
		}
	}

	var advance func(idx int)
	advance = func(idx int) {
		if stopped.Load() || l.deps.Suppressed() || !win.Surface.Exists() {
			return
		}
		if err := win.Surface.SetImage(frames[idx]); err != nil {
			return
		}
		next := (idx + 1) % len(frames)
		l.deps.Dispatcher.PostDelayed(delay, func() { advance(next) })
	}

	l.deps.Dispatcher.PostDelayed(delay, func() { advance(1 % len(frames)) })
}

// decodeCached returns the decoded frame sequence, consulting the cache.
func (l *GifLoader) decodeCached(ref catalog.MediaReference) *gifAsset {
	key := ref.Key()
	if a, ok := l.cache.get(key); ok {
		return a
	}

	data, err := readRef(l.deps, ref)
	if err != nil {
		logger.WithComponent("gif").Warn().Err(err).Str("ref", key).Msg("Failed to read gif")
		return nil
	}

	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		logger.WithComponent("gif").Warn().Err(err).Str("ref", key).Msg("Failed to decode gif")
		return nil
	}

	asset := buildGifAsset(g)
	if asset == nil {
		return nil
	}
	l.cache.put(key, asset)
	return asset
}

// buildGifAsset composites the GIF into full frames, samples long sequences
// down to the frame cap (always keeping frame 0), and computes the playback
// delay as the clamped average of the source delays.
func buildGifAsset(g *gif.GIF) *gifAsset {
	if len(g.Image) == 0 {
		return nil
	}

	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}

	keep := sampleIndices(len(g.Image), gifFrameCap)
	keepSet := make(map[int]bool, len(keep))
	for _, i := range keep {
		keepSet[i] = true
	}

	// Frames are partial updates over the previous canvas; composite them
	// in order and copy out the sampled ones.
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	frames := make([]*image.RGBA, 0, len(keep))
	for i, src := range g.Image {
		draw.Draw(canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)
		if keepSet[i] {
			cp := image.NewRGBA(canvas.Bounds())
			copy(cp.Pix, canvas.Pix)
			frames = append(frames, cp)
		}
	}

	return &gifAsset{frames: frames, delay: averageDelay(g.Delay)}
}

// sampleIndices returns up to max frame indices out of n, evenly strided,
// always including index 0.
func sampleIndices(n, max int) []int {
	if n <= max {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}

	stride := (n + max - 1) / max
	out := make([]int, 0, max)
	for i := 0; i < n && len(out) < max; i += stride {
		out = append(out, i)
	}
	return out
}

// averageDelay converts GIF delays (hundredths of a second) to the mean
// inter-frame duration, clamped to a playable range.
func averageDelay(delays []int) time.Duration {
	if len(delays) == 0 {
		return gifMinDelay
	}
	total := 0
	for _, d := range delays {
		total += d
	}
	avg := time.Duration(total) * 10 * time.Millisecond / time.Duration(len(delays))
	if avg < gifMinDelay {
		return gifMinDelay
	}
	if avg > gifMaxDelay {
		return gifMaxDelay
	}
	return avg
}

// warmCache schedules background decodes of upcoming GIFs.
func (l *GifLoader) warmCache() {
	ref, ok := pickRef(l.deps, catalog.KindGif, l.rng)
	if !ok {
		return
	}
	if _, cached := l.cache.get(ref.Key()); cached {
		return
	}
	l.preload.enqueue(func() {
		if l.deps.Suppressed() {
			return
		}
		l.decodeCached(ref)
	})
}
