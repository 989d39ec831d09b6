package media

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"popupstorm/internal/catalog"
	"popupstorm/internal/logger"
	"popupstorm/internal/popup"
)

const (
	imageCacheCap   = 20
	imagePreloadLen = 5
)

// ImageLoader materializes still-image popups.
type ImageLoader struct {
	deps    *Deps
	cache   *cache[image.Image]
	preload *preloader
	rng     *rand.Rand
}

// NewImageLoader creates an image loader with its own cache and preload
// workers.
func NewImageLoader(deps *Deps) *ImageLoader {
	return &ImageLoader{
		deps:    deps,
		cache:   newCache[image.Image](imageCacheCap),
		preload: newPreloader(2),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Kind returns the media kind served by this loader.
func (l *ImageLoader) Kind() catalog.Kind {
	return catalog.KindImage
}

// Close stops the preload workers.
func (l *ImageLoader) Close() {
	l.preload.stop()
}

// Display decodes one random catalog image and shows it as a popup. Returns
// (nil, nil) when there is nothing to do.
func (l *ImageLoader) Display() (*popup.Window, error) {
	if l.deps.Suppressed() {
		return nil, nil
	}

	ref, ok := pickRef(l.deps, catalog.KindImage, l.rng)
	if !ok {
		return nil, nil
	}
	mon, ok := l.deps.PickMonitor()
	if !ok {
		return nil, nil
	}

	src := l.decodeCached(ref)
	if src == nil {
		return nil, nil
	}

	img := renderImage(src, mon, l.deps.ScalePct())
	w, err := showOn(l.deps, catalog.KindImage, mon, img, l.rng)
	if err != nil {
		logger.WithComponent("image").Error().Err(err).Msg("Failed to show image popup")
		return nil, nil
	}

	l.warmCache()
	return w, nil
}

// decodeCached returns the decoded source image, consulting the cache first.
// Decode failures are logged and yield nil.
func (l *ImageLoader) decodeCached(ref catalog.MediaReference) image.Image {
	key := ref.Key()
	if img, ok := l.cache.get(key); ok {
		return img
	}

	data, err := readRef(l.deps, ref)
	if err != nil {
		logger.WithComponent("image").Warn().Err(err).Str("ref", key).Msg("Failed to read image")
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.WithComponent("image").Warn().Err(err).Str("ref", key).Msg("Failed to decode image")
		return nil
	}

	l.cache.put(key, img)
	return img
}

// warmCache schedules background decodes for a few random upcoming images.
func (l *ImageLoader) warmCache() {
	for i := 0; i < imagePreloadLen; i++ {
		ref, ok := pickRef(l.deps, catalog.KindImage, l.rng)
		if !ok {
			return
		}
		if _, cached := l.cache.get(ref.Key()); cached {
			continue
		}
		l.preload.enqueue(func() {
			if l.deps.Suppressed() {
				return
			}
			l.decodeCached(ref)
		})
	}
}
