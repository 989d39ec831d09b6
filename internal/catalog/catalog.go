package catalog

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"popupstorm/internal/logger"
)

// ErrBadArchive marks an archive that failed while one of its entries was
// being consumed. The catalog purges every entry of such an archive so the
// scheduler stops retrying it until the next explicit refresh.
var ErrBadArchive = errors.New("bad archive")

// Kind classifies a media reference.
type Kind int

const (
	KindImage Kind = iota
	KindGif
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindGif:
		return "gif"
	case KindVideo:
		return "video"
	}
	return "unknown"
}

// MediaReference points at one playable media item: either a loose file
// (Archive empty) or a named entry inside a zip bundle. Immutable once
// produced by a scan.
type MediaReference struct {
	Kind    Kind
	Path    string // loose file path, empty for archive entries
	Archive string // bundle path, empty for loose files
	Entry   string // entry name within the bundle
}

// InArchive reports whether the reference points inside a bundle.
func (r MediaReference) InArchive() bool {
	return r.Archive != ""
}

// Key returns the cache/equality key for the reference.
func (r MediaReference) Key() string {
	if r.InArchive() {
		return r.Archive + ":" + r.Entry
	}
	return r.Path
}

// Catalog is the in-memory index of spawnable media references, one bucket
// per kind. It is rebuilt wholesale on refresh and never mutated in place by
// consumers; PurgeArchive is the single exception, invoked when an archive
// goes bad mid-session.
type Catalog struct {
	mu     sync.RWMutex
	images []MediaReference
	gifs   []MediaReference
	videos []MediaReference
}

// Refs returns the bucket for the given kind. The returned slice must not be
// mutated by the caller.
func (c *Catalog) Refs(kind Kind) []MediaReference {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch kind {
	case KindImage:
		return c.images
	case KindGif:
		return c.gifs
	case KindVideo:
		return c.videos
	}
	return nil
}

// Count returns the number of entries for the given kind.
func (c *Catalog) Count(kind Kind) int {
	return len(c.Refs(kind))
}

// PurgeArchive drops every entry contributed by the given archive.
func (c *Catalog) PurgeArchive(archivePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := func(refs []MediaReference) []MediaReference {
		kept := refs[:0]
		for _, r := range refs {
			if r.Archive != archivePath {
				kept = append(kept, r)
			}
		}
		return kept
	}
	before := len(c.images) + len(c.gifs) + len(c.videos)
	c.images = drop(c.images)
	c.gifs = drop(c.gifs)
	c.videos = drop(c.videos)

	logger.WithComponent("catalog").Warn().
		Str("archive", archivePath).
		Int("purged", before-len(c.images)-len(c.gifs)-len(c.videos)).
		Msg("Purged entries of bad archive")
}

func (c *Catalog) add(ref MediaReference) {
	switch ref.Kind {
	case KindImage:
		c.images = append(c.images, ref)
	case KindGif:
		c.gifs = append(c.gifs, ref)
	case KindVideo:
		c.videos = append(c.videos, ref)
	}
}

// Container extensions recognized as zip-format bundles. A .pst file is a
// renamed/recompressed .zip; both parse as standard zip archives.
var containerExts = map[string]bool{
	".pst": true,
	".zip": true,
}

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".webp": true,
}

var videoExts = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mkv":  true,
	".mov":  true,
	".webm": true,
	".wmv":  true,
}

// classify maps a file name to a media kind, returning false for anything
// unrecognized.
func classify(name string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".gif":
		return KindGif, true
	case imageExts[ext]:
		return KindImage, true
	case videoExts[ext]:
		return KindVideo, true
	}
	return 0, false
}

// IsContainer reports whether the file name carries a recognized bundle
// extension.
func IsContainer(name string) bool {
	return containerExts[strings.ToLower(filepath.Ext(name))]
}

// Scanner builds catalogs from a bundle directory.
type Scanner struct {
	bundleDir string
}

// NewScanner creates a scanner rooted at the given bundle directory.
func NewScanner(bundleDir string) *Scanner {
	return &Scanner{bundleDir: bundleDir}
}

// Refresh walks the bundle directory and builds a fresh catalog. Archives in
// the selected set contribute their entries; loose media files always
// contribute. When selected is empty, every archive contributes. A corrupt
// archive is logged and skipped without aborting the scan.
func (s *Scanner) Refresh(selected []string) *Catalog {
	log := logger.WithComponent("catalog")
	cat := &Catalog{}

	selectedSet := make(map[string]bool, len(selected))
	for _, name := range selected {
		selectedSet[name] = true
	}

	entries, err := os.ReadDir(s.bundleDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", s.bundleDir).Msg("Bundle directory unreadable")
		return cat
	}

	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		path := filepath.Join(s.bundleDir, de.Name())

		if IsContainer(de.Name()) {
			if len(selectedSet) > 0 && !selectedSet[de.Name()] {
				continue
			}
			if err := s.scanArchive(cat, path); err != nil {
				log.Warn().Err(err).Str("archive", path).Msg("Skipping unreadable archive")
			}
			continue
		}

		if kind, ok := classify(de.Name()); ok {
			cat.add(MediaReference{Kind: kind, Path: path})
		}
	}

	log.Info().
		Int("images", cat.Count(KindImage)).
		Int("gifs", cat.Count(KindGif)).
		Int("videos", cat.Count(KindVideo)).
		Msg("Catalog refreshed")
	return cat
}

func (s *Scanner) scanArchive(cat *Catalog, path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(f.Name)
		if strings.HasPrefix(base, ".") || strings.HasPrefix(f.Name, "__MACOSX/") ||
			strings.EqualFold(base, "thumbs.db") || strings.EqualFold(base, "desktop.ini") {
			continue
		}
		if kind, ok := classify(f.Name); ok {
			cat.add(MediaReference{Kind: kind, Archive: path, Entry: f.Name})
		}
	}
	return nil
}

// ReadEntry returns the raw bytes of one archive entry. A failure to open the
// archive itself is wrapped as ErrBadArchive so callers can purge it.
func ReadEntry(archivePath, entryName string) ([]byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Join(ErrBadArchive, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != entryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, os.ErrNotExist
}
