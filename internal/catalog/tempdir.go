package catalog

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"popupstorm/internal/logger"
)

// TempDir manages extraction of archive entries to real file-system paths.
// Video decoding cannot run against bytes inside a zip container, so those
// entries are copied out here and deleted once their popup is removed.
type TempDir struct {
	root string
	mu   sync.Mutex
	live map[string]struct{}
}

// NewTempDir creates a process-scoped extraction directory under the OS temp
// root.
func NewTempDir() *TempDir {
	return &TempDir{
		root: filepath.Join(os.TempDir(), "popupstorm"),
		live: make(map[string]struct{}),
	}
}

// Sweep removes every file left over from previous sessions. Called on
// engine start.
func (t *TempDir) Sweep() {
	log := logger.WithComponent("tempdir")

	entries, err := os.ReadDir(t.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", t.root).Msg("Temp sweep failed")
		}
		return
	}

	removed := 0
	for _, de := range entries {
		if err := os.RemoveAll(filepath.Join(t.root, de.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", t.root).Msg("Swept stale temp files")
	}
}

// Extract copies one archive entry into the temp directory and returns its
// path. A failure to open the archive is wrapped as ErrBadArchive.
func (t *TempDir) Extract(archivePath, entryName string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", errors.Join(ErrBadArchive, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != entryName {
			continue
		}
		return t.writeEntry(f)
	}
	return "", fmt.Errorf("entry %q not found in %s", entryName, archivePath)
}

func (t *TempDir) writeEntry(f *zip.File) (string, error) {
	if err := os.MkdirAll(t.root, 0755); err != nil {
		return "", err
	}

	// Random prefix keeps concurrent extractions of the same entry apart.
	name := uuid.NewString()[:8] + "_" + sanitize(filepath.Base(f.Name))
	dest := filepath.Join(t.root, name)

	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", err
	}

	t.mu.Lock()
	t.live[dest] = struct{}{}
	t.mu.Unlock()
	return dest, nil
}

// Remove deletes one extracted file. Safe to call with paths already gone.
func (t *TempDir) Remove(path string) {
	if path == "" {
		return
	}
	t.mu.Lock()
	delete(t.live, path)
	t.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithComponent("tempdir").Warn().Err(err).Str("path", path).Msg("Failed to delete temp file")
	}
}

// RemoveAll deletes every extraction still tracked. Used as a best-effort
// backstop during panic teardown.
func (t *TempDir) RemoveAll() {
	t.mu.Lock()
	paths := make([]string, 0, len(t.live))
	for p := range t.live {
		paths = append(paths, p)
	}
	t.live = make(map[string]struct{})
	t.mu.Unlock()

	for _, p := range paths {
		os.Remove(p)
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
