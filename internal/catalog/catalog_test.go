package catalog

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeZip creates a zip file at path containing the given entries.
func writeZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write zip file: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Kind
		ok   bool
	}{
		{"photo.PNG", KindImage, true},
		{"photo.jpeg", KindImage, true},
		{"anim.gif", KindGif, true},
		{"clip.mp4", KindVideo, true},
		{"clip.WEBM", KindVideo, true},
		{"notes.txt", 0, false},
		{"archive.zip", 0, false},
	}
	for _, tt := range tests {
		kind, ok := classify(tt.name)
		if ok != tt.ok {
			t.Errorf("classify(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && kind != tt.want {
			t.Errorf("classify(%q) = %v, want %v", tt.name, kind, tt.want)
		}
	}
}

func TestRefreshArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pngBytes := []byte("\x89PNG-not-a-real-image-but-exact-bytes-matter")
	zipPath := filepath.Join(dir, "bundle.pst")
	writeZip(t, zipPath, map[string][]byte{
		"pics/a.png":   pngBytes,
		"pics/b.gif":   []byte("GIF89a"),
		"clips/c.mp4":  []byte("mp4data"),
		"readme.txt":   []byte("ignored"),
		".hidden.png":  []byte("ignored"),
		"__MACOSX/x":   []byte("ignored"),
		"Thumbs.db":    []byte("ignored"),
		// macOS metadata trees carry real media extensions; they must still
		// be skipped even though the junk marker is only on the top segment.
		"__MACOSX/pics/a.png": []byte("ignored"),
		"__MACOSX/clip.mp4":   []byte("ignored"),
		"sub/":         nil,
		"desktop.ini":  []byte("ignored"),
		"deep/d.jpeg":  []byte("jpeg"),
		"deep/e.webm":  []byte("webm"),
		"deep/f.weird": []byte("ignored"),
	})

	cat := NewScanner(dir).Refresh(nil)

	if got := cat.Count(KindImage); got != 2 {
		t.Fatalf("image count = %d, want 2", got)
	}
	if got := cat.Count(KindGif); got != 1 {
		t.Fatalf("gif count = %d, want 1", got)
	}
	if got := cat.Count(KindVideo); got != 2 {
		t.Fatalf("video count = %d, want 2", got)
	}

	var ref MediaReference
	found := false
	for _, r := range cat.Refs(KindImage) {
		if r.Entry == "pics/a.png" {
			ref = r
			found = true
		}
	}
	if !found {
		t.Fatal("pics/a.png not classified under images")
	}
	if ref.Archive != zipPath {
		t.Errorf("archive path = %q, want %q", ref.Archive, zipPath)
	}

	data, err := ReadEntry(ref.Archive, ref.Entry)
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(data, pngBytes) {
		t.Error("ReadEntry returned different bytes than stored")
	}
}

func TestRefreshSelectedArchives(t *testing.T) {
	dir := t.TempDir()
	writeZip(t, filepath.Join(dir, "a.zip"), map[string][]byte{"x.png": {1}})
	writeZip(t, filepath.Join(dir, "b.zip"), map[string][]byte{"y.png": {2}})

	cat := NewScanner(dir).Refresh([]string{"a.zip"})
	if got := cat.Count(KindImage); got != 1 {
		t.Fatalf("image count = %d, want 1 (only a.zip selected)", got)
	}
	if cat.Refs(KindImage)[0].Entry != "x.png" {
		t.Errorf("unexpected entry %q", cat.Refs(KindImage)[0].Entry)
	}
}

func TestRefreshLooseFilesAndCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "loose.jpg"), []byte("jpg"), 0644); err != nil {
		t.Fatal(err)
	}
	// Not a zip at all; the scan must log and continue.
	if err := os.WriteFile(filepath.Join(dir, "broken.pst"), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	writeZip(t, filepath.Join(dir, "good.zip"), map[string][]byte{"ok.gif": []byte("GIF")})

	cat := NewScanner(dir).Refresh(nil)
	if got := cat.Count(KindImage); got != 1 {
		t.Errorf("image count = %d, want 1 loose file", got)
	}
	if got := cat.Count(KindGif); got != 1 {
		t.Errorf("gif count = %d, want 1 from good.zip", got)
	}
}

func TestPurgeArchive(t *testing.T) {
	dir := t.TempDir()
	zipA := filepath.Join(dir, "a.zip")
	zipB := filepath.Join(dir, "b.zip")
	writeZip(t, zipA, map[string][]byte{"a.png": {1}, "a.gif": {2}, "a.mp4": {3}})
	writeZip(t, zipB, map[string][]byte{"b.png": {4}})

	cat := NewScanner(dir).Refresh(nil)
	cat.PurgeArchive(zipA)

	if got := cat.Count(KindImage); got != 1 {
		t.Errorf("image count after purge = %d, want 1", got)
	}
	if got := cat.Count(KindGif); got != 0 {
		t.Errorf("gif count after purge = %d, want 0", got)
	}
	if got := cat.Count(KindVideo); got != 0 {
		t.Errorf("video count after purge = %d, want 0", got)
	}
	for _, r := range cat.Refs(KindImage) {
		if r.Archive == zipA {
			t.Errorf("purged archive still referenced: %v", r)
		}
	}
}

func TestTempDirExtractAndRemove(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "v.zip")
	payload := []byte("video-bytes")
	writeZip(t, zipPath, map[string][]byte{"clips/v.mp4": payload})

	td := NewTempDir()
	path, err := td.Extract(zipPath, "clips/v.mp4")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	defer td.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read extracted: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("extracted bytes differ from archive entry")
	}

	td.Remove(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("extracted file still present after Remove")
	}
	// Second Remove is a no-op.
	td.Remove(path)
}

func TestReadEntryBadArchive(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.zip")
	if err := os.WriteFile(bad, []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadEntry(bad, "whatever.png")
	if err == nil {
		t.Fatal("expected error for corrupt archive")
	}
	if !errors.Is(err, ErrBadArchive) {
		t.Errorf("error %v does not wrap ErrBadArchive", err)
	}
}
