package surface

import (
	"image"
	"sync"
	"testing"
)

// TestSurfaceConcurrentAccess hammers one surface from a painter, a mover, a
// geometry poller and a late destroyer at once, the same mix of goroutines
// the dispatcher and animation loop produce at runtime. Run with -race.
// The X11 backend joins in when a display is reachable.
func TestSurfaceConcurrentAccess(t *testing.T) {
	backends := []Backend{NewHeadlessBackend()}
	if x11, err := NewX11Backend(); err == nil {
		backends = append(backends, x11)
	}

	for _, backend := range backends {
		backend := backend
		t.Run(backend.Name(), func(t *testing.T) {
			defer backend.Close()

			s, err := backend.Create()
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := s.Show(); err != nil {
				t.Fatalf("Show: %v", err)
			}

			const iters = 200
			var wg sync.WaitGroup
			wg.Add(3)

			go func() {
				defer wg.Done()
				img := image.NewRGBA(image.Rect(0, 0, 32, 32))
				for i := 0; i < iters; i++ {
					s.SetImage(img)
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < iters; i++ {
					s.SetPosition(i, i*2)
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < iters; i++ {
					s.Geometry()
					s.Exists()
					if i == iters/2 {
						s.Clear()
						s.Destroy()
					}
				}
			}()

			wg.Wait()
			if s.Exists() {
				t.Error("surface still alive after Destroy")
			}
			// Calls on a destroyed surface are errors, never panics.
			if err := s.SetPosition(0, 0); err == nil {
				t.Error("SetPosition succeeded on a destroyed surface")
			}
		})
	}
}
