package surface

import (
	"fmt"
	"image"
	"sync"
)

// HeadlessBackend is an in-memory backend used by tests and for running the
// engine on machines without a display.
type HeadlessBackend struct {
	monitors []Monitor

	mu      sync.Mutex
	created int
	alive   int
}

// NewHeadlessBackend returns a backend with the given monitor layout. With no
// monitors given, a single 1920x1080 screen is assumed.
func NewHeadlessBackend(monitors ...Monitor) *HeadlessBackend {
	if len(monitors) == 0 {
		monitors = []Monitor{{Index: 0, Width: 1920, Height: 1080}}
	}
	return &HeadlessBackend{monitors: monitors}
}

// Name returns the backend name
func (b *HeadlessBackend) Name() string {
	return "headless"
}

// Monitors returns the configured layout.
func (b *HeadlessBackend) Monitors() ([]Monitor, error) {
	out := make([]Monitor, len(b.monitors))
	copy(out, b.monitors)
	return out, nil
}

// Create returns a new in-memory surface.
func (b *HeadlessBackend) Create() (Surface, error) {
	b.mu.Lock()
	b.created++
	b.alive++
	b.mu.Unlock()
	return &headlessSurface{backend: b, exists: true}, nil
}

// Close is a no-op.
func (b *HeadlessBackend) Close() error {
	return nil
}

// Created returns the total number of surfaces ever created.
func (b *HeadlessBackend) Created() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created
}

// Alive returns the number of surfaces not yet destroyed.
func (b *HeadlessBackend) Alive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}

type headlessSurface struct {
	backend *HeadlessBackend

	mu      sync.Mutex
	geom    Geometry
	img     *image.RGBA
	visible bool
	exists  bool
}

func (s *headlessSurface) SetImage(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return fmt.Errorf("surface destroyed")
	}
	s.img = img
	s.geom.Width = img.Bounds().Dx()
	s.geom.Height = img.Bounds().Dy()
	return nil
}

func (s *headlessSurface) SetPosition(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return fmt.Errorf("surface destroyed")
	}
	s.geom.X = x
	s.geom.Y = y
	return nil
}

func (s *headlessSurface) Geometry() Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geom
}

func (s *headlessSurface) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return fmt.Errorf("surface destroyed")
	}
	s.visible = true
	return nil
}

func (s *headlessSurface) Hide() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = false
	return nil
}

func (s *headlessSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
}

func (s *headlessSurface) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return nil
	}
	s.exists = false
	s.backend.mu.Lock()
	s.backend.alive--
	s.backend.mu.Unlock()
	return nil
}

func (s *headlessSurface) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists
}
