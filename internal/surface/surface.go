// Package surface abstracts the OS window surfaces popups are drawn on.
// The x11 backend drives real windows; the headless backend backs tests and
// displayless development.
package surface

import (
	"fmt"
	"image"
)

// Geometry represents window geometry
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Monitor is one physical screen, snapshotted at engine start.
type Monitor struct {
	Index  int `json:"index"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bounds returns the monitor's rectangle as a Geometry.
func (m Monitor) Bounds() Geometry {
	return Geometry{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height}
}

// Label returns a human-readable name for UI monitor pickers.
func (m Monitor) Label() string {
	return fmt.Sprintf("Monitor %d (%dx%d at %d,%d)", m.Index+1, m.Width, m.Height, m.X, m.Y)
}

// Surface is one borderless popup window surface. Mutations are serialized
// by the popup dispatcher, but Geometry and Exists are polled from the
// animation loop concurrently with them, so implementations must guard their
// own state.
type Surface interface {
	// SetImage paints the image and resizes the surface to its bounds
	SetImage(img *image.RGBA) error

	// SetPosition moves the surface to desktop coordinates
	SetPosition(x, y int) error

	// Geometry returns the current geometry
	Geometry() Geometry

	// Show maps the surface
	Show() error

	// Hide unmaps the surface
	Hide() error

	// Clear detaches displayed content while keeping the surface alive
	Clear()

	// Destroy releases the OS window
	Destroy() error

	// Exists reports whether the OS window is still alive
	Exists() bool
}

// Backend creates surfaces and reports monitor layout.
type Backend interface {
	// Name returns a human-readable backend name
	Name() string

	// Create returns a new hidden, borderless, always-on-top surface
	Create() (Surface, error)

	// Monitors returns the current monitor layout
	Monitors() ([]Monitor, error)

	// Close releases the backend connection
	Close() error
}
