package surface

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"

	"popupstorm/internal/logger"
)

// X11Backend creates popup surfaces on an X display.
type X11Backend struct {
	conn         *xgb.Conn
	screen       *xproto.ScreenInfo
	xineramaOK   bool
	atomCache    map[string]xproto.Atom
	atomCacheMu  sync.Mutex
	connMu       sync.Mutex
}

// NewX11Backend connects to the X server.
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	b := &X11Backend{
		conn:      conn,
		screen:    screen,
		atomCache: make(map[string]xproto.Atom),
	}

	if err := xinerama.Init(conn); err != nil {
		logger.WithComponent("x11").Warn().
			Err(err).
			Msg("Xinerama unavailable, falling back to single-monitor layout")
	} else {
		b.xineramaOK = true
	}

	return b, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "X11"
}

// Close closes the X connection.
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Monitors returns the Xinerama screen layout, or the root screen as a
// single monitor when Xinerama is not active.
func (b *X11Backend) Monitors() ([]Monitor, error) {
	if b.xineramaOK {
		reply, err := xinerama.QueryScreens(b.conn).Reply()
		if err == nil && len(reply.ScreenInfo) > 0 {
			monitors := make([]Monitor, 0, len(reply.ScreenInfo))
			for i, si := range reply.ScreenInfo {
				monitors = append(monitors, Monitor{
					Index:  i,
					X:      int(si.XOrg),
					Y:      int(si.YOrg),
					Width:  int(si.Width),
					Height: int(si.Height),
				})
			}
			return monitors, nil
		}
		if err != nil {
			logger.WithComponent("x11").Warn().Err(err).Msg("Xinerama query failed")
		}
	}

	return []Monitor{{
		Index:  0,
		Width:  int(b.screen.WidthInPixels),
		Height: int(b.screen.HeightInPixels),
	}}, nil
}

// Create builds a hidden, borderless, always-on-top, taskbar-hidden window.
func (b *X11Backend) Create() (Surface, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	windowID, err := xproto.NewWindowId(b.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create window ID: %w", err)
	}

	// Override-redirect keeps the window manager from decorating or
	// focusing the popup.
	mask := uint32(xproto.CwBackPixel | xproto.CwOverrideRedirect | xproto.CwEventMask)
	values := []uint32{
		0xfafafa,
		1,
		xproto.EventMaskExposure,
	}

	err = xproto.CreateWindowChecked(
		b.conn,
		b.screen.RootDepth,
		windowID,
		b.screen.Root,
		0, 0,
		1, 1,
		0,
		xproto.WindowClassInputOutput,
		b.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	s := &x11Surface{backend: b, window: windowID, alive: true, geom: Geometry{Width: 1, Height: 1}}

	if err := s.setHints(); err != nil {
		logger.WithComponent("x11").Warn().Err(err).Msg("Failed to set window hints")
	}

	gc, err := xproto.NewGcontextId(b.conn)
	if err != nil {
		xproto.DestroyWindow(b.conn, windowID)
		return nil, fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(b.conn, gc, xproto.Drawable(windowID), 0, nil).Check(); err != nil {
		xproto.DestroyWindow(b.conn, windowID)
		return nil, fmt.Errorf("failed to create GC: %w", err)
	}
	s.gc = gc

	b.conn.Sync()
	return s, nil
}

// getAtom gets an atom ID by name, caching lookups.
func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	b.atomCacheMu.Lock()
	if atom, ok := b.atomCache[name]; ok {
		b.atomCacheMu.Unlock()
		return atom, nil
	}
	b.atomCacheMu.Unlock()

	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}

	b.atomCacheMu.Lock()
	b.atomCache[name] = reply.Atom
	b.atomCacheMu.Unlock()
	return reply.Atom, nil
}

// x11Surface is one popup window on the X display. mu guards the surface
// state; the animation loop reads geometry while the dispatcher repaints and
// moves, and teardown can land from either side. Always taken before the
// backend's connMu.
type x11Surface struct {
	backend *X11Backend
	window  xproto.Window
	gc      xproto.Gcontext

	mu    sync.Mutex
	geom  Geometry
	img   *image.RGBA
	alive bool
}

// setHints marks the window always-on-top, hidden from taskbar and task
// switcher, and slightly transparent.
func (s *x11Surface) setHints() error {
	b := s.backend

	wmState, err := b.getAtom("_NET_WM_STATE")
	if err != nil {
		return err
	}
	above, _ := b.getAtom("_NET_WM_STATE_ABOVE")
	skipTaskbar, _ := b.getAtom("_NET_WM_STATE_SKIP_TASKBAR")
	skipPager, _ := b.getAtom("_NET_WM_STATE_SKIP_PAGER")

	states := []xproto.Atom{above, skipTaskbar, skipPager}
	data := make([]byte, 4*len(states))
	for i, a := range states {
		xgb.Put32(data[i*4:], uint32(a))
	}
	if err := xproto.ChangePropertyChecked(
		b.conn, xproto.PropModeReplace, s.window,
		wmState, xproto.AtomAtom, 32, uint32(len(states)), data,
	).Check(); err != nil {
		return err
	}

	windowType, err := b.getAtom("_NET_WM_WINDOW_TYPE")
	if err == nil {
		utility, _ := b.getAtom("_NET_WM_WINDOW_TYPE_UTILITY")
		typeData := make([]byte, 4)
		xgb.Put32(typeData, uint32(utility))
		xproto.ChangeProperty(
			b.conn, xproto.PropModeReplace, s.window,
			windowType, xproto.AtomAtom, 32, 1, typeData,
		)
	}

	// ~94% opacity, matching the original's slightly-transparent popups.
	opacityAtom, err := b.getAtom("_NET_WM_WINDOW_OPACITY")
	if err == nil {
		full := float64(0xffffffff)
		opacity := uint32(full * 0.94)
		opData := make([]byte, 4)
		xgb.Put32(opData, opacity)
		xproto.ChangeProperty(
			b.conn, xproto.PropModeReplace, s.window,
			opacityAtom, xproto.AtomCardinal, 32, 1, opData,
		)
	}

	return nil
}

// SetImage paints the image and resizes the window to match.
func (s *x11Surface) SetImage(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return fmt.Errorf("surface destroyed")
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	s.backend.connMu.Lock()
	defer s.backend.connMu.Unlock()

	if w != s.geom.Width || h != s.geom.Height {
		if err := xproto.ConfigureWindowChecked(
			s.backend.conn, s.window,
			xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
			[]uint32{uint32(w), uint32(h)},
		).Check(); err != nil {
			return fmt.Errorf("failed to resize window: %w", err)
		}
		s.geom.Width = w
		s.geom.Height = h
	}

	s.img = img
	return s.putImage(img)
}

// putImage converts RGBA rows to the server's BGRx layout and uploads them.
// Uploads are chunked because PutImage requests have a hard size limit.
func (s *x11Surface) putImage(img *image.RGBA) error {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	depth := s.backend.screen.RootDepth

	stride := w * 4
	// Keep each request comfortably under the X11 request length cap.
	maxRows := (1 << 16) / stride
	if maxRows < 1 {
		maxRows = 1
	}

	for y := 0; y < h; y += maxRows {
		rows := maxRows
		if y+rows > h {
			rows = h - y
		}

		data := make([]byte, stride*rows)
		for ry := 0; ry < rows; ry++ {
			srcRow := (y + ry) * img.Stride
			dstRow := ry * stride
			for x := 0; x < w; x++ {
				si := srcRow + x*4
				di := dstRow + x*4
				data[di] = img.Pix[si+2]   // B
				data[di+1] = img.Pix[si+1] // G
				data[di+2] = img.Pix[si]   // R
				data[di+3] = 0
			}
		}

		if err := xproto.PutImageChecked(
			s.backend.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(s.window),
			s.gc,
			uint16(w), uint16(rows),
			0, int16(y),
			0,
			depth,
			data,
		).Check(); err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}

	s.backend.conn.Sync()
	return nil
}

// SetPosition moves the window to desktop coordinates.
func (s *x11Surface) SetPosition(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return fmt.Errorf("surface destroyed")
	}

	s.backend.connMu.Lock()
	defer s.backend.connMu.Unlock()

	err := xproto.ConfigureWindowChecked(
		s.backend.conn, s.window,
		xproto.ConfigWindowX|xproto.ConfigWindowY,
		[]uint32{uint32(int32(x)), uint32(int32(y))},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to move window: %w", err)
	}
	s.geom.X = x
	s.geom.Y = y
	return nil
}

// Geometry returns the current geometry
func (s *x11Surface) Geometry() Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geom
}

// Show maps the window.
func (s *x11Surface) Show() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return fmt.Errorf("surface destroyed")
	}
	s.backend.connMu.Lock()
	defer s.backend.connMu.Unlock()

	if err := xproto.MapWindowChecked(s.backend.conn, s.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}
	// Repaint after mapping; override-redirect windows get no initial expose
	// from some compositors.
	if s.img != nil {
		return s.putImage(s.img)
	}
	return nil
}

// Hide unmaps the window.
func (s *x11Surface) Hide() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return nil
	}
	s.backend.connMu.Lock()
	defer s.backend.connMu.Unlock()
	return xproto.UnmapWindowChecked(s.backend.conn, s.window).Check()
}

// Clear drops the painted content reference.
func (s *x11Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = nil
}

// Destroy releases the window and its graphics context.
func (s *x11Surface) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return nil
	}
	s.alive = false

	s.backend.connMu.Lock()
	defer s.backend.connMu.Unlock()

	xproto.FreeGC(s.backend.conn, s.gc)
	xproto.DestroyWindow(s.backend.conn, s.window)
	s.backend.conn.Sync()
	return nil
}

// Exists reports whether the window is still alive.
func (s *x11Surface) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}
