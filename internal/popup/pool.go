package popup

import (
	"sync"

	"popupstorm/internal/logger"
	"popupstorm/internal/surface"
)

// Pool recycles hidden window surfaces so rapid popup churn does not create
// and destroy OS windows on every spawn.
type Pool struct {
	backend surface.Backend
	cap     int

	mu   sync.Mutex
	free []surface.Surface
}

// NewPool creates a pool over the given backend with the given recycle cap.
func NewPool(backend surface.Backend, cap int) *Pool {
	if cap < 1 {
		cap = 1
	}
	return &Pool{
		backend: backend,
		cap:     cap,
	}
}

// Acquire returns a recycled hidden surface if one is available, else
// creates a new one.
func (p *Pool) Acquire() (surface.Surface, error) {
	p.mu.Lock()
	for len(p.free) > 0 {
		s := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		if s.Exists() {
			p.mu.Unlock()
			return s, nil
		}
	}
	p.mu.Unlock()

	s, err := p.backend.Create()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Release detaches content, hides the surface, and returns it to the pool if
// under capacity, else destroys it.
func (p *Pool) Release(s surface.Surface) {
	if !s.Exists() {
		return
	}

	s.Clear()
	if err := s.Hide(); err != nil {
		logger.WithComponent("pool").Warn().Err(err).Msg("Failed to hide surface, destroying")
		s.Destroy()
		return
	}

	p.mu.Lock()
	if len(p.free) < p.cap {
		p.free = append(p.free, s)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	s.Destroy()
}

// Drain destroys every pooled surface.
func (p *Pool) Drain() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()

	for _, s := range free {
		s.Destroy()
	}
}

// FreeCount returns the number of pooled surfaces.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
