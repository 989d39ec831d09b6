package media

import (
	"sync"

	"popupstorm/internal/logger"
)

// preloader is a small worker pool that decodes assets ahead of need so the
// synchronous display path usually hits a warm cache.
type preloader struct {
	jobs chan func()

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// newPreloader starts the given number of workers.
func newPreloader(workers int) *preloader {
	if workers < 1 {
		workers = 1
	}
	p := &preloader{
		jobs: make(chan func(), 16),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *preloader) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// enqueue submits a decode job, dropping it when the queue is full. Preload
// work is opportunistic; losing a job only means a cold cache later.
func (p *preloader) enqueue(job func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	select {
	case p.jobs <- job:
	default:
		logger.WithComponent("preload").Debug().Msg("Preload queue full, dropping job")
	}
}

// stop shuts the workers down after the queued jobs finish.
func (p *preloader) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
