package popup

import (
	"sync"
	"time"

	"popupstorm/internal/logger"
)

// Dispatcher is a single-goroutine serial executor. All surface mutations
// and GIF frame advances run here, so per-window decoder state needs no
// locking of its own. Delayed work (frame rescheduling, popup expiry) is a
// timer that reposts into the same queue — cooperative rescheduling, not a
// second thread model.
type Dispatcher struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}

	stopOnce sync.Once
}

// NewDispatcher starts the dispatcher goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		tasks: make(chan func(), 256),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.tasks:
			fn()
		case <-d.quit:
			// Run whatever was queued before the stop.
			for {
				select {
				case fn := <-d.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Post queues fn for serial execution. Posts after Stop are dropped, and so
// is a post that finds the queue full: a full queue means the UI work is
// hopelessly behind anyway, and frame paints are redundant with the next
// one.
func (d *Dispatcher) Post(fn func()) {
	select {
	case <-d.quit:
		return
	default:
	}
	select {
	case d.tasks <- fn:
	default:
		logger.WithComponent("dispatcher").Warn().Msg("Dispatcher queue full, dropping task")
	}
}

// Sync posts fn and waits for it to finish. Unlike Post it never drops work:
// callers paint and map fresh popups and must know the calls actually ran,
// so a full queue blocks until the loop catches up. Returns without running
// fn once the dispatcher is stopped.
func (d *Dispatcher) Sync(fn func()) {
	doneCh := make(chan struct{})
	select {
	case d.tasks <- func() {
		fn()
		close(doneCh)
	}:
	case <-d.quit:
		return
	}
	select {
	case <-doneCh:
	case <-d.done:
		// Loop exited without reaching the task (stop raced the enqueue).
	}
}

// PostDelayed schedules fn to be posted after delay. The returned stop
// function cancels the timer if it has not fired.
func (d *Dispatcher) PostDelayed(delay time.Duration, fn func()) (stop func() bool) {
	t := time.AfterFunc(delay, func() {
		d.Post(fn)
	})
	return t.Stop
}

// Stop drains queued tasks and shuts the dispatcher down.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.quit) })
	<-d.done
}
