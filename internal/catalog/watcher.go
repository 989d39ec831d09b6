package catalog

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"popupstorm/internal/logger"
)

// Watcher observes the bundle directory and invokes a refresh callback when
// archives are added, replaced or removed. Events are debounced because
// archive copies arrive as bursts of writes.
type Watcher struct {
	fw       *fsnotify.Watcher
	onChange func()
	stopChan chan struct{}
}

// NewWatcher starts watching dir and calls onChange (on the watcher
// goroutine) after the directory settles.
func NewWatcher(dir string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		fw:       fw,
		onChange: onChange,
		stopChan: make(chan struct{}),
	}
	go w.loop()

	logger.WithComponent("watcher").Info().Str("dir", dir).Msg("Watching bundle directory")
	return w, nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.fw.Close()
}

func (w *Watcher) loop() {
	log := logger.WithComponent("watcher")

	var debounce *time.Timer
	const settle = 2 * time.Second

	for {
		select {
		case <-w.stopChan:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !IsContainer(ev.Name) {
				continue
			}
			log.Debug().Str("event", ev.String()).Msg("Bundle change detected")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(settle, w.onChange)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}
