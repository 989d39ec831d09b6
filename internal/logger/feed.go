package logger

import (
	"strings"
	"sync"
)

// lineFeed is an io.Writer that keeps a bounded ring of recent log lines and
// fans new lines out to subscribers. Slow subscribers drop lines rather than
// blocking the logging path.
type lineFeed struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool

	subs map[chan string]struct{}
}

func newFeed(capacity int) *lineFeed {
	return &lineFeed{
		lines: make([]string, capacity),
		subs:  make(map[chan string]struct{}),
	}
}

func (f *lineFeed) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	if line == "" {
		return len(p), nil
	}

	f.mu.Lock()
	f.lines[f.next] = line
	f.next++
	if f.next == len(f.lines) {
		f.next = 0
		f.full = true
	}
	for ch := range f.subs {
		select {
		case ch <- line:
		default:
			// Subscriber is behind, skip this line
		}
	}
	f.mu.Unlock()

	return len(p), nil
}

// Recent returns the buffered lines, oldest first.
func (f *lineFeed) Recent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.full {
		out := make([]string, f.next)
		copy(out, f.lines[:f.next])
		return out
	}

	out := make([]string, 0, len(f.lines))
	out = append(out, f.lines[f.next:]...)
	out = append(out, f.lines[:f.next]...)
	return out
}

func (f *lineFeed) Subscribe() chan string {
	ch := make(chan string, 64)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *lineFeed) Unsubscribe(ch chan string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}
