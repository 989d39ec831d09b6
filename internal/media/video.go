package media

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"popupstorm/internal/catalog"
	"popupstorm/internal/logger"
	"popupstorm/internal/popup"
)

const (
	videoMetaCacheCap = 32
	videoFrameQueue   = 5
	videoMaxFPS       = 30.0

	// First-frame deadline per pipe attempt. Hardware acceleration that is
	// present but broken tends to hang rather than fail, so a slow start is
	// treated as a failed attempt.
	videoFirstFrameTimeout = 4 * time.Second
)

// videoMeta is the probed geometry and rate of a source file.
type videoMeta struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64
}

// defaultVideoMeta covers sources ffprobe cannot parse; playback still gets a
// sane canvas and rate.
func defaultVideoMeta() videoMeta {
	return videoMeta{Width: 320, Height: 240, FPS: 30}
}

// VideoLoader materializes video popups by piping MJPEG frames out of an
// ffmpeg child process. Entries inside archives are extracted to a temp file
// first since ffmpeg needs a real path.
type VideoLoader struct {
	deps  *Deps
	meta  *cache[videoMeta]
	rng   *rand.Rand
	probe func(path string) (videoMeta, error)
}

// NewVideoLoader creates a video loader with a probe-metadata cache.
func NewVideoLoader(deps *Deps) *VideoLoader {
	return &VideoLoader{
		deps:  deps,
		meta:  newCache[videoMeta](videoMetaCacheCap),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		probe: probeVideo,
	}
}

// Kind returns the media kind served by this loader.
func (l *VideoLoader) Kind() catalog.Kind {
	return catalog.KindVideo
}

// Close is a no-op; per-window playback resources are torn down through each
// window's OnRemove.
func (l *VideoLoader) Close() {}

// Display starts one random catalog video playing in a popup.
func (l *VideoLoader) Display() (*popup.Window, error) {
	if l.deps.Suppressed() {
		return nil, nil
	}

	ref, ok := pickRef(l.deps, catalog.KindVideo, l.rng)
	if !ok {
		return nil, nil
	}
	mon, ok := l.deps.PickMonitor()
	if !ok {
		return nil, nil
	}

	log := logger.WithComponent("video")

	path := ref.Path
	tempPath := ""
	if ref.InArchive() {
		p, err := l.deps.Temp.Extract(ref.Archive, ref.Entry)
		if err != nil {
			if l.deps.OnBadArchive != nil {
				l.deps.OnBadArchive(ref.Archive)
			}
			log.Warn().Err(err).Str("ref", ref.Key()).Msg("Failed to extract video")
			return nil, nil
		}
		path = p
		tempPath = p
	}

	cleanupTemp := func() {
		if tempPath != "" {
			l.deps.Temp.Remove(tempPath)
		}
	}

	meta := l.probeCached(ref.Key(), path)
	w, h := fitSize(meta.Width, meta.Height, mon, l.deps.ScalePct())

	pb, first, err := openPlayback(path, w, h, meta.FPS)
	if err != nil {
		log.Warn().Err(err).Str("ref", ref.Key()).Msg("Failed to open video pipe")
		cleanupTemp()
		return nil, nil
	}

	win, err := showOn(l.deps, catalog.KindVideo, mon, first, l.rng)
	if err != nil {
		log.Error().Err(err).Msg("Failed to show video popup")
		pb.stop()
		cleanupTemp()
		return nil, nil
	}
	if win == nil {
		pb.stop()
		cleanupTemp()
		return nil, nil
	}

	win.OnRemove = func() {
		pb.stop()
		cleanupTemp()
	}

	go l.consume(win, pb, w, h, meta.FPS)
	return win, nil
}

// probeCached returns probe metadata for the reference, falling back to
// defaults when ffprobe fails or reports nonsense.
func (l *VideoLoader) probeCached(key, path string) videoMeta {
	if m, ok := l.meta.get(key); ok {
		return m
	}

	m, err := l.probe(path)
	if err != nil || m.Width < 1 || m.Height < 1 || m.FPS <= 0 {
		logger.WithComponent("video").Debug().Err(err).Str("ref", key).Msg("Probe failed, using defaults")
		m = defaultVideoMeta()
	}
	l.meta.put(key, m)
	return m
}

// consume drains decoded frames at the paced rate and repaints the popup
// surface through the dispatcher. When the pipe runs dry (end of file) the
// playback restarts from the top so short clips loop for the popup lifetime.
func (l *VideoLoader) consume(win *popup.Window, pb *playback, w, h int, fps float64) {
	if fps <= 0 || fps > videoMaxFPS {
		fps = videoMaxFPS
	}
	interval := time.Duration(float64(time.Second) / fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pb.done:
			return
		case <-ticker.C:
		}

		if l.deps.Suppressed() || !win.Surface.Exists() {
			return
		}

		raw, ok := pb.next()
		if !ok {
			if pb.stopping() {
				return
			}
			if err := pb.restart(); err != nil {
				logger.WithComponent("video").Debug().Err(err).Msg("Video loop restart failed")
				return
			}
			continue
		}

		frame, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			continue
		}
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), frame, frame.Bounds().Min, draw.Src)

		l.deps.Dispatcher.Post(func() {
			if win.Surface.Exists() {
				win.Surface.SetImage(rgba)
			}
		})
	}
}

// playback owns one ffmpeg child and its frame stream. The mutex guards the
// process handle because stop (registry teardown) races the consumer's loop
// restart.
type playback struct {
	path   string
	width  int
	height int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	frames  chan []byte
	quit    chan struct{}
	stopped bool
	done    chan struct{}
}

// openPlayback starts the decode pipe and waits for the first frame, which
// both validates the source and gives the popup its initial image. Hardware
// acceleration is tried first and a plain software pipe is the bounded-retry
// fallback.
func openPlayback(path string, w, h int, fps float64) (*playback, *image.RGBA, error) {
	pb := &playback{
		path:   path,
		width:  w,
		height: h,
		done:   make(chan struct{}),
	}

	var first *image.RGBA
	hwaccel := true
	err := boundedRetry(2, 100*time.Millisecond, func() (Verdict, error) {
		if err := pb.start(hwaccel); err != nil {
			hwaccel = false
			return Again, err
		}
		raw, ok := pb.waitFrame(videoFirstFrameTimeout)
		if !ok {
			pb.killProcess()
			hwaccel = false
			return Again, fmt.Errorf("no frame within %s", videoFirstFrameTimeout)
		}
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			pb.killProcess()
			return Fatal, fmt.Errorf("undecodable first frame: %w", err)
		}
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		first = rgba
		return Ok, nil
	})
	if err != nil {
		pb.stop()
		return nil, nil, err
	}
	return pb, first, nil
}

func (pb *playback) start(hwaccel bool) error {
	pb.mu.Lock()
	if pb.stopped {
		pb.mu.Unlock()
		return fmt.Errorf("playback stopped")
	}
	pb.mu.Unlock()

	args := []string{"-hide_banner", "-loglevel", "error"}
	if hwaccel {
		args = append(args, "-hwaccel", "auto")
	}
	args = append(args,
		"-i", pb.path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-vf", fmt.Sprintf("scale=%d:%d", pb.width, pb.height),
		"-q:v", "4",
		"-",
	)

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		return err
	}

	frames := make(chan []byte, videoFrameQueue)
	quit := make(chan struct{})

	pb.mu.Lock()
	if pb.stopped {
		// stop landed while the child was launching; it missed this process,
		// so tear it down here instead of publishing it.
		pb.mu.Unlock()
		cmd.Process.Kill()
		cmd.Wait()
		stdout.Close()
		return fmt.Errorf("playback stopped")
	}
	pb.cmd = cmd
	pb.stdout = stdout
	pb.frames = frames
	pb.quit = quit
	pb.mu.Unlock()

	go scanJPEGFrames(stdout, frames, quit)
	return nil
}

// next returns the next buffered frame, or false when the stream has ended.
func (pb *playback) next() ([]byte, bool) {
	pb.mu.Lock()
	frames := pb.frames
	pb.mu.Unlock()
	if frames == nil {
		return nil, false
	}
	select {
	case f, ok := <-frames:
		return f, ok
	default:
		// Decoder is behind; skip this tick rather than block the pace.
		return nil, true
	}
}

// waitFrame blocks for the next frame up to the timeout.
func (pb *playback) waitFrame(timeout time.Duration) ([]byte, bool) {
	pb.mu.Lock()
	frames := pb.frames
	pb.mu.Unlock()
	if frames == nil {
		return nil, false
	}
	select {
	case f, ok := <-frames:
		if !ok || f == nil {
			return nil, false
		}
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

// restart relaunches ffmpeg from the beginning of the file. start itself
// refuses once the playback is stopped, so a concurrent stop cannot leave a
// fresh child behind.
func (pb *playback) restart() error {
	pb.killProcess()
	return pb.start(false)
}

func (pb *playback) stopping() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.stopped
}

// stop kills the child process and marks the playback dead. Idempotent.
func (pb *playback) stop() {
	pb.mu.Lock()
	if pb.stopped {
		pb.mu.Unlock()
		return
	}
	pb.stopped = true
	close(pb.done)
	pb.mu.Unlock()

	pb.killProcess()
}

func (pb *playback) killProcess() {
	pb.mu.Lock()
	cmd := pb.cmd
	stdout := pb.stdout
	quit := pb.quit
	pb.cmd = nil
	pb.stdout = nil
	pb.frames = nil
	pb.quit = nil
	pb.mu.Unlock()

	if quit != nil {
		// Release the scanner goroutine if it is parked on a full frame
		// queue; closing the pipe alone does not unblock a pending send.
		close(quit)
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	if stdout != nil {
		stdout.Close()
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// scanJPEGFrames splits the MJPEG byte stream on SOI/EOI markers and sends
// each complete frame. Closes out when the pipe ends. quit aborts a send
// that is parked on a full queue after the consumer is gone.
func scanJPEGFrames(r io.Reader, out chan<- []byte, quit <-chan struct{}) {
	defer close(out)

	buf := make([]byte, 1024*1024)
	n := 0
	for {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil && err != io.EOF {
			return
		}

		for {
			soi := bytes.Index(buf[:n], jpegSOI)
			if soi == -1 {
				if n > 0 {
					copy(buf, buf[n-1:n])
					n = 1
				}
				break
			}
			eoi := bytes.Index(buf[soi:n], jpegEOI)
			if eoi == -1 {
				copy(buf, buf[soi:n])
				n -= soi
				if n == len(buf) {
					// Frame larger than the buffer; drop and resync.
					n = 0
				}
				break
			}
			eoi += soi + 2

			frame := make([]byte, eoi-soi)
			copy(frame, buf[soi:eoi])
			select {
			case out <- frame:
			case <-quit:
				return
			}

			copy(buf, buf[eoi:n])
			n -= eoi
		}
		if err == io.EOF {
			return
		}
	}
}

// probeVideo asks ffprobe for the first video stream's geometry, frame rate
// and duration.
func probeVideo(path string) (videoMeta, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,duration",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return videoMeta{}, err
	}
	return parseProbeOutput(string(out))
}

func parseProbeOutput(out string) (videoMeta, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return videoMeta{}, fmt.Errorf("empty ffprobe output")
	}
	fields := strings.Split(lines[0], ",")
	if len(fields) < 3 {
		return videoMeta{}, fmt.Errorf("unexpected ffprobe fields: %q", lines[0])
	}

	var m videoMeta
	m.Width, _ = strconv.Atoi(strings.TrimSpace(fields[0]))
	m.Height, _ = strconv.Atoi(strings.TrimSpace(fields[1]))

	rate := strings.Split(strings.TrimSpace(fields[2]), "/")
	if len(rate) == 2 {
		num, _ := strconv.ParseFloat(rate[0], 64)
		den, _ := strconv.ParseFloat(rate[1], 64)
		if den > 0 {
			m.FPS = num / den
		}
	}

	if len(fields) > 3 {
		m.Duration, _ = strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	}

	if m.Width < 1 || m.Height < 1 {
		return videoMeta{}, fmt.Errorf("invalid geometry %dx%d", m.Width, m.Height)
	}
	return m, nil
}
