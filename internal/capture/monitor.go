package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// forwardQueueSize bounds the audio waiting for a slow recognizer. Frames
// beyond it are dropped so amplitude sampling never stalls.
const forwardQueueSize = 64

// chunk is a frame bound to the stream that was current when it was read.
type chunk struct {
	stream stt.SessionHandle
	data   []byte
}

// monitor reads frames from an open capture, forwards them to the current
// recognizer stream, and reports the peak amplitude once per tick.
//
// Forwarding runs on its own goroutine behind a bounded queue, so a blocked
// SendAudio delays only the audio, never the samples.
//
// A monitor is single-use: it runs until stop is called or the capture's
// frame channel closes. The latter is reported through lost.
type monitor struct {
	id       uint64
	capture  audio.Capture
	interval time.Duration
	clock    Clock
	log      *slog.Logger

	sample func(id uint64, amplitude float64)
	lost   func(id uint64)

	mu     sync.Mutex
	stream stt.SessionHandle

	forward chan chunk

	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newMonitor(id uint64, c audio.Capture, interval time.Duration, clock Clock, log *slog.Logger,
	sample func(uint64, float64), lost func(uint64)) *monitor {
	return &monitor{
		id:       id,
		capture:  c,
		interval: interval,
		clock:    clock,
		log:      log,
		sample:   sample,
		lost:     lost,
		forward:  make(chan chunk, forwardQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// setStream installs the recognizer stream that receives audio. nil
// detaches; frames are then only measured.
func (m *monitor) setStream(h stt.SessionHandle) {
	m.mu.Lock()
	m.stream = h
	m.mu.Unlock()
}

func (m *monitor) currentStream() stt.SessionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *monitor) start() {
	go m.run()
	go m.forwardLoop()
}

// stop ends the monitor without reporting a loss. It does not close the
// capture.
func (m *monitor) stop() {
	m.stopOnce.Do(func() { close(m.quit) })
}

func (m *monitor) run() {
	defer close(m.done)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	frames := m.capture.Frames()
	var peak float64
	for {
		select {
		case <-m.quit:
			return
		case f, ok := <-frames:
			if !ok {
				select {
				case <-m.quit:
				default:
					m.lost(m.id)
				}
				return
			}
			if len(f.Data) == 0 {
				continue
			}
			peak = max(peak, audio.Level(f.Data))
			if h := m.currentStream(); h != nil {
				select {
				case m.forward <- chunk{stream: h, data: f.Data}:
				default:
					m.log.Debug("capture: drop frame", "err", "forward queue full")
				}
			}
		case <-ticker.C():
			m.sample(m.id, peak)
			peak = 0
		}
	}
}

// forwardLoop delivers queued chunks until the monitor stops.
func (m *monitor) forwardLoop() {
	for {
		select {
		case <-m.quit:
			return
		case c := <-m.forward:
			if err := c.stream.SendAudio(c.data); err != nil {
				m.log.Debug("capture: drop frame", "err", err)
			}
		}
	}
}
