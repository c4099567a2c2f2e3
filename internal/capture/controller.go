package capture

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Sumit112234/Ai-Interviewer-sub000/internal/observe"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/provider/stt"
)

// session is the controller's view of one listening session.
type session struct {
	state           State
	wantListen      bool
	restartAttempts int
	lastRestartAt   time.Time
	isRestarting    bool
	restartTimer    Timer

	// callerStart marks an attempt begun by Start rather than a restart.
	callerStart bool

	// generation is bumped whenever pending restarts must be invalidated.
	generation uint64
}

func (e *Engine) handleStart() error {
	switch e.sess.state {
	case StateStarting, StateActive, StateRestarting:
		return nil
	}
	if !e.gates.mic() {
		return ErrMicDisabled
	}
	if !e.gates.session() {
		return ErrSessionInactive
	}
	if e.sess.state == StateStopping {
		e.release()
	}

	e.sess.generation++
	e.sess.wantListen = true
	e.sess.callerStart = true
	e.sess.restartAttempts = 0
	e.sess.lastRestartAt = time.Time{}
	e.lastErr = nil
	e.log.Info("capture: start")
	e.beginAttempt()
	return nil
}

func (e *Engine) handleStop() {
	switch e.sess.state {
	case StateIdle, StateStopped:
		return
	}
	e.release()
	e.sess.state = StateStopped
	e.metrics.RecordStop(e.ctx, string(StopCaller))
	e.log.Info("capture: stopped", "reason", StopCaller)
}

// shutdown is Stop for an engine that is being closed.
func (e *Engine) shutdown(reason StopReason) {
	switch e.sess.state {
	case StateIdle, StateStopped:
		return
	}
	e.release()
	e.sess.state = StateStopped
	e.metrics.RecordStop(e.ctx, string(reason))
}

// release cancels every timer, drops the interim text without reporting it,
// and closes the recognizer stream and the audio capture. Nothing scheduled
// before release can reach a callback afterwards.
func (e *Engine) release() {
	e.sess.generation++
	e.sess.wantListen = false
	e.sess.isRestarting = false
	e.sess.restartAttempts = 0
	e.sess.callerStart = false
	if e.sess.restartTimer != nil {
		e.sess.restartTimer.Stop()
		e.sess.restartTimer = nil
	}
	e.cancelDrain()
	e.act.reset()
	e.gate.reset()
	e.invalidateAttempt()
	e.closeCapture()
}

// terminate ends the session on the engine's own initiative and reports the
// outcome exactly once.
func (e *Engine) terminate(reason StopReason, err error) {
	e.gate.clearInterim()
	e.release()
	e.sess.state = StateStopped
	e.lastErr = err
	e.metrics.RecordStop(e.ctx, string(reason))
	if err != nil {
		e.log.Warn("capture: stopped", "reason", reason, "err", err)
	} else {
		e.log.Info("capture: stopped", "reason", reason)
	}
	if e.cb.OnStopped != nil {
		e.cb.OnStopped(reason, err)
	}
}

// beginAttempt opens the audio capture if needed and dials a recognizer
// stream in the background. The result arrives as attemptOpened.
func (e *Engine) beginAttempt() {
	e.invalidateAttempt()
	e.sess.state = StateStarting
	id := e.attempt

	ctx, cancel := context.WithCancel(e.ctx)
	e.abort = cancel

	existing := e.capture
	cfg := e.cfg.Stream
	go func() {
		c := existing
		if c == nil {
			var err error
			c, err = e.source.Open(ctx)
			if err != nil {
				e.post(attemptOpened{attempt: id, err: newError(stt.ErrorAudioCapture, err)})
				return
			}
		}
		f := c.Format()
		cfg.SampleRate, cfg.Channels = f.SampleRate, f.Channels

		h, err := e.dial(ctx, id, cfg)
		m := attemptOpened{attempt: id, stream: h, err: err}
		if existing == nil {
			m.capture = c
		}
		e.post(m)
	}()
}

func (e *Engine) dial(ctx context.Context, id uint64, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanDial)
	defer span.End()
	span.SetAttributes(attribute.Int64("attempt", int64(id)))

	start := time.Now()
	h, err := e.provider.StartStream(ctx, cfg)
	e.metrics.DialDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordProviderRequest(ctx, "stt", "stream", "error")
		code := stt.ErrorNetwork
		if errors.Is(err, context.Canceled) {
			code = stt.ErrorAborted
		}
		return nil, newError(code, err)
	}
	e.metrics.RecordProviderRequest(ctx, "stt", "stream", "ok")
	return h, nil
}

// invalidateAttempt makes every in-flight dial result and stream event stale
// and closes the current stream.
func (e *Engine) invalidateAttempt() {
	e.attempt++
	if e.abort != nil {
		e.abort()
		e.abort = nil
	}
	e.closeStream()
}

// closeStream detaches and closes the current stream. Events from it are
// still routed while its attempt stays current.
func (e *Engine) closeStream() {
	if e.stream == nil {
		return
	}
	h := e.stream
	e.stream = nil
	if e.mon != nil {
		e.mon.setStream(nil)
	}
	go func() {
		if err := h.Close(); err != nil {
			e.log.Debug("capture: close stream", "err", err)
		}
	}()
}

func (e *Engine) closeCapture() {
	if e.mon != nil {
		e.mon.stop()
		e.mon = nil
	}
	e.monID++
	if e.capture != nil {
		if err := e.capture.Close(); err != nil {
			e.log.Debug("capture: close audio", "err", err)
		}
		e.capture = nil
	}
}

func (e *Engine) cancelDrain() {
	e.drainSeq++
	if e.drain != nil {
		e.drain.Stop()
		e.drain = nil
	}
}

func (e *Engine) handleOpened(m attemptOpened) {
	if m.attempt != e.attempt {
		if m.stream != nil {
			go m.stream.Close()
		}
		if m.capture != nil {
			_ = m.capture.Close()
		}
		return
	}
	if m.err != nil {
		if m.capture != nil {
			_ = m.capture.Close()
		}
		var ce *Error
		if !errors.As(m.err, &ce) {
			ce = newError(stt.ErrorNetwork, m.err)
		}
		e.metrics.RecordRecognizerError(e.ctx, string(ce.Code))
		e.terminate(StopFatal, ce)
		return
	}
	if m.capture != nil {
		e.installCapture(m.capture)
	}

	e.stream = m.stream
	if e.mon != nil {
		e.mon.setStream(m.stream)
	}
	e.metrics.ActiveStreams.Add(e.ctx, 1)
	go func(id uint64, h stt.SessionHandle) {
		defer e.metrics.ActiveStreams.Add(e.ctx, -1)
		for ev := range h.Events() {
			e.post(streamEvent{attempt: id, ev: ev})
		}
	}(m.attempt, m.stream)
}

func (e *Engine) installCapture(c audio.Capture) {
	e.capture = c
	e.monID++
	e.mon = newMonitor(e.monID, c, e.cfg.SampleInterval, e.clock, e.log,
		func(id uint64, amp float64) { e.post(sampleTaken{monitor: id, amplitude: amp}) },
		func(id uint64) { e.post(audioLost{monitor: id}) },
	)
	e.mon.start()
}

func (e *Engine) handleSample(m sampleTaken) {
	if m.monitor != e.monID || e.mon == nil {
		return
	}
	level := e.act.sample(m.amplitude)
	if e.cb.OnVoiceActivity != nil {
		e.cb.OnVoiceActivity(level)
	}
}

func (e *Engine) handleAudioLost(m audioLost) {
	if m.monitor != e.monID {
		return
	}
	e.mon = nil
	e.capture = nil
	e.metrics.RecordRecognizerError(e.ctx, string(stt.ErrorAudioCapture))
	e.terminate(StopFatal, newError(stt.ErrorAudioCapture, audio.ErrDeviceUnavailable))
}

func (e *Engine) handleEvent(m streamEvent) {
	if m.attempt != e.attempt {
		return
	}
	ev := m.ev
	switch ev.Kind {
	case stt.EventStarted:
		if e.sess.state != StateStarting {
			return
		}
		e.sess.state = StateActive
		e.lastErr = nil
		if e.sess.callerStart {
			e.sess.restartAttempts = 0
			e.sess.callerStart = false
		}
		e.log.Debug("capture: recognizer active", "attempt", e.attempt)

	case stt.EventPartial:
		e.gate.partial(ev.Transcript.Text)
		if ev.Transcript.Text != "" {
			e.act.interim()
		}

	case stt.EventFinal:
		accepted, ignored := e.gate.final(ev.Transcript.Text, ev.Transcript.Confidence)
		if ignored {
			return
		}
		e.metrics.RecordFinal(e.ctx, accepted)
		if accepted {
			e.act.speechDetected = false
		} else {
			e.log.Debug("capture: final below threshold", "confidence", ev.Transcript.Confidence)
		}

	case stt.EventError:
		e.closeStream()
		e.metrics.RecordRecognizerError(e.ctx, string(ev.Code))
		if e.sess.state == StateStopping {
			e.terminate(StopSilence, nil)
			return
		}
		e.handleError(ev.Code, ev.Err)

	case stt.EventEnded:
		e.closeStream()
		if e.sess.state == StateStopping {
			e.terminate(StopSilence, nil)
			return
		}
		e.handleEnded()
	}
}

func (e *Engine) handleError(code stt.ErrorCode, cause error) {
	if e.sess.isRestarting {
		return
	}
	class := Classify(code)
	e.log.Debug("capture: recognizer error", "code", code, "class", class, "attempts", e.sess.restartAttempts)
	if class == ClassFatal {
		e.terminate(StopFatal, newError(code, cause))
		return
	}
	p := e.cfg.Restart
	if allows(e.sess.restartAttempts, p.budget(class), e.sess.lastRestartAt, e.clock.Now(), p.ErrorMinInterval) {
		e.scheduleRestart(string(code))
		return
	}
	e.terminate(StopBudget, newError(code, cause))
}

func (e *Engine) handleEnded() {
	if e.sess.isRestarting {
		return
	}
	p := e.cfg.Restart
	if e.sess.wantListen && e.gates.mic() &&
		allows(e.sess.restartAttempts, -1, e.sess.lastRestartAt, e.clock.Now(), p.EndedMinInterval) {
		e.scheduleRestart("ended")
		return
	}
	e.terminate(StopEnded, nil)
}

func (e *Engine) scheduleRestart(reason string) {
	e.invalidateAttempt()
	// Attempts made after a restart never reset the budget.
	e.sess.callerStart = false
	e.sess.isRestarting = true
	e.sess.restartAttempts++
	e.sess.lastRestartAt = e.clock.Now()
	e.sess.state = StateRestarting

	delay := e.cfg.Restart.Delay(e.sess.restartAttempts)
	gen := e.sess.generation
	e.sess.restartTimer = e.clock.AfterFunc(delay, func() { e.post(restartFired{generation: gen}) })

	e.metrics.RecordRestart(e.ctx, reason, delay.Seconds())
	e.log.Info("capture: restart scheduled",
		"reason", reason,
		"attempt", e.sess.restartAttempts,
		"delay", delay,
	)
}

func (e *Engine) handleRestartFired(m restartFired) {
	if m.generation != e.sess.generation {
		return
	}
	e.sess.isRestarting = false
	e.sess.restartTimer = nil
	if e.sess.state != StateRestarting {
		return
	}
	if !e.sess.wantListen || !e.gates.mic() || !e.gates.session() {
		e.terminate(StopGated, nil)
		return
	}
	e.beginAttempt()
}

func (e *Engine) handleSilence(m silenceFired) {
	if !e.act.expire(m.seq) {
		return
	}
	if e.gate.interim == "" {
		return
	}
	e.log.Debug("capture: silence timeout with pending interim")
	switch e.sess.state {
	case StateActive:
		// Let the recognizer flush the pending utterance before stopping.
		e.sess.state = StateStopping
		e.sess.wantListen = false
		e.closeStream()
		e.cancelDrain()
		seq := e.drainSeq
		e.drain = e.clock.AfterFunc(e.cfg.StopDrainTimeout, func() { e.post(drainFired{seq: seq}) })
	case StateStarting, StateRestarting:
		e.terminate(StopSilence, nil)
	}
}
