// Package audio defines the capture-side audio abstractions used by the
// speech-capture engine.
//
// The two primary abstractions are:
//
//   - [Source]: acquires a microphone (or any live PCM feed) and returns a
//     [Capture].
//   - [Capture]: an open, on/off-able handle delivering [AudioFrame] values
//     until it is closed or the underlying device goes away.
//
// Implementations live next to the transport that produces the audio (for
// example the WebSocket listen endpoint feeds a channel-backed Capture). The
// package also carries the PCM helpers needed on the capture path: loudness
// measurement ([Level]) and format conversion ([FormatConverter]).
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [Source.Open] when no capture device can
// be acquired (missing hardware, permission denied, client not streaming).
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// Capture is a live audio input handle.
//
// Frames returns a read-only channel that delivers PCM frames as they are
// captured. The channel is closed when the capture ends, either because Close
// was called or because the device became invalid. Consumers distinguish the
// two cases themselves; a closed channel without a preceding Close is a lost
// device.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Frames returns the channel of captured frames.
	Frames() <-chan AudioFrame

	// Format reports the sample rate and channel count of delivered frames.
	Format() Format

	// Close stops capturing and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Source acquires capture handles.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the device and returns a running [Capture]. Returns an
	// error wrapping [ErrDeviceUnavailable] when the device cannot be acquired.
	Open(ctx context.Context) (Capture, error)
}
