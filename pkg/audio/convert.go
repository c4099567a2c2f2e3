package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter normalizes captured frames to the mono format a recognizer
// expects. Stereo input is downmixed before resampling so only one channel is
// interpolated. It logs a warning on the first mismatch and on the first
// malformed frame. Create one per capture; not designed for shared use across
// goroutines.
type FormatConverter struct {
	// Target is the output format. Target.Channels is always treated as 1.
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. If the source already matches,
// the frame is returned unchanged (zero allocation). Frames that cannot be
// converted (odd byte count, more than two channels) come back with nil Data
// and should be dropped by the caller.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	dropped := AudioFrame{
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}

	if len(frame.Data)%2 != 0 || frame.Channels > 2 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: dropping malformed frame",
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, frame.Channels),
			)
		})
		return dropped
	}

	channels := frame.Channels
	if channels <= 0 {
		channels = 1
	}
	rate := frame.SampleRate
	if rate <= 0 {
		rate = c.Target.SampleRate
	}

	if rate == c.Target.SampleRate && channels == 1 {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(rate, channels),
			"to", formatString(c.Target.SampleRate, 1),
		)
	})

	pcm := frame.Data
	if channels == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, rate, c.Target.SampleRate)

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8))
		r := int32(int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8))
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. Non-positive rates or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) int16 {
		return int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// formatString returns a human-readable string such as "48000Hz stereo".
func formatString(rate, channels int) string {
	switch {
	case channels == 2:
		return fmt.Sprintf("%dHz stereo", rate)
	case channels > 2:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	default:
		return fmt.Sprintf("%dHz mono", rate)
	}
}
