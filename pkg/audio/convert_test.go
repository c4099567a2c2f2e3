package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Sumit112234/Ai-Interviewer-sub000/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 300, -200, -400, 32767, 32767})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{200, -300, 32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate is a no-op", func(t *testing.T) {
		pcm := samplesToBytes([]int16{1, 2, 3})
		out := audio.ResampleMono16(pcm, 16000, 16000)
		if &out[0] != &pcm[0] {
			t.Error("expected input slice to be returned unchanged")
		}
	})

	t.Run("downsample 48k to 16k", func(t *testing.T) {
		pcm := samplesToBytes(make([]int16, 480))
		out := audio.ResampleMono16(pcm, 48000, 16000)
		if got := len(out) / 2; got != 160 {
			t.Errorf("samples = %d, want 160", got)
		}
	})

	t.Run("upsample interpolates", func(t *testing.T) {
		pcm := samplesToBytes([]int16{0, 1000})
		got := bytesToSamples(audio.ResampleMono16(pcm, 8000, 16000))
		if len(got) != 4 {
			t.Fatalf("samples = %d, want 4", len(got))
		}
		if got[1] != 500 {
			t.Errorf("interpolated sample = %d, want 500", got[1])
		}
	})

	t.Run("non-positive rates return input", func(t *testing.T) {
		pcm := samplesToBytes([]int16{100, 200})
		for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-1, 16000}} {
			if out := audio.ResampleMono16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
				t.Errorf("rates %v: len = %d, want %d", rates, len(out), len(pcm))
			}
		}
	})
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.AudioFrame{Data: samplesToBytes([]int16{100, 200}), SampleRate: 16000, Channels: 1}
	result := conv.Convert(frame)
	if &result.Data[0] != &frame.Data[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestFormatConverter_BrowserStereoToRecognizerMono(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	frame := audio.AudioFrame{
		Data:       samplesToBytes(make([]int16, 960)), // 10ms of 48kHz stereo
		SampleRate: 48000,
		Channels:   2,
	}
	result := conv.Convert(frame)
	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Fatalf("format = %dHz %dch, want 16000Hz 1ch", result.SampleRate, result.Channels)
	}
	if got := len(result.Data) / 2; got != 160 {
		t.Errorf("samples = %d, want 160", got)
	}
}

func TestFormatConverter_DropsMalformedFrames(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 16000, Channels: 1}}

	tests := []struct {
		name  string
		frame audio.AudioFrame
	}{
		{"odd byte count", audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}},
		{"too many channels", audio.AudioFrame{Data: samplesToBytes([]int16{1, 2, 3, 4, 5, 6}), SampleRate: 16000, Channels: 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := conv.Convert(tc.frame)
			if len(result.Data) != 0 {
				t.Errorf("expected empty data, got %d bytes", len(result.Data))
			}
			if result.SampleRate != 16000 {
				t.Errorf("dropped frame should carry target rate, got %d", result.SampleRate)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"full scale square", []int16{-32768, -32768}, 1},
		{"half scale", []int16{16384, -16384, 16384, -16384}, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.Level(samplesToBytes(tc.samples))
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Level = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLevel_IgnoresTrailingByte(t *testing.T) {
	pcm := append(samplesToBytes([]int16{16384, -16384}), 0xFF)
	if got := audio.Level(pcm); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Level = %v, want 0.5", got)
	}
}
