package audio_utils

import (
	"encoding/binary"
	"math"

	"github.com/go-audio/audio"
)

// Resample converts samples between rates with linear interpolation.
// No low-pass filter is applied, which is fine for speech going to 8kHz telephony.
func Resample(samples []int, fromRate, toRate int) []int {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		result := make([]int, len(samples))
		copy(result, samples)
		return result
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	result := make([]int, outLen)
	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range result {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			result[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		result[i] = int(math.Round(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac))
	}
	return result
}

// ResampleBuffer returns a mono buffer at toRate; the input must already be mono.
func ResampleBuffer(intBuffer *audio.IntBuffer, toRate int) *audio.IntBuffer {
	fromRate := intBuffer.Format.SampleRate
	return &audio.IntBuffer{
		Data: Resample(intBuffer.Data, fromRate, toRate),
		Format: &audio.Format{
			SampleRate:  toRate,
			NumChannels: intBuffer.Format.NumChannels,
		},
		SourceBitDepth: intBuffer.SourceBitDepth,
	}
}

// ToMono averages interleaved channels.
func ToMono(intBuffer *audio.IntBuffer) *audio.IntBuffer {
	channels := intBuffer.Format.NumChannels
	if channels <= 1 {
		return intBuffer
	}
	mono := make([]int, len(intBuffer.Data)/channels)
	for i := range mono {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += intBuffer.Data[i*channels+ch]
		}
		mono[i] = sum / channels
	}
	return &audio.IntBuffer{
		Data: mono,
		Format: &audio.Format{
			SampleRate:  intBuffer.Format.SampleRate,
			NumChannels: 1,
		},
		SourceBitDepth: intBuffer.SourceBitDepth,
	}
}

// Volume is the RMS of 16-bit samples normalized to [0, 1].
func Volume(samples []int) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCMBytesToInts reads signed 16-bit little endian samples.
func PCMBytesToInts(audioData []byte) []int {
	intData := make([]int, len(audioData)/2)
	for i := 0; i+1 < len(audioData); i += 2 {
		intData[i/2] = int(int16(binary.LittleEndian.Uint16(audioData[i : i+2])))
	}
	return intData
}

// IntsToPCMBytes writes signed 16-bit little endian samples.
func IntsToPCMBytes(samples []int) []byte {
	result := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(result[i*2:], uint16(clamp16(s)))
	}
	return result
}

// MixInto adds overlay onto base in place, scaled by gain and clipped to 16 bits.
func MixInto(base []int, overlay []int, gain float64) {
	n := len(base)
	if len(overlay) < n {
		n = len(overlay)
	}
	for i := 0; i < n; i++ {
		base[i] = int(clamp16(base[i] + int(float64(overlay[i])*gain)))
	}
}
