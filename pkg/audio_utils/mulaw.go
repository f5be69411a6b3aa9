package audio_utils

import (
	"github.com/go-audio/audio"
)

// TelephonySampleRate is what both Plivo and Twilio stream in (audio/x-mulaw;rate=8000).
const TelephonySampleRate = 8000

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawToLinear decodes one G.711 mu-law byte into a signed 16-bit sample.
// https://en.wikipedia.org/wiki/%CE%9C-law_algorithm
func MulawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + mulawBias
	t <<= (uint(u) & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// LinearToMulaw encodes a signed 16-bit sample as G.711 mu-law.
func LinearToMulaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// DecodeFromMulaw turns raw mu-law bytes into a mono 16-bit buffer.
func DecodeFromMulaw(mulawBytes []byte, sampleRate int) *audio.IntBuffer {
	data := make([]int, len(mulawBytes))
	for i, b := range mulawBytes {
		data[i] = int(MulawToLinear(b))
	}
	return &audio.IntBuffer{
		Data: data,
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		SourceBitDepth: 16,
	}
}

// EncodeToMulaw resamples the buffer to sampleRate if needed and encodes it as mu-law.
// Multi-channel input is down-mixed first.
func EncodeToMulaw(intBuffer *audio.IntBuffer, sampleRate int) []byte {
	mono := ToMono(intBuffer)
	mono = ResampleBuffer(mono, sampleRate)
	result := make([]byte, len(mono.Data))
	for i, v := range mono.Data {
		result[i] = LinearToMulaw(clamp16(v))
	}
	return result
}

// MulawSilence is count bytes of mu-law encoded zero.
func MulawSilence(count int) []byte {
	result := make([]byte, count)
	for i := range result {
		result[i] = 0xFF
	}
	return result
}

func clamp16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
