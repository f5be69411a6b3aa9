package audioio

import (
	"os"
	"sync"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AmbienceMixer loops a background sound (e.g. office noise) under the bot's voice.
type AmbienceMixer struct {
	volume float64

	mu       sync.Mutex
	samples  []int
	position int
}

// NewAmbienceMixerFromFile loads a WAV file of any rate, it gets down-mixed and resampled to 8kHz.
func NewAmbienceMixerFromFile(path string, volume float64) (*AmbienceMixer, error) {
	wavBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read ambience file %s", path)
	}
	intBuffer, err := audio_utils.DecodeWav(wavBytes)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode ambience file %s", path)
	}
	mono := audio_utils.ToMono(intBuffer)
	samples := audio_utils.Resample(mono.Data, mono.Format.SampleRate, audio_utils.TelephonySampleRate)
	log.Info().Str("path", path).Int("samples", len(samples)).Float64("volume", volume).Msg("ambience loaded")
	return NewAmbienceMixer(samples, volume)
}

func NewAmbienceMixer(samples []int, volume float64) (*AmbienceMixer, error) {
	if len(samples) == 0 {
		return nil, errors.New("ambience has no samples")
	}
	return &AmbienceMixer{
		volume:  volume,
		samples: samples,
	}, nil
}

// Mix returns a new mu-law chunk with the next slice of ambience added to it.
func (m *AmbienceMixer) Mix(mulaw []byte) []byte {
	if m == nil || len(mulaw) == 0 {
		return mulaw
	}
	base := audio_utils.DecodeFromMulaw(mulaw, audio_utils.TelephonySampleRate).Data
	audio_utils.MixInto(base, m.next(len(base)), m.volume)

	result := make([]byte, len(base))
	for i, s := range base {
		result[i] = audio_utils.LinearToMulaw(int16(s))
	}
	return result
}

func (m *AmbienceMixer) next(n int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]int, n)
	for i := range result {
		result[i] = m.samples[m.position]
		m.position = (m.position + 1) % len(m.samples)
	}
	return result
}
