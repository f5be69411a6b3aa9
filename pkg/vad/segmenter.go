package vad

import (
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
)

// Segmenter cuts a mu-law stream into utterances using an Analyzer.
// A short pre-roll of audio from before SpeechStarted is kept so the first
// syllable is not lost to the StartSecs delay.
type Segmenter struct {
	analyzer     *Analyzer
	sampleRate   int
	preRollBytes int
	maxBytes     int

	history    []byte
	utterance  []byte
	collecting bool
}

func NewSegmenter(sampleRate int, params Params, preRoll time.Duration, maxUtterance time.Duration) *Segmenter {
	return &Segmenter{
		analyzer:     NewAnalyzer(sampleRate, params),
		sampleRate:   sampleRate,
		preRollBytes: int(preRoll.Seconds() * float64(sampleRate)),
		maxBytes:     int(maxUtterance.Seconds() * float64(sampleRate)),
	}
}

// Push feeds one chunk of 8-bit mu-law audio. It returns the VAD transitions
// the chunk caused and, when an utterance just ended, the utterance audio.
func (s *Segmenter) Push(mulawBytes []byte) (events []Event, utterance []byte) {
	if s.collecting {
		s.utterance = append(s.utterance, mulawBytes...)
	} else {
		s.history = append(s.history, mulawBytes...)
		if over := len(s.history) - s.preRollBytes; over > 0 {
			s.history = append([]byte(nil), s.history[over:]...)
		}
	}

	events = s.analyzer.Analyze(audio_utils.DecodeFromMulaw(mulawBytes, s.sampleRate).Data)
	for _, ev := range events {
		switch ev {
		case SpeechStarted:
			if !s.collecting {
				s.collecting = true
				s.utterance = s.history
				s.history = nil
			}
		case SpeechStopped:
			if s.collecting {
				utterance = s.utterance
				s.utterance = nil
				s.collecting = false
			}
		}
	}

	if s.collecting && s.maxBytes > 0 && len(s.utterance) >= s.maxBytes {
		utterance = s.utterance
		s.utterance = nil
	}
	return events, utterance
}

func (s *Segmenter) Speaking() bool {
	return s.collecting
}

func (s *Segmenter) Reset() {
	s.analyzer.Reset()
	s.history = nil
	s.utterance = nil
	s.collecting = false
}
