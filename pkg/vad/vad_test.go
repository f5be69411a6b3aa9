package vad

import (
	"testing"
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rate = 8000

// 20ms of samples at 8kHz
func frame(amplitude int) []int {
	samples := make([]int, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return samples
}

func mulawFrame(amplitude int) []byte {
	result := make([]byte, 160)
	for i, s := range frame(amplitude) {
		result[i] = audio_utils.LinearToMulaw(int16(s))
	}
	return result
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "QUIET", Quiet.String())
	assert.Equal(t, "SPEAKING", Speaking.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestAnalyzerStartsAndStops(t *testing.T) {
	a := NewAnalyzer(rate, DefaultParams())

	// 0.2s of speech = 10 frames, the 10th one triggers.
	for i := 0; i < 9; i++ {
		assert.Empty(t, a.Analyze(frame(8000)), "frame %d", i)
	}
	assert.Equal(t, Starting, a.State())
	assert.Equal(t, []Event{SpeechStarted}, a.Analyze(frame(8000)))
	assert.Equal(t, Speaking, a.State())

	// 0.8s of silence = 40 frames.
	for i := 0; i < 39; i++ {
		assert.Empty(t, a.Analyze(frame(0)), "frame %d", i)
	}
	assert.Equal(t, Stopping, a.State())
	assert.Equal(t, []Event{SpeechStopped}, a.Analyze(frame(0)))
	assert.Equal(t, Quiet, a.State())
}

func TestAnalyzerIgnoresShortNoise(t *testing.T) {
	a := NewAnalyzer(rate, DefaultParams())
	for i := 0; i < 5; i++ {
		a.Analyze(frame(8000))
	}
	a.Analyze(frame(0))
	assert.Equal(t, Quiet, a.State())
}

func TestAnalyzerShortPauseKeepsSpeaking(t *testing.T) {
	a := NewAnalyzer(rate, DefaultParams())
	for i := 0; i < 10; i++ {
		a.Analyze(frame(8000))
	}
	require.Equal(t, Speaking, a.State())
	for i := 0; i < 10; i++ {
		a.Analyze(frame(0))
	}
	assert.Equal(t, Stopping, a.State())
	a.Analyze(frame(8000))
	assert.Equal(t, Speaking, a.State())
}

func TestAnalyzerKeepsPartialFrames(t *testing.T) {
	a := NewAnalyzer(rate, Params{StartSecs: 0.02, StopSecs: 0.02, MinVolume: 0.02, FrameMs: 20})
	loud := frame(8000)
	assert.Empty(t, a.Analyze(loud[:100]))
	assert.Equal(t, []Event{SpeechStarted}, a.Analyze(loud[100:]))
}

func TestSegmenterProducesUtteranceWithPreRoll(t *testing.T) {
	s := NewSegmenter(rate, DefaultParams(), 500*time.Millisecond, 30*time.Second)

	for i := 0; i < 50; i++ {
		_, utterance := s.Push(mulawFrame(0))
		assert.Nil(t, utterance)
	}
	assert.False(t, s.Speaking())

	var started bool
	for i := 0; i < 25; i++ {
		events, _ := s.Push(mulawFrame(8000))
		for _, ev := range events {
			started = started || ev == SpeechStarted
		}
	}
	assert.True(t, started)
	assert.True(t, s.Speaking())

	var utterance []byte
	for i := 0; i < 40 && utterance == nil; i++ {
		_, utterance = s.Push(mulawFrame(0))
	}
	require.NotNil(t, utterance)
	assert.False(t, s.Speaking())
	// pre-roll (0.5s) + speech after the start event (15 frames) + trailing silence (0.8s)
	assert.Equal(t, 4000+15*160+40*160, len(utterance))
}

func TestSegmenterCutsLongUtterances(t *testing.T) {
	s := NewSegmenter(rate, DefaultParams(), 0, time.Second)
	var cut []byte
	for i := 0; i < 100 && cut == nil; i++ {
		_, cut = s.Push(mulawFrame(8000))
	}
	require.NotNil(t, cut)
	assert.GreaterOrEqual(t, len(cut), rate)
	assert.True(t, s.Speaking(), "still collecting after a forced cut")
}

func TestSegmenterReset(t *testing.T) {
	s := NewSegmenter(rate, DefaultParams(), 0, 0)
	for i := 0; i < 20; i++ {
		s.Push(mulawFrame(8000))
	}
	require.True(t, s.Speaking())
	s.Reset()
	assert.False(t, s.Speaking())
}
