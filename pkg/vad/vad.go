// Package vad detects when the caller starts and stops talking.
//
// It is an energy based detector: a frame counts as speech when its RMS volume
// is above MinVolume. StartSecs of consecutive speech moves the analyzer into
// Speaking, StopSecs of consecutive silence moves it back to Quiet.
package vad

import (
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
)

type State int

const (
	Quiet State = iota
	Starting
	Speaking
	Stopping
)

func (s State) String() string {
	names := [...]string{"QUIET", "STARTING", "SPEAKING", "STOPPING"}
	if s < Quiet || s > Stopping {
		return "UNKNOWN"
	}
	return names[s]
}

type Params struct {
	StartSecs float64
	StopSecs  float64
	// MinVolume is the RMS threshold in [0, 1].
	MinVolume float64
	// FrameMs is the analysis window.
	FrameMs int
}

func DefaultParams() Params {
	return Params{
		StartSecs: 0.2,
		StopSecs:  0.8,
		MinVolume: 0.02,
		FrameMs:   20,
	}
}

// Event is a transition worth acting on.
type Event int

const (
	NoEvent Event = iota
	SpeechStarted
	SpeechStopped
)

// Analyzer is not safe for concurrent use, one per call.
type Analyzer struct {
	params      Params
	sampleRate  int
	frameSize   int
	startFrames int
	stopFrames  int

	pending []int
	state   State
	// consecutive frames in the current Starting / Stopping run
	run int
}

func NewAnalyzer(sampleRate int, params Params) *Analyzer {
	if params.FrameMs <= 0 {
		params.FrameMs = 20
	}
	frameSize := sampleRate * params.FrameMs / 1000
	if frameSize <= 0 {
		frameSize = 1
	}
	return &Analyzer{
		params:      params,
		sampleRate:  sampleRate,
		frameSize:   frameSize,
		startFrames: framesFor(params.StartSecs, params.FrameMs),
		stopFrames:  framesFor(params.StopSecs, params.FrameMs),
		state:       Quiet,
	}
}

func framesFor(secs float64, frameMs int) int {
	frames := int(secs * 1000 / float64(frameMs))
	if frames < 1 {
		frames = 1
	}
	return frames
}

func (a *Analyzer) State() State {
	return a.state
}

// FrameDuration is how much audio one analysis step consumes.
func (a *Analyzer) FrameDuration() time.Duration {
	return time.Duration(a.params.FrameMs) * time.Millisecond
}

// Analyze consumes samples and returns the transitions they caused, in order.
// Leftover samples shorter than a frame are kept for the next call.
func (a *Analyzer) Analyze(samples []int) []Event {
	a.pending = append(a.pending, samples...)
	var events []Event
	for len(a.pending) >= a.frameSize {
		frame := a.pending[:a.frameSize]
		if ev := a.step(audio_utils.Volume(frame) >= a.params.MinVolume); ev != NoEvent {
			events = append(events, ev)
		}
		a.pending = a.pending[a.frameSize:]
	}
	// Compact so the backing array does not grow for the whole call.
	a.pending = append([]int(nil), a.pending...)
	return events
}

func (a *Analyzer) step(voiced bool) Event {
	switch a.state {
	case Quiet:
		if voiced {
			a.state = Starting
			a.run = 1
			if a.run >= a.startFrames {
				a.state = Speaking
				return SpeechStarted
			}
		}
	case Starting:
		if !voiced {
			a.state = Quiet
			a.run = 0
			return NoEvent
		}
		a.run++
		if a.run >= a.startFrames {
			a.state = Speaking
			a.run = 0
			return SpeechStarted
		}
	case Speaking:
		if !voiced {
			a.state = Stopping
			a.run = 1
			if a.run >= a.stopFrames {
				a.state = Quiet
				return SpeechStopped
			}
		}
	case Stopping:
		if voiced {
			a.state = Speaking
			a.run = 0
			return NoEvent
		}
		a.run++
		if a.run >= a.stopFrames {
			a.state = Quiet
			a.run = 0
			return SpeechStopped
		}
	}
	return NoEvent
}

// Reset forgets any partial speech, e.g. after the call was interrupted.
func (a *Analyzer) Reset() {
	a.state = Quiet
	a.run = 0
	a.pending = nil
}
