package audioio

import (
	"github.com/petrzlen/vocode-telephony/pkg/models"
)

// InputDevice produces raw audio chunks until StopRecording.
type InputDevice interface {
	StartRecording(recordingChan chan models.AudioData) error
	// StopRecording closes recordingChan and returns the entire recording as WAV.
	StopRecording() ([]byte, error)
}

// OutputDevice plays a continuous stream of 16-bit little endian PCM.
type OutputDevice interface {
	Write(pcm []byte) error
	// Clear drops everything queued but not yet played, e.g. on barge-in.
	Clear() error
	Close() error
}

type StreamEventType string

const (
	EventConnected    StreamEventType = "connected"
	EventStart        StreamEventType = "start"
	EventMedia        StreamEventType = "media"
	EventStop         StreamEventType = "stop"
	EventMark         StreamEventType = "mark"
	EventDTMF         StreamEventType = "dtmf"
	EventClearedAudio StreamEventType = "clearedAudio"
	EventUnknown      StreamEventType = "unknown"
)

// StreamEvent is a provider independent view of one inbound websocket message.
type StreamEvent struct {
	Type     StreamEventType
	StreamID string
	CallID   string
	// Audio is 8kHz mu-law, only set for EventMedia.
	Audio []byte
	// Mark is the name of a played mark / checkpoint.
	Mark  string
	Digit string
	// RawEvent keeps the provider's event name, useful for EventUnknown.
	RawEvent string
}

// FrameSerializer translates between a provider's media stream protocol and StreamEvent / mu-law audio.
// Implementations are not safe for concurrent use of SetStreamID and Serialize*.
type FrameSerializer interface {
	Deserialize(msg []byte) (StreamEvent, error)
	SerializeAudio(mulaw []byte) ([]byte, error)
	SerializeClear() ([]byte, error)
	SetStreamID(streamID string)
}
