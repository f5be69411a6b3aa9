package audioio

// Plivo Audio Streaming protocol, https://www.plivo.com/docs/voice/xml/the-stream-element
// Plivo sends sequence numbers and chunks as JSON numbers, unlike Twilio.

const PlivoMulawContentType = "audio/x-mulaw"

// PlivoMessage is the envelope of every websocket message in both directions.
type PlivoMessage struct {
	// Inbound: "start", "media", "stop", "playedStream", "clearedAudio", "dtmf".
	// Outbound: "playAudio", "clearAudio", "checkpoint".
	Event          string `json:"event"`
	SequenceNumber int    `json:"sequenceNumber,omitempty"`
	StreamID       string `json:"streamId,omitempty"`

	Start *PlivoStartPayload `json:"start,omitempty"`
	Media *PlivoMediaPayload `json:"media,omitempty"`
	DTMF  *PlivoDTMFPayload  `json:"dtmf,omitempty"`
	// Name of the checkpoint for "checkpoint" and "playedStream".
	Name string `json:"name,omitempty"`

	ExtraHeaders string `json:"extra_headers,omitempty"`
}

type PlivoStartPayload struct {
	CallID      string            `json:"callId"`
	StreamID    string            `json:"streamId"`
	AccountID   string            `json:"accountId,omitempty"`
	Tracks      []string          `json:"tracks,omitempty"`
	MediaFormat StreamMediaFormat `json:"mediaFormat"`
}

// PlivoMediaPayload is used for inbound "media" and outbound "playAudio".
type PlivoMediaPayload struct {
	Track     string `json:"track,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Chunk     int    `json:"chunk,omitempty"`
	// Outbound only.
	ContentType string `json:"contentType,omitempty"`
	SampleRate  int    `json:"sampleRate,omitempty"`
	// Base64 encoded audio/x-mulaw.
	Payload string `json:"payload"`
}

type PlivoDTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}
