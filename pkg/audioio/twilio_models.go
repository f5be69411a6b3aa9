package audioio

import (
	"fmt"
	"regexp"
)

// TwilioMessage is a base struct for all Websocket events with Twilio.
type TwilioMessage struct {
	// Event either of "connected", "start", "media", "stop", "mark", "dtmf" or "clear"
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSid      string `json:"streamSid,omitempty"`

	Start *TwilioStartPayload `json:"start,omitempty"`
	Media *TwilioMediaPayload `json:"media,omitempty"`
	Stop  *TwilioStopPayload  `json:"stop,omitempty"`
	Mark  *TwilioMarkPayload  `json:"mark,omitempty"`
	DTMF  *TwilioDTMFPayload  `json:"dtmf,omitempty"`
	// No extra payload for event = "clear"

	// Payload for event = "connected"
	Protocol *string `json:"protocol,omitempty"`
	Version  *string `json:"version,omitempty"`
}

// TwilioStartPayload contains important metadata about the stream and is sent immediately after the Connected message.
type TwilioStartPayload struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      StreamMediaFormat `json:"mediaFormat"`
}

type StreamMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels,omitempty"`
}

// TwilioMediaPayload https://www.twilio.com/docs/voice/twiml/stream#message-media
// For outbound messages only Payload is set.
type TwilioMediaPayload struct {
	// One of inbound or outbound
	Track string `json:"track,omitempty"`
	// The chunk for the message. The first message will begin with "1" and increment with each subsequent message.
	Chunk string `json:"chunk,omitempty"`
	// Presentation Timestamp in Milliseconds from the start of the stream.
	Timestamp string `json:"timestamp,omitempty"`
	// This is base64 encoded audio/x-mulaw - which is a form of audio compression commonly used in telephony.
	Payload string `json:"payload"`
}

// TwilioStopPayload https://www.twilio.com/docs/voice/twiml/stream#message-stop
type TwilioStopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// TwilioMarkPayload https://www.twilio.com/docs/voice/twiml/stream#message-mark
type TwilioMarkPayload struct {
	Name string `json:"name"`
}

// TwilioDTMFPayload https://www.twilio.com/docs/voice/twiml/stream#message-dtmf
type TwilioDTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

var payloadRegexp = regexp.MustCompile(`"payload":\s*"(.*?)"`)

// truncatePayload shortens the "payload" field in a JSON string to the first 100 characters.
func truncatePayload(jsonStr string) string {
	return payloadRegexp.ReplaceAllStringFunc(jsonStr, func(m string) string {
		matches := payloadRegexp.FindStringSubmatch(m)
		if len(matches) > 1 {
			payload := matches[1]
			if len(payload) > 100 {
				return fmt.Sprintf(`"payload": "%.100s ... (truncated)"`, payload)
			}
		}
		return m
	})
}
