package audioio

import (
	"encoding/base64"
	"encoding/json"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type plivoSerializer struct {
	streamID string
}

func NewPlivoSerializer() FrameSerializer {
	return &plivoSerializer{}
}

func (p *plivoSerializer) SetStreamID(streamID string) {
	p.streamID = streamID
}

func (p *plivoSerializer) Deserialize(msg []byte) (StreamEvent, error) {
	var message PlivoMessage
	if err := json.Unmarshal(msg, &message); err != nil {
		return StreamEvent{}, errors.Wrapf(err, "cannot decode plivo message %s", truncatePayload(string(msg)))
	}
	log.Trace().Str("message", truncatePayload(string(msg))).Msg("plivo message received")

	event := StreamEvent{RawEvent: message.Event, StreamID: message.StreamID}
	switch message.Event {
	case "start":
		event.Type = EventStart
		if message.Start == nil {
			return event, errors.New("plivo start event without start payload")
		}
		event.StreamID = message.Start.StreamID
		event.CallID = message.Start.CallID
	case "media":
		event.Type = EventMedia
		if message.Media == nil {
			return event, errors.New("plivo media event without media payload")
		}
		audio, err := base64.StdEncoding.DecodeString(message.Media.Payload)
		if err != nil {
			return event, errors.Wrap(err, "cannot decode plivo media payload")
		}
		event.Audio = audio
	case "stop":
		event.Type = EventStop
	case "playedStream":
		event.Type = EventMark
		event.Mark = message.Name
	case "clearedAudio":
		event.Type = EventClearedAudio
	case "dtmf":
		event.Type = EventDTMF
		if message.DTMF != nil {
			event.Digit = message.DTMF.Digit
		}
	default:
		event.Type = EventUnknown
	}
	return event, nil
}

func (p *plivoSerializer) SerializeAudio(mulaw []byte) ([]byte, error) {
	return json.Marshal(PlivoMessage{
		Event:    "playAudio",
		StreamID: p.streamID,
		Media: &PlivoMediaPayload{
			ContentType: PlivoMulawContentType,
			SampleRate:  audio_utils.TelephonySampleRate,
			Payload:     base64.StdEncoding.EncodeToString(mulaw),
		},
	})
}

func (p *plivoSerializer) SerializeClear() ([]byte, error) {
	return json.Marshal(PlivoMessage{
		Event:    "clearAudio",
		StreamID: p.streamID,
	})
}

type twilioSerializer struct {
	streamSid string
}

func NewTwilioSerializer() FrameSerializer {
	return &twilioSerializer{}
}

func (t *twilioSerializer) SetStreamID(streamID string) {
	t.streamSid = streamID
}

func (t *twilioSerializer) Deserialize(msg []byte) (StreamEvent, error) {
	var message TwilioMessage
	if err := json.Unmarshal(msg, &message); err != nil {
		// Maybe I just wrongfully implemented, or they changed the API
		return StreamEvent{}, errors.Wrapf(err, "cannot decode twilio message %s", truncatePayload(string(msg)))
	}
	log.Trace().Str("message", truncatePayload(string(msg))).Msg("twilio message received")

	event := StreamEvent{RawEvent: message.Event, StreamID: message.StreamSid}
	switch message.Event {
	case "connected":
		event.Type = EventConnected
	case "start":
		event.Type = EventStart
		if message.Start == nil {
			return event, errors.New("twilio start event without start payload")
		}
		event.StreamID = message.Start.StreamSid
		event.CallID = message.Start.CallSid
	case "media":
		event.Type = EventMedia
		if message.Media == nil {
			return event, errors.New("twilio media event without media payload")
		}
		// https://en.wikipedia.org/wiki/%CE%9C-law_algorithm
		audio, err := base64.StdEncoding.DecodeString(message.Media.Payload)
		if err != nil {
			return event, errors.Wrap(err, "cannot decode twilio media payload")
		}
		event.Audio = audio
	case "stop":
		event.Type = EventStop
		if message.Stop != nil {
			event.CallID = message.Stop.CallSid
		}
	case "mark":
		event.Type = EventMark
		if message.Mark != nil {
			event.Mark = message.Mark.Name
		}
	case "dtmf":
		event.Type = EventDTMF
		if message.DTMF != nil {
			event.Digit = message.DTMF.Digit
		}
	default:
		event.Type = EventUnknown
	}
	return event, nil
}

func (t *twilioSerializer) SerializeAudio(mulaw []byte) ([]byte, error) {
	return json.Marshal(TwilioMessage{
		Event:     "media",
		StreamSid: t.streamSid,
		Media: &TwilioMediaPayload{
			Payload: base64.StdEncoding.EncodeToString(mulaw),
		},
	})
}

func (t *twilioSerializer) SerializeClear() ([]byte, error) {
	return json.Marshal(TwilioMessage{
		Event:     "clear",
		StreamSid: t.streamSid,
	})
}
