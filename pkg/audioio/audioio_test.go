package audioio

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlivoDeserialize(t *testing.T) {
	s := NewPlivoSerializer()

	event, err := s.Deserialize([]byte(`{"event":"start","sequenceNumber":0,"start":{"callId":"c-1","streamId":"s-1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventStart, event.Type)
	assert.Equal(t, "s-1", event.StreamID)
	assert.Equal(t, "c-1", event.CallID)

	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})
	event, err = s.Deserialize([]byte(`{"event":"media","sequenceNumber":3,"streamId":"s-1","media":{"track":"inbound","timestamp":"1234","chunk":2,"payload":"` + payload + `"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventMedia, event.Type)
	assert.Equal(t, []byte{0xFF, 0x7F, 0x00}, event.Audio)

	tests := []struct {
		msg  string
		want StreamEvent
	}{
		{`{"event":"stop","streamId":"s-1"}`, StreamEvent{Type: EventStop, StreamID: "s-1", RawEvent: "stop"}},
		{`{"event":"playedStream","streamId":"s-1","name":"cp"}`, StreamEvent{Type: EventMark, StreamID: "s-1", Mark: "cp", RawEvent: "playedStream"}},
		{`{"event":"clearedAudio","streamId":"s-1"}`, StreamEvent{Type: EventClearedAudio, StreamID: "s-1", RawEvent: "clearedAudio"}},
		{`{"event":"dtmf","dtmf":{"digit":"5"}}`, StreamEvent{Type: EventDTMF, Digit: "5", RawEvent: "dtmf"}},
		{`{"event":"whatever"}`, StreamEvent{Type: EventUnknown, RawEvent: "whatever"}},
	}
	for _, tt := range tests {
		event, err := s.Deserialize([]byte(tt.msg))
		require.NoError(t, err, tt.msg)
		assert.Equal(t, tt.want, event, tt.msg)
	}
}

func TestPlivoDeserializeErrors(t *testing.T) {
	s := NewPlivoSerializer()
	for _, msg := range []string{
		`not json`,
		`{"event":"start"}`,
		`{"event":"media"}`,
		`{"event":"media","media":{"payload":"%%%"}}`,
	} {
		_, err := s.Deserialize([]byte(msg))
		assert.Error(t, err, msg)
	}
}

func TestPlivoSerialize(t *testing.T) {
	s := NewPlivoSerializer()
	s.SetStreamID("s-1")

	msg, err := s.SerializeAudio([]byte{1, 2, 3})
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &decoded))
	assert.Equal(t, "playAudio", decoded["event"])
	assert.Equal(t, "s-1", decoded["streamId"])
	media := decoded["media"].(map[string]interface{})
	assert.Equal(t, "audio/x-mulaw", media["contentType"])
	assert.Equal(t, float64(8000), media["sampleRate"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), media["payload"])

	msg, err = s.SerializeClear()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clearAudio","streamId":"s-1"}`, string(msg))
}

func TestTwilioDeserialize(t *testing.T) {
	s := NewTwilioSerializer()

	event, err := s.Deserialize([]byte(`{"event":"connected","protocol":"Call","version":"1.0.0"}`))
	require.NoError(t, err)
	assert.Equal(t, EventConnected, event.Type)

	event, err = s.Deserialize([]byte(`{
	 "event": "start",
	 "sequenceNumber": "1",
	 "start": {
	   "accountSid": "ACa9051c185ce5367cfeabc4e1915038f3",
	   "streamSid": "MZ863b44f4a82195cf458ba745d43438d6",
	   "callSid": "CAc9a9dea7c7b17cdb88ce6f0e0532625c",
	   "tracks": ["inbound"],
	   "mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
	 },
	 "streamSid": "MZ863b44f4a82195cf458ba745d43438d6"
	}`))
	require.NoError(t, err)
	assert.Equal(t, EventStart, event.Type)
	assert.Equal(t, "MZ863b44f4a82195cf458ba745d43438d6", event.StreamID)
	assert.Equal(t, "CAc9a9dea7c7b17cdb88ce6f0e0532625c", event.CallID)

	event, err = s.Deserialize([]byte(`{"event":"media","sequenceNumber":"2","media":{"track":"inbound","chunk":"1","timestamp":"5","payload":"` + twilioPayload + `"},"streamSid":"MZ1"}`))
	require.NoError(t, err)
	assert.Equal(t, EventMedia, event.Type)
	assert.Len(t, event.Audio, 160)

	event, err = s.Deserialize([]byte(`{"event":"stop","sequenceNumber":"5","stop":{"accountSid":"AC1","callSid":"CA1"},"streamSid":"MZ1"}`))
	require.NoError(t, err)
	assert.Equal(t, EventStop, event.Type)
	assert.Equal(t, "CA1", event.CallID)

	event, err = s.Deserialize([]byte(`{"event":"mark","streamSid":"MZ1","mark":{"name":"my label"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventMark, event.Type)
	assert.Equal(t, "my label", event.Mark)

	event, err = s.Deserialize([]byte(`{"event":"dtmf","streamSid":"MZ1","dtmf":{"track":"inbound_track","digit":"1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDTMF, event.Type)
	assert.Equal(t, "1", event.Digit)
}

func TestTwilioSerialize(t *testing.T) {
	s := NewTwilioSerializer()
	s.SetStreamID("MZ1")

	msg, err := s.SerializeAudio([]byte{0xFF})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"media","streamSid":"MZ1","media":{"payload":"/w=="}}`, string(msg))

	msg, err = s.SerializeClear()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clear","streamSid":"MZ1"}`, string(msg))
}

func TestTruncatePayload(t *testing.T) {
	long := strings.Repeat("a", 300)
	truncated := truncatePayload(`{"event":"media","media":{"payload":"` + long + `"}}`)
	assert.Contains(t, truncated, "(truncated)")
	assert.NotContains(t, truncated, long)

	short := `{"payload":"abc"}`
	assert.Equal(t, short, truncatePayload(short))
}

func TestAmbienceMixerLoops(t *testing.T) {
	_, err := NewAmbienceMixer(nil, 1.0)
	assert.Error(t, err)

	mixer, err := NewAmbienceMixer([]int{1000, 2000}, 1.0)
	require.NoError(t, err)

	silence := audio_utils.MulawSilence(5)
	mixed := mixer.Mix(silence)
	require.Len(t, mixed, 5)
	decoded := audio_utils.DecodeFromMulaw(mixed, audio_utils.TelephonySampleRate).Data
	// mu-law is lossy, only check the loop pattern
	assert.InDelta(t, 1000, decoded[0], 40)
	assert.InDelta(t, 2000, decoded[1], 70)
	assert.InDelta(t, 1000, decoded[2], 40)
	// the next call continues where the previous ended
	decoded = audio_utils.DecodeFromMulaw(mixer.Mix(audio_utils.MulawSilence(1)), audio_utils.TelephonySampleRate).Data
	assert.InDelta(t, 2000, decoded[0], 70)

	var nilMixer *AmbienceMixer
	assert.Equal(t, silence, nilMixer.Mix(silence))
}

func TestPcmQueuePadsWithSilence(t *testing.T) {
	q := &pcmQueue{}
	require.NoError(t, q.push([]byte{1, 2, 3}))

	buf := []byte{9, 9, 9, 9, 9}
	n, err := q.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{1, 2, 3, 0, 0}, buf)

	require.NoError(t, q.push([]byte{4, 5}))
	assert.Equal(t, 2, q.clear())
	q.close()
	assert.Error(t, q.push([]byte{1}))
}

type fakeOutputDevice struct {
	mu      sync.Mutex
	written []byte
	clears  int
}

func (f *fakeOutputDevice) Write(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, pcm...)
	return nil
}

func (f *fakeOutputDevice) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeOutputDevice) Close() error { return nil }

func TestPlayAudioChunksRoutine(t *testing.T) {
	device := &fakeOutputDevice{}
	audioChan := make(chan models.AudioData, 3)
	audioChan <- models.AudioData{ByteData: audio_utils.MulawSilence(160), Format: models.FormatMulaw, SampleRate: 8000}
	audioChan <- models.AudioData{EventType: models.ClearOutput}
	audioChan <- models.AudioData{ByteData: []byte{1}, Format: "ogg"}
	close(audioChan)

	PlayAudioChunksRoutine(device, audioChan)
	assert.Len(t, device.written, 320)
	assert.Equal(t, 1, device.clears)
}

// 20ms chunk of silence-ish audio
var twilioPayload = base64.StdEncoding.EncodeToString(audio_utils.MulawSilence(160))
