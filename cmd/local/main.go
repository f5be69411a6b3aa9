// Local phone simulator: talks to a running server over the Plivo media stream protocol,
// using the microphone as the caller and the speakers as the phone earpiece.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/petrzlen/vocode-telephony/internal/networking"
	"github.com/petrzlen/vocode-telephony/internal/utils"
	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/audioio"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/petrzlen/vocode-telephony/pkg/telephony"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Cannot load .env file, using the environment only")
	}
	defaultServer := os.Getenv("SERVER_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	serverURL := flag.String("server", defaultServer, "base url of the running server")
	callUUID := flag.String("call", "", "call uuid to stream as, random when empty")
	saveTo := flag.String("save", "", "optional path to save the microphone recording as wav")
	flag.Parse()
	utils.SetupZerolog(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if *callUUID == "" {
		*callUUID = uuid.NewString()
	}
	wsURL := telephony.WebsocketURL(*serverURL, *callUUID)

	speakers, err := audioio.NewSpeakers(audio_utils.TelephonySampleRate, 1)
	ftl(err)
	defer func() { utils.ErrLog(speakers.Close(), "speakers close") }()
	microphone, err := audioio.NewMicrophone()
	ftl(err)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := networking.NewChanHandler(64)
	dialDone := make(chan error, 1)
	go func() {
		dialDone <- networking.Dial(ctx, wsURL, handler)
	}()

	playChan := make(chan models.AudioData, 64)
	go audioio.PlayAudioChunksRoutine(speakers, playChan)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer close(playChan)
		receiveRoutine(handler.Reader, playChan)
	}()

	micChan := make(chan models.AudioData, 64)
	streamID := uuid.NewString()
	handler.Writer <- mustMarshal(audioio.PlivoMessage{
		Event:    "start",
		StreamID: streamID,
		Start: &audioio.PlivoStartPayload{
			CallID:   *callUUID,
			StreamID: streamID,
			Tracks:   []string{"inbound"},
			MediaFormat: audioio.StreamMediaFormat{
				Encoding:   audioio.PlivoMulawContentType,
				SampleRate: audio_utils.TelephonySampleRate,
			},
		},
	})
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		sendRoutine(streamID, micChan, handler.Writer)
	}()
	ftl(microphone.StartRecording(micChan))
	log.Info().Str("url", wsURL).Str("call_uuid", *callUUID).Msg("call started, speak up, Ctrl+C to hang up")

	select {
	case <-ctx.Done():
		log.Info().Msg("hanging up")
	case <-readerDone:
		log.Info().Msg("the other side hung up")
	}

	// Closes micChan, which lets sendRoutine say goodbye and close the websocket.
	recording, err := microphone.StopRecording()
	utils.ErrLog(err, "microphone stop")
	<-senderDone
	select {
	case err := <-dialDone:
		utils.ErrLog(err, "websocket")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("websocket did not close in time")
	}

	if *saveTo != "" && len(recording) > 0 {
		utils.ErrLog(os.WriteFile(*saveTo, recording, 0644), "save recording")
	}
}

// sendRoutine forwards microphone chunks as mu-law media events, then sends stop and closes writer.
func sendRoutine(streamID string, micChan <-chan models.AudioData, writer chan<- []byte) {
	defer close(writer)
	chunk := 0
	start := time.Now()
	for audioData := range micChan {
		mulaw, err := audio_utils.DecodeToMulaw(audioData.ByteData, audioData.Format, audioData.SampleRate)
		if err != nil {
			log.Error().Err(err).Msg("cannot encode microphone chunk")
			continue
		}
		chunk++
		writer <- mustMarshal(audioio.PlivoMessage{
			Event:          "media",
			SequenceNumber: chunk,
			StreamID:       streamID,
			Media: &audioio.PlivoMediaPayload{
				Track:     "inbound",
				Chunk:     chunk,
				Timestamp: fmt.Sprintf("%d", time.Since(start).Milliseconds()),
				Payload:   base64.StdEncoding.EncodeToString(mulaw),
			},
		})
	}
	writer <- mustMarshal(audioio.PlivoMessage{Event: "stop", StreamID: streamID})
	log.Info().Int("chunks", chunk).Msg("microphone stream finished")
}

// receiveRoutine plays what the bot says until the websocket closes.
func receiveRoutine(reader <-chan []byte, playChan chan<- models.AudioData) {
	for msg := range reader {
		var message audioio.PlivoMessage
		if err := json.Unmarshal(msg, &message); err != nil {
			log.Warn().Err(err).Msg("cannot decode server message")
			continue
		}
		switch message.Event {
		case "playAudio":
			if message.Media == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(message.Media.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("cannot decode playAudio payload")
				continue
			}
			playChan <- models.AudioData{
				EventType:  models.AudioOutput,
				ByteData:   mulaw,
				Format:     models.FormatMulaw,
				SampleRate: audio_utils.TelephonySampleRate,
				Trace:      models.NewTrace("local_phone"),
			}
		case "clearAudio":
			playChan <- models.AudioData{EventType: models.ClearOutput}
		default:
			log.Debug().Str("event", message.Event).Msg("ignoring server message")
		}
	}
}

func mustMarshal(message audioio.PlivoMessage) []byte {
	msg, err := json.Marshal(message)
	ftl(err)
	return msg
}

func ftl(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
