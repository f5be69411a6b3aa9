// Package pipeline runs one phone conversation:
// websocket audio -> VAD -> transcriber -> conversation -> chat agent -> synthesizer -> websocket audio.
//
// Bot.Run owns a single event loop. Transcription and every response (LLM + TTS) run in their own
// goroutines and report back over channels, so the conversation and the recording are only ever
// touched from the loop.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/agent"
	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/audioio"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/petrzlen/vocode-telephony/pkg/synthesizer"
	"github.com/petrzlen/vocode-telephony/pkg/transcriber"
	"github.com/petrzlen/vocode-telephony/pkg/vad"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultSystemPrompt = "You are a helpful LLM in an audio call. Your goal is to demonstrate your capabilities in a succinct way. " +
	"Your output will be converted to audio so don't include special characters in your answers. " +
	"Respond to what the user said in a creative and helpful way."

const DefaultIntroPrompt = "Please introduce yourself to the user."

// frameBytes is 20ms of 8kHz mu-law, the chunk size providers expect.
const frameBytes = audio_utils.TelephonySampleRate / 50

type Config struct {
	SystemPrompt string
	// IntroPrompt is added as an extra system message once the stream starts, to make the bot speak first.
	// Empty means the bot waits for the caller.
	IntroPrompt        string
	AllowInterruptions bool
	VAD                vad.Params
	// PreRoll is audio kept from before the VAD fired.
	PreRoll      time.Duration
	MaxUtterance time.Duration
	Speed        float64
	ModelQuality agent.ModelQuality
}

func DefaultConfig() Config {
	return Config{
		SystemPrompt:       DefaultSystemPrompt,
		IntroPrompt:        DefaultIntroPrompt,
		AllowInterruptions: true,
		VAD:                vad.DefaultParams(),
		PreRoll:            300 * time.Millisecond,
		MaxUtterance:       30 * time.Second,
		Speed:              synthesizer.DefaultSpeed,
		ModelQuality:       agent.FastAndCheap,
	}
}

type Bot struct {
	config      Config
	serializer  audioio.FrameSerializer
	transcriber transcriber.Transcriber
	chatAgent   agent.ChatAgent
	tts         synthesizer.Synthesizer
	// optional
	mixer *audioio.AmbienceMixer
}

func NewBot(config Config, serializer audioio.FrameSerializer, stt transcriber.Transcriber, chatAgent agent.ChatAgent, tts synthesizer.Synthesizer, mixer *audioio.AmbienceMixer) *Bot {
	return &Bot{
		config:      config,
		serializer:  serializer,
		transcriber: stt,
		chatAgent:   chatAgent,
		tts:         tts,
		mixer:       mixer,
	}
}

type Result struct {
	StreamID   string
	CallID     string
	Transcript []models.Message
	// StereoWav is caller left, bot right, 8kHz 16-bit.
	StereoWav []byte
	Duration  time.Duration
}

// botChunk is one synthesized sentence already converted to mu-law.
type botChunk struct {
	responseID int
	mulaw      []byte
	text       string
}

// spokenChunk is a botChunk placed on the call timeline.
type spokenChunk struct {
	text  string
	start int
}

type response struct {
	id     int
	cancel context.CancelFunc
	chunks []spokenChunk
	done   bool
}

type runState struct {
	logger       zerolog.Logger
	conversation *models.Conversation
	recorder     *recorder
	segmenter    *vad.Segmenter
	outbound     chan<- []byte

	runCtx    context.Context
	botAudio  chan botChunk
	botDone   chan int
	nextID    int
	current   *response
	streamID  string
	callID    string
	started   bool
	responses int
}

// Run blocks until the call ends: a stop event, inbound being closed or ctx being done.
// It never closes outbound, that is up to the caller. A logger attached to ctx (zerolog.Ctx) is used when present.
func (b *Bot) Run(ctx context.Context, inbound <-chan []byte, outbound chan<- []byte) (Result, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	logger := log.Logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		logger = *ctxLogger
	}

	s := &runState{
		logger:       logger,
		conversation: models.NewConversation(b.config.SystemPrompt),
		recorder:     &recorder{},
		segmenter:    vad.NewSegmenter(audio_utils.TelephonySampleRate, b.config.VAD, b.config.PreRoll, b.config.MaxUtterance),
		outbound:     outbound,
		runCtx:       runCtx,
		botAudio:     make(chan botChunk, 16),
		botDone:      make(chan int, 4),
	}

	utterances := make(chan models.AudioData, 8)
	transcripts := make(chan models.AudioData, 8)
	transcriberDone := make(chan string, 1)
	go func() {
		transcriberDone <- transcriber.TranscribeAudioRoutine(runCtx, b.transcriber, utterances, transcripts)
	}()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case msg, ok := <-inbound:
			if !ok {
				s.logger.Info().Msg("inbound closed, ending call")
				break loop
			}
			if stop := b.handleMessage(s, msg, utterances); stop {
				break loop
			}
		case transcript, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			b.handleTranscript(s, transcript.Text)
		case chunk := <-s.botAudio:
			b.handleBotChunk(s, chunk)
		case id := <-s.botDone:
			if s.current != nil && s.current.id == id {
				s.current.done = true
				s.logger.Debug().Int("response_id", id).Int("chunks", len(s.current.chunks)).Msg("response generated")
			}
		}
	}

	s.commitCurrent(false)
	// whatever was still queued at the provider was never heard
	s.recorder.truncateBot()
	close(utterances)
	cancelRun()
	<-transcriberDone

	result := Result{
		StreamID:   s.streamID,
		CallID:     s.callID,
		Transcript: s.conversation.Transcript(),
		Duration:   time.Duration(s.recorder.now()) * time.Second / audio_utils.TelephonySampleRate,
	}
	stereoWav, err := s.recorder.stereoWav()
	if err != nil {
		s.logger.Error().Err(err).Msg("cannot encode stereo recording")
	}
	result.StereoWav = stereoWav
	s.conversation.DebugLog()
	s.logger.Info().Dur("duration", result.Duration).Int("responses", s.responses).Int("transcript_messages", len(result.Transcript)).Msg("call pipeline finished")
	return result, runErr
}

// handleMessage returns true once the call is over.
func (b *Bot) handleMessage(s *runState, msg []byte, utterances chan<- models.AudioData) bool {
	event, err := b.serializer.Deserialize(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("cannot deserialize stream message, skipping")
		return false
	}

	switch event.Type {
	case audioio.EventConnected:
		s.logger.Debug().Msg("stream connected")
	case audioio.EventStart:
		if s.started {
			s.logger.Warn().Str("stream_id", event.StreamID).Msg("duplicate start event")
			return false
		}
		s.started = true
		s.streamID = event.StreamID
		s.callID = event.CallID
		b.serializer.SetStreamID(event.StreamID)
		s.logger = s.logger.With().Str("stream_id", event.StreamID).Str("provider_call_id", event.CallID).Logger()
		s.logger.Info().Msg("stream started")
		if b.config.IntroPrompt != "" {
			s.conversation.AddSystem(b.config.IntroPrompt)
			b.respond(s)
		}
	case audioio.EventMedia:
		b.handleMedia(s, event.Audio, utterances)
	case audioio.EventStop:
		s.logger.Info().Msg("stream stopped by provider")
		return true
	case audioio.EventMark, audioio.EventClearedAudio:
		s.logger.Debug().Str("event", event.RawEvent).Str("mark", event.Mark).Msg("playback event")
	case audioio.EventDTMF:
		s.logger.Info().Str("digit", event.Digit).Msg("dtmf received")
	default:
		s.logger.Warn().Str("event", event.RawEvent).Msg("unknown stream event")
	}
	return false
}

func (b *Bot) handleMedia(s *runState, mulaw []byte, utterances chan<- models.AudioData) {
	s.recorder.addCaller(audio_utils.DecodeFromMulaw(mulaw, audio_utils.TelephonySampleRate).Data)

	events, utterance := s.segmenter.Push(mulaw)
	for _, ev := range events {
		if ev == vad.SpeechStarted {
			s.logger.Debug().Msg("caller started speaking")
			if b.config.AllowInterruptions && s.botSpeaking() {
				b.interrupt(s)
			}
		}
	}
	if utterance == nil {
		return
	}
	length := time.Duration(len(utterance)) * time.Second / audio_utils.TelephonySampleRate
	s.logger.Debug().Dur("utterance_length", length).Msg("utterance finished")
	select {
	case utterances <- models.AudioData{
		EventType:  models.AudioInput,
		ByteData:   utterance,
		Format:     models.FormatMulaw,
		SampleRate: audio_utils.TelephonySampleRate,
		Length:     length,
		Trace:      models.NewTrace("pipeline.vad"),
	}:
	default:
		s.logger.Warn().Dur("utterance_length", length).Msg("transcriber is behind, dropping utterance")
	}
}

func (b *Bot) handleTranscript(s *runState, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.logger.Info().Str("user", text).Msg("caller said")
	// A response which was not interrupted is kept as is, even if still generating.
	s.commitCurrent(true)
	s.conversation.Add(models.RoleUser, text)
	b.respond(s)
}

func (b *Bot) handleBotChunk(s *runState, chunk botChunk) {
	if s.current == nil || s.current.id != chunk.responseID {
		// Late audio of an interrupted response.
		return
	}
	mulaw := b.mixer.Mix(chunk.mulaw)
	start := s.recorder.addBot(audio_utils.DecodeFromMulaw(mulaw, audio_utils.TelephonySampleRate).Data)
	s.current.chunks = append(s.current.chunks, spokenChunk{text: chunk.text, start: start})

	for i := 0; i < len(mulaw); i += frameBytes {
		end := i + frameBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}
		msg, err := b.serializer.SerializeAudio(mulaw[i:end])
		if err != nil {
			s.logger.Error().Err(err).Msg("cannot serialize audio frame")
			return
		}
		if !s.send(msg) {
			return
		}
	}
}

// respond starts a new LLM + TTS run on the current conversation.
func (b *Bot) respond(s *runState) {
	if s.current != nil {
		s.current.cancel()
	}
	s.nextID++
	s.responses++
	ctx, cancel := context.WithCancel(s.runCtx)
	s.current = &response{id: s.nextID, cancel: cancel}

	id := s.nextID
	logger := s.logger.With().Int("response_id", id).Logger()
	tokens := make(chan string, 100)
	audio := make(chan models.AudioData, 10)
	go func() {
		if err := b.chatAgent.RunPrompt(ctx, b.config.ModelQuality, s.conversation, tokens); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("chat agent failed")
		}
	}()
	go synthesizer.TextToSpeechAndEncodeRoutine(ctx, b.tts, b.config.Speed, tokens, audio)
	go func() {
		for audioData := range audio {
			mulaw, err := audio_utils.DecodeToMulaw(audioData.ByteData, audioData.Format, audioData.SampleRate)
			if err != nil {
				logger.Error().Err(err).Str("format", audioData.Format).Msg("cannot convert tts audio, skipping")
				continue
			}
			select {
			case s.botAudio <- botChunk{responseID: id, mulaw: mulaw, text: audioData.Text}:
			case <-ctx.Done():
			}
		}
		select {
		case s.botDone <- id:
		case <-s.runCtx.Done():
		}
	}()
}

// interrupt stops the bot mid-sentence, the assistant turn keeps only what was already played.
func (b *Bot) interrupt(s *runState) {
	s.logger.Info().Int("response_id", s.current.id).Int("unplayed_samples", s.recorder.botAhead()).Msg("caller interrupted the bot")
	if msg, err := b.serializer.SerializeClear(); err == nil {
		s.send(msg)
	} else {
		s.logger.Error().Err(err).Msg("cannot serialize clear")
	}
	s.recorder.truncateBot()
	s.commitCurrent(false)
}

func (s *runState) botSpeaking() bool {
	if s.current == nil {
		return false
	}
	return !s.current.done || s.recorder.botAhead() > 0
}

// commitCurrent adds the current response as an assistant turn and forgets it.
// With full=false only chunks which started playing count.
func (s *runState) commitCurrent(full bool) {
	if s.current == nil {
		return
	}
	if !full || !s.current.done {
		s.current.cancel()
	}
	now := s.recorder.now()
	var spoken []string
	for _, chunk := range s.current.chunks {
		if full || chunk.start < now {
			spoken = append(spoken, chunk.text)
		}
	}
	if text := strings.Join(spoken, " "); text != "" {
		s.conversation.Add(models.RoleAssistant, text)
	}
	s.current = nil
}

func (s *runState) send(msg []byte) bool {
	select {
	case s.outbound <- msg:
		return true
	case <-s.runCtx.Done():
		return false
	}
}
