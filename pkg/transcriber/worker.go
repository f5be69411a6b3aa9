package transcriber

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/rs/zerolog/log"
)

// WhisperSampleRate is what the mu-law utterances get upsampled to before upload.
const WhisperSampleRate = 16000

// TranscribeAudioRoutine is intended to run for the entire lifespan of a call.
// Every AudioData on audioChunksChan is one utterance, every non-empty transcript is sent to textChunksChan
// which is closed when audioChunksChan is closed or ctx is done.
func TranscribeAudioRoutine(ctx context.Context, transcriber Transcriber, audioChunksChan <-chan models.AudioData, textChunksChan chan<- models.AudioData) string {
	log.Info().Msgf("TranscribeAudioRoutine started")
	defer close(textChunksChan)

	var transcriptBuilder strings.Builder
	transcriptRepetitions := 0

	for {
		var audioChunk models.AudioData
		var ok bool
		select {
		case <-ctx.Done():
			log.Info().Msg("TranscribeAudioRoutine context done")
			return transcriptBuilder.String()
		case audioChunk, ok = <-audioChunksChan:
		}
		if !ok {
			break
		}
		audioChunk.Trace.ReceivedAt = time.Now()

		if audioChunk.EventType == models.SubmitPrompt {
			textChunksChan <- audioChunk
			continue
		}

		wavBytes, err := toWav(audioChunk)
		if err != nil {
			log.Error().Err(err).Str("format", audioChunk.Format).Msg("cannot convert utterance to wav, skipping chunk")
			continue
		}

		previousWords := transcriptBuilder.String()
		transcript, err := transcriber.SendAudio(ctx, bytes.NewReader(wavBytes), models.FormatWav, previousWords)
		if err != nil {
			log.Error().Err(err).Int("wav_chunk_byte_length", len(wavBytes)).Msg("cannot transcribe audio, skipping chunk")
			continue
		}
		if transcript == "" {
			log.Debug().Dur("utterance_length", audioChunk.Length).Msg("empty transcript, likely noise")
			continue
		}
		// Silence in whisper can be repeating last prompt words over and over like:
		// * .. in 100 words. All right. All right. Well, please, let's do it. All right. Go. All right. All right.
		if len(transcript) >= 3 && strings.HasSuffix(strings.TrimSpace(previousWords), transcript) {
			transcriptRepetitions += 1
			log.Info().Int("repetitions", transcriptRepetitions).Msgf("transcript repeated previous words, skipping audio for: %s", transcript)
			continue
		}
		transcriptRepetitions = 0

		transcriptBuilder.WriteString(" ")
		transcriptBuilder.WriteString(transcript)

		audioChunk.ByteData = nil
		audioChunk.Text = transcript
		audioChunk.Trace.ProcessedAt = time.Now()
		audioChunk.Trace.Processor = "transcriber.worker"
		audioChunk.Trace.Log()
		select {
		case textChunksChan <- audioChunk:
		case <-ctx.Done():
			return transcriptBuilder.String()
		}
	}

	finalTranscript := transcriptBuilder.String()
	log.Info().Msgf("TranscribeAudioRoutine ended with finalTranscript %s", finalTranscript)
	return finalTranscript
}

func toWav(audioChunk models.AudioData) ([]byte, error) {
	switch audioChunk.Format {
	case models.FormatWav:
		return audioChunk.ByteData, nil
	case models.FormatPCM:
		return audio_utils.ConvertTwoByteSamplesToWav(audioChunk.ByteData, uint32(audioChunk.SampleRate), 1)
	default:
		sampleRate := audioChunk.SampleRate
		if sampleRate == 0 {
			sampleRate = audio_utils.TelephonySampleRate
		}
		// https://stackoverflow.com/questions/59767373/convert-8khz-mulaw-to-16khz-pcm-in-real-time
		return audio_utils.ConvertMulawToWav(audioChunk.ByteData, sampleRate, WhisperSampleRate)
	}
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
