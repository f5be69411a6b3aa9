package audioio

import (
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/rs/zerolog/log"
)

// PlayAudioChunksRoutine plays everything as if it went through a phone line,
// i.e. it is squashed into 8kHz mu-law first.
func PlayAudioChunksRoutine(outputDevice OutputDevice, audioDataChan <-chan models.AudioData) {
	log.Info().Msgf("playAudioChunksRoutine started")

	i := 0
	var played time.Duration
	for audioData := range audioDataChan {
		if audioData.EventType == models.ClearOutput {
			dbg(outputDevice.Clear())
			continue
		}

		i += 1
		if i == 1 {
			log.Warn().Dur("latency", time.Since(audioData.Trace.CreatedAt)).Msg("TRACING HACK: first audio chunk received")
		}

		mulaw, err := audio_utils.DecodeToMulaw(audioData.ByteData, audioData.Format, audioData.SampleRate)
		if err != nil {
			log.Error().Err(err).Str("format", audioData.Format).Msg("cannot decode audio chunk, skipping chunk")
			continue
		}
		pcm := audio_utils.IntsToPCMBytes(audio_utils.DecodeFromMulaw(mulaw, audio_utils.TelephonySampleRate).Data)
		if err := outputDevice.Write(pcm); err != nil {
			log.Error().Err(err).Msg("cannot play audio chunk")
			continue
		}
		played += time.Duration(len(mulaw)) * time.Second / audio_utils.TelephonySampleRate
	}
	log.Info().Int("chunks", i).Dur("played", played).Msgf("playAudioChunksRoutine finished")
}
