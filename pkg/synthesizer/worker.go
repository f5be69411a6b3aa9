package synthesizer

import (
	"context"
	"strings"

	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/rs/zerolog/log"
)

// MinTextBufferForTtsCharLength is mostly to prevent saying like "1,"
// in other cases it's best to just start as soon as first chat completions arrive.
const MinTextBufferForTtsCharLength = 3

// DefaultSpeed was reverse engineered from the ChatGPT app.
const DefaultSpeed = 1.15

func isPunctuationMarkAtEnd(s string) bool {
	s = strings.TrimRight(s, " \n\t\"')")
	if len(s) == 0 {
		return false
	}
	switch s[len(s)-1] {
	case ',', '.', '?', '!', ';', ':':
		return true
	default:
		return false
	}
}

// TextToSpeechAndEncodeRoutine synthesizes sentence-ish pieces of textChan as they arrive.
// It closes audioOutputChan once textChan is closed, or right away when ctx is cancelled (interruption).
func TextToSpeechAndEncodeRoutine(ctx context.Context, tts Synthesizer, speed float64, textChan <-chan string, audioOutputChan chan<- models.AudioData) {
	log.Debug().Msgf("textToSpeechAndEncodeRoutine started")
	defer close(audioOutputChan)
	var buffer string

	for {
		var text string
		var ok bool
		select {
		case <-ctx.Done():
			log.Debug().Str("dropped", buffer).Msg("textToSpeechAndEncodeRoutine cancelled")
			return
		case text, ok = <-textChan:
		}
		if ok {
			buffer += text
		}
		if (len(buffer) > MinTextBufferForTtsCharLength && isPunctuationMarkAtEnd(buffer)) || (!ok && strings.TrimSpace(buffer) != "") {
			audioOutput, err := tts.CreateSpeech(ctx, strings.TrimSpace(buffer), speed)
			if err == nil {
				select {
				case audioOutputChan <- audioOutput:
				case <-ctx.Done():
					return
				}
			} else if ctx.Err() == nil {
				log.Error().Err(err).Str("text", buffer).Msg("cannot synthesize tts text, skipping")
			}
			buffer = "" // Clear the buffer after processing
		}
		if !ok {
			log.Debug().Msgf("textToSpeechAndEncodeRoutine ended")
			return
		}
	}
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
