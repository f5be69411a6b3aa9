package synthesizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const ElevenLabsBaseURL = "https://api.elevenlabs.io/v1"

const DefaultElevenLabsVoiceID = "vghiSqG5ezdhd8F3tKAD"

// elevenLabsTTS asks for ulaw_8000 so the audio goes to the phone line without any re-encoding.
type elevenLabsTTS struct {
	apiKey  string
	baseURL string
	voiceID string
	modelID string
}

func NewElevenLabsTTS(apiKey string, baseURL string, voiceID string) Synthesizer {
	if baseURL == "" {
		baseURL = ElevenLabsBaseURL
	}
	if voiceID == "" {
		voiceID = DefaultElevenLabsVoiceID
	}
	return &elevenLabsTTS{
		apiKey:  apiKey,
		baseURL: baseURL,
		voiceID: voiceID,
		modelID: "eleven_turbo_v2_5",
	}
}

type elevenLabsPayload struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

func (e *elevenLabsTTS) CreateSpeech(ctx context.Context, text string, speed float64) (audioOutput models.AudioData, err error) {
	log.Debug().Str("input", text).Float64("speed", speed).Str("voice_id", e.voiceID).Msg("elevenlabs text-to-speech start")

	reqBytes, err := json.Marshal(elevenLabsPayload{
		Text:    text,
		ModelID: e.modelID,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           speed,
		},
	})
	if err != nil {
		return
	}
	query := url.Values{}
	query.Set("output_format", "ulaw_8000")
	endpoint := e.baseURL + "/text-to-speech/" + url.PathEscape(e.voiceID) + "?" + query.Encode()
	headers := map[string]string{
		"xi-api-key":   e.apiKey,
		"Content-Type": "application/json",
		"Accept":       "audio/basic",
	}
	rawAudioBytes, err := sendRequest(ctx, http.MethodPost, endpoint, headers, reqBytes)
	if err != nil {
		err = errors.Wrap(err, "elevenlabs text-to-speech failed")
		return
	}
	audioOutput = models.AudioData{
		EventType:  models.AudioOutput,
		ByteData:   rawAudioBytes,
		Format:     models.FormatMulaw,
		SampleRate: audio_utils.TelephonySampleRate,
		Text:       text,
		Trace:      models.NewTrace("elevenlabs_tts"),
	}
	return
}
