package synthesizer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const OpenAIBaseURL = "https://api.openai.com/v1"

var httpClient = &http.Client{Timeout: 30 * time.Second}

type openAITTS struct {
	apiKey  string
	baseURL string
	voice   string
	// mp3 or flac, both are decoded by audio_utils
	format string
}

func NewOpenAITTS(openAIAPIKey string, baseURL string, format string) Synthesizer {
	if baseURL == "" {
		baseURL = OpenAIBaseURL
	}
	if format == "" {
		format = models.FormatMp3
	}
	return &openAITTS{
		apiKey:  openAIAPIKey,
		baseURL: baseURL,
		voice:   "echo",
		format:  format,
	}
}

// TTSPayload for sendTTSRequest
type TTSPayload struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func (o *openAITTS) CreateSpeech(ctx context.Context, text string, speed float64) (audioOutput models.AudioData, err error) {
	log.Debug().Str("input", text).Float64("speed", speed).Msg("sendTTSRequest start")

	payload := TTSPayload{
		Model:          "tts-1",
		Input:          text,
		Voice:          o.voice,
		ResponseFormat: o.format,
		Speed:          speed,
	}
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return
	}
	headers := map[string]string{
		"Authorization": "Bearer " + o.apiKey,
		"Content-Type":  "application/json",
	}
	rawAudioBytes, err := sendRequest(ctx, http.MethodPost, o.baseURL+"/audio/speech", headers, reqBytes)
	if err != nil {
		err = errors.Wrapf(err, "could not do audio/speech for %s", reqBytes)
		return
	}
	audioOutput = models.AudioData{
		EventType: models.AudioOutput,
		ByteData:  rawAudioBytes,
		Format:    o.format,
		Text:      text,
		Trace:     models.NewTrace("openai_tts"),
	}
	return
}

// sendRequest does a plain HTTP call, go-openai does not cover audio/speech in the version we use
// and ElevenLabs has no Go SDK.
func sendRequest(ctx context.Context, method string, url string, headers map[string]string, body []byte) (result []byte, err error) {
	requestStart := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	for k, v := range headers {
		req.Header.Add(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return
	}
	defer func() { dbg(resp.Body.Close()) }()

	log.Debug().Dur("request_time", time.Since(requestStart)).Str("method", method).Str("url", url).Int("status_code", resp.StatusCode).Msg("request done")

	if resp.StatusCode != http.StatusOK {
		errMsg, _ := io.ReadAll(resp.Body)
		err = errors.Errorf("received non-200 status %d from %s: %s", resp.StatusCode, url, errMsg)
		return
	}

	readStart := time.Now()
	result, err = io.ReadAll(resp.Body)
	log.Debug().Dur("response_body_read_time", time.Since(readStart)).Int("response_byte_size", len(result)).Str("url", url).Msg("request body read done")
	if err != nil {
		err = errors.Wrap(err, "could not read response")
		return
	}
	return
}
