package transcriber

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DeepgramBaseURL = "https://api.deepgram.com/v1"

var httpClient = &http.Client{Timeout: 30 * time.Second}

// deepgram uses the pre-recorded /listen endpoint, one request per utterance.
type deepgram struct {
	apiKey  string
	baseURL string
	model   string
}

func NewDeepgram(apiKey string, baseURL string) Transcriber {
	if baseURL == "" {
		baseURL = DeepgramBaseURL
	}
	return &deepgram{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   "nova-2",
	}
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (d *deepgram) SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (result string, err error) {
	requestStart := time.Now()
	query := url.Values{}
	query.Set("model", d.model)
	query.Set("smart_format", "true")
	query.Set("language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/listen?"+query.Encode(), input)
	if err != nil {
		return "", errors.Wrap(err, "cannot create deepgram request")
	}
	req.Header.Add("Authorization", "Token "+d.apiKey)
	req.Header.Add("Content-Type", "audio/"+fileExtension)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "deepgram request failed")
	}
	defer func() { dbg(resp.Body.Close()) }()

	log.Debug().Dur("request_time", time.Since(requestStart)).Int("status_code", resp.StatusCode).Msg("deepgram listen done")
	if resp.StatusCode != http.StatusOK {
		errMsg, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("received non-200 status %d from deepgram: %s", resp.StatusCode, errMsg)
	}

	var parsed deepgramResponse
	if err = json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "cannot decode deepgram response")
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	best := parsed.Results.Channels[0].Alternatives[0]
	result = removeNonEnglishAndMBC(best.Transcript)
	log.Debug().Str("transcription", result).Float64("confidence", best.Confidence).Msg("received transcription")
	return result, nil
}
