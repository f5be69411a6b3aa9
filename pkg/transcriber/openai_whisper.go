package transcriber

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

type openAIWhisper struct {
	client *openai.Client
}

func NewOpenAIWhisper(client *openai.Client) Transcriber {
	return &openAIWhisper{
		client: client,
	}
}

func (o *openAIWhisper) SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (result string, err error) {
	startTime := time.Now()
	req := openai.AudioRequest{
		Model:  openai.Whisper1,
		Reader: input,
		// Only the extension is used, to tell the API the container format.
		FilePath: fmt.Sprintf("this-file-does-not-exist-just-needs-extension.%s", fileExtension),
		// Whisper can take up to 244 tokens, if more are passed than only the last are used.
		Prompt:   lastWords(prompt, whisperPromptMaxChars),
		Language: "en",
	}

	log.Debug().Str("model", req.Model).Str("prompt", req.Prompt).Msg("create transcription request")
	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		err = errors.Wrap(err, "cannot create transcription")
		return
	}

	result = removeNonEnglishAndMBC(resp.Text)
	if result != resp.Text {
		log.Info().Str("original_text", resp.Text).Str("processed_text", result).Msg("transcription post-processing removed some text")
	}

	log.Debug().Str("transcription", result).Dur("time_elapsed", time.Since(startTime)).Msg("received transcription")
	return
}

// Roughly 244 tokens.
const whisperPromptMaxChars = 800

func lastWords(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return text
	}
	text = text[len(text)-maxChars:]
	if i := strings.IndexByte(text, ' '); i >= 0 {
		text = text[i+1:]
	}
	return text
}

var nonEnglishRegex = regexp.MustCompile(`[^\x00-\x7F]+`)

// removeNonEnglishAndMBC removes non-English characters and the "MBC" string from the input text.
// HACK, somewhat "silence" is transcribed with random Chinese characters for example:
// MBC 뉴스 이덕영입니다. Yeah, tell me. a bit about uh, written  in 100 words.  MBC 뉴스 이덕영입니다.
func removeNonEnglishAndMBC(text string) string {
	text = nonEnglishRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "MBC", "")
	return strings.TrimSpace(text)
}
