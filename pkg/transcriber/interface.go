package transcriber

import (
	"context"
	"io"
)

type Transcriber interface {
	// SendAudio transcribes one finished utterance. The prompt carries the previous words which improves accuracy.
	SendAudio(ctx context.Context, input io.Reader, fileExtension string, prompt string) (result string, err error)
}
