package synthesizer

import (
	"context"

	"github.com/petrzlen/vocode-telephony/pkg/models"
)

type Synthesizer interface {
	CreateSpeech(ctx context.Context, text string, speed float64) (audioOutput models.AudioData, err error)
}
