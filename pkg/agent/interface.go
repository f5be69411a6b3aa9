package agent

import (
	"context"

	"github.com/petrzlen/vocode-telephony/pkg/models"
)

type ModelQuality int

const (
	FastAndCheap ModelQuality = iota
	SlowerAndSmarter
)

func (m ModelQuality) String() string {
	names := [...]string{
		"FastAndCheap",
		"SlowerAndSmarter",
	}

	if m < FastAndCheap || m > SlowerAndSmarter {
		return "Unknown"
	}

	return names[m]
}

// ChatAgent streams the reply to the conversation token by token into outputChan,
// and closes outputChan when done, failed or when ctx gets cancelled (e.g. the caller interrupted).
type ChatAgent interface {
	RunPrompt(ctx context.Context, modelQuality ModelQuality, conversation *models.Conversation, outputChan chan<- string) error
}
