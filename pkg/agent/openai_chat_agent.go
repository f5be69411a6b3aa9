package agent

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

// SmarterModel is used for SlowerAndSmarter.
const SmarterModel = "gpt-4o"

type openaiChatAgent struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIChatAgent(client *openai.Client, model string) ChatAgent {
	if model == "" {
		model = DefaultModel
	}
	return &openaiChatAgent{client: client, model: model}
}

func conversationToOpenAiMessages(conversation *models.Conversation) []openai.ChatCompletionMessage {
	messages := conversation.Messages()
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, message := range messages {
		result[i].Role = message.Role
		result[i].Content = message.Content
	}
	return result
}

func (o *openaiChatAgent) RunPrompt(ctx context.Context, modelQuality ModelQuality, conversation *models.Conversation, outputChan chan<- string) error {
	defer close(outputChan)

	model := o.model
	if modelQuality == SlowerAndSmarter {
		model = SmarterModel
	}

	startTime := time.Now()
	lastDataReceivedPrintoutTime := time.Now()

	chatRequest := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    conversationToOpenAiMessages(conversation),
		Temperature: o.temperature,
		Stream:      true,
	}
	log.Info().Str("prompt", conversation.GetLastPrompt()).Str("model", chatRequest.Model).Float32("temperature", chatRequest.Temperature).Msg("executeChatRequest")

	completionStream, err := o.client.CreateChatCompletionStream(ctx, chatRequest)
	if err != nil {
		return errors.Wrap(err, "failed to create chat completion stream")
	}
	defer func() { completionStream.Close() }()

	var contentBuilder strings.Builder
	var debugChunkBuilder strings.Builder

	firstContent := true
	for {
		response, streamRecvErr := completionStream.Recv()
		if firstContent && streamRecvErr == nil {
			log.Debug().Dur("latency", time.Since(startTime)).Msg("first chat completion received")
			firstContent = false
		}

		for _, choice := range response.Choices {
			content := choice.Delta.Content
			if content == "" {
				continue
			}
			select {
			case outputChan <- content:
			case <-ctx.Done():
				log.Info().Str("said_so_far", contentBuilder.String()).Msg("chat completion interrupted")
				return ctx.Err()
			}
			contentBuilder.WriteString(content)
			debugChunkBuilder.WriteString(content)

			if time.Since(lastDataReceivedPrintoutTime) >= time.Second {
				lastDataReceivedPrintoutTime = time.Now()
				lastChunk := debugChunkBuilder.String()
				debugChunkBuilder.Reset()
				log.Debug().Float64("time_elapsed", time.Since(startTime).Seconds()).Str("last_content", lastChunk).Msgf("ChatCompletionStream Data Status")
			}
		}

		// We only handle the error at the end - since we can get io.EOF with the last token.
		if streamRecvErr != nil {
			if errors.Is(streamRecvErr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(streamRecvErr, "error reading from chat completion stream")
		}
	}

	log.Info().Dur("elapsed", time.Since(startTime)).Str("response", contentBuilder.String()).Msg("full chat completion received")
	return nil
}
