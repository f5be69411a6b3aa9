package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, tokens []string, gotRequest *openai.ChatCompletionRequest, block <-chan struct{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if gotRequest != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(gotRequest))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i, token := range tokens {
			chunk := fmt.Sprintf(`{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`, token)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
			if block != nil && i == 0 {
				select {
				case <-block:
				case <-r.Context().Done():
					return
				}
			}
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func newTestAgent(url string, model string) ChatAgent {
	config := openai.DefaultConfig("test-key")
	config.BaseURL = url + "/v1"
	return NewOpenAIChatAgent(openai.NewClientWithConfig(config), model)
}

func TestModelQualityString(t *testing.T) {
	assert.Equal(t, "FastAndCheap", FastAndCheap.String())
	assert.Equal(t, "SlowerAndSmarter", SlowerAndSmarter.String())
	assert.Equal(t, "Unknown", ModelQuality(7).String())
}

func TestRunPromptStreamsTokens(t *testing.T) {
	var request openai.ChatCompletionRequest
	server := sseServer(t, []string{"Hello", ", I am", " a bot."}, &request, nil)
	defer server.Close()

	conversation := models.NewConversation("You are a helpful LLM in an audio call.")
	conversation.Add(models.RoleUser, "Hi")

	outputChan := make(chan string, 10)
	err := newTestAgent(server.URL, "").RunPrompt(context.Background(), FastAndCheap, conversation, outputChan)
	require.NoError(t, err)

	var tokens []string
	for token := range outputChan {
		tokens = append(tokens, token)
	}
	assert.Equal(t, "Hello, I am a bot.", strings.Join(tokens, ""))
	assert.Equal(t, DefaultModel, request.Model)
	require.Len(t, request.Messages, 2)
	assert.Equal(t, models.RoleSystem, request.Messages[0].Role)
	assert.Equal(t, "Hi", request.Messages[1].Content)
}

func TestRunPromptSmarterModel(t *testing.T) {
	var request openai.ChatCompletionRequest
	server := sseServer(t, []string{"ok"}, &request, nil)
	defer server.Close()

	outputChan := make(chan string, 10)
	err := newTestAgent(server.URL, "gpt-custom").RunPrompt(context.Background(), SlowerAndSmarter, models.NewConversationSimple("Hi"), outputChan)
	require.NoError(t, err)
	assert.Equal(t, SmarterModel, request.Model)
}

func TestRunPromptCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	server := sseServer(t, []string{"Hello", " never sent"}, nil, block)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	outputChan := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		errChan <- newTestAgent(server.URL, "").RunPrompt(ctx, FastAndCheap, models.NewConversationSimple("Hi"), outputChan)
	}()

	assert.Equal(t, "Hello", <-outputChan)
	cancel()

	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("RunPrompt did not stop after cancel")
	}
	_, ok := <-outputChan
	assert.False(t, ok, "outputChan must be closed")
}

func TestRunPromptServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	outputChan := make(chan string, 1)
	err := newTestAgent(server.URL, "").RunPrompt(context.Background(), FastAndCheap, models.NewConversationSimple("Hi"), outputChan)
	assert.Error(t, err)
	_, ok := <-outputChan
	assert.False(t, ok)
}
