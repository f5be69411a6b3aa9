package models

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Trace struct {
	CreatedAt time.Time
	Creator   string

	ReceivedAt time.Time

	ProcessedAt time.Time
	Processor   string
}

func (t Trace) Log() {
	log.Trace().Time("created_at", t.CreatedAt).Str("creator", t.Creator).Time("processed_at", t.ProcessedAt).Str("processor", t.Processor).Dur("dur_to_process", t.ProcessedAt.Sub(t.CreatedAt)).Msgf("tracing")
}

func NewTrace(creator string) Trace {
	return Trace{
		CreatedAt: time.Now(),
		Creator:   creator,
	}
}

type AudioDataEvent int

const (
	AudioInput AudioDataEvent = iota
	AudioOutput
	SubmitPrompt
	// ClearOutput asks the player to drop queued audio.
	ClearOutput
)

// Audio formats flowing between the stream, the STT and the TTS.
const (
	FormatMulaw = "mulaw"
	FormatPCM   = "pcm_s16le"
	FormatWav   = "wav"
	FormatMp3   = "mp3"
	FormatFlac  = "flac"
)

// AudioData is one chunk of audio moving through the call pipeline.
// SampleRate is only meaningful for headerless formats (mulaw, pcm_s16le).
type AudioData struct {
	EventType  AudioDataEvent
	ByteData   []byte
	Format     string
	SampleRate int
	Length     time.Duration
	Text       string // text representation
	Trace      Trace
}

func NewAudioDataSubmit(creator string) AudioData {
	return AudioData{
		EventType: SubmitPrompt,
		Trace:     NewTrace(creator),
	}
}

type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	FinishedAt time.Time `json:"timestamp"`
}

// Conversation is the LLM context of one call. It is shared between the
// pipeline goroutines, hence the mutex.
type Conversation struct {
	StartedAt time.Time

	mu       sync.Mutex
	messages []Message
}

func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{StartedAt: time.Now()}
	if systemPrompt != "" {
		c.Add(RoleSystem, systemPrompt)
	}
	return c
}

func (c *Conversation) AddSystem(content string) {
	c.Add(RoleSystem, content)
}

func NewConversationSimple(text string) *Conversation {
	c := &Conversation{StartedAt: time.Now()}
	c.Add(RoleUser, text)
	return c
}

func (c *Conversation) Add(role string, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{
		Role:       role,
		Content:    content,
		FinishedAt: time.Now(),
	})
}

// Messages returns a copy safe to hand to another goroutine.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]Message, len(c.messages))
	copy(result, c.messages)
	return result
}

// Transcript is the conversation without system prompts.
func (c *Conversation) Transcript() []Message {
	all := c.Messages()
	result := make([]Message, 0, len(all))
	for _, m := range all {
		if m.Role == RoleSystem {
			continue
		}
		result = append(result, m)
	}
	return result
}

func (c *Conversation) GetLastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	return c.messages[len(c.messages)-1].Content
}

func (c *Conversation) DebugLog() {
	log.Debug().Msg("DUMPING FULL CONVERSATION")
	for i, message := range c.Messages() {
		at := message.FinishedAt.Sub(c.StartedAt)
		log.Debug().Int("i", i).Str("role", message.Role).Dur("since_started", at).Msg(message.Content)
	}
}
