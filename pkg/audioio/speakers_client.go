package audioio

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// speakers plays a phone call, which unlike a TTS file has no end;
// so there is a single long-lived player which reads from pcmQueue.
//
// The state flow is:
//  1. Write appends PCM to the queue, the player drains it in real-time.
//  2. When the queue is empty the player reads silence, so it never stops.
//  3. Clear drops the queue (the remote side asked us to stop talking).
//  4. Close stops the player, no Write is accepted afterward.
type speakers struct {
	otoContext *oto.Context
	player     *oto.Player
	queue      *pcmQueue
}

func NewSpeakers(sampleRate int, numChannels int) (OutputDevice, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   40 * time.Millisecond,
	}

	// Remember that you should **not** create more than one context
	log.Info().Int("sample_rate", sampleRate).Msg("setupOtoPlayer - will wait until ready")
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, errors.Wrap(err, "oto.NewContext")
	}
	<-readyChan // Wait for the audio hardware to be ready (about 200ms empirically)
	log.Info().Msg("setupOtoPlayer - context ready")

	queue := &pcmQueue{}
	player := otoCtx.NewPlayer(queue)
	player.Play()

	return &speakers{
		otoContext: otoCtx,
		player:     player,
		queue:      queue,
	}, nil
}

func (s *speakers) Write(pcm []byte) error {
	return s.queue.push(pcm)
}

func (s *speakers) Clear() error {
	dropped := s.queue.clear()
	log.Debug().Int("dropped_bytes", dropped).Msg("speakers queue cleared")
	return nil
}

func (s *speakers) Close() error {
	s.queue.close()
	s.player.Pause()
	return errors.Wrap(s.player.Close(), "player.Close")
}

// pcmQueue is an io.Reader which never blocks, it pads with silence when empty.
type pcmQueue struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (q *pcmQueue) push(pcm []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("speakers already closed")
	}
	q.data = append(q.data, pcm...)
	return nil
}

func (q *pcmQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.data)
	q.data = nil
	return dropped
}

func (q *pcmQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.data = nil
}

func (q *pcmQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := copy(p, q.data)
	q.data = q.data[n:]
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}
