package pipeline

import (
	"sync"

	"github.com/petrzlen/vocode-telephony/pkg/audio_utils"
)

// recorder keeps both sides of the call at 8kHz. The caller track doubles as the call clock:
// providers send inbound media in real-time, also during silence.
type recorder struct {
	mu     sync.Mutex
	caller []int
	bot    []int
}

func (r *recorder) addCaller(samples []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caller = append(r.caller, samples...)
}

// addBot schedules bot audio right after whatever bot audio is still queued, and returns its start sample.
func (r *recorder) addBot(samples []int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := len(r.bot)
	if start < len(r.caller) {
		start = len(r.caller)
		r.bot = append(r.bot, make([]int, start-len(r.bot))...)
	}
	r.bot = append(r.bot, samples...)
	return start
}

// now is the current position of the call in samples.
func (r *recorder) now() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.caller)
}

// botAhead is how many samples of bot audio are sent but not played yet.
func (r *recorder) botAhead() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ahead := len(r.bot) - len(r.caller); ahead > 0 {
		return ahead
	}
	return 0
}

// truncateBot drops bot audio which was cleared before being played.
func (r *recorder) truncateBot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.bot) > len(r.caller) {
		r.bot = r.bot[:len(r.caller)]
	}
}

// stereoWav is caller on the left, bot on the right.
func (r *recorder) stereoWav() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.caller) == 0 && len(r.bot) == 0 {
		return nil, nil
	}
	intBuffer := audio_utils.InterleaveStereo(r.caller, r.bot, audio_utils.TelephonySampleRate)
	return audio_utils.EncodeToWav(intBuffer, 16, 1)
}
