// Package session tracks the live voice websocket of every call and the outcome polled via the API.
package session

import (
	"sync"
	"time"

	"github.com/petrzlen/vocode-telephony/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	StatusInProgress = "INPROGRESS"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

type CallStatus struct {
	Status             string           `json:"status"`
	Transcript         []models.Message `json:"transcript"`
	StereoRecordingURL *string          `json:"stereo_recording_url"`
	Error              *string          `json:"error"`
}

func (s CallStatus) terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

type entry struct {
	status    CallStatus
	connected bool
	// finishedAt is set once the connection is gone and the status is terminal.
	finishedAt time.Time
}

type Manager struct {
	mu        sync.RWMutex
	calls     map[string]*entry
	retention time.Duration
	now       func() time.Time
}

// NewManager keeps terminal statuses of disconnected calls for retention.
func NewManager(retention time.Duration) *Manager {
	return &Manager{
		calls:     map[string]*entry{},
		retention: retention,
		now:       time.Now,
	}
}

func (m *Manager) Connect(callUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.calls[callUUID]; ok && existing.connected {
		log.Warn().Str("call_uuid", callUUID).Msg("call already has a voice connection, replacing it")
	}
	m.calls[callUUID] = &entry{
		status:    CallStatus{Status: StatusInProgress},
		connected: true,
	}
	log.Info().Str("call_uuid", callUUID).Msg("voice connection established")
}

func (m *Manager) Disconnect(callUUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.calls[callUUID]
	if !ok || !e.connected {
		return
	}
	e.connected = false
	if e.status.terminal() && m.retention > 0 {
		e.finishedAt = m.now()
	} else {
		delete(m.calls, callUUID)
	}
	log.Info().Str("call_uuid", callUUID).Str("status", e.status.Status).Msg("voice connection closed")
}

func (m *Manager) Complete(callUUID string, transcript []models.Message) {
	m.update(callUUID, func(s *CallStatus) {
		s.Status = StatusCompleted
		s.Transcript = transcript
		s.Error = nil
	})
}

func (m *Manager) Fail(callUUID string, err error) {
	m.update(callUUID, func(s *CallStatus) {
		message := "unknown error"
		if err != nil {
			message = err.Error()
		}
		s.Status = StatusError
		s.Error = &message
	})
}

// UpdateRecordingURL is a no-op for unknown calls.
func (m *Manager) UpdateRecordingURL(callUUID string, recordingURL string) {
	m.update(callUUID, func(s *CallStatus) {
		s.StereoRecordingURL = &recordingURL
	})
}

func (m *Manager) update(callUUID string, f func(s *CallStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.calls[callUUID]; ok {
		f(&e.status)
	}
}

func (m *Manager) GetCallStatus(callUUID string) (CallStatus, bool) {
	m.mu.RLock()
	e, ok := m.calls[callUUID]
	if !ok {
		m.mu.RUnlock()
		return CallStatus{}, false
	}
	expired := m.expired(e)
	status := e.status
	m.mu.RUnlock()

	if expired {
		m.mu.Lock()
		// re-check, the call could have reconnected meanwhile
		if e, ok := m.calls[callUUID]; ok && m.expired(e) {
			delete(m.calls, callUUID)
		}
		m.mu.Unlock()
		return CallStatus{}, false
	}
	status.Transcript = append([]models.Message(nil), status.Transcript...)
	return status, true
}

func (m *Manager) expired(e *entry) bool {
	return !e.connected && !e.finishedAt.IsZero() && m.now().Sub(e.finishedAt) > m.retention
}

func (m *Manager) IsConnected(callUUID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.calls[callUUID]
	return ok && e.connected
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.calls {
		if e.connected {
			count++
		}
	}
	return count
}
