package calls

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

type CallState string

const (
	StateInitiated  CallState = "INITIATED"
	StateInProgress CallState = "INPROGRESS"
	StateCompleted  CallState = "COMPLETED"
	StateFailed     CallState = "FAILED"
	StateUserBusy   CallState = "USERBUSY"
)

var allStates = []CallState{StateInitiated, StateInProgress, StateCompleted, StateFailed, StateUserBusy}

func ParseCallState(s string) (CallState, error) {
	for _, state := range allStates {
		if strings.EqualFold(s, string(state)) {
			return state, nil
		}
	}
	return "", errors.Wrapf(ErrBadRequest, "unknown call state %q", s)
}

func (s CallState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateUserBusy
}

// stateFromProviderStatus maps the CallStatus of a hangup callback.
func stateFromProviderStatus(status string) CallState {
	switch strings.ToLower(status) {
	case "busy":
		return StateUserBusy
	case "failed", "no-answer", "canceled", "cancel", "timeout", "rejected":
		return StateFailed
	default:
		return StateCompleted
	}
}

type CallRecord struct {
	CallUUID string `json:"call_uuid"`
	// ProviderCallID is the id assigned by Plivo / Twilio, when it differs from CallUUID.
	ProviderCallID      string     `json:"provider_call_id,omitempty"`
	FromNumber          string     `json:"from_number"`
	ToNumber            string     `json:"to_number"`
	Direction           string     `json:"direction"`
	State               CallState  `json:"state"`
	StartTime           *time.Time `json:"start_time,omitempty"`
	EndTime             *time.Time `json:"end_time,omitempty"`
	Duration            *int       `json:"duration,omitempty"`
	RecordingURL        string     `json:"recording_url,omitempty"`
	S3RecordingPath     string     `json:"s3_recording_path,omitempty"`
	StreamRecordingPath string     `json:"stream_recording_path,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
}
