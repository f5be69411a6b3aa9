// Package telephony hides the differences between phone providers: placing calls,
// the XML answering their webhooks and the shape of their callbacks.
package telephony

import (
	"context"
	"net/http"
	"strings"

	"github.com/petrzlen/vocode-telephony/pkg/audioio"
	"github.com/pkg/errors"
)

const (
	ProviderPlivo  = "plivo"
	ProviderTwilio = "twilio"
)

const (
	DefaultRecordMaxLength = 3600
	DefaultStreamTimeout   = 3600
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Provider interface {
	Name() string
	// CreateCall returns the provider's own call id.
	CreateCall(ctx context.Context, call OutboundCall) (string, error)
	HangupCall(ctx context.Context, providerCallID string) error

	AnswerXML(opts AnswerOptions) (string, error)
	HangupXML(message string) (string, error)
	ConferenceXML(roomName string, message string) (string, error)

	ParseCallback(r *http.Request) (Callback, error)
	// ValidateRequest checks the webhook signature, publicURL is how the provider sees our host (BASE_URL).
	ValidateRequest(r *http.Request, publicURL string) bool

	NewSerializer() audioio.FrameSerializer
	// RecordingCredentials are the basic auth credentials for downloading recordings.
	RecordingCredentials() (username string, password string)
}

type OutboundCall struct {
	From      string
	To        string
	AnswerURL string
	HangupURL string
	// RingURL is optional, e.g. a ring back tone.
	RingURL string
	// RecordingCallbackURL is used by providers which record on call creation.
	RecordingCallbackURL string
}

type AnswerOptions struct {
	StreamURL            string
	RecordingCallbackURL string
	// Seconds, zero means the default.
	RecordMaxLength int
	StreamTimeout   int
}

func (o AnswerOptions) withDefaults() AnswerOptions {
	if o.RecordMaxLength <= 0 {
		o.RecordMaxLength = DefaultRecordMaxLength
	}
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = DefaultStreamTimeout
	}
	return o
}

// Callback is a provider webhook normalized to the fields we use.
type Callback struct {
	CallID       string
	From         string
	To           string
	Direction    string
	Status       string
	RecordingURL string
	// Params are all the form values as received, for signature validation and debugging.
	Params map[string]string
}

func parseForm(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(err, "cannot parse callback form")
	}
	params := make(map[string]string, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}

// normalizeDirection maps e.g. Twilio's "outbound-api" to outbound.
func normalizeDirection(direction string) string {
	switch {
	case strings.HasPrefix(direction, DirectionOutbound):
		return DirectionOutbound
	case strings.HasPrefix(direction, DirectionInbound):
		return DirectionInbound
	default:
		return direction
	}
}

// WebsocketURL turns BASE_URL into the stream URL for a call.
func WebsocketURL(baseURL string, callUUID string) string {
	wsBase := baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return strings.TrimRight(wsBase, "/") + "/ws/voice/" + callUUID
}
