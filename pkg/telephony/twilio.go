package telephony

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/petrzlen/vocode-telephony/pkg/audioio"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

type twilioProvider struct {
	client     *twilio.RestClient
	validator  client.RequestValidator
	accountSid string
	authToken  string
}

func NewTwilio(accountSid string, authToken string) Provider {
	return &twilioProvider{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		}),
		validator:  client.NewRequestValidator(authToken),
		accountSid: accountSid,
		authToken:  authToken,
	}
}

func (p *twilioProvider) Name() string {
	return ProviderTwilio
}

func (p *twilioProvider) CreateCall(ctx context.Context, call OutboundCall) (string, error) {
	params := &api.CreateCallParams{}
	params.SetTo(call.To)
	params.SetFrom(call.From)
	params.SetUrl(call.AnswerURL)
	params.SetMethod(http.MethodPost)
	params.SetStatusCallback(call.HangupURL)
	params.SetStatusCallbackMethod(http.MethodPost)
	params.SetStatusCallbackEvent([]string{"completed"})
	if call.RecordingCallbackURL != "" {
		params.SetRecord(true)
		params.SetRecordingStatusCallback(call.RecordingCallbackURL)
		params.SetRecordingStatusCallbackMethod(http.MethodPost)
	}

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return "", errors.Wrapf(err, "twilio cannot create call to %s", call.To)
	}
	if resp.Sid == nil {
		return "", errors.Errorf("twilio returned no call sid for %s", call.To)
	}
	log.Info().Str("provider", ProviderTwilio).Str("to", call.To).Str("call_sid", *resp.Sid).Msg("call created")
	return *resp.Sid, nil
}

func (p *twilioProvider) HangupCall(ctx context.Context, providerCallID string) error {
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	_, err := p.client.Api.UpdateCall(providerCallID, params)
	return errors.Wrapf(err, "twilio cannot hangup call %s", providerCallID)
}

func renderTwiML(elements ...twiml.Element) (string, error) {
	result, err := twiml.Voice(elements)
	if err != nil {
		return "", errors.Wrap(err, "cannot render twiml")
	}
	return result, nil
}

// AnswerXML connects the call to our media stream. Twilio records outbound calls on creation,
// the recording callback option is unused here.
func (p *twilioProvider) AnswerXML(opts AnswerOptions) (string, error) {
	stream := twiml.VoiceStream{
		Name: "vocode-telephony",
		Url:  opts.StreamURL,
	}
	connect := twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	return renderTwiML(connect)
}

func (p *twilioProvider) HangupXML(message string) (string, error) {
	var elements []twiml.Element
	if message != "" {
		elements = append(elements, &twiml.VoiceSay{Message: message})
	}
	elements = append(elements, &twiml.VoiceHangup{})
	return renderTwiML(elements...)
}

func (p *twilioProvider) ConferenceXML(roomName string, message string) (string, error) {
	var elements []twiml.Element
	if message != "" {
		elements = append(elements, &twiml.VoiceSay{Message: message})
	}
	conference := twiml.VoiceConference{
		Name:                   roomName,
		Beep:                   "true",
		StartConferenceOnEnter: "true",
		EndConferenceOnExit:    "false",
		Record:                 "record-from-start",
	}
	elements = append(elements, twiml.VoiceDial{InnerElements: []twiml.Element{conference}})
	return renderTwiML(elements...)
}

func (p *twilioProvider) ParseCallback(r *http.Request) (Callback, error) {
	params, err := parseForm(r)
	if err != nil {
		return Callback{}, err
	}
	return Callback{
		CallID:       params["CallSid"],
		From:         params["From"],
		To:           params["To"],
		Direction:    normalizeDirection(params["Direction"]),
		Status:       params["CallStatus"],
		RecordingURL: twilioRecordingMp3URL(params["RecordingUrl"]),
		Params:       params,
	}, nil
}

// twilioRecordingMp3URL asks for mp3, Twilio serves wav for URLs without an extension.
func twilioRecordingMp3URL(recordingURL string) string {
	if recordingURL == "" || path.Ext(recordingURL) != "" {
		return recordingURL
	}
	return recordingURL + ".mp3"
}

// ValidateRequest checks X-Twilio-Signature, https://www.twilio.com/docs/usage/security
func (p *twilioProvider) ValidateRequest(r *http.Request, publicURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	params, err := parseForm(r)
	if err != nil {
		return false
	}
	fullURL := strings.TrimRight(publicURL, "/") + r.URL.RequestURI()
	if r.Method == http.MethodGet {
		// query parameters are part of the URL already
		params = map[string]string{}
	}
	return p.validator.Validate(fullURL, params, signature)
}

func (p *twilioProvider) NewSerializer() audioio.FrameSerializer {
	return audioio.NewTwilioSerializer()
}

func (p *twilioProvider) RecordingCredentials() (string, string) {
	return p.accountSid, p.authToken
}
