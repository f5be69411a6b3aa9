package telephony

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/petrzlen/vocode-telephony/pkg/audioio"
	"github.com/pkg/errors"
	"github.com/plivo/plivo-go/v7"
	"github.com/rs/zerolog/log"
)

type plivoProvider struct {
	client    *plivo.Client
	authID    string
	authToken string
}

// NewPlivo creates the Plivo provider, httpClient may be nil.
func NewPlivo(authID string, authToken string, httpClient *http.Client) (Provider, error) {
	client, err := plivo.NewClient(authID, authToken, &plivo.ClientOptions{HttpClient: httpClient})
	if err != nil {
		return nil, errors.Wrap(err, "cannot create plivo client")
	}
	return &plivoProvider{
		client:    client,
		authID:    authID,
		authToken: authToken,
	}, nil
}

func (p *plivoProvider) Name() string {
	return ProviderPlivo
}

func (p *plivoProvider) CreateCall(ctx context.Context, call OutboundCall) (string, error) {
	params := plivo.CallCreateParams{
		From:         call.From,
		To:           call.To,
		AnswerURL:    call.AnswerURL,
		AnswerMethod: http.MethodPost,
		HangupURL:    call.HangupURL,
		HangupMethod: http.MethodPost,
		RingURL:      call.RingURL,
	}
	response, err := p.client.Calls.Create(params)
	if err != nil {
		return "", errors.Wrapf(err, "plivo cannot create call to %s", call.To)
	}
	requestUUID := requestUUIDString(response.RequestUUID)
	log.Info().Str("provider", ProviderPlivo).Str("to", call.To).Str("request_uuid", requestUUID).Str("message", response.Message).Msg("call created")
	return requestUUID, nil
}

// requestUUIDString handles Plivo returning either a string or a list for bulk calls.
func requestUUIDString(requestUUID interface{}) string {
	switch v := requestUUID.(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			return fmt.Sprint(v[0])
		}
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func (p *plivoProvider) HangupCall(ctx context.Context, providerCallID string) error {
	return errors.Wrapf(p.client.Calls.Delete(providerCallID), "plivo cannot hangup call %s", providerCallID)
}

// Plivo XML, https://www.plivo.com/docs/voice/xml
type plivoResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Elements []interface{}
}

type plivoRecord struct {
	XMLName        xml.Name `xml:"Record"`
	RecordSession  bool     `xml:"recordSession,attr"`
	MaxLength      int      `xml:"maxLength,attr"`
	CallbackURL    string   `xml:"callbackUrl,attr"`
	CallbackMethod string   `xml:"callbackMethod,attr"`
}

type plivoStream struct {
	XMLName       xml.Name `xml:"Stream"`
	StreamTimeout int      `xml:"streamTimeout,attr"`
	KeepCallAlive bool     `xml:"keepCallAlive,attr"`
	Bidirectional bool     `xml:"bidirectional,attr"`
	ContentType   string   `xml:"contentType,attr"`
	URL           string   `xml:",chardata"`
}

type plivoSpeak struct {
	XMLName xml.Name `xml:"Speak"`
	Text    string   `xml:",chardata"`
}

type plivoHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type plivoConference struct {
	XMLName                xml.Name `xml:"Conference"`
	EnterSound             string   `xml:"enterSound,attr"`
	ExitSound              string   `xml:"exitSound,attr"`
	StartConferenceOnEnter bool     `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    bool     `xml:"endConferenceOnExit,attr"`
	Record                 bool     `xml:"record,attr"`
	RoomName               string   `xml:",chardata"`
}

func renderPlivo(elements ...interface{}) (string, error) {
	out, err := xml.Marshal(plivoResponse{Elements: elements})
	if err != nil {
		return "", errors.Wrap(err, "cannot render plivo xml")
	}
	return string(out), nil
}

// AnswerXML records the whole session and streams it both ways over the websocket.
func (p *plivoProvider) AnswerXML(opts AnswerOptions) (string, error) {
	opts = opts.withDefaults()
	var elements []interface{}
	if opts.RecordingCallbackURL != "" {
		elements = append(elements, plivoRecord{
			RecordSession:  true,
			MaxLength:      opts.RecordMaxLength,
			CallbackURL:    opts.RecordingCallbackURL,
			CallbackMethod: http.MethodPost,
		})
	}
	elements = append(elements, plivoStream{
		StreamTimeout: opts.StreamTimeout,
		KeepCallAlive: true,
		Bidirectional: true,
		ContentType:   "audio/x-mulaw;rate=8000",
		URL:           opts.StreamURL,
	})
	return renderPlivo(elements...)
}

func (p *plivoProvider) HangupXML(message string) (string, error) {
	var elements []interface{}
	if message != "" {
		elements = append(elements, plivoSpeak{Text: message})
	}
	elements = append(elements, plivoHangup{})
	return renderPlivo(elements...)
}

func (p *plivoProvider) ConferenceXML(roomName string, message string) (string, error) {
	var elements []interface{}
	if message != "" {
		elements = append(elements, plivoSpeak{Text: message})
	}
	elements = append(elements, plivoConference{
		EnterSound:             "beep:1",
		ExitSound:              "beep:2",
		StartConferenceOnEnter: true,
		EndConferenceOnExit:    false,
		Record:                 true,
		RoomName:               roomName,
	})
	return renderPlivo(elements...)
}

func (p *plivoProvider) ParseCallback(r *http.Request) (Callback, error) {
	params, err := parseForm(r)
	if err != nil {
		return Callback{}, err
	}
	return Callback{
		CallID:       params["CallUUID"],
		From:         params["From"],
		To:           params["To"],
		Direction:    normalizeDirection(params["Direction"]),
		Status:       params["CallStatus"],
		RecordingURL: params["RecordUrl"],
		Params:       params,
	}, nil
}

// ValidateRequest checks X-Plivo-Signature-V3, https://www.plivo.com/docs/voice/concepts/signature-validation
func (p *plivoProvider) ValidateRequest(r *http.Request, publicURL string) bool {
	signature := r.Header.Get("X-Plivo-Signature-V3")
	nonce := r.Header.Get("X-Plivo-Signature-V3-Nonce")
	if signature == "" || nonce == "" {
		return false
	}
	params, err := parseForm(r)
	if err != nil {
		return false
	}
	fullURL := strings.TrimRight(publicURL, "/") + r.URL.RequestURI()
	if r.Method == http.MethodGet {
		params = map[string]string{}
	}
	valid, err := plivo.ValidateSignatureV3(fullURL, nonce, r.Method, signature, p.authToken, params)
	if err != nil {
		log.Debug().Err(err).Str("url", fullURL).Msg("plivo signature validation failed")
		return false
	}
	return valid
}

func (p *plivoProvider) NewSerializer() audioio.FrameSerializer {
	return audioio.NewPlivoSerializer()
}

func (p *plivoProvider) RecordingCredentials() (string, string) {
	return p.authID, p.authToken
}
