// Package calls keeps the lifecycle of phone calls: placing them, their state and their recordings.
package calls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/petrzlen/vocode-telephony/pkg/storage"
	"github.com/petrzlen/vocode-telephony/pkg/telephony"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	RecordingContentType       = "audio/mpeg"
	StreamRecordingContentType = "audio/wav"
)

type Options struct {
	// APIBaseURL is BASE_URL joined with API_PREFIX, callbacks are built from it.
	APIBaseURL     string
	FromNumber     string
	RingURL        string
	CallsPerSecond float64
	CallsBurst     int
	// RecordingURLTTL is the validity of the download links handed out for stored recordings.
	RecordingURLTTL time.Duration
	HTTPClient      *http.Client
}

type Service struct {
	store      Store
	provider   telephony.Provider
	objects    storage.ObjectStore
	limiter    *rate.Limiter
	httpClient *http.Client
	options    Options

	now     func() time.Time
	newUUID func() string
}

func NewService(store Store, provider telephony.Provider, objects storage.ObjectStore, options Options) *Service {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	burst := options.CallsBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if options.CallsPerSecond > 0 {
		limit = rate.Limit(options.CallsPerSecond)
	}
	return &Service{
		store:      store,
		provider:   provider,
		objects:    objects,
		limiter:    rate.NewLimiter(limit, burst),
		httpClient: httpClient,
		options:    options,
		now:        time.Now,
		newUUID:    func() string { return uuid.New().String() },
	}
}

func (s *Service) Provider() telephony.Provider {
	return s.provider
}

func (s *Service) apiURL(path string) string {
	return strings.TrimRight(s.options.APIBaseURL, "/") + path
}

func (s *Service) AnswerURL(callUUID string) string {
	return s.apiURL("/calls/answer/" + callUUID)
}

func (s *Service) HangupURL(callUUID string) string {
	return s.apiURL("/calls/hangup/" + callUUID)
}

func (s *Service) RecordingCallbackURL() string {
	return s.apiURL("/calls/recording")
}

// MakeOutboundCall places a call to toNumber. A provider failure is persisted as a FAILED record,
// which is returned together with the error.
func (s *Service) MakeOutboundCall(ctx context.Context, toNumber string) (*CallRecord, error) {
	toNumber = strings.TrimSpace(toNumber)
	if toNumber == "" {
		return nil, errors.Wrap(ErrBadRequest, "to_number is required")
	}
	if !s.limiter.Allow() {
		return nil, errors.Wrapf(ErrRateLimited, "cannot call %s", toNumber)
	}

	startTime := s.now()
	record := &CallRecord{
		CallUUID:   s.newUUID(),
		FromNumber: s.options.FromNumber,
		ToNumber:   toNumber,
		Direction:  telephony.DirectionOutbound,
		State:      StateInitiated,
		StartTime:  &startTime,
	}
	logger := log.With().Str("call_uuid", record.CallUUID).Str("to", toNumber).Str("provider", s.provider.Name()).Logger()

	providerCallID, err := s.provider.CreateCall(ctx, telephony.OutboundCall{
		From:                 s.options.FromNumber,
		To:                   toNumber,
		AnswerURL:            s.AnswerURL(record.CallUUID),
		HangupURL:            s.HangupURL(record.CallUUID),
		RingURL:              s.options.RingURL,
		RecordingCallbackURL: s.RecordingCallbackURL(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to make outbound call")
		record.State = StateFailed
		record.ErrorMessage = err.Error()
		if saveErr := s.store.Save(ctx, record); saveErr != nil {
			logger.Error().Err(saveErr).Msg("cannot save failed call")
		}
		return record, errors.Wrapf(err, "outbound call %s failed", record.CallUUID)
	}

	record.ProviderCallID = providerCallID
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}
	if providerCallID != "" && providerCallID != record.CallUUID {
		if err := s.store.SaveAlias(ctx, providerCallID, record.CallUUID); err != nil {
			logger.Warn().Err(err).Msg("cannot save provider call id alias")
		}
	}
	logger.Info().Str("provider_call_id", providerCallID).Msg("initiated outbound call")
	return record, nil
}

// HandleInboundCall registers a call the provider routed to us, callUUID is the provider's id.
func (s *Service) HandleInboundCall(ctx context.Context, callUUID string, fromNumber string, toNumber string) (*CallRecord, error) {
	if callUUID == "" {
		return nil, errors.Wrap(ErrBadRequest, "inbound call without call id")
	}
	if toNumber == "" {
		toNumber = s.options.FromNumber
	}
	startTime := s.now()
	record := &CallRecord{
		CallUUID:   callUUID,
		FromNumber: fromNumber,
		ToNumber:   toNumber,
		Direction:  telephony.DirectionInbound,
		State:      StateInProgress,
		StartTime:  &startTime,
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}
	log.Info().Str("call_uuid", callUUID).Str("from", fromNumber).Msg("handling inbound call")
	return record, nil
}

// MarkAnswered moves an outbound call to INPROGRESS and remembers the provider's call id,
// recording callbacks refer to the call by it.
func (s *Service) MarkAnswered(ctx context.Context, callUUID string, providerCallID string) (*CallRecord, error) {
	record, err := s.store.Get(ctx, callUUID)
	if err != nil {
		return nil, err
	}
	if providerCallID != "" && providerCallID != callUUID {
		record.ProviderCallID = providerCallID
		if err := s.store.SaveAlias(ctx, providerCallID, callUUID); err != nil {
			return nil, err
		}
	}
	if !record.State.Terminal() {
		record.State = StateInProgress
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// HandleHangup finishes the call according to the provider's final CallStatus.
func (s *Service) HandleHangup(ctx context.Context, callUUID string, providerStatus string) (*CallRecord, error) {
	record, err := s.Get(ctx, callUUID)
	if err != nil {
		return nil, err
	}
	if record.State.Terminal() {
		return record, nil
	}
	return s.UpdateCallState(ctx, record, stateFromProviderStatus(providerStatus))
}

// Hangup asks the provider to end a live call.
func (s *Service) Hangup(ctx context.Context, callUUID string) (*CallRecord, error) {
	record, err := s.Get(ctx, callUUID)
	if err != nil {
		return nil, err
	}
	if record.State.Terminal() {
		return nil, errors.Wrapf(ErrBadRequest, "call %s already ended", callUUID)
	}
	providerCallID := record.ProviderCallID
	if providerCallID == "" {
		providerCallID = record.CallUUID
	}
	if err := s.provider.HangupCall(ctx, providerCallID); err != nil {
		return nil, err
	}
	return s.UpdateCallState(ctx, record, StateCompleted)
}

// StoreRecording copies the provider's recording into object storage under recordings/{call_uuid}.mp3.
func (s *Service) StoreRecording(ctx context.Context, callUUID string, recordingURL string) (*CallRecord, error) {
	if recordingURL == "" {
		return nil, errors.Wrap(ErrBadRequest, "recording_url is required")
	}
	record, err := s.Get(ctx, callUUID)
	if errors.Is(err, ErrNotFound) {
		// The recording is worth keeping even for calls we lost track of.
		log.Warn().Str("call_uuid", callUUID).Msg("recording for an unknown call")
		record = &CallRecord{
			CallUUID:   callUUID,
			FromNumber: s.options.FromNumber,
			State:      StateCompleted,
		}
	} else if err != nil {
		return nil, err
	}

	data, err := s.download(ctx, recordingURL)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("recordings/%s.mp3", record.CallUUID)
	if _, err := s.objects.Put(ctx, key, bytes.NewReader(data), RecordingContentType); err != nil {
		return nil, errors.Wrapf(err, "cannot store recording of %s", record.CallUUID)
	}
	log.Info().Str("call_uuid", record.CallUUID).Str("key", key).Int("size", len(data)).Msg("stored recording")

	record.RecordingURL = recordingURL
	record.S3RecordingPath = key
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrBadRequest, "invalid recording url %s: %v", url, err)
	}
	username, password := s.provider.RecordingCredentials()
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot download recording %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("recording download %s returned %d: %s", url, resp.StatusCode, string(body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read recording %s", url)
	}
	return data, nil
}

// StoreStreamRecording uploads the stereo WAV of the voice stream and returns a download URL for it.
func (s *Service) StoreStreamRecording(ctx context.Context, callUUID string, wav []byte) (string, error) {
	key := fmt.Sprintf("recordings/%s-stream.wav", callUUID)
	location, err := s.objects.Put(ctx, key, bytes.NewReader(wav), StreamRecordingContentType)
	if err != nil {
		return "", errors.Wrapf(err, "cannot store stream recording of %s", callUUID)
	}

	record, err := s.store.Get(ctx, callUUID)
	if err == nil {
		record.StreamRecordingPath = key
		if err := s.store.Save(ctx, record); err != nil {
			log.Warn().Err(err).Str("call_uuid", callUUID).Msg("cannot save stream recording path")
		}
	} else if !errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Str("call_uuid", callUUID).Msg("cannot load call for stream recording")
	}

	if s.options.RecordingURLTTL <= 0 {
		return location, nil
	}
	url, err := s.objects.URL(ctx, key, s.options.RecordingURLTTL)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cannot sign recording url, using the location")
		return location, nil
	}
	return url, nil
}

// UpdateCallState sets the state, a COMPLETED call gets its end time and duration in whole seconds.
func (s *Service) UpdateCallState(ctx context.Context, record *CallRecord, newState CallState) (*CallRecord, error) {
	record.State = newState
	if newState == StateCompleted {
		endTime := s.now()
		record.EndTime = &endTime
		if record.StartTime != nil {
			duration := int(endTime.Sub(*record.StartTime).Seconds())
			record.Duration = &duration
		}
	}
	if err := s.store.Save(ctx, record); err != nil {
		return nil, err
	}
	log.Info().Str("call_uuid", record.CallUUID).Str("state", string(newState)).Msg("updated call state")
	return record, nil
}

// SetState loads the call and updates its state.
func (s *Service) SetState(ctx context.Context, callUUID string, newState CallState) (*CallRecord, error) {
	record, err := s.Get(ctx, callUUID)
	if err != nil {
		return nil, err
	}
	return s.UpdateCallState(ctx, record, newState)
}

// Get accepts both our call uuid and the provider's call id.
func (s *Service) Get(ctx context.Context, callUUID string) (*CallRecord, error) {
	record, err := s.store.Get(ctx, callUUID)
	if !errors.Is(err, ErrNotFound) {
		return record, err
	}
	resolved, aliasErr := s.store.ResolveAlias(ctx, callUUID)
	if aliasErr != nil {
		if errors.Is(aliasErr, ErrNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "call %s", callUUID)
		}
		return nil, aliasErr
	}
	return s.store.Get(ctx, resolved)
}
