package calls

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/petrzlen/vocode-telephony/pkg/audioio"
	"github.com/petrzlen/vocode-telephony/pkg/telephony"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	calls     []telephony.OutboundCall
	hangups   []string
	createErr error
	callID    string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateCall(ctx context.Context, call telephony.OutboundCall) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.callID, nil
}

func (f *fakeProvider) HangupCall(ctx context.Context, providerCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, providerCallID)
	return nil
}

func (f *fakeProvider) AnswerXML(opts telephony.AnswerOptions) (string, error) { return "", nil }
func (f *fakeProvider) HangupXML(message string) (string, error)             { return "", nil }
func (f *fakeProvider) ConferenceXML(roomName, message string) (string, error) {
	return "", nil
}
func (f *fakeProvider) ParseCallback(r *http.Request) (telephony.Callback, error) {
	return telephony.Callback{}, nil
}
func (f *fakeProvider) ValidateRequest(r *http.Request, publicURL string) bool { return true }
func (f *fakeProvider) NewSerializer() audioio.FrameSerializer                 { return audioio.NewPlivoSerializer() }
func (f *fakeProvider) RecordingCredentials() (string, string)                 { return "auth-id", "auth-token" }

type storedObject struct {
	body        []byte
	contentType string
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	putErr  error
	urlErr  error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string]storedObject{}}
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = storedObject{body: data, contentType: contentType}
	return "s3://bucket/" + key, nil
}

func (f *fakeObjectStore) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://signed.example.com/" + key, nil
}

func (f *fakeObjectStore) Close() error { return nil }

type testEnv struct {
	service  *Service
	provider *fakeProvider
	objects  *fakeObjectStore
	store    Store
	clock    time.Time
}

func newTestEnv(t *testing.T, store Store) *testEnv {
	env := &testEnv{
		provider: &fakeProvider{callID: "plivo-req-1"},
		objects:  newFakeObjectStore(),
		store:    store,
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	env.service = NewService(store, env.provider, env.objects, Options{
		APIBaseURL:      "https://voice.example.com/api/v1",
		FromNumber:      "+15550001",
		RingURL:         "https://ring.example.com/tone.mp3",
		CallsPerSecond:  1,
		CallsBurst:      2,
		RecordingURLTTL: time.Hour,
	})
	env.service.now = func() time.Time { return env.clock }
	env.service.newUUID = func() string { return "call-uuid-1" }
	return env
}

func TestMakeOutboundCall(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()

	record, err := env.service.MakeOutboundCall(ctx, "+15550002")
	require.NoError(t, err)
	assert.Equal(t, "call-uuid-1", record.CallUUID)
	assert.Equal(t, "plivo-req-1", record.ProviderCallID)
	assert.Equal(t, "+15550001", record.FromNumber)
	assert.Equal(t, "+15550002", record.ToNumber)
	assert.Equal(t, telephony.DirectionOutbound, record.Direction)
	assert.Equal(t, StateInitiated, record.State)
	require.NotNil(t, record.StartTime)
	assert.Equal(t, env.clock, *record.StartTime)

	require.Len(t, env.provider.calls, 1)
	call := env.provider.calls[0]
	assert.Equal(t, "https://voice.example.com/api/v1/calls/answer/call-uuid-1", call.AnswerURL)
	assert.Equal(t, "https://voice.example.com/api/v1/calls/hangup/call-uuid-1", call.HangupURL)
	assert.Equal(t, "https://voice.example.com/api/v1/calls/recording", call.RecordingCallbackURL)
	assert.Equal(t, "https://ring.example.com/tone.mp3", call.RingURL)
	assert.Equal(t, "+15550001", call.From)

	stored, err := env.service.Get(ctx, "call-uuid-1")
	require.NoError(t, err)
	assert.Equal(t, record, stored)

	byProviderID, err := env.service.Get(ctx, "plivo-req-1")
	require.NoError(t, err)
	assert.Equal(t, "call-uuid-1", byProviderID.CallUUID)
}

func TestMakeOutboundCallProviderFailure(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	env.provider.createErr = errors.New("invalid destination number")

	record, err := env.service.MakeOutboundCall(context.Background(), "+1")
	require.Error(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StateFailed, record.State)
	assert.Contains(t, record.ErrorMessage, "invalid destination number")

	stored, err := env.service.Get(context.Background(), "call-uuid-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, stored.State)
}

func TestMakeOutboundCallValidationAndRateLimit(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()

	_, err := env.service.MakeOutboundCall(ctx, "  ")
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = env.service.MakeOutboundCall(ctx, "+15550002")
	require.NoError(t, err)
	_, err = env.service.MakeOutboundCall(ctx, "+15550003")
	require.NoError(t, err)
	_, err = env.service.MakeOutboundCall(ctx, "+15550004")
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Len(t, env.provider.calls, 2)
}

func TestHandleInboundCallAndHangup(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()

	record, err := env.service.HandleInboundCall(ctx, "plivo-call-9", "+15559999", "")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, record.State)
	assert.Equal(t, telephony.DirectionInbound, record.Direction)
	assert.Equal(t, "+15550001", record.ToNumber)

	env.clock = env.clock.Add(95*time.Second + 600*time.Millisecond)
	record, err = env.service.HandleHangup(ctx, "plivo-call-9", "completed")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, record.State)
	require.NotNil(t, record.Duration)
	assert.Equal(t, 95, *record.Duration)
	require.NotNil(t, record.EndTime)

	// a repeated hangup callback keeps the first outcome
	env.clock = env.clock.Add(time.Minute)
	again, err := env.service.HandleHangup(ctx, "plivo-call-9", "busy")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, again.State)
	assert.Equal(t, 95, *again.Duration)

	_, err = env.service.HandleInboundCall(ctx, "", "+1", "+2")
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestHandleHangupBusy(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()
	_, err := env.service.MakeOutboundCall(ctx, "+15550002")
	require.NoError(t, err)

	record, err := env.service.HandleHangup(ctx, "call-uuid-1", "busy")
	require.NoError(t, err)
	assert.Equal(t, StateUserBusy, record.State)
	assert.Nil(t, record.Duration)

	_, err = env.service.HandleHangup(ctx, "missing", "completed")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkAnswered(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()
	_, err := env.service.MakeOutboundCall(ctx, "+15550002")
	require.NoError(t, err)

	record, err := env.service.MarkAnswered(ctx, "call-uuid-1", "plivo-call-uuid-7")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, record.State)
	assert.Equal(t, "plivo-call-uuid-7", record.ProviderCallID)

	byProviderID, err := env.service.Get(ctx, "plivo-call-uuid-7")
	require.NoError(t, err)
	assert.Equal(t, "call-uuid-1", byProviderID.CallUUID)

	_, err = env.service.MarkAnswered(ctx, "missing", "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHangup(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()
	_, err := env.service.MakeOutboundCall(ctx, "+15550002")
	require.NoError(t, err)

	record, err := env.service.Hangup(ctx, "call-uuid-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, record.State)
	assert.Equal(t, []string{"plivo-req-1"}, env.provider.hangups)

	_, err = env.service.Hangup(ctx, "call-uuid-1")
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestUpdateCallState(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()

	record := &CallRecord{CallUUID: "x", State: StateInitiated}
	updated, err := env.service.UpdateCallState(ctx, record, StateCompleted)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, updated.State)
	assert.NotNil(t, updated.EndTime)
	assert.Nil(t, updated.Duration)

	updated, err = env.service.SetState(ctx, "x", StateFailed)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, updated.State)

	_, err = env.service.SetState(ctx, "unknown", StateFailed)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreRecording(t *testing.T) {
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		if r.URL.Path == "/missing.mp3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ID3 recording"))
	}))
	defer server.Close()

	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()
	_, err := env.service.MakeOutboundCall(ctx, "+15550002")
	require.NoError(t, err)

	record, err := env.service.StoreRecording(ctx, "plivo-req-1", server.URL+"/rec.mp3")
	require.NoError(t, err)
	assert.Equal(t, "call-uuid-1", record.CallUUID)
	assert.Equal(t, "recordings/call-uuid-1.mp3", record.S3RecordingPath)
	assert.Equal(t, server.URL+"/rec.mp3", record.RecordingURL)
	assert.Equal(t, "auth-id", gotUser)
	assert.Equal(t, "auth-token", gotPass)

	object := env.objects.objects["recordings/call-uuid-1.mp3"]
	assert.Equal(t, "ID3 recording", string(object.body))
	assert.Equal(t, "audio/mpeg", object.contentType)

	_, err = env.service.StoreRecording(ctx, "call-uuid-1", server.URL+"/missing.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = env.service.StoreRecording(ctx, "call-uuid-1", "")
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestStoreRecordingOfUnknownCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer server.Close()

	env := newTestEnv(t, NewMemoryStore())
	record, err := env.service.StoreRecording(context.Background(), "inbound-1", server.URL+"/x.mp3")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, record.State)
	assert.Equal(t, "recordings/inbound-1.mp3", record.S3RecordingPath)

	stored, err := env.service.Get(context.Background(), "inbound-1")
	require.NoError(t, err)
	assert.Equal(t, "recordings/inbound-1.mp3", stored.S3RecordingPath)
}

func TestStoreStreamRecording(t *testing.T) {
	env := newTestEnv(t, NewMemoryStore())
	ctx := context.Background()
	_, err := env.service.HandleInboundCall(ctx, "abc", "+1", "+2")
	require.NoError(t, err)

	url, err := env.service.StoreStreamRecording(ctx, "abc", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example.com/recordings/abc-stream.wav", url)
	assert.Equal(t, "audio/wav", env.objects.objects["recordings/abc-stream.wav"].contentType)

	record, err := env.service.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "recordings/abc-stream.wav", record.StreamRecordingPath)

	env.objects.urlErr = errors.New("no signing credentials")
	url, err = env.service.StoreStreamRecording(ctx, "unknown", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/recordings/unknown-stream.wav", url)

	env.objects.putErr = errors.New("bucket gone")
	_, err = env.service.StoreStreamRecording(ctx, "abc", []byte("RIFF"))
	assert.Error(t, err)
}

func TestParseCallState(t *testing.T) {
	state, err := ParseCallState("COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	state, err = ParseCallState("inprogress")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, state)

	_, err = ParseCallState("RINGING")
	assert.True(t, errors.Is(err, ErrBadRequest))

	assert.True(t, StateUserBusy.Terminal())
	assert.False(t, StateInitiated.Terminal())
}

func TestStateFromProviderStatus(t *testing.T) {
	assert.Equal(t, StateUserBusy, stateFromProviderStatus("busy"))
	assert.Equal(t, StateFailed, stateFromProviderStatus("no-answer"))
	assert.Equal(t, StateFailed, stateFromProviderStatus("failed"))
	assert.Equal(t, StateCompleted, stateFromProviderStatus("completed"))
	assert.Equal(t, StateCompleted, stateFromProviderStatus(""))
}

func TestCallRecordJSON(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(CallRecord{
		CallUUID:   "abc",
		FromNumber: "+1",
		ToNumber:   "+2",
		Direction:  "outbound",
		State:      StateInitiated,
		StartTime:  &start,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"call_uuid":"abc","from_number":"+1","to_number":"+2","direction":"outbound","state":"INITIATED","start_time":"2024-05-01T12:00:00Z"}`, string(data))
}

func TestRedisStore(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()

	store, err := NewRedisStore(ctx, "redis://"+server.Addr()+"/0", time.Hour)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(ctx, "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.ResolveAlias(ctx, "provider-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	record := &CallRecord{CallUUID: "abc", FromNumber: "+1", ToNumber: "+2", Direction: "inbound", State: StateInProgress}
	require.NoError(t, store.Save(ctx, record))
	require.NoError(t, store.SaveAlias(ctx, "provider-1", "abc"))

	loaded, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, record, loaded)

	resolved, err := store.ResolveAlias(ctx, "provider-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", resolved)

	assert.True(t, server.Exists("call:abc"))
	assert.Equal(t, time.Hour, server.TTL("call:abc"))

	server.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisStoreWithService(t *testing.T) {
	server := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+server.Addr(), 0)
	require.NoError(t, err)
	defer store.Close()

	env := newTestEnv(t, store)
	_, err = env.service.MakeOutboundCall(context.Background(), "+15550002")
	require.NoError(t, err)
	record, err := env.service.Get(context.Background(), "plivo-req-1")
	require.NoError(t, err)
	assert.Equal(t, "call-uuid-1", record.CallUUID)
}

func TestNewRedisStoreErrors(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url", time.Hour)
	assert.Error(t, err)

	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	_, err = NewRedisStore(context.Background(), "redis://"+addr, time.Hour)
	assert.Error(t, err)
}
