// Package config reads the service settings from the environment, optionally seeded by a .env file.
package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppName   string
	APIPrefix string
	Port      int
	// BaseURL is how the telephony provider reaches us, e.g. https://abc.ngrok.app
	BaseURL   string
	Debug     bool
	LogLevel  string
	LogFormat string

	TelephonyProvider string
	Plivo             PlivoConfig
	Twilio            TwilioConfig
	RingURL           string
	RecordMaxLength   int
	StreamTimeout     int
	ValidateWebhooks  bool

	StorageBackend     string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string
	S3Endpoint         string
	GCSBucket          string
	RecordingURLTTL    time.Duration

	OpenAIAPIKey      string
	OpenAIModel       string
	STTProvider       string
	DeepgramAPIKey    string
	TTSProvider       string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	SystemPrompt       string
	AllowInterruptions bool
	AmbiencePath       string
	AmbienceVolume     float64

	CallStore     string
	RedisURL      string
	CallRecordTTL time.Duration

	OutboundCallsPerSecond float64
	OutboundCallsBurst     int
	StatusRetention        time.Duration
	ShutdownTimeout        time.Duration
}

type PlivoConfig struct {
	AuthID     string
	AuthToken  string
	FromNumber string
}

type TwilioConfig struct {
	AccountSid string
	AuthToken  string
	FromNumber string
}

const (
	TelephonyPlivo  = "plivo"
	TelephonyTwilio = "twilio"

	StorageS3  = "s3"
	StorageGCS = "gcs"

	STTWhisper  = "whisper"
	STTDeepgram = "deepgram"

	TTSOpenAI     = "openai"
	TTSElevenLabs = "elevenlabs"

	CallStoreMemory = "memory"
	CallStoreRedis  = "redis"
)

// DefaultRingURL is the ring back tone played to the callee before the bot answers.
const DefaultRingURL = "https://ontune.s3.ap-south-1.amazonaws.com/ringbacktone-original.mp3"

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded, using the environment only")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from a getenv style lookup.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := &env{getenv: getenv}
	debug := e.getBool("DEBUG", false)
	defaultLogLevel := "info"
	if debug {
		defaultLogLevel = "debug"
	}

	c := &Config{
		AppName:   e.get("APP_NAME", "PipeCat AI Voice Agent"),
		APIPrefix: e.get("API_PREFIX", "/api/v1"),
		Port:      e.getInt("PORT", 8000),
		BaseURL:   strings.TrimRight(e.get("BASE_URL", ""), "/"),
		Debug:     debug,
		LogLevel:  e.get("LOG_LEVEL", defaultLogLevel),
		LogFormat: e.get("LOG_FORMAT", "console"),

		TelephonyProvider: strings.ToLower(e.get("TELEPHONY_PROVIDER", TelephonyPlivo)),
		Plivo: PlivoConfig{
			AuthID:     e.get("PLIVO_AUTH_ID", ""),
			AuthToken:  e.get("PLIVO_AUTH_TOKEN", ""),
			FromNumber: e.get("PLIVO_FROM_NUMBER", ""),
		},
		Twilio: TwilioConfig{
			AccountSid: e.get("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  e.get("TWILIO_AUTH_TOKEN", ""),
			FromNumber: e.get("TWILIO_FROM_NUMBER", ""),
		},
		RingURL:          e.get("RING_URL", DefaultRingURL),
		RecordMaxLength:  e.getInt("RECORD_MAX_LENGTH", 3600),
		StreamTimeout:    e.getInt("STREAM_TIMEOUT", 3600),
		ValidateWebhooks: e.getBool("VALIDATE_WEBHOOKS", false),

		StorageBackend:     strings.ToLower(e.get("STORAGE_BACKEND", StorageS3)),
		AWSRegion:          e.get("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     e.get("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: e.get("AWS_SECRET_ACCESS_KEY", ""),
		S3Bucket:           e.get("S3_BUCKET_NAME", ""),
		S3Endpoint:         e.get("S3_ENDPOINT", ""),
		GCSBucket:          e.get("GCS_BUCKET_NAME", ""),
		RecordingURLTTL:    e.getDuration("RECORDING_URL_TTL", 24*time.Hour),

		OpenAIAPIKey:      e.get("OPENAI_API_KEY", ""),
		OpenAIModel:       e.get("OPENAI_MODEL", "gpt-4o-mini"),
		STTProvider:       strings.ToLower(e.get("STT_PROVIDER", STTWhisper)),
		DeepgramAPIKey:    e.get("DEEPGRAM_API_KEY", ""),
		TTSProvider:       strings.ToLower(e.get("TTS_PROVIDER", TTSOpenAI)),
		ElevenLabsAPIKey:  e.get("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: e.get("ELEVENLABS_VOICE_ID", ""),

		SystemPrompt:       e.get("SYSTEM_PROMPT", ""),
		AllowInterruptions: e.getBool("ALLOW_INTERRUPTIONS", true),
		AmbiencePath:       e.get("AMBIENCE_PATH", ""),
		AmbienceVolume:     e.getFloat("AMBIENCE_VOLUME", 0.3),

		CallStore:     strings.ToLower(e.get("CALL_STORE", CallStoreMemory)),
		RedisURL:      e.get("REDIS_URL", "redis://localhost:6379/0"),
		CallRecordTTL: e.getDuration("CALL_RECORD_TTL", 7*24*time.Hour),

		OutboundCallsPerSecond: e.getFloat("OUTBOUND_CALLS_PER_SECOND", 1),
		OutboundCallsBurst:     e.getInt("OUTBOUND_CALLS_BURST", 5),
		StatusRetention:        e.getDuration("STATUS_RETENTION", time.Hour),
		ShutdownTimeout:        e.getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
	if e.err != nil {
		return nil, e.err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("BASE_URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return errors.Errorf("BASE_URL must start with http:// or https://, got %s", c.BaseURL)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return errors.Errorf("API_PREFIX must start with /, got %s", c.APIPrefix)
	}

	switch c.TelephonyProvider {
	case TelephonyPlivo:
		if err := required(map[string]string{
			"PLIVO_AUTH_ID":     c.Plivo.AuthID,
			"PLIVO_AUTH_TOKEN":  c.Plivo.AuthToken,
			"PLIVO_FROM_NUMBER": c.Plivo.FromNumber,
		}); err != nil {
			return err
		}
	case TelephonyTwilio:
		if err := required(map[string]string{
			"TWILIO_ACCOUNT_SID": c.Twilio.AccountSid,
			"TWILIO_AUTH_TOKEN":  c.Twilio.AuthToken,
			"TWILIO_FROM_NUMBER": c.Twilio.FromNumber,
		}); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown TELEPHONY_PROVIDER %s", c.TelephonyProvider)
	}

	if err := oneOf("STORAGE_BACKEND", c.StorageBackend, StorageS3, StorageGCS); err != nil {
		return err
	}
	if err := oneOf("STT_PROVIDER", c.STTProvider, STTWhisper, STTDeepgram); err != nil {
		return err
	}
	if err := oneOf("TTS_PROVIDER", c.TTSProvider, TTSOpenAI, TTSElevenLabs); err != nil {
		return err
	}
	if err := oneOf("CALL_STORE", c.CallStore, CallStoreMemory, CallStoreRedis); err != nil {
		return err
	}
	if c.OutboundCallsPerSecond <= 0 {
		return errors.Errorf("OUTBOUND_CALLS_PER_SECOND must be positive, got %f", c.OutboundCallsPerSecond)
	}
	if c.OutboundCallsBurst < 1 {
		return errors.Errorf("OUTBOUND_CALLS_BURST must be at least 1, got %d", c.OutboundCallsBurst)
	}
	return nil
}

// FromNumber is the caller id of the selected provider.
func (c *Config) FromNumber() string {
	if c.TelephonyProvider == TelephonyTwilio {
		return c.Twilio.FromNumber
	}
	return c.Plivo.FromNumber
}

// WebsocketBase is BASE_URL with the websocket scheme.
func (c *Config) WebsocketBase() string {
	switch {
	case strings.HasPrefix(c.BaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.BaseURL, "https://")
	case strings.HasPrefix(c.BaseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.BaseURL, "http://")
	default:
		return c.BaseURL
	}
}

// APIURL joins BASE_URL, API_PREFIX and path.
func (c *Config) APIURL(path string) string {
	return c.BaseURL + strings.TrimRight(c.APIPrefix, "/") + path
}

func required(values map[string]string) error {
	var missing []string
	for name, value := range values {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func oneOf(name string, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return errors.Errorf("%s must be one of %s, got %s", name, strings.Join(allowed, "|"), value)
}

// env collects the first parse error so FromEnv reads like a plain list of settings.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) get(name string, def string) string {
	if v := strings.TrimSpace(e.getenv(name)); v != "" {
		return v
	}
	return def
}

func (e *env) getBool(name string, def bool) bool {
	v := e.get(name, "")
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(errors.Wrapf(err, "invalid %s", name))
		return def
	}
	return parsed
}

func (e *env) getInt(name string, def int) int {
	v := e.get(name, "")
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		e.fail(errors.Wrapf(err, "invalid %s", name))
		return def
	}
	return parsed
}

func (e *env) getFloat(name string, def float64) float64 {
	v := e.get(name, "")
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(errors.Wrapf(err, "invalid %s", name))
		return def
	}
	return parsed
}

func (e *env) getDuration(name string, def time.Duration) time.Duration {
	v := e.get(name, "")
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		e.fail(errors.Wrapf(err, "invalid %s", name))
		return def
	}
	return parsed
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
