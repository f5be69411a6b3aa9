package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petrzlen/vocode-telephony/internal/api"
	"github.com/petrzlen/vocode-telephony/internal/calls"
	"github.com/petrzlen/vocode-telephony/internal/config"
	"github.com/petrzlen/vocode-telephony/internal/session"
	"github.com/petrzlen/vocode-telephony/internal/utils"
	"github.com/petrzlen/vocode-telephony/pkg/agent"
	"github.com/petrzlen/vocode-telephony/pkg/audioio"
	"github.com/petrzlen/vocode-telephony/pkg/pipeline"
	"github.com/petrzlen/vocode-telephony/pkg/storage"
	"github.com/petrzlen/vocode-telephony/pkg/synthesizer"
	"github.com/petrzlen/vocode-telephony/pkg/telephony"
	"github.com/petrzlen/vocode-telephony/pkg/transcriber"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

func main() {
	setupStart := time.Now()
	cfg, err := config.Load()
	if err != nil {
		utils.SetupZerolog("info", utils.LogFormatConsole)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	utils.SetupZerolog(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	provider, err := newProvider(cfg)
	ftl(err)
	objects, err := newObjectStore(ctx, cfg)
	ftl(err)
	defer func() { utils.ErrLog(objects.Close(), "object store close") }()
	store, err := newCallStore(ctx, cfg)
	ftl(err)
	defer func() { utils.ErrLog(store.Close(), "call store close") }()
	newBot, err := newBotFactory(cfg, provider)
	ftl(err)

	callService := calls.NewService(store, provider, objects, calls.Options{
		APIBaseURL:      cfg.APIURL(""),
		FromNumber:      cfg.FromNumber(),
		RingURL:         cfg.RingURL,
		CallsPerSecond:  cfg.OutboundCallsPerSecond,
		CallsBurst:      cfg.OutboundCallsBurst,
		RecordingURLTTL: cfg.RecordingURLTTL,
	})
	server := api.NewServer(api.Options{
		AppName:          cfg.AppName,
		APIPrefix:        cfg.APIPrefix,
		BaseURL:          cfg.BaseURL,
		ValidateWebhooks: cfg.ValidateWebhooks,
		RecordMaxLength:  cfg.RecordMaxLength,
		StreamTimeout:    cfg.StreamTimeout,
	}, callService, session.NewManager(cfg.StatusRetention), newBot)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("app", cfg.AppName).Int("port", cfg.Port).Str("base_url", cfg.BaseURL).Str("provider", provider.Name()).Dur("setup_time", time.Since(setupStart)).Msg("server listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websockets are not tracked by http.Server, the api server ends those calls itself.
	utils.ErrLog(httpServer.Shutdown(shutdownCtx), "http server shutdown")
	utils.ErrLog(server.Shutdown(shutdownCtx), "calls shutdown")
	log.Info().Msg("bye")
}

func newProvider(cfg *config.Config) (telephony.Provider, error) {
	switch cfg.TelephonyProvider {
	case config.TelephonyTwilio:
		return telephony.NewTwilio(cfg.Twilio.AccountSid, cfg.Twilio.AuthToken), nil
	default:
		return telephony.NewPlivo(cfg.Plivo.AuthID, cfg.Plivo.AuthToken, nil)
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageGCS:
		return storage.NewGCS(ctx, cfg.GCSBucket)
	default:
		return storage.NewS3(ctx, storage.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
		})
	}
}

func newCallStore(ctx context.Context, cfg *config.Config) (calls.Store, error) {
	if cfg.CallStore == config.CallStoreRedis {
		return calls.NewRedisStore(ctx, cfg.RedisURL, cfg.CallRecordTTL)
	}
	return calls.NewMemoryStore(), nil
}

// newBotFactory shares the API clients across calls, each call gets its own bot and serializer.
func newBotFactory(cfg *config.Config, provider telephony.Provider) (api.BotFactory, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	client := openai.NewClient(cfg.OpenAIAPIKey)
	chatAgent := agent.NewOpenAIChatAgent(client, cfg.OpenAIModel)

	var stt transcriber.Transcriber
	switch cfg.STTProvider {
	case config.STTDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil, errors.New("DEEPGRAM_API_KEY is not set")
		}
		stt = transcriber.NewDeepgram(cfg.DeepgramAPIKey, transcriber.DeepgramBaseURL)
	default:
		stt = transcriber.NewOpenAIWhisper(client)
	}

	var tts synthesizer.Synthesizer
	switch cfg.TTSProvider {
	case config.TTSElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return nil, errors.New("ELEVENLABS_API_KEY is not set")
		}
		tts = synthesizer.NewElevenLabsTTS(cfg.ElevenLabsAPIKey, synthesizer.ElevenLabsBaseURL, cfg.ElevenLabsVoiceID)
	default:
		tts = synthesizer.NewOpenAITTS(cfg.OpenAIAPIKey, synthesizer.OpenAIBaseURL, "mp3")
	}

	var mixer *audioio.AmbienceMixer
	if cfg.AmbiencePath != "" {
		var err error
		mixer, err = audioio.NewAmbienceMixerFromFile(cfg.AmbiencePath, cfg.AmbienceVolume)
		if err != nil {
			return nil, err
		}
	}

	botConfig := pipeline.DefaultConfig()
	botConfig.AllowInterruptions = cfg.AllowInterruptions
	if cfg.SystemPrompt != "" {
		botConfig.SystemPrompt = cfg.SystemPrompt
	}
	return func(callUUID string) api.BotRunner {
		return pipeline.NewBot(botConfig, provider.NewSerializer(), stt, chatAgent, tts, mixer)
	}, nil
}

func ftl(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
