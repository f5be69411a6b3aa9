// Package api exposes the call control REST endpoints, the provider webhooks and the voice websocket.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/petrzlen/vocode-telephony/internal/calls"
	"github.com/petrzlen/vocode-telephony/internal/session"
	"github.com/petrzlen/vocode-telephony/pkg/pipeline"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	HangupMessage            = "Thank you for using PipeCat. Goodbye!"
	DefaultConferenceMessage = "Joining conference"
)

type Options struct {
	AppName   string
	APIPrefix string
	// BaseURL is the public address the provider calls us at.
	BaseURL          string
	ValidateWebhooks bool
	RecordMaxLength  int
	StreamTimeout    int
}

// BotRunner is one conversation over a voice stream, see pipeline.Bot.
type BotRunner interface {
	Run(ctx context.Context, inbound <-chan []byte, outbound chan<- []byte) (pipeline.Result, error)
}

// BotFactory creates the bot for a new voice connection.
type BotFactory func(callUUID string) BotRunner

type Server struct {
	options  Options
	calls    *calls.Service
	sessions *session.Manager
	newBot   BotFactory
	router   *mux.Router

	// callsCtx is canceled on Shutdown to end the running conversations.
	callsCtx    context.Context
	cancelCalls context.CancelFunc
	activeCalls sync.WaitGroup
}

func NewServer(options Options, callService *calls.Service, sessions *session.Manager, newBot BotFactory) *Server {
	if options.APIPrefix == "" {
		options.APIPrefix = "/api/v1"
	}
	options.APIPrefix = "/" + strings.Trim(options.APIPrefix, "/")
	options.BaseURL = strings.TrimRight(options.BaseURL, "/")

	callsCtx, cancelCalls := context.WithCancel(context.Background())
	s := &Server{
		options:     options,
		calls:       callService,
		sessions:    sessions,
		newBot:      newBot,
		callsCtx:    callsCtx,
		cancelCalls: cancelCalls,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(recoveryMiddleware, loggingMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws/voice/{call_uuid}", s.handleVoiceWebsocket()).Methods(http.MethodGet)

	api := router.PathPrefix(s.options.APIPrefix).Subrouter()

	webhooks := api.NewRoute().Subrouter()
	if s.options.ValidateWebhooks {
		webhooks.Use(s.signatureMiddleware)
	}
	webhooks.HandleFunc("/calls/answer", s.handleAnswer).Methods(http.MethodPost, http.MethodGet)
	webhooks.HandleFunc("/calls/answer/{call_uuid}", s.handleAnswer).Methods(http.MethodPost, http.MethodGet)
	webhooks.HandleFunc("/calls/hangup", s.handleHangup).Methods(http.MethodPost)
	webhooks.HandleFunc("/calls/hangup/{call_uuid}", s.handleHangup).Methods(http.MethodPost)
	webhooks.HandleFunc("/calls/recording", s.handleRecordingCallback).Methods(http.MethodPost)
	webhooks.HandleFunc("/calls/conference/{room_name}", s.handleConference).Methods(http.MethodPost, http.MethodGet)

	api.HandleFunc("/calls/outbound/{to_number}", s.handleOutbound).Methods(http.MethodPost)
	api.HandleFunc("/calls/{call_uuid}/recording", s.handleStoreRecording).Methods(http.MethodPost)
	api.HandleFunc("/calls/{call_uuid}/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/calls/{call_uuid}/state", s.handleUpdateState).Methods(http.MethodPut)
	api.HandleFunc("/calls/{call_uuid}", s.handleGetCall).Methods(http.MethodGet)
	api.HandleFunc("/calls/{call_uuid}", s.handleHangupCall).Methods(http.MethodDelete)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown ends the running conversations and waits until their recordings are stored.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelCalls()
	done := make(chan struct{})
	go func() {
		s.activeCalls.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all calls finished")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "calls still running")
	}
}
