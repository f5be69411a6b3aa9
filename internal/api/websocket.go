package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/petrzlen/vocode-telephony/internal/networking"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// websocketBuffer holds about a second of 20ms media frames.
	websocketBuffer = 64
	storeTimeout    = 2 * time.Minute
)

func (s *Server) handleVoiceWebsocket() http.HandlerFunc {
	return networking.NewWebsocketHandlerFunc(func(r *http.Request) (networking.WebsocketMessageHandler, int, error) {
		callUUID := mux.Vars(r)["call_uuid"]
		if callUUID == "" {
			return nil, http.StatusBadRequest, errors.New("call_uuid is required")
		}
		if s.callsCtx.Err() != nil {
			return nil, http.StatusServiceUnavailable, errors.New("shutting down")
		}

		handler := networking.NewChanHandler(websocketBuffer)
		s.sessions.Connect(callUUID)
		s.activeCalls.Add(1)
		go s.runCall(callUUID, handler)
		return handler, 0, nil
	})
}

// runCall drives the bot for one voice connection and records its outcome.
func (s *Server) runCall(callUUID string, handler *networking.ChanHandler) {
	defer s.activeCalls.Done()
	defer s.sessions.Disconnect(callUUID)

	logger := log.With().Str("call_uuid", callUUID).Logger()
	ctx := logger.WithContext(s.callsCtx)
	startTime := time.Now()

	result, err := s.newBot(callUUID).Run(ctx, handler.Reader, handler.Writer)
	// The bot is done with both directions: let the websocket close, and drop anything still arriving.
	close(handler.Writer)
	go func() {
		for range handler.Reader {
		}
	}()

	logger.Info().Str("stream_id", result.StreamID).Dur("call_duration", result.Duration).Dur("elapsed", time.Since(startTime)).Int("turns", len(result.Transcript)).Msg("conversation finished")
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("conversation failed")
		s.sessions.Fail(callUUID, err)
	} else {
		s.sessions.Complete(callUUID, result.Transcript)
	}

	if len(result.StereoWav) > 0 {
		s.storeStreamRecording(logger, callUUID, result.StereoWav)
	}
}

func (s *Server) storeStreamRecording(logger zerolog.Logger, callUUID string, wav []byte) {
	// The call context may be canceled by now, the recording is still worth keeping.
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	url, err := s.calls.StoreStreamRecording(ctx, callUUID, wav)
	if err != nil {
		logger.Error().Err(err).Msg("cannot store stream recording")
		return
	}
	s.sessions.UpdateRecordingURL(callUUID, url)
	logger.Info().Int("size", len(wav)).Msg("stored stream recording")
}
