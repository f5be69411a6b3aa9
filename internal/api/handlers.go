package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/petrzlen/vocode-telephony/internal/calls"
	"github.com/petrzlen/vocode-telephony/pkg/telephony"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeXML       = "text/xml"
	contentTypeHangupXML = "application/xml"
)

type healthResponse struct {
	Status      string `json:"status"`
	App         string `json:"app"`
	Provider    string `json:"provider"`
	ActiveCalls int    `json:"active_calls"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		App:         s.options.AppName,
		Provider:    s.calls.Provider().Name(),
		ActiveCalls: s.sessions.ActiveCount(),
	})
}

func (s *Server) handleOutbound(w http.ResponseWriter, r *http.Request) {
	toNumber := mux.Vars(r)["to_number"]
	record, err := s.calls.MakeOutboundCall(r.Context(), toNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleAnswer serves the answer webhook. Outbound calls carry our call uuid in the path,
// inbound calls are registered under the provider's call id.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	provider := s.calls.Provider()
	callback, err := provider.ParseCallback(r)
	if err != nil {
		writeError(w, r, errors.Wrap(calls.ErrBadRequest, err.Error()))
		return
	}

	callUUID, hasPathUUID := mux.Vars(r)["call_uuid"]
	logger := log.With().Str("provider", provider.Name()).Str("provider_call_id", callback.CallID).Logger()
	if hasPathUUID {
		if _, err := s.calls.MarkAnswered(r.Context(), callUUID, callback.CallID); err != nil {
			// The call still gets connected, e.g. after a restart with the memory store.
			logger.Warn().Err(err).Str("call_uuid", callUUID).Msg("answered call is not known")
		}
	} else {
		record, err := s.calls.HandleInboundCall(r.Context(), callback.CallID, callback.From, callback.To)
		if err != nil {
			writeError(w, r, err)
			return
		}
		callUUID = record.CallUUID
	}

	xml, err := provider.AnswerXML(telephony.AnswerOptions{
		StreamURL:            telephony.WebsocketURL(s.options.BaseURL, callUUID),
		RecordingCallbackURL: s.calls.RecordingCallbackURL(),
		RecordMaxLength:      s.options.RecordMaxLength,
		StreamTimeout:        s.options.StreamTimeout,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info().Str("call_uuid", callUUID).Msg("answering call with voice stream")
	writeXML(w, contentTypeXML, xml)
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	provider := s.calls.Provider()
	callback, err := provider.ParseCallback(r)
	if err != nil {
		writeError(w, r, errors.Wrap(calls.ErrBadRequest, err.Error()))
		return
	}
	callUUID, ok := mux.Vars(r)["call_uuid"]
	if !ok {
		callUUID = callback.CallID
	}
	if callUUID != "" {
		if record, err := s.calls.HandleHangup(r.Context(), callUUID, callback.Status); err != nil {
			log.Warn().Err(err).Str("call_uuid", callUUID).Msg("cannot finish hung up call")
		} else {
			log.Info().Str("call_uuid", record.CallUUID).Str("state", string(record.State)).Msg("call hung up")
		}
	}

	xml, err := provider.HangupXML(HangupMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, contentTypeHangupXML, xml)
}

// handleRecordingCallback is called by the provider once the call recording is ready.
func (s *Server) handleRecordingCallback(w http.ResponseWriter, r *http.Request) {
	callback, err := s.calls.Provider().ParseCallback(r)
	if err != nil {
		writeError(w, r, errors.Wrap(calls.ErrBadRequest, err.Error()))
		return
	}
	if callback.CallID == "" || callback.RecordingURL == "" {
		writeError(w, r, errors.Wrap(calls.ErrBadRequest, "recording callback without call id or recording url"))
		return
	}
	record, err := s.calls.StoreRecording(r.Context(), callback.CallID, callback.RecordingURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleStoreRecording(w http.ResponseWriter, r *http.Request) {
	callUUID := mux.Vars(r)["call_uuid"]
	recordingURL := r.URL.Query().Get("recording_url")
	record, err := s.calls.StoreRecording(r.Context(), callUUID, recordingURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.sessions.UpdateRecordingURL(callUUID, recordingURL)
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.sessions.GetCallStatus(mux.Vars(r)["call_uuid"])
	if !ok {
		writeDetail(w, http.StatusNotFound, "Call not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	newState, err := calls.ParseCallState(r.URL.Query().Get("new_state"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.calls.SetState(r.Context(), mux.Vars(r)["call_uuid"], newState)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	record, err := s.calls.Get(r.Context(), mux.Vars(r)["call_uuid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	record, err := s.calls.Hangup(r.Context(), mux.Vars(r)["call_uuid"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleConference(w http.ResponseWriter, r *http.Request) {
	message := r.FormValue("message")
	if message == "" {
		message = DefaultConferenceMessage
	}
	xml, err := s.calls.Provider().ConferenceXML(mux.Vars(r)["room_name"], message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, contentTypeXML, xml)
}
