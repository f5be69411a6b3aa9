package networking

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WebsocketMessageHandler usage:
// * Read from GetReader chan until closed (which means the other party closed it)
// * Write into GetWriter chan until you want - if you close it than the websocket will be closed gracefully.
//
// NOTE: This assumes the message encoding is websocket.TextMessage type (NOT websocket.Binary).
// Both Plivo and Twilio media streams send JSON text frames.
type WebsocketMessageHandler interface {
	// GetReader is where websocket.ReadMessage will produce messages into UNTIL the websocket is closed,
	// then the Reader chan will be CLOSED, i.e. do NOT close this channel yourself as panic is a guaranteed.
	GetReader() chan<- []byte
	// GetWriter is where you can write response - upon channel close, or invalid message produced,
	// the websocket will attempt to close gracefully.
	GetWriter() <-chan []byte
}

// ChanHandler is the plain chan pair implementation of WebsocketMessageHandler.
type ChanHandler struct {
	Reader chan []byte
	Writer chan []byte
}

func NewChanHandler(bufferSize int) *ChanHandler {
	return &ChanHandler{
		Reader: make(chan []byte, bufferSize),
		Writer: make(chan []byte, bufferSize),
	}
}

func (h *ChanHandler) GetReader() chan<- []byte {
	return h.Reader
}

func (h *ChanHandler) GetWriter() <-chan []byte {
	return h.Writer
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // providers do not send an Origin we could check
	},
}

func getClientIpAddress(r *http.Request) (clientIP string) {
	// Get client IP from RemoteAddr
	clientIP = r.RemoteAddr

	// Check for real IP in headers (useful if behind proxy)
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		clientIP = realIP
	} else if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		clientIP = forwardedFor
	}
	return
}

// NewWebsocketHandlerFunc takes the raw http reader / writer,
// and abstracts it into WebsocketMessageHandler which works at the chan []byte message level.
// When createHandler fails, the connection is rejected with the returned status code.
func NewWebsocketHandlerFunc(createHandler func(r *http.Request) (WebsocketMessageHandler, int, error)) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("client_ip", getClientIpAddress(r)).Str("request_url", r.URL.String()).Logger()
		handler, statusCode, err := createHandler(r)
		if err != nil {
			logger.Warn().Err(err).Int("status", statusCode).Msg("websocket connection rejected")
			http.Error(w, err.Error(), statusCode)
			return
		}
		logger.Info().Str("method", r.Method).Msg("NewWebsocketHandlerFunc attempting to establish a websocket connection")

		defer func() { close(handler.GetReader()) }()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errLog(err, "websocket upgrader.Upgrade")
			return
		}
		defer func() { errLog(ws.Close(), "websocket.Close()") }()

		go writeRoutine(ws, handler.GetWriter())
		readRoutine(ws, handler.GetReader())
	}
}

// Dial connects to a websocket server and bridges it to the handler, e.g. a local phone simulator.
// It blocks until the connection is closed by either party or ctx is done.
// The Reader is closed on return in every case, also when the connection could not be established.
func Dial(ctx context.Context, url string, handler WebsocketMessageHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		close(handler.GetReader())
		go func() {
			for range handler.GetWriter() {
			}
		}()
		if resp != nil {
			return errors.Wrapf(err, "cannot dial %s, status %d", url, resp.StatusCode)
		}
		return errors.Wrapf(err, "cannot dial %s", url)
	}
	defer func() { close(handler.GetReader()) }()

	var closeOnce sync.Once
	closeWs := func() { closeOnce.Do(func() { errLog(ws.Close(), "websocket.Close()") }) }
	defer closeWs()

	stop := context.AfterFunc(ctx, closeWs)
	defer stop()

	go writeRoutine(ws, handler.GetWriter())
	readRoutine(ws, handler.GetReader())
	return ctx.Err()
}

func writeRoutine(ws *websocket.Conn, writer <-chan []byte) {
	for {
		msg, ok := <-writer
		// Channel closed by the user, attempt to close connection gracefully.
		// That will also end up the reader routine.
		if !ok {
			log.Info().Msg("websocket writer channel closed, attempting to close connection gracefully")
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			errLog(ws.WriteMessage(websocket.CloseMessage, msg), "websocket.CloseMessage gracefully")
			return
		}

		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) || errors.Is(err, websocket.ErrCloseSent) {
				log.Info().Msg("websocket too late to write message, as already closed")
			} else {
				errLog(err, "ws.WriteMessage")
			}
			// Keep draining so the producer never blocks on a dead connection.
			for range writer {
			}
			return
		}
	}
}

func readRoutine(ws *websocket.Conn, reader chan<- []byte) {
	log.Debug().Msg("starting to read from the websocket")
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived, websocket.CloseGoingAway) {
				log.Info().Msg("websocket connection closed normally from the other party")
			} else {
				log.Warn().Err(err).Msg("couldn't read message from websocket")
			}
			// Usually, nothing good will happen ever after a bad websocket message
			return
		}
		reader <- msg
	}
}

func errLog(err error, what string) {
	if err != nil {
		log.Error().Err(err).Msg(what)
	}
}
