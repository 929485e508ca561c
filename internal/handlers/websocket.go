package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/events"
)

const (
	runStreamPrefix = "/ws/runs/"
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Subscribers are authorized by token, not origin
	},
}

// RunSubscriber opens event streams for runs
type RunSubscriber interface {
	Subscribe(runID string) (*events.Subscription, error)
}

// RunStreamHandler streams a run's events over a WebSocket until the run ends
type RunStreamHandler struct {
	subscriber       RunSubscriber
	authorizer       interfaces.SubscriberAuthorizer
	progressInterval time.Duration
	logger           arbor.ILogger
}

func NewRunStreamHandler(
	subscriber RunSubscriber,
	authorizer interfaces.SubscriberAuthorizer,
	config *common.WebSocketConfig,
	logger arbor.ILogger,
) *RunStreamHandler {
	h := &RunStreamHandler{
		subscriber: subscriber,
		authorizer: authorizer,
		logger:     logger,
	}

	// Nil config or empty interval = no throttling
	if config != nil && config.ProgressThrottle != "" {
		if interval, err := time.ParseDuration(config.ProgressThrottle); err == nil && interval > 0 {
			h.progressInterval = interval
			logger.Debug().
				Str("interval", config.ProgressThrottle).
				Msg("Progress throttle enabled for run streams")
		} else {
			logger.Warn().
				Str("interval", config.ProgressThrottle).
				Msg("Failed to parse progress throttle interval - throttler disabled")
		}
	}

	return h
}

// HandleRunStream handles GET /ws/runs/{id}?token=...
func (h *RunStreamHandler) HandleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := PathID(r.URL.Path, runStreamPrefix)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run id is required")
		return
	}

	if h.authorizer != nil && !h.authorizer.AuthorizeSubscriber(r.URL.Query().Get("token"), runID) {
		h.logger.Warn().Str("run_id", runID).Str("remote", r.RemoteAddr).Msg("Run stream subscriber rejected")
		WriteError(w, http.StatusUnauthorized, "Not authorized to watch this run")
		return
	}

	sub, err := h.subscriber.Subscribe(runID)
	if err != nil {
		if errors.Is(err, events.ErrRunNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to subscribe")
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("run_id", runID).Msg("Run stream client connected")

	// The read loop only services control frames; it ends when the client goes away
	clientGone := make(chan struct{})
	common.SafeGo(h.logger, "ws-read:"+runID, func() {
		defer close(clientGone)
		conn.SetReadLimit(4096)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Str("run_id", runID).Msg("Run stream read ended")
				}
				return
			}
		}
	})

	h.stream(conn, sub, clientGone)
}

func (h *RunStreamHandler) stream(conn *websocket.Conn, sub *events.Subscription, clientGone <-chan struct{}) {
	var limiter *rate.Limiter
	if h.progressInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(h.progressInterval), 1)
	}
	var heldProgress *models.RunEvent

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-clientGone:
			h.logger.Debug().Str("run_id", sub.RunID).Msg("Run stream client disconnected")
			return

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case event, ok := <-sub.Events:
			if !ok {
				h.close(conn, websocket.CloseNormalClosure, "stream closed")
				return
			}

			if event.Type == models.RunEventProgress && limiter != nil && !limiter.Allow() {
				held := event
				heldProgress = &held
				continue
			}
			if event.Type != models.RunEventProgress && heldProgress != nil {
				if !h.write(conn, *heldProgress) {
					return
				}
			}
			heldProgress = nil

			if !h.write(conn, event) {
				return
			}
			if event.Type.IsTerminal() {
				h.close(conn, websocket.CloseNormalClosure, string(event.Type))
				return
			}
		}
	}
}

func (h *RunStreamHandler) write(conn *websocket.Conn, event models.RunEvent) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Debug().Err(err).Str("run_id", event.RunID).Msg("Failed to write run event")
		return false
	}
	return true
}

func (h *RunStreamHandler) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
