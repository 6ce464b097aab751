package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// Options tunes the WebSocket transport. Zero values fall back to defaults.
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
	// AllowedOrigins lists accepted Origin hosts; empty accepts any origin.
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	return o
}

var errInternal = errors.New("internal error")

type WSHandler struct {
	coordinator *app.Coordinator
	upgrader    websocket.Upgrader
	validator   *payloadValidator
	opts        Options
	log         zerolog.Logger
}

func NewWSHandler(coordinator *app.Coordinator, opts Options, log zerolog.Logger) *WSHandler {
	opts = opts.withDefaults()
	h := &WSHandler{
		coordinator: coordinator,
		validator:   newPayloadValidator(),
		opts:        opts,
		log:         log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// bearerToken reads the credential from the Authorization header or the token query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// ServeWS upgrades HTTP requests to websockets and wires them into the room use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := newClient(ws, h.opts, h.log)
	peer := h.coordinator.Connect(client, token)
	client.log.Debug().Str("remote", r.RemoteAddr).Msg("client connected")

	go client.writePump()
	// Context for the connection lifetime; the request context ends with the handler.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.readPump(func(data []byte) { h.dispatch(ctx, peer, client, data) })

	h.coordinator.Disconnect(peer)
	client.log.Debug().Msg("client disconnected")
}

func (h *WSHandler) dispatch(ctx context.Context, peer *app.Peer, client *Client, data []byte) {
	var in inboundMessage
	if err := h.validator.decode(data, &in); err != nil {
		h.fail(client, domain.EventError, "", err)
		return
	}

	var err error
	switch in.Type {
	case domain.EventCreateRoom:
		var p createRoomPayload
		if err = h.validator.decode(in.Payload, &p); err == nil {
			mode, ok := domain.ParseMode(p.Mode)
			if !ok {
				mode = domain.ModeTeacherPaced
			}
			_, err = h.coordinator.CreateRoom(ctx, peer, app.CreateRoomRequest{
				RoomID:            strings.TrimSpace(p.RoomID),
				QuizID:            p.QuizID,
				Name:              p.Name,
				Mode:              mode,
				AllowAnswerChange: p.AllowAnswerChange,
				Credential:        p.Credential,
			})
		}
		h.reply(client, domain.EventError, in.Type, err)

	case domain.EventJoinRoom:
		var p joinRoomPayload
		if err = h.validator.decode(in.Payload, &p); err == nil {
			_, err = h.coordinator.Join(ctx, peer, strings.TrimSpace(p.RoomID), strings.TrimSpace(p.Name), p.Credential)
		}
		h.reply(client, domain.EventJoinError, in.Type, err)

	case domain.EventLeaveRoom:
		h.reply(client, domain.EventError, in.Type, h.coordinator.Leave(peer))

	case domain.EventStartQuiz:
		h.reply(client, domain.EventError, in.Type, h.coordinator.Start(peer))

	case domain.EventSubmitAnswer:
		var p submitAnswerPayload
		if err = h.validator.decode(in.Payload, &p); err == nil {
			_, err = h.coordinator.Submit(peer, p.QuestionID, p.Value)
		}
		h.reply(client, domain.EventAnswerError, in.Type, err)

	case domain.EventRevealResults:
		h.reply(client, domain.EventError, in.Type, h.coordinator.Reveal(peer))

	case domain.EventNextQuestion:
		h.reply(client, domain.EventError, in.Type, h.coordinator.Next(peer))

	case domain.EventCloseRoom:
		h.reply(client, domain.EventError, in.Type, h.coordinator.Close(peer))

	case domain.EventGetUsage:
		usage, err := h.coordinator.Usage(ctx, peer)
		if err == nil {
			err = client.Send(domain.Event{Type: domain.EventUsageData, Payload: usage})
		}
		h.reply(client, domain.EventError, in.Type, err)

	case domain.EventPing:
		_ = client.Send(domain.Event{Type: domain.EventPong, Payload: map[string]int64{"ts": time.Now().UnixMilli()}})

	default:
		h.fail(client, domain.EventError, in.Type, domain.ErrInvalidPayload)
	}
}

func (h *WSHandler) reply(client *Client, errType, request domain.EventType, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrClientClosed) || errors.Is(err, ErrSlowClient) {
		return
	}
	h.fail(client, errType, request, err)
}

func (h *WSHandler) fail(client *Client, errType, request domain.EventType, err error) {
	if domain.Reason(err) == "internal" {
		client.log.Error().Err(err).Str("event", string(request)).Msg("request failed")
		err = errInternal
	} else {
		client.log.Debug().Err(err).Str("event", string(request)).Msg("request rejected")
	}
	_ = client.Send(domain.NewErrorEvent(errType, request, err))
}
