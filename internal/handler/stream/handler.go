package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-chat/internal/middleware"
	chatService "github.com/zhouzirui/tavern-chat/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/internal/service/stream"
	"github.com/zhouzirui/tavern-chat/pkg/utils"
)

const (
	maxRequestBody = 64 << 10
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Handler 处理消息提交，并把模型回复分块推送给客户端
type Handler struct {
	bridge   *stream.Bridge
	upgrader websocket.Upgrader
}

// New 创建流式处理器；bridge 为 nil 时所有提交都返回 503
func New(bridge *stream.Bridge) *Handler {
	return &Handler{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册消息提交路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleMessages)
	r.Get("/ws", h.handleWebSocket)
}

type messageRequest struct {
	Query string `json:"query"`
}

// handleMessages 以分块 text/plain 返回模型回复。
// 首个分块写出之前的失败返回 JSON 错误；之后的失败直接中断连接，客户端据此判断回复不完整。
func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		utils.RespondError(w, r, http.StatusServiceUnavailable, "model unavailable")
		return
	}

	body := io.LimitReader(r.Body, maxRequestBody)
	var req messageRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		utils.RespondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	// 读完请求体后服务器才会监听连接关闭，客户端断开时 r.Context() 随之取消
	_, _ = io.Copy(io.Discard, body)

	logger := hlog.FromRequest(r)
	fw := utils.NewFlushWriter(w)
	res, err := h.bridge.Submit(r.Context(), middleware.SessionID(r.Context()), req.Query, fw)
	if err == nil {
		fw.Begin()
		return
	}

	switch {
	case errors.Is(err, stream.ErrEmptyQuery):
		utils.RespondError(w, r, http.StatusBadRequest, "query is required")
	case errors.Is(err, chatService.ErrSessionRevoked):
		utils.RespondError(w, r, http.StatusConflict, "session was cleared")
	case fw.Started():
		logger.Warn().Err(err).Int("chunks", res.Chunks).Msg("aborting incomplete response")
		panic(http.ErrAbortHandler)
	case r.Context().Err() != nil:
		logger.Info().Err(err).Msg("client went away before the first chunk")
	default:
		logger.Error().Err(err).Msg("model request failed")
		utils.RespondError(w, r, http.StatusBadGateway, "model request failed")
	}
}

type inboundMessage struct {
	Query string `json:"query"`
}

type outgoingMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

type inbound struct {
	query string
	err   error
}

// handleWebSocket 在一条连接上依次处理多次提交，每个分块作为一帧 JSON 发送。
// 连接断开会取消正在进行的回复。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		utils.RespondError(w, r, http.StatusServiceUnavailable, "model unavailable")
		return
	}

	sessionID := middleware.SessionID(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, http.Header{"Set-Cookie": w.Header().Values("Set-Cookie")})
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages := make(chan inbound)
	go h.readLoop(ctx, cancel, conn, messages)
	go h.pingLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-messages:
			if msg.err != nil {
				h.send(conn, outgoingMessage{Type: "error", Error: "invalid message"})
				continue
			}
			h.answer(ctx, conn, sessionID, msg.query)
		}
	}
}

func (h *Handler) answer(ctx context.Context, conn *websocket.Conn, sessionID, query string) {
	sink := stream.SinkFunc(func(text string) error {
		return conn.WriteJSON(outgoingMessage{Type: "chunk", Text: text})
	})

	_, err := h.bridge.Submit(ctx, sessionID, query, sink)
	switch {
	case err == nil:
		h.send(conn, outgoingMessage{Type: "done"})
	case ctx.Err() != nil:
	case errors.Is(err, stream.ErrEmptyQuery):
		h.send(conn, outgoingMessage{Type: "error", Error: "query is required"})
	case errors.Is(err, chatService.ErrSessionRevoked):
		h.send(conn, outgoingMessage{Type: "error", Error: "session was cleared"})
	default:
		h.send(conn, outgoingMessage{Type: "error", Error: "model request failed"})
	}
}

// readLoop 读取客户端消息；读取失败即视为断开
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- inbound) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Str("component", "websocket").Err(err).Msg("connection closed unexpectedly")
			}
			return
		}

		var msg inboundMessage
		item := inbound{}
		if err := json.Unmarshal(data, &msg); err != nil {
			item.err = err
		} else {
			item.query = msg.Query
		}

		select {
		case out <- item:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, msg outgoingMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Warn().Str("component", "websocket").Err(err).Str("type", msg.Type).Msg("write failed")
	}
}
