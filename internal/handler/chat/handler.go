package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/tavern-chat/internal/middleware"
	chatModel "github.com/zhouzirui/tavern-chat/internal/model/chat"
	chatService "github.com/zhouzirui/tavern-chat/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/pkg/utils"
)

// Handler 会话历史的HTTP处理器
type Handler struct {
	store    chatService.Store
	sessions *middleware.SessionManager
}

// New 创建会话历史处理器
func New(store chatService.Store, sessions *middleware.SessionManager) *Handler {
	return &Handler{
		store:    store,
		sessions: sessions,
	}
}

// RegisterRoutes 注册会话历史相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/history", h.handleHistory)
	r.Get("/clear-history", h.handleClearHistory)
}

// handleHistory 返回当前会话的全部消息，没有会话时返回空数组。
// 文本按原样输出，不做 HTML 转义。
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())
	body, err := chatModel.Encode(h.store.Get(r.Context(), sessionID))
	if err != nil {
		utils.RespondError(w, r, http.StatusInternalServerError, "failed to encode history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("history write failed")
	}
}

// handleClearHistory 重新生成会话并跳转回首页
func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())
	newID, err := h.store.Clear(r.Context(), sessionID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to clear session")
		utils.RespondError(w, r, http.StatusInternalServerError, "failed to clear history")
		return
	}

	h.sessions.SetCookie(w, r, newID)
	hlog.FromRequest(r).Info().Str("new_session", newID).Msg("session regenerated")
	http.Redirect(w, r, "/", http.StatusFound)
}
