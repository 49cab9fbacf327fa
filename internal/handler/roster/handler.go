package roster

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iAnanich/tgbot-member-presence/internal/analysis/mention"
	rosterModel "github.com/iAnanich/tgbot-member-presence/internal/model/roster"
	rosterService "github.com/iAnanich/tgbot-member-presence/internal/service/roster"
	"github.com/iAnanich/tgbot-member-presence/pkg/utils"
)

// AdminFilter 判断调用者是否可以执行管理命令。
type AdminFilter func(username string) bool

// Handler 名册服务的HTTP处理器
type Handler struct {
	svc     *rosterService.Service
	isAdmin AdminFilter
}

// New 创建名册处理器；isAdmin 为 nil 时不限制管理命令。
func New(svc *rosterService.Service, isAdmin AdminFilter) *Handler {
	if isAdmin == nil {
		isAdmin = func(string) bool { return true }
	}
	return &Handler{svc: svc, isAdmin: isAdmin}
}

// RegisterRoutes 注册名册相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}", h.handleGet)
	r.Post("/chats/{chatID}/initialize", h.admin(h.handleInitialize))
	r.Post("/chats/{chatID}/check", h.command(h.handleCheck))
	r.Post("/chats/{chatID}/check-in", h.command(h.handleCheckIn))
	r.Post("/chats/{chatID}/forget-me", h.command(h.handleForgetSelf))
	r.Post("/chats/{chatID}/forget", h.admin(h.handleForgetOthers))
	r.Post("/chats/{chatID}/remember", h.admin(h.handleRemember))
	r.Post("/chats/{chatID}/list", h.command(h.handleList))
	r.Post("/chats/{chatID}/tracking", h.admin(h.handleTracking))
	r.Post("/chats/{chatID}/membership", h.handleMembership)
}

type identityPayload struct {
	Username string `json:"username"`
	ID       *int64 `json:"id,omitempty"`
}

func (p identityPayload) identity() rosterModel.Identity {
	return rosterModel.Identity{Username: p.Username, ExternalID: p.ID}
}

// commandPayload 是聊天命令的请求体：调用者、命令参数与被回复消息的文本。
type commandPayload struct {
	Caller    identityPayload `json:"caller"`
	Args      []string        `json:"args"`
	ReplyText string          `json:"replyText"`
	Title     string          `json:"title"`
	Enabled   *bool           `json:"enabled"`
}

func (p commandPayload) mentions() []string {
	return mention.Extract(mention.Tokens(p.Args, p.ReplyText), true)
}

type commandHandler func(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload)

// admin 解析请求体，并在调用者不是管理员时返回 403。
func (h *Handler) admin(next commandHandler) http.HandlerFunc {
	return h.command(func(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
		if !h.isAdmin(payload.Caller.Username) {
			utils.RespondError(w, http.StatusForbidden, "admin only command")
			return
		}
		next(w, r, chatID, payload)
	})
}

func (h *Handler) command(next commandHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload commandPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		next(w, r, chatIDParam(r), payload)
	}
}

func chatIDParam(r *http.Request) rosterModel.ChatID {
	return rosterModel.ChatID(chi.URLParam(r, "chatID"))
}

// handleGet 返回已保存的名册
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	current, err := h.svc.Get(r.Context(), chatIDParam(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, current)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	result, err := h.svc.Initialize(r.Context(), chatID, payload.Caller.identity(), payload.mentions(), payload.Title)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	result, err := h.svc.CheckPresence(r.Context(), chatID, payload.Caller.identity(), payload.mentions())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	added, err := h.svc.CheckIn(r.Context(), chatID, payload.Caller.identity())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"added": added})
}

func (h *Handler) handleForgetSelf(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	removed, err := h.svc.ForgetSelf(r.Context(), chatID, payload.Caller.identity())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *Handler) handleForgetOthers(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	result, err := h.svc.ForgetOthers(r.Context(), chatID, payload.Caller.identity(), payload.mentions())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRemember(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	added, err := h.svc.RememberMany(r.Context(), chatID, payload.Caller.identity(), payload.mentions())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"added": added})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	names, err := h.svc.List(r.Context(), chatID, payload.Caller.identity())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"usernames": names})
}

func (h *Handler) handleTracking(w http.ResponseWriter, r *http.Request, chatID rosterModel.ChatID, payload commandPayload) {
	if payload.Enabled == nil {
		utils.RespondError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	changed, err := h.svc.SetTracking(r.Context(), chatID, payload.Caller.identity(), *payload.Enabled)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"enabled": *payload.Enabled, "changed": changed})
}

// handleMembership 处理成员加入/离开通知
func (h *Handler) handleMembership(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Joined []identityPayload `json:"joined"`
		Left   *identityPayload  `json:"left"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	joined := make([]rosterModel.Identity, 0, len(payload.Joined))
	for _, p := range payload.Joined {
		joined = append(joined, p.identity())
	}
	var left *rosterModel.Identity
	if payload.Left != nil {
		id := payload.Left.identity()
		left = &id
	}

	if err := h.svc.OnMembershipChanged(r.Context(), chatIDParam(r), joined, left); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rosterService.ErrNotInitialized):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rosterService.ErrInvalidChatID), errors.Is(err, rosterService.ErrNoUsername):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rosterService.ErrPersistence):
		utils.RespondError(w, http.StatusInternalServerError, "roster storage unavailable")
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
