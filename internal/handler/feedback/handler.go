package feedback

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bytebrain/docchat/internal/model/chat"
	"github.com/bytebrain/docchat/internal/observability/logging"
	"github.com/bytebrain/docchat/internal/observability/metrics"
	feedbackService "github.com/bytebrain/docchat/internal/service/feedback"
	"github.com/bytebrain/docchat/pkg/utils"
)

// Handler 反馈接口的HTTP处理器
type Handler struct {
	svc     *feedbackService.Service
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New 创建反馈处理器
func New(svc *feedbackService.Service, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, metrics: m, log: logging.WithComponent("feedback")}
}

// RegisterRoutes 注册反馈路由；客户端使用 /feedback/，/feedbacks/ 为兼容旧路径。
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, path := range []string{"/feedback/", "/feedbacks/"} {
		r.Post(path, h.handleCreate)
		r.Get(path, h.handleList)
	}
}

// handleCreate 保存一条反馈
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload chat.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fb, err := h.svc.Save(r.Context(), payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, feedbackService.ErrEmptyHistory) {
			status = http.StatusBadRequest
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	if h.metrics != nil {
		h.metrics.FeedbackTotal.WithLabelValues(strconv.FormatBool(fb.IsUseful)).Inc()
	}
	h.log.Info().Str("id", fb.ID).Bool("useful", fb.IsUseful).Int("turns", len(fb.ChatHistory)).Msg("feedback received")

	utils.RespondMessage(w, http.StatusOK, "Feedback received")
}

// handleList 列出全部反馈
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.svc.List(r.Context()))
}
