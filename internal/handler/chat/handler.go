// Package chat serves the streaming chat websocket.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bytebrain/docchat/internal/model/chat"
	"github.com/bytebrain/docchat/internal/observability/logging"
	"github.com/bytebrain/docchat/internal/observability/metrics"
)

const (
	writeTimeout = 10 * time.Second
	// idleTimeout closes a connection that sends no question for this long.
	idleTimeout = 5 * time.Minute

	internalErrorMessage = "Internal server error"
)

// Handler 聊天 WebSocket 处理器，每个连接可以连续提交多个问题。
type Handler struct {
	answerer Answerer
	path     string
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New 创建聊天处理器，path 是指标里的路径标签。
func New(answerer Answerer, path string, m *metrics.Metrics) *Handler {
	return &Handler{
		answerer: answerer,
		path:     path,
		metrics:  m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 path 以及带 API key 或项目 ID 后缀的同名路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(h.path, h.ServeHTTP)
	r.Get(h.path+"/{key}", h.ServeHTTP)
}

// ServeHTTP 升级连接并处理提交的问题。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := logging.WithComponent("chat")
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := logging.WithConnection("chat", uuid.NewString())
	logger.Debug().Str("path", h.path).Str("remote", r.RemoteAddr).Msg("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		var sub chat.Submission
		if err := json.Unmarshal(data, &sub); err != nil {
			logger.Error().Err(err).Msg("invalid submission")
			h.fail(conn, logger, internalErrorMessage)
			return
		}

		if err := h.answer(ctx, conn, logger, sub); err != nil {
			if errors.Is(err, errClientGone) {
				return
			}
			logger.Error().Err(err).Msg("answer failed")
			h.fail(conn, logger, internalErrorMessage)
			return
		}
	}
}

var errClientGone = errors.New("client went away")

func (h *Handler) answer(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger, sub chat.Submission) error {
	start := time.Now()
	if h.metrics != nil {
		h.metrics.RequestsTotal.Inc()
	}
	logger.Info().Str("question", sub.Question).Int("historyLen", len(sub.History)).Msg("received a new query")

	refs, err := h.answerer.Answer(ctx, sub, func(token string) error {
		if err := writeFrame(conn, chat.TokenEvent{Token: token}); err != nil {
			return errors.Join(errClientGone, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if refs == nil {
		refs = []chat.ReferenceItem{}
	}
	if err := writeFrame(conn, chat.TokenEvent{References: refs, Completed: true}); err != nil {
		return errors.Join(errClientGone, err)
	}

	if h.metrics != nil {
		h.metrics.ResponseLatency.WithLabelValues(h.path).Observe(time.Since(start).Seconds())
		h.metrics.ResponsesTotal.Inc()
	}
	return nil
}

// fail 发送错误帧，并以 1011 关闭连接。
func (h *Handler) fail(conn *websocket.Conn, logger zerolog.Logger, message string) {
	if h.metrics != nil {
		h.metrics.ChatErrors.WithLabelValues(h.path).Inc()
	}
	if err := writeFrame(conn, chat.ErrorFrame{Error: message}); err != nil {
		logger.Debug().Err(err).Msg("failed to send error frame")
		return
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, message)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, frame any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}
