package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bytebrain/docchat/internal/handler/chat"
	"github.com/bytebrain/docchat/internal/handler/feedback"
	middlewarePkg "github.com/bytebrain/docchat/internal/middleware"
	"github.com/bytebrain/docchat/internal/observability/logging"
	"github.com/bytebrain/docchat/internal/observability/metrics"
	feedbackService "github.com/bytebrain/docchat/internal/service/feedback"
	"github.com/bytebrain/docchat/pkg/utils"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	// Answerer backs /chat; nil answers every upgrade with 503.
	Answerer chat.Answerer
	// Dummy backs /dummy_chat.
	Dummy    chat.Answerer
	Feedback *feedbackService.Service
	Metrics  *metrics.Metrics
	// Gatherer is served on /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logging.WithComponent("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if deps.Answerer != nil {
		chat.New(deps.Answerer, "/chat", deps.Metrics).RegisterRoutes(r)
	} else {
		unavailable := func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondError(w, http.StatusServiceUnavailable, "chat model unavailable")
		}
		r.Get("/chat", unavailable)
		r.Get("/chat/{key}", unavailable)
	}

	if deps.Dummy != nil {
		chat.New(deps.Dummy, "/dummy_chat", deps.Metrics).RegisterRoutes(r)
	}

	if deps.Feedback != nil {
		feedback.New(deps.Feedback, deps.Metrics).RegisterRoutes(r)
	}

	return r
}
