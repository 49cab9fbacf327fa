package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iAnanich/tgbot-member-presence/internal/handler/events"
	rosterHandler "github.com/iAnanich/tgbot-member-presence/internal/handler/roster"
	"github.com/iAnanich/tgbot-member-presence/internal/metrics"
	middlewarePkg "github.com/iAnanich/tgbot-member-presence/internal/middleware"
	rosterService "github.com/iAnanich/tgbot-member-presence/internal/service/roster"
	"github.com/iAnanich/tgbot-member-presence/pkg/utils"
)

// Deps 是路由需要的依赖。Hub 为 nil 时事件订阅返回 503。
type Deps struct {
	Roster   *rosterService.Service
	Hub      *rosterService.Hub
	IsAdmin  rosterHandler.AdminFilter
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)
	r.Use(middlewarePkg.Metrics(deps.Metrics))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"policy": string(deps.Roster.Policy()),
		})
	})

	r.Route("/api", func(api chi.Router) {
		rosterHandler.New(deps.Roster, deps.IsAdmin).RegisterRoutes(api)
		events.NewWebSocketHandler(deps.Hub, deps.Logger).RegisterRoutes(api)
	})

	return r
}
