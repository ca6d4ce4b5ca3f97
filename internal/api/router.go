// Package api exposes the Instagram webhook and the owner's admin endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/autoreset"
	"github.com/xaenox/prospect-bot/internal/classifier"
	"github.com/xaenox/prospect-bot/internal/inbox"
	"github.com/xaenox/prospect-bot/internal/prospect"
	"github.com/xaenox/prospect-bot/internal/storage"
	"github.com/xaenox/prospect-bot/internal/tasks"
	"github.com/xaenox/prospect-bot/internal/traits"
)

type Deps struct {
	Inbox      *inbox.Processor
	Traits     *traits.Service
	Keywords   storage.KeywordStore
	AutoReset  *autoreset.Service
	Analyzer   *prospect.Analyzer
	Messages   storage.MessageStore
	Tasks      *tasks.Service
	Classifier classifier.Classifier
	Logger     *zap.Logger

	// AdminToken guards the admin routes; they are not mounted when empty.
	AdminToken string
	// AppSecret enables X-Hub-Signature-256 verification of webhook bodies.
	AppSecret   string
	VerifyToken string
}

func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/webhook", handleVerifyWebhook(deps))
	r.Post("/webhook", handleReceiveWebhook(deps))

	if deps.AdminToken == "" {
		deps.Logger.Warn("No admin token configured, admin API disabled")
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.AdminToken))

		r.Post("/messages", handlePostMessage(deps))
		r.Post("/classify", handleClassify(deps))
		r.Get("/traits", handleGetTraits(deps))
		r.Put("/traits", handlePutTraits(deps))
		r.Get("/keywords", handleGetKeywords(deps))
		r.Put("/keywords", handlePutKeywords(deps))
		r.Get("/settings/reset-hours", handleGetResetHours(deps))
		r.Put("/settings/reset-hours", handlePutResetHours(deps))
		r.Post("/autoreset/run", handleRunAutoReset(deps))
		r.Get("/autoreset/stats", handleAutoResetStats(deps))
		r.Get("/prospects", handleListProspects(deps))
		r.Get("/prospects/{id}", handleGetProspect(deps))
		r.Get("/prospects/{id}/messages", handleListMessages(deps))
		r.Get("/tasks/pending", handlePendingTasks(deps))
		r.Post("/tasks/{id}/complete", handleCompleteTask(deps))
	})

	return r
}
