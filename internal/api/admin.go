package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xaenox/prospect-bot/internal/classifier"
	"github.com/xaenox/prospect-bot/internal/models"
)

const (
	maxAdminBodySize    = 1 << 20 // 1MB
	defaultMessageLimit = 50
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for requests whose body may be empty, in
// which case v keeps its defaults.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// queryHours reads ?hours=, falling back to the configured threshold.
func queryHours(deps Deps, r *http.Request) (int, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return deps.AutoReset.ResetHours(r.Context())
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &models.ConfigError{Field: "hours", Reason: "must be an integer"}
	}
	return hours, nil
}

func handlePostMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg models.InboundMessage
		if !decodeBody(w, r, &msg) {
			return
		}
		if msg.Direction == "" {
			msg.Direction = models.DirectionReceived
		}

		res, err := deps.Inbox.Handle(r.Context(), msg)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

// handleClassify runs the classifier without persisting anything.
func handleClassify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if !decodeBody(w, r, &req) {
			return
		}

		enabled, err := deps.Traits.LoadEnabled(r.Context())
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Classifier.Classify(r.Context(), req.Text, enabled))
	}
}

type traitsBody struct {
	Traits []models.Trait `json:"traits"`
}

func handleGetTraits(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Traits.Load(r.Context())
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, traitsBody{Traits: list})
	}
}

func handlePutTraits(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req traitsBody
		if !decodeBody(w, r, &req) {
			return
		}

		saved, err := deps.Traits.Save(r.Context(), req.Traits)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, traitsBody{Traits: saved})
	}
}

type keywordsBody struct {
	Overrides map[string][]string `json:"overrides"`
	Defaults  models.KeywordSet   `json:"defaults,omitempty"`
}

func handleGetKeywords(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overrides, err := deps.Keywords.KeywordOverrides(r.Context())
		if err != nil {
			serviceError(w, deps.Logger, models.NewPersistenceError("load keywords", err))
			return
		}
		writeJSON(w, http.StatusOK, keywordsBody{Overrides: overrides, Defaults: classifier.DefaultKeywords()})
	}
}

func handlePutKeywords(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keywordsBody
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Overrides == nil {
			req.Overrides = map[string][]string{}
		}

		if err := deps.Keywords.SaveKeywordOverrides(r.Context(), req.Overrides); err != nil {
			serviceError(w, deps.Logger, models.NewPersistenceError("save keywords", err))
			return
		}
		writeJSON(w, http.StatusOK, keywordsBody{Overrides: req.Overrides})
	}
}

type resetHoursBody struct {
	Hours int `json:"hours"`
}

func handleGetResetHours(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, err := deps.AutoReset.ResetHours(r.Context())
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, resetHoursBody{Hours: hours})
	}
}

func handlePutResetHours(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetHoursBody
		if !decodeBody(w, r, &req) {
			return
		}

		if err := deps.AutoReset.UpdateResetHours(r.Context(), req.Hours); err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func handleRunAutoReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, err := queryHours(deps, r)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}

		n, err := deps.AutoReset.Sweep(r.Context(), hours)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"reset_count": n, "threshold_hours": hours})
	}
}

func handleAutoResetStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, err := queryHours(deps, r)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}

		stats, err := deps.AutoReset.Stats(r.Context(), hours)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleListProspects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minPoints := 0
		if raw := r.URL.Query().Get("min_points"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "min_points must be a non-negative integer")
				return
			}
			minPoints = n
		}

		enabled, err := deps.Traits.LoadEnabled(r.Context())
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		all, err := deps.Analyzer.List(r.Context(), enabled)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}

		out := make([]models.ProspectAnalysis, 0, len(all))
		for _, a := range all {
			if a.MatchPoints >= minPoints {
				out = append(out, a)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"prospects": out, "total_traits": len(enabled)})
	}
}

func handleGetProspect(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, err := deps.Traits.LoadEnabled(r.Context())
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}

		analysis, err := deps.Analyzer.Get(r.Context(), chi.URLParam(r, "id"), enabled)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, analysis)
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultMessageLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}

		msgs, err := deps.Messages.ListMessages(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			serviceError(w, deps.Logger, models.NewPersistenceError("list messages", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	}
}

func handlePendingTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := deps.Tasks.Pending(r.Context(), models.TaskPendingReply)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": pending})
	}
}

type completeTaskRequest struct {
	Direction models.Direction `json:"direction"`
}

func handleCompleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := completeTaskRequest{Direction: models.DirectionSent}
		if !decodeOptionalBody(w, r, &req) {
			return
		}

		task, err := deps.Tasks.Complete(r.Context(), chi.URLParam(r, "id"), models.TaskPendingReply, req.Direction)
		if err != nil {
			serviceError(w, deps.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}
