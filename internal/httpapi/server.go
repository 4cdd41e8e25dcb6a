// Package httpapi is the thin HTTP surface over the engine: request
// decoding/validation, tenant resolution, and status-code mapping. Real
// authentication, billing, and OpenAPI generation are external
// collaborators this package deliberately does not implement — tenant
// resolution here is a header-based stand-in a real deployment replaces.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/wayfarer/internal/config"
	"github.com/jmylchreest/wayfarer/internal/core"
	"github.com/jmylchreest/wayfarer/internal/engine"
	"github.com/jmylchreest/wayfarer/internal/errs"
	"github.com/jmylchreest/wayfarer/internal/webhook"
)

// Server wires the engine to chi routes.
type Server struct {
	engine   *engine.Engine
	cfg      *config.Config
	logger   *slog.Logger
	validate *validator.Validate
}

// New builds a Server over an already-composed Engine.
func New(eng *engine.Engine, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{engine: eng, cfg: cfg, logger: logger, validate: validator.New()}
}

// Routes builds the full chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.withTenant)

		r.Post("/browse", s.handleBrowse)
		r.Post("/fetch", s.handleFetch)
		r.Post("/batch", s.handleBatch)
		r.Get("/usage", s.handleUsage)

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", s.handleListWebhooks)
			r.Post("/", s.handleCreateWebhook)
			r.Get("/stats", s.handleWebhookStats)
			r.Get("/{id}", s.handleGetWebhook)
			r.Put("/{id}", s.handleUpdateWebhook)
			r.Delete("/{id}", s.handleDeleteWebhook)
			r.Post("/{id}/test", s.handleTestWebhook)
			r.Get("/{id}/history", s.handleWebhookHistory)
		})
	})

	return r
}

// requestLogger logs one structured line per request through the
// engine's slog logger rather than chi's own formatter, so access logs
// share the same redaction and handler configuration as the rest of the
// service.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(requestIDKey{}),
		)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

// tenantKey is the context key the withTenant middleware stores the
// resolved Tenant under.
type tenantKey struct{}

// withTenant resolves a Tenant from the X-Tenant-ID header. There is no
// signature or credential check here: a real deployment fronts this
// with its own auth layer before requests ever reach this router.
func (s *Server) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Tenant-ID")
		if id == "" {
			writeError(w, errs.InvalidRequest("X-Tenant-ID header is required", "tenant"))
			return
		}
		tenant := engine.Tenant{
			ID:           id,
			DailyLimit:   s.cfg.DefaultDailyLimit,
			MonthlyLimit: s.cfg.DefaultDailyLimit * 30,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
	})
}

func tenantFrom(r *http.Request) engine.Tenant {
	t, _ := r.Context().Value(tenantKey{}).(engine.Tenant)
	return t
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fetchRequest is the decoded, validated body shared by browse and fetch.
type fetchRequest struct {
	URL                  string `json:"url" validate:"required,url"`
	ContentType          string `json:"content_type"`
	FollowPagination     bool   `json:"follow_pagination"`
	MaxPages             int    `json:"max_pages" validate:"omitempty,min=1,max=100"`
	WaitForSelector      string `json:"wait_for_selector"`
	ScrollToLoad         bool   `json:"scroll_to_load"`
	DismissCookieBanner  bool   `json:"dismiss_cookie_banner"`
	SessionProfile       string `json:"session_profile"`
	MaxLatencyMs         int64  `json:"max_latency_ms" validate:"omitempty,min=0"`
	MaxCostTier          string `json:"max_cost_tier" validate:"omitempty,oneof=intelligence lightweight playwright"`
	FreshnessRequirement string `json:"freshness_requirement" validate:"omitempty,oneof=realtime cached any"`
	IncludeDecisionTrace bool   `json:"include_decision_trace"`
}

func (req fetchRequest) toOptions() core.FetchOptions {
	return core.FetchOptions{
		ContentType:          req.ContentType,
		FollowPagination:     req.FollowPagination,
		MaxPages:             req.MaxPages,
		WaitForSelector:      req.WaitForSelector,
		ScrollToLoad:         req.ScrollToLoad,
		DismissCookieBanner:  req.DismissCookieBanner,
		SessionProfile:       req.SessionProfile,
		MaxLatencyMs:         req.MaxLatencyMs,
		MaxCostTier:          core.Tier(req.MaxCostTier),
		FreshnessRequirement: core.FreshnessRequirement(req.FreshnessRequirement),
		IncludeDecisionTrace: req.IncludeDecisionTrace,
	}
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, errs.InvalidRequest("malformed request body: "+err.Error(), "body"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, errs.InvalidRequest(err.Error(), "validation"))
		return false
	}
	return true
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.engine.Browse(r.Context(), tenantFrom(r), req.URL, req.toOptions())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.engine.Fetch(r.Context(), tenantFrom(r), req.URL, req.toOptions())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	URLs                []string     `json:"urls" validate:"required,min=1,max=500,dive,url"`
	Options             fetchRequest `json:"options"`
	Concurrency         int          `json:"concurrency" validate:"omitempty,min=1,max=50"`
	StopOnError         bool         `json:"stop_on_error"`
	ContinueOnRateLimit bool         `json:"continue_on_rate_limit"`
	PerURLTimeoutMs     int64        `json:"per_url_timeout_ms" validate:"omitempty,min=0"`
	TotalTimeoutMs      int64        `json:"total_timeout_ms" validate:"omitempty,min=0"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.InvalidRequest("malformed request body: "+err.Error(), "body"))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, errs.InvalidRequest(err.Error(), "validation"))
		return
	}

	batchOpts := engine.BatchOptions{
		Concurrency:         req.Concurrency,
		StopOnError:         req.StopOnError,
		ContinueOnRateLimit: req.ContinueOnRateLimit,
		PerURLTimeout:       time.Duration(req.PerURLTimeoutMs) * time.Millisecond,
		TotalTimeout:        time.Duration(req.TotalTimeoutMs) * time.Millisecond,
	}
	results, err := s.engine.Batch(r.Context(), tenantFrom(r), req.URLs, req.Options.toOptions(), batchOpts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Usage(r.Context(), tenantFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var ep webhook.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
		writeError(w, errs.InvalidRequest("malformed request body: "+err.Error(), "body"))
		return
	}
	created, err := s.engine.CreateWebhook(tenantFrom(r).ID, ep)
	if err != nil {
		writeError(w, errs.InvalidRequest(err.Error(), "webhook"))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	ep, err := s.engine.GetWebhook(tenantFrom(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": s.engine.ListWebhooks(tenantFrom(r).ID)})
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var patch webhook.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, errs.InvalidRequest("malformed request body: "+err.Error(), "body"))
		return
	}
	updated, err := s.engine.UpdateWebhook(tenantFrom(r).ID, chi.URLParam(r, "id"), func(ep *webhook.Endpoint) {
		ep.URL = patch.URL
		ep.EnabledEvents = patch.EnabledEvents
		ep.EnabledCategories = patch.EnabledCategories
		ep.DomainFilter = patch.DomainFilter
		ep.MinSeverity = patch.MinSeverity
		ep.Enabled = patch.Enabled
		ep.Headers = patch.Headers
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteWebhook(tenantFrom(r).ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.engine.TestWebhook(r.Context(), tenantFrom(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delivery)
}

func (s *Server) handleWebhookHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	history, err := s.engine.WebhookHistory(tenantFrom(r).ID, chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": history})
}

func (s *Server) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	periodHours := 24
	if v := r.URL.Query().Get("period_hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			periodHours = n
		}
	}
	stats := s.engine.WebhookStats(tenantFrom(r).ID, periodHours)
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := errs.As(err)
	if !ok {
		apiErr = errs.New(errs.CodeUnknown, err.Error())
	}
	writeJSON(w, statusFor(apiErr.Code), map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
			"details": apiErr.Details,
		},
	})
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeInvalidRequest:
		return http.StatusBadRequest
	case errs.CodeUnauthorized:
		return http.StatusUnauthorized
	case errs.CodeLimitExceeded, errs.CodeRateLimited:
		return http.StatusTooManyRequests
	case errs.CodeCancelled:
		return 499
	case errs.CodeTimeout:
		return http.StatusGatewayTimeout
	case errs.CodeAuthRequired:
		return http.StatusUnauthorized
	case errs.CodeWrongEndpoint, errs.CodeValidationFail, errs.CodeContentTooShort, errs.CodeParseError:
		return http.StatusUnprocessableEntity
	case errs.CodeServerError, errs.CodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
