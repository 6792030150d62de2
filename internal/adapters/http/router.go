package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/metrics"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

type Options struct {
	// Auth validates bearer tokens. When nil the actor is read from the
	// X-Actor-Id and X-Actor-Role headers, which only suits local runs.
	Auth    ports.AuthClient
	Limiter ports.RateLimiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
	// MaxUploadBytes bounds multipart consent uploads.
	MaxUploadBytes int64
}

type Handler struct {
	service   *application.Service
	auth      ports.AuthClient
	limiter   ports.RateLimiter
	logger    *slog.Logger
	ready     func(ctx context.Context) error
	maxUpload int64
}

func NewHandler(service *application.Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Handler{
		service:   service,
		auth:      opts.Auth,
		limiter:   opts.Limiter,
		logger:    logger.With("module", "http", "layer", "adapter"),
		ready:     opts.Ready,
		maxUpload: maxUpload,
	}
}

func NewRouter(service *application.Service, opts Options) http.Handler {
	handler := NewHandler(service, opts)
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, handler.recoverMiddleware, handler.loggingMiddleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.InstrumentHandler)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", handler.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(handler.authMiddleware, handler.rateLimitMiddleware)

		r.Route("/episodes", func(r chi.Router) {
			r.Post("/", handler.openEpisode)
			r.Get("/", handler.listEpisodes)
			r.Get("/{episodeID}", handler.getEpisode)
			r.Post("/{episodeID}/events", handler.applyEvent)
			r.Get("/{episodeID}/events", handler.getEventLog)
			r.Get("/{episodeID}/available-events", handler.availableEvents)
			r.Get("/{episodeID}/verify", handler.verifyEpisode)
		})

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", handler.createPatient)
			r.Get("/", handler.listPatients)
			r.Get("/{patientID}", handler.getPatient)
			r.Patch("/{patientID}", handler.updatePatient)
			r.Delete("/{patientID}", handler.archivePatient)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", handler.scheduleAppointment)
			r.Get("/", handler.listAppointments)
			r.Get("/{appointmentID}", handler.getAppointment)
			r.Post("/{appointmentID}/confirm", handler.confirmAppointment)
			r.Post("/{appointmentID}/cancel", handler.cancelAppointment)
		})

		r.Route("/services", func(r chi.Router) {
			r.Post("/", handler.createServiceItem)
			r.Get("/", handler.listServiceItems)
			r.Get("/{serviceID}", handler.getServiceItem)
			r.Patch("/{serviceID}", handler.updateServiceItem)
			r.Delete("/{serviceID}", handler.deactivateServiceItem)
		})

		r.Route("/evaluations", func(r chi.Router) {
			r.Post("/", handler.createEvaluation)
			r.Get("/", handler.listEvaluations)
			r.Get("/{evaluationID}", handler.getEvaluation)
			r.Post("/{evaluationID}/scores", handler.scoreEvaluation)
			r.Post("/{evaluationID}/sign-off", handler.signOffEvaluation)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/", handler.createInventoryItem)
			r.Get("/", handler.listInventory)
			r.Get("/low-stock", handler.lowStock)
			r.Post("/{itemID}/adjust", handler.adjustStock)
		})

		r.Post("/consent-documents", handler.uploadConsentDocument)
		r.Get("/consent-documents", handler.listConsentDocuments)

		r.Get("/reports/stage-funnel", handler.stageFunnel)
		r.Get("/reports/summary", handler.operationalSummary)
	})

	return r
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed",
				"operation", "readyz",
				"outcome", "failure",
				"error", err,
			)
			writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "not ready")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}
