package httpapi

import (
	"context"
	"net/http"
	"time"

	"reward_verification_service/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 30 * time.Second

// Services are the application services the API exposes.
type Services struct {
	Cycles      *app.CycleService
	Preparation *app.PreparationService
	Exports     *app.ExportService
	Payments    *app.PaymentService
	Security    *app.SecurityService
	// Ping reports storage health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

type Server struct {
	cycles      *app.CycleService
	preparation *app.PreparationService
	exports     *app.ExportService
	payments    *app.PaymentService
	security    *app.SecurityService
	ping        func(ctx context.Context) error
	jwtSecret   string
	validate    *validator.Validate
	logger      *logrus.Entry
}

func NewServer(svc Services, jwtSecret string, logger *logrus.Entry) *Server {
	return &Server{
		cycles:      svc.Cycles,
		preparation: svc.Preparation,
		exports:     svc.Exports,
		payments:    svc.Payments,
		security:    svc.Security,
		ping:        svc.Ping,
		jwtSecret:   jwtSecret,
		validate:    newValidator(),
		logger:      logger.WithField("component", "http_api"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/downloads/{token}", s.handleDownload)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)

		r.Route("/verification", func(r chi.Router) {
			r.Post("/cycles", s.handleCreateCycle)
			r.Get("/cycles", s.handleListCycles)
			r.Route("/cycles/{cycleId}", func(r chi.Router) {
				r.Get("/", s.handleGetCycle)
				r.Put("/status", s.handleUpdateCycleStatus)
				r.Post("/prepare", s.handleStartPreparation)
				r.Get("/preparation", s.handlePreparationStatus)
				r.Post("/distribute", s.handleDistribute)
				r.Post("/process", s.handleBeginProcessing)
				r.Post("/invoices", s.handleGenerateInvoices)
				r.Get("/databases", s.handleListDatabases)
				r.Route("/databases/{databaseId}", func(r chi.Router) {
					r.Get("/download/{format}", s.handleDownloadURL)
					r.Post("/regenerate", s.handleRegenerate)
					r.Post("/submit", s.handleSubmitResults)
				})
			})
			r.Get("/invoices", s.handleListInvoices)
			r.Get("/invoices/{invoiceId}", s.handleGetInvoice)
			r.Put("/invoices/{invoiceId}/payment", s.handleUpdatePayment)
			r.Post("/invoices/{invoiceId}/resend", s.handleResendInvoice)
		})

		r.Route("/security", func(r chi.Router) {
			r.Get("/audit-logs", s.handleAuditLogs)
			r.Get("/intrusions", s.handleIntrusions)
			r.Get("/intrusions/summary", s.handleIntrusionSummary)
		})
	})
	return r
}

// logRequests logs one line per request with its id, status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
			"remote_ip":   clientIP(r),
		})
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case ww.Status() >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request served")
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.logger.WithError(err).Error("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// audit records an admin mutation. Failures are logged and never fail the request.
func (s *Server) audit(r *http.Request, action, resourceType, resourceID string, before, after any) {
	err := s.security.RecordAudit(r.Context(), app.AuditEntry{
		AdminID:      adminID(r.Context()),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       before,
		After:        after,
		IPAddress:    clientIP(r),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"resource_id": resourceID,
		}).Error("Failed to record audit log")
	}
}
