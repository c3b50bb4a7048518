package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"reddit-lead-generator/internal/auth"
	"reddit-lead-generator/internal/billing"
	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/drip"
	"reddit-lead-generator/internal/generation"
	"reddit-lead-generator/internal/logger"
	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/store"
	"reddit-lead-generator/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// Store is the persistence used by the HTTP handlers.
type Store interface {
	ReleasedLeads(ctx context.Context, ownerID string, now time.Time) ([]models.Lead, error)
	UnreadReleasedCount(ctx context.Context, ownerID string, now time.Time) (int64, error)
	SetLeadRead(ctx context.Context, ownerID, leadID string, read bool) error
	DeleteLead(ctx context.Context, ownerID, leadID string) error

	CreateProduct(ctx context.Context, p store.CreateProductParams) (models.Product, error)
	ListProducts(ctx context.Context, ownerID string) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (models.Product, error)
	ProductSubreddits(ctx context.Context, productID string) ([]string, error)
	SetProductSubreddits(ctx context.Context, ownerID, productID string, subreddits []string) error

	GetOnboarding(ctx context.Context, userID string) (models.Onboarding, error)
	SetOnboardingCompleted(ctx context.Context, userID string, completed bool) (models.Onboarding, error)
}

// Generator runs lead generation for a product.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
}

// Billing exposes subscription state and webhook handling.
type Billing interface {
	Subscription(ctx context.Context, userID string) (models.Subscription, error)
	CheckAccess(ctx context.Context, userID, feature string) (billing.AccessResult, error)
	HandlePaddle(ctx context.Context, signature string, body []byte) (string, error)
	HandlePayTR(ctx context.Context, form url.Values) (string, error)
	Plans(ctx context.Context) ([]models.Plan, error)
	Usage(ctx context.Context, userID string) (map[string]int64, error)
	IncrementUsage(ctx context.Context, userID, feature string) (int64, error)
}

// Limiter throttles on-demand generation per user.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, float64, error)
}

// Server wires HTTP handlers for the lead API.
type Server struct {
	cfg      config.Config
	store    Store
	gen      Generator
	billing  Billing
	limiter  Limiter
	verifier *auth.Verifier
	validate *validator.Validate
	now      func() time.Time
}

// New constructs the API server. limiter may be nil.
func New(cfg config.Config, st Store, gen Generator, bill Billing, limiter Limiter, verifier *auth.Verifier) *Server {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		cfg:      cfg,
		store:    st,
		gen:      gen,
		billing:  bill,
		limiter:  limiter,
		verifier: verifier,
		validate: validate,
		now:      time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/billing/paddle/webhook", s.handlePaddleWebhook)
	r.Post("/billing/paytr/callback", s.handlePayTRCallback)
	r.Get("/subscription/plans", s.handlePlans)

	r.Group(func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Post("/leads/generate", s.handleGenerate)
		r.Get("/leads", s.handleListLeads)
		r.Get("/leads/unread-count", s.handleUnreadCount)
		r.Post("/leads/{id}/read", s.handleMarkRead(true))
		r.Post("/leads/{id}/unread", s.handleMarkRead(false))
		r.Delete("/leads/{id}", s.handleDeleteLead)

		r.Get("/products", s.handleListProducts)
		r.Post("/products", s.handleCreateProduct)
		r.Get("/products/{id}/subreddits", s.handleGetSubreddits)
		r.Put("/products/{id}/subreddits", s.handleSetSubreddits)

		r.Get("/onboarding/status", s.handleOnboardingStatus)
		r.Post("/onboarding/complete", s.handleOnboardingSet(true))
		r.Post("/onboarding/reset", s.handleOnboardingSet(false))

		r.Get("/subscription", s.handleSubscription)
		r.Post("/subscription/check-access", s.handleCheckAccess)
		r.Get("/subscription/usage", s.handleUsage)
		r.Post("/subscription/increment-usage", s.handleIncrementUsage)
	})
	return r
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = validationMessage(fe)
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, generation.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, generation.ErrNoSubreddits):
		return http.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, drip.ErrPersistence):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail logs err and writes the mapped status. Internal details stay in the log.
func fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := statusFor(err)
	log := logger.FromContext(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error(msg, "error", err)
		writeError(w, code, msg)
		return
	}
	log.Info(msg, "error", err, "status", code)
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
