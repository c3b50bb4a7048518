package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"reddit-lead-generator/internal/auth"
	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/store"
)

type createProductRequest struct {
	Name           string   `json:"name" validate:"required,max=200"`
	URL            string   `json:"url" validate:"omitempty,url,max=2048"`
	Description    string   `json:"description" validate:"max=5000"`
	TargetAudience string   `json:"target_audience" validate:"max=2000"`
	ProblemSolved  string   `json:"problem_solved" validate:"max=2000"`
	Subreddits     []string `json:"subreddits" validate:"max=25,dive,required,max=50"`
}

type subredditsRequest struct {
	Subreddits []string `json:"subreddits" validate:"required,min=1,max=25,dive,required,max=50"`
}

type checkAccessRequest struct {
	Feature string `json:"feature" validate:"required"`
}

type incrementUsageRequest struct {
	Feature string `json:"feature" validate:"required,max=64"`
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		fail(w, r, "failed to list products", err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)
	product, err := s.store.CreateProduct(ctx, store.CreateProductParams{
		OwnerID:        userID,
		Name:           req.Name,
		URL:            req.URL,
		Description:    req.Description,
		TargetAudience: req.TargetAudience,
		ProblemSolved:  req.ProblemSolved,
	})
	if err != nil {
		fail(w, r, "failed to create product", err)
		return
	}
	if len(req.Subreddits) > 0 {
		if err := s.store.SetProductSubreddits(ctx, userID, product.ID, req.Subreddits); err != nil {
			fail(w, r, "failed to save subreddits", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, product)
}

// ownedProduct loads the product in the URL and hides other users' products as not found.
func (s *Server) ownedProduct(w http.ResponseWriter, r *http.Request) (models.Product, bool) {
	product, err := s.store.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err == nil && product.OwnerID != auth.UserID(r.Context()) {
		err = store.ErrNotFound
	}
	if err != nil {
		fail(w, r, "failed to load product", err)
		return models.Product{}, false
	}
	return product, true
}

func (s *Server) handleGetSubreddits(w http.ResponseWriter, r *http.Request) {
	product, ok := s.ownedProduct(w, r)
	if !ok {
		return
	}
	subs, err := s.store.ProductSubreddits(r.Context(), product.ID)
	if err != nil {
		fail(w, r, "failed to list subreddits", err)
		return
	}
	if subs == nil {
		subs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": product.ID, "subreddits": subs})
}

func (s *Server) handleSetSubreddits(w http.ResponseWriter, r *http.Request) {
	var req subredditsRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	productID := chi.URLParam(r, "id")
	if err := s.store.SetProductSubreddits(ctx, auth.UserID(ctx), productID, req.Subreddits); err != nil {
		fail(w, r, "failed to save subreddits", err)
		return
	}
	subs, err := s.store.ProductSubreddits(ctx, productID)
	if err != nil {
		fail(w, r, "failed to list subreddits", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "subreddits": subs})
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.GetOnboarding(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		fail(w, r, "failed to load onboarding", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleOnboardingSet(completed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := s.store.SetOnboardingCompleted(r.Context(), auth.UserID(r.Context()), completed)
		if err != nil {
			fail(w, r, "failed to update onboarding", err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.Subscription(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		fail(w, r, "failed to load subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	var req checkAccessRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.billing.CheckAccess(r.Context(), auth.UserID(r.Context()), req.Feature)
	if err != nil {
		fail(w, r, "failed to check access", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.billing.Plans(r.Context())
	if err != nil {
		fail(w, r, "failed to fetch subscription plans", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.billing.Usage(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		fail(w, r, "failed to fetch usage", err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleIncrementUsage(w http.ResponseWriter, r *http.Request) {
	var req incrementUsageRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.billing.IncrementUsage(r.Context(), auth.UserID(r.Context()), req.Feature)
	if err != nil {
		fail(w, r, "failed to increment usage", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feature": req.Feature, "usage_count": n})
}
