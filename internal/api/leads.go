package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"reddit-lead-generator/internal/auth"
	"reddit-lead-generator/internal/drip"
	"reddit-lead-generator/internal/generation"
	"reddit-lead-generator/internal/logger"
	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/telemetry"
)

type generateRequest struct {
	ProductID  string `json:"product_id" validate:"required,uuid"`
	Onboarding bool   `json:"onboarding"`
}

type generateResponse struct {
	generation.Result
	// VisibleLeads are the leads released immediately by this run.
	VisibleLeads []models.Lead `json:"visible_leads"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	userID := auth.UserID(ctx)

	if s.limiter != nil {
		allowed, remaining, err := s.limiter.Allow(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Error("rate limit check", "error", err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	genReq := generation.Request{
		OwnerID:        userID,
		ProductID:      req.ProductID,
		ImmediateCount: s.cfg.SweepImmediateLeads,
		Trigger:        generation.TriggerManual,
	}
	if req.Onboarding {
		genReq.ImmediateCount = s.cfg.OnboardingImmediateLeads
		genReq.Trigger = generation.TriggerOnboarding
	}
	res, err := s.gen.Generate(ctx, genReq)
	if err != nil {
		fail(w, r, "lead generation failed", err)
		return
	}
	visible := drip.Released(res.Leads, s.now())
	if visible == nil {
		visible = []models.Lead{}
	}
	writeJSON(w, http.StatusOK, generateResponse{Result: res, VisibleLeads: visible})
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.store.ReleasedLeads(r.Context(), auth.UserID(r.Context()), s.now())
	if err != nil {
		fail(w, r, "failed to list leads", err)
		return
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.UnreadReleasedCount(r.Context(), auth.UserID(r.Context()), s.now())
	if err != nil {
		fail(w, r, "failed to count leads", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": n})
}

func (s *Server) handleMarkRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.store.SetLeadRead(r.Context(), auth.UserID(r.Context()), id, read); err != nil {
			fail(w, r, "failed to update lead", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "read": read})
	}
}

func (s *Server) handleDeleteLead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteLead(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		fail(w, r, "failed to delete lead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
