package api

import (
	"errors"
	"io"
	"net/http"

	"reddit-lead-generator/internal/billing"
	"reddit-lead-generator/internal/logger"
)

func (s *Server) handlePaddleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	outcome, err := s.billing.HandlePaddle(r.Context(), r.Header.Get("Paddle-Signature"), body)
	if err != nil && !errors.Is(err, billing.ErrUnknownSubscription) {
		fail(w, r, "paddle webhook failed", err)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Warn("paddle event without subscription", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}

// handlePayTRCallback answers with a plain OK, which PayTR requires to stop retrying.
func (s *Server) handlePayTRCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	_, err := s.billing.HandlePayTR(r.Context(), r.PostForm)
	if err != nil && !errors.Is(err, billing.ErrUnknownSubscription) {
		code := statusFor(err)
		logger.FromContext(r.Context()).Warn("paytr callback failed", "error", err, "status", code)
		http.Error(w, "PAYTR notification failed", code)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}
