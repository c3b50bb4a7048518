package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddit-lead-generator/internal/auth"
	"reddit-lead-generator/internal/billing"
	"reddit-lead-generator/internal/config"
	"reddit-lead-generator/internal/generation"
	"reddit-lead-generator/internal/models"
	"reddit-lead-generator/internal/store"
)

const (
	jwtSecret = "super-secret-jwt-token-with-at-least-32-characters"
	ownerID   = "3f2a4c1e-1111-2222-3333-444455556666"
	productID = "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"
)

var testNow = time.Date(2025, 8, 21, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu         sync.Mutex
	leads      []models.Lead
	products   []models.Product
	subreddits map[string][]string
	onboarding map[string]models.Onboarding
	listErr    error
}

func newMemStore() *memStore {
	return &memStore{
		products:   []models.Product{{ID: productID, OwnerID: ownerID, Name: "Acme"}},
		subreddits: map[string][]string{productID: {"saas"}},
		onboarding: make(map[string]models.Onboarding),
	}
}

func (m *memStore) ReleasedLeads(_ context.Context, owner string, now time.Time) ([]models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Lead
	for _, l := range m.leads {
		if l.OwnerID == owner && l.Released(now) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) UnreadReleasedCount(_ context.Context, owner string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.leads {
		if l.OwnerID == owner && l.Released(now) && !l.Read {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetLeadRead(_ context.Context, owner, id string, read bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.leads {
		if m.leads[i].ID == id && m.leads[i].OwnerID == owner {
			m.leads[i].Read = read
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) DeleteLead(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.leads {
		if m.leads[i].ID == id && m.leads[i].OwnerID == owner {
			m.leads = append(m.leads[:i], m.leads[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) CreateProduct(_ context.Context, p store.CreateProductParams) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product := models.Product{ID: "new-product", OwnerID: p.OwnerID, Name: p.Name, URL: p.URL}
	m.products = append(m.products, product)
	return product, nil
}

func (m *memStore) ListProducts(_ context.Context, owner string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, p := range m.products {
		if p.OwnerID == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetProduct(_ context.Context, id string) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Product{}, store.ErrNotFound
}

func (m *memStore) ProductSubreddits(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subreddits[id], nil
}

func (m *memStore) SetProductSubreddits(_ context.Context, owner, id string, subs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ID == id && p.OwnerID == owner {
			m.subreddits[id] = subs
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) GetOnboarding(_ context.Context, user string) (models.Onboarding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.onboarding[user]
	if !ok {
		o = models.Onboarding{UserID: user}
		m.onboarding[user] = o
	}
	return o, nil
}

func (m *memStore) SetOnboardingCompleted(_ context.Context, user string, completed bool) (models.Onboarding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := models.Onboarding{UserID: user, Completed: completed}
	m.onboarding[user] = o
	return o, nil
}

type fakeGenerator struct {
	req generation.Request
	res generation.Result
	err error
}

func (f *fakeGenerator) Generate(_ context.Context, req generation.Request) (generation.Result, error) {
	f.req = req
	return f.res, f.err
}

type fakeBilling struct {
	paddleSig  string
	paddleErr  error
	paytrForm  url.Values
	paytrErr   error
	accessSeen string
	usage      map[string]int64
}

func (f *fakeBilling) Subscription(_ context.Context, user string) (models.Subscription, error) {
	return models.Subscription{UserID: user, Status: models.SubscriptionTrialing, PlanID: "pro"}, nil
}

func (f *fakeBilling) CheckAccess(_ context.Context, _ string, feature string) (billing.AccessResult, error) {
	f.accessSeen = feature
	return billing.AccessResult{HasAccess: feature == "leads", Status: models.SubscriptionTrialing}, nil
}

func (f *fakeBilling) HandlePaddle(_ context.Context, sig string, _ []byte) (string, error) {
	f.paddleSig = sig
	if f.paddleErr != nil {
		return billing.OutcomeRejected, f.paddleErr
	}
	return billing.OutcomeApplied, nil
}

func (f *fakeBilling) HandlePayTR(_ context.Context, form url.Values) (string, error) {
	f.paytrForm = form
	return billing.OutcomeApplied, f.paytrErr
}

func (f *fakeBilling) Plans(context.Context) ([]models.Plan, error) {
	return []models.Plan{{ID: "pro", Name: "Pro", Features: []string{"leads"}, IsActive: true}}, nil
}

func (f *fakeBilling) Usage(context.Context, string) (map[string]int64, error) {
	out := make(map[string]int64, len(f.usage))
	for k, v := range f.usage {
		out[k] = v
	}
	return out, nil
}

func (f *fakeBilling) IncrementUsage(_ context.Context, _ string, feature string) (int64, error) {
	if f.usage == nil {
		f.usage = make(map[string]int64)
	}
	f.usage[feature]++
	return f.usage[feature], nil
}

type denyLimiter struct{ allowed bool }

func (d denyLimiter) Allow(context.Context, string) (bool, float64, error) {
	return d.allowed, 0, nil
}

type harness struct {
	handler http.Handler
	store   *memStore
	gen     *fakeGenerator
	billing *fakeBilling
	server  *Server
}

func newHarness(t *testing.T, limiter Limiter) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), gen: &fakeGenerator{}, billing: &fakeBilling{}}
	cfg := config.Config{
		OnboardingImmediateLeads: 2,
		SweepImmediateLeads:      0,
		CORSAllowedOrigins:       []string{"http://localhost:3000"},
	}
	h.server = New(cfg, h.store, h.gen, h.billing, limiter, auth.NewVerifier(jwtSecret))
	h.server.now = func() time.Time { return testNow }
	h.handler = h.server.Router()
	return h
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, ownerID))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestHealthzAndMetricsArePublic(t *testing.T) {
	h := newHarness(t, nil)
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/leads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateOnboardingReleasesImmediateLeads(t *testing.T) {
	h := newHarness(t, nil)
	h.gen.res = generation.Result{
		RunID:     "run-1",
		Scheduled: 3,
		Leads: []models.Lead{
			{ID: "a", OwnerID: ownerID, ReleaseAt: testNow},
			{ID: "b", OwnerID: ownerID, ReleaseAt: testNow},
			{ID: "c", OwnerID: ownerID, ReleaseAt: testNow.Add(20 * time.Minute)},
		},
	}

	rec := h.do(t, http.MethodPost, "/leads/generate", `{"product_id":"`+productID+`","onboarding":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, h.gen.req.ImmediateCount)
	assert.Equal(t, generation.TriggerOnboarding, h.gen.req.Trigger)
	assert.Equal(t, ownerID, h.gen.req.OwnerID)

	var body struct {
		RunID        string        `json:"run_id"`
		Scheduled    int           `json:"scheduled"`
		VisibleLeads []models.Lead `json:"visible_leads"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 3, body.Scheduled)
	assert.Len(t, body.VisibleLeads, 2)
}

func TestGenerateManualUsesSweepCount(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/leads/generate", `{"product_id":"`+productID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, h.gen.req.ImmediateCount)
	assert.Equal(t, generation.TriggerManual, h.gen.req.Trigger)
}

func TestGenerateValidationAndErrors(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/leads/generate", `{"product_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var verr struct {
		Fields map[string]string `json:"fields"`
	}
	decodeBody(t, rec, &verr)
	assert.Contains(t, verr.Fields, "product_id")

	rec = h.do(t, http.MethodPost, "/leads/generate", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.gen.err = generation.ErrProductNotFound
	rec = h.do(t, http.MethodPost, "/leads/generate", `{"product_id":"`+productID+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.gen.err = generation.ErrNoSubreddits
	rec = h.do(t, http.MethodPost, "/leads/generate", `{"product_id":"`+productID+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	h.gen.err = errors.New("llm exploded")
	rec = h.do(t, http.MethodPost, "/leads/generate", `{"product_id":"`+productID+`"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "exploded")
}

func TestGenerateRateLimited(t *testing.T) {
	h := newHarness(t, denyLimiter{allowed: false})
	rec := h.do(t, http.MethodPost, "/leads/generate", `{"product_id":"`+productID+`"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, h.gen.req.OwnerID, "generation must not run")
}

func TestListLeadsOnlyReleased(t *testing.T) {
	h := newHarness(t, nil)
	h.store.leads = []models.Lead{
		{ID: "past", OwnerID: ownerID, ReleaseAt: testNow.Add(-time.Minute)},
		{ID: "future", OwnerID: ownerID, ReleaseAt: testNow.Add(time.Minute)},
		{ID: "other", OwnerID: "someone-else", ReleaseAt: testNow.Add(-time.Minute)},
	}

	rec := h.do(t, http.MethodGet, "/leads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Leads []models.Lead `json:"leads"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Leads, 1)
	assert.Equal(t, "past", body.Leads[0].ID)

	rec = h.do(t, http.MethodGet, "/leads/unread-count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":1}`, rec.Body.String())
}

func TestListLeadsEmptyIsArray(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/leads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"leads":[]}`, rec.Body.String())

	h.store.listErr = errors.New("db down")
	rec = h.do(t, http.MethodGet, "/leads", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMarkReadUnreadAndDelete(t *testing.T) {
	h := newHarness(t, nil)
	h.store.leads = []models.Lead{{ID: "l1", OwnerID: ownerID, ReleaseAt: testNow}}

	rec := h.do(t, http.MethodPost, "/leads/l1/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.store.leads[0].Read)

	rec = h.do(t, http.MethodPost, "/leads/l1/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.store.leads[0].Read)

	rec = h.do(t, http.MethodPost, "/leads/missing/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodDelete, "/leads/l1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, h.store.leads)

	rec = h.do(t, http.MethodDelete, "/leads/l1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProducts(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/products", `{"name":"Widget","url":"https://widget.example","subreddits":["r/startups"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"r/startups"}, h.store.subreddits["new-product"])

	rec = h.do(t, http.MethodPost, "/products", `{"url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Products []models.Product `json:"products"`
	}
	decodeBody(t, rec, &list)
	assert.Len(t, list.Products, 2)

	rec = h.do(t, http.MethodPut, "/products/"+productID+"/subreddits", `{"subreddits":["saas","indiehackers"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"saas", "indiehackers"}, h.store.subreddits[productID])

	rec = h.do(t, http.MethodPut, "/products/"+productID+"/subreddits", `{"subreddits":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.store.products = append(h.store.products, models.Product{ID: "foreign", OwnerID: "someone-else"})
	rec = h.do(t, http.MethodGet, "/products/foreign/subreddits", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = h.do(t, http.MethodPut, "/products/foreign/subreddits", `{"subreddits":["x"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOnboardingFlow(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/onboarding/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var o models.Onboarding
	decodeBody(t, rec, &o)
	assert.False(t, o.Completed)

	rec = h.do(t, http.MethodPost, "/onboarding/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.store.onboarding[ownerID].Completed)

	rec = h.do(t, http.MethodPost, "/onboarding/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.store.onboarding[ownerID].Completed)
}

func TestSubscriptionEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sub models.Subscription
	decodeBody(t, rec, &sub)
	assert.Equal(t, ownerID, sub.UserID)

	rec = h.do(t, http.MethodPost, "/subscription/check-access", `{"feature":"leads"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "leads", h.billing.accessSeen)
	var res billing.AccessResult
	decodeBody(t, rec, &res)
	assert.True(t, res.HasAccess)

	rec = h.do(t, http.MethodPost, "/subscription/check-access", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlansArePublic(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscription/plans", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Plans []models.Plan `json:"plans"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Plans, 1)
	assert.Equal(t, "pro", body.Plans[0].ID)
}

func TestUsageEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/subscription/increment-usage", `{"feature":"comments"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(t, http.MethodPost, "/subscription/increment-usage", `{"feature":"comments"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var inc struct {
		Feature    string `json:"feature"`
		UsageCount int64  `json:"usage_count"`
	}
	decodeBody(t, rec, &inc)
	assert.Equal(t, int64(2), inc.UsageCount)

	rec = h.do(t, http.MethodGet, "/subscription/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var usage map[string]int64
	decodeBody(t, rec, &usage)
	assert.Equal(t, map[string]int64{"comments": 2}, usage)

	rec = h.do(t, http.MethodPost, "/subscription/increment-usage", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaddleWebhook(t *testing.T) {
	h := newHarness(t, nil)
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/billing/paddle/webhook", strings.NewReader(`{}`))
		req.Header.Set("Paddle-Signature", "ts=1;h1=abc")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := post()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ts=1;h1=abc", h.billing.paddleSig)

	h.billing.paddleErr = billing.ErrInvalidSignature
	assert.Equal(t, http.StatusUnauthorized, post().Code)

	h.billing.paddleErr = billing.ErrUnknownSubscription
	assert.Equal(t, http.StatusOK, post().Code)

	h.billing.paddleErr = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, post().Code)
}

func TestPayTRCallback(t *testing.T) {
	h := newHarness(t, nil)
	form := url.Values{"merchant_oid": {"abc"}, "status": {"success"}, "total_amount": {"100"}, "hash": {"x"}}
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/billing/paytr/callback", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := post()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "abc", h.billing.paytrForm.Get("merchant_oid"))

	h.billing.paytrErr = billing.ErrInvalidSignature
	rec = post()
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEqual(t, "OK", rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/leads", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
