package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"readyline/internal/config"
	"readyline/internal/db"
	"readyline/internal/domain"
	"readyline/internal/engine"
	"readyline/internal/identity"
	"readyline/internal/migrate"
	"readyline/internal/repo"
)

type failingIdentity struct{}

func (failingIdentity) EnsureUser(ctx context.Context, email string) (domain.Identity, error) {
	return domain.Identity{}, errors.New("identity backend down")
}

func (failingIdentity) MagicLink(ctx context.Context, email, redirect string) (string, error) {
	return "", errors.New("identity backend down")
}

// hookRecorder captures webhook deliveries for assertions.
type hookRecorder struct {
	mu     sync.Mutex
	bodies [][]byte
	events []string
	status int
}

func (h *hookRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.bodies = append(h.bodies, body)
		h.events = append(h.events, r.Header.Get("X-Readyline-Event"))
		h.mu.Unlock()
		if h.status != 0 {
			w.WriteHeader(h.status)
		}
	})
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

func (h *hookRecorder) last(t *testing.T, out any) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.bodies) == 0 {
		t.Fatalf("no webhook deliveries recorded")
	}
	if err := json.Unmarshal(h.bodies[len(h.bodies)-1], out); err != nil {
		t.Fatalf("decode webhook body: %v", err)
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, ident engine.IdentityProvider) engine.Engine {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if ident == nil {
		ident = &identity.Service{Repo: repo.Repo{DB: conn}}
	}
	eng := engine.New(conn, cfg, ident)
	eng.Logger = log.New(io.Discard, "", 0)
	return eng
}

func validSubmit() engine.SubmitOptions {
	return engine.SubmitOptions{
		Email:       "owner@acme.test",
		Consent:     true,
		Industry:    "retail",
		CompanyName: "Acme Stores",
	}
}

func TestSubmitRejectsMissingConsent(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	opts := validSubmit()
	opts.Consent = false
	if _, err := eng.SubmitRequest(context.Background(), opts); err == nil {
		t.Fatalf("expected consent error")
	}
	opts = validSubmit()
	opts.Email = "  "
	if _, err := eng.SubmitRequest(context.Background(), opts); err == nil {
		t.Fatalf("expected email error")
	}
}

func TestSubmitRejectsMissingIdentifiers(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	opts := validSubmit()
	opts.CompanyName = ""
	opts.WebsiteURL = ""
	_, err := eng.SubmitRequest(context.Background(), opts)
	if err == nil {
		t.Fatalf("expected identifier error")
	}
}

func TestSubmitLinksIdentity(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	req, err := eng.SubmitRequest(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.UserID == nil {
		t.Fatalf("expected linked identity")
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	ident, err := eng.Repo.GetIdentity(context.Background(), *req.UserID)
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if ident.Email != "owner@acme.test" {
		t.Fatalf("unexpected identity email %s", ident.Email)
	}

	// same email on a second submission reuses the identity
	again, err := eng.SubmitRequest(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if again.UserID == nil || *again.UserID != *req.UserID {
		t.Fatalf("expected identity reuse")
	}
}

func TestSubmitSurvivesIdentityOutage(t *testing.T) {
	eng := newTestEngine(t, nil, failingIdentity{})
	req, err := eng.SubmitRequest(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit should succeed without identity: %v", err)
	}
	if req.UserID != nil {
		t.Fatalf("expected nil user id")
	}
	stored, err := eng.Repo.GetIntakeRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("row should exist: %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected pending row")
	}
}

func TestSubmitNotifiesWorkflow(t *testing.T) {
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec.handler())
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks.Workflow.URL = hook.URL
	eng := newTestEngine(t, cfg, nil)

	req, err := eng.SubmitRequest(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected one workflow notice, got %d", rec.count())
	}
	var notice struct {
		RequestID string  `json:"requestId"`
		Email     string  `json:"email"`
		UserID    *string `json:"userId"`
	}
	rec.last(t, &notice)
	if notice.RequestID != req.ID || notice.Email != req.Email {
		t.Fatalf("unexpected notice %+v", notice)
	}
	if notice.UserID == nil {
		t.Fatalf("expected userId in notice")
	}
}

func TestSubmitSurvivesWorkflowOutage(t *testing.T) {
	rec := &hookRecorder{status: http.StatusBadGateway}
	hook := httptest.NewServer(rec.handler())
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks.Workflow.URL = hook.URL
	eng := newTestEngine(t, cfg, nil)

	req, err := eng.SubmitRequest(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit should swallow webhook failure: %v", err)
	}
	if _, err := eng.Repo.GetIntakeRequest(context.Background(), req.ID); err != nil {
		t.Fatalf("row should exist: %v", err)
	}
}

func TestCompleteUnknownRequest(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	_, err := eng.CompleteRequest(context.Background(), "no-such-id")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := eng.CompleteRequest(context.Background(), "  "); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestCompleteDeliversMagicLink(t *testing.T) {
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec.handler())
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks.Delivery.URL = hook.URL
	cfg.Auth.RedirectURL = "https://app.acme.test/report"

	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := &identity.Service{
		Repo:      repo.Repo{DB: conn},
		Secret:    "test-secret",
		TTL:       time.Hour,
		VerifyURL: "https://api.acme.test/v0/auth/verify",
	}
	eng := engine.New(conn, cfg, svc)
	eng.Logger = log.New(io.Discard, "", 0)

	req, err := eng.SubmitRequest(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := eng.CompleteRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Request.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Request.Status)
	}
	if res.MagicLink == nil {
		t.Fatalf("expected magic link")
	}

	var notice struct {
		RequestID string  `json:"requestId"`
		UserID    *string `json:"userId"`
		MagicLink *string `json:"magicLink"`
	}
	rec.last(t, &notice)
	if notice.RequestID != req.ID || notice.MagicLink == nil {
		t.Fatalf("unexpected delivery notice %+v", notice)
	}
	if *notice.MagicLink != *res.MagicLink {
		t.Fatalf("delivery link mismatch")
	}

	stored, err := eng.Repo.GetIntakeRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}

	// repeating the completion is allowed and re-runs delivery
	res2, err := eng.CompleteRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !res2.AlreadyCompleted {
		t.Fatalf("expected already completed flag")
	}
	if rec.count() != 2 {
		t.Fatalf("expected delivery re-run, got %d notices", rec.count())
	}
	after, _ := eng.Repo.GetIntakeRequest(context.Background(), req.ID)
	if after.CompletedAt == nil || *after.CompletedAt != *stored.CompletedAt {
		t.Fatalf("completed_at should not move on repeat")
	}
}

func TestCompleteWithoutIdentitySkipsLink(t *testing.T) {
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec.handler())
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks.Delivery.URL = hook.URL
	eng := newTestEngine(t, cfg, failingIdentity{})

	req, err := eng.SubmitRequest(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := eng.CompleteRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.MagicLink != nil {
		t.Fatalf("expected no magic link without identity")
	}
	var notice struct {
		UserID    *string `json:"userId"`
		MagicLink *string `json:"magicLink"`
	}
	rec.last(t, &notice)
	if notice.UserID != nil || notice.MagicLink != nil {
		t.Fatalf("expected null userId and magicLink, got %+v", notice)
	}
}

func TestStoreReport(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	if _, err := eng.StoreReport(ctx, "no-such-id", map[string]any{"score": 1}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	req, err := eng.SubmitRequest(ctx, validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	firstStore := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return firstStore }
	rep, err := eng.StoreReport(ctx, req.ID, map[string]any{"score": 42.0, "summary": "solid"})
	if err != nil {
		t.Fatalf("store report: %v", err)
	}
	if rep.Payload["summary"] != "solid" {
		t.Fatalf("unexpected payload %+v", rep.Payload)
	}

	// storing again replaces payload and updated_at but keeps created_at
	eng.Now = func() time.Time { return firstStore.Add(time.Minute) }
	rep2, err := eng.StoreReport(ctx, req.ID, map[string]any{"score": 50.0})
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if rep2.CreatedAt != rep.CreatedAt {
		t.Fatalf("created_at moved from %s to %s", rep.CreatedAt, rep2.CreatedAt)
	}
	if rep2.UpdatedAt == rep.UpdatedAt {
		t.Fatalf("updated_at should move on upsert")
	}
	if _, ok := rep2.Payload["summary"]; ok {
		t.Fatalf("old payload should be replaced")
	}
}

func TestEventsAppendedOnPipeline(t *testing.T) {
	eng := newTestEngine(t, nil, nil)
	ctx := context.Background()

	req, err := eng.SubmitRequest(ctx, validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := eng.CompleteRequest(ctx, req.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := eng.StoreReport(ctx, req.ID, map[string]any{"ok": true}); err != nil {
		t.Fatalf("store report: %v", err)
	}

	events, err := eng.Repo.LatestEvents(ctx, 10, "", "", req.ID)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	seen := map[string]bool{}
	for _, evt := range events {
		seen[evt.Type] = true
	}
	for _, want := range []string{"request.submitted", "request.completed", "report.stored"} {
		if !seen[want] {
			t.Fatalf("missing event %s, got %v", want, seen)
		}
	}
}
