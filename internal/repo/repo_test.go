package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"readyline/internal/db"
	"readyline/internal/domain"
	"readyline/internal/migrate"
	"readyline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
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
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx op: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func insertRequest(t *testing.T, r repo.Repo, email, status, createdAt string) string {
	t.Helper()
	id := uuid.NewString()
	company := "Acme"
	inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertIntakeRequestTx(context.Background(), tx, domain.IntakeRequest{
			ID:              id,
			Email:           email,
			ConsentAccepted: true,
			CompanyName:     &company,
			BusinessGoals:   []string{"more_leads"},
			Status:          status,
			CreatedAt:       createdAt,
		})
	})
	return id
}

func TestIntakeRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := insertRequest(t, r, "owner@acme.test", domain.StatusPending, "2026-01-01T10:00:00Z")

	req, err := r.GetIntakeRequest(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !req.ConsentAccepted || req.Status != domain.StatusPending {
		t.Fatalf("unexpected row %+v", req)
	}
	if len(req.BusinessGoals) != 1 || req.BusinessGoals[0] != "more_leads" {
		t.Fatalf("business goals lost: %+v", req.BusinessGoals)
	}
	if req.Industry != "" || req.AdditionalContext != "" {
		t.Fatalf("empty optionals should read back empty")
	}

	if _, err := r.GetIntakeRequest(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListIntakeRequestsCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		insertRequest(t, r, fmt.Sprintf("u%d@acme.test", i), domain.StatusPending,
			fmt.Sprintf("2026-01-01T10:0%d:00Z", i))
	}

	first, err := r.ListIntakeRequests(ctx, repo.IntakeFilters{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(first))
	}
	if first[0].CreatedAt < first[1].CreatedAt {
		t.Fatalf("expected newest first")
	}

	last := first[len(first)-1]
	rest, err := r.ListIntakeRequests(ctx, repo.IntakeFilters{
		Limit:           10,
		CursorCreatedAt: last.CreatedAt,
		CursorID:        last.ID,
	})
	if err != nil {
		t.Fatalf("list after cursor: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(rest))
	}
	for _, req := range rest {
		if req.ID == last.ID {
			t.Fatalf("cursor row repeated")
		}
	}

	byEmail, err := r.ListIntakeRequests(ctx, repo.IntakeFilters{Email: "u2@acme.test"})
	if err != nil || len(byEmail) != 1 {
		t.Fatalf("email filter: %v, %d rows", err, len(byEmail))
	}
}

func TestMarkIntakeCompleted(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := insertRequest(t, r, "owner@acme.test", domain.StatusPending, "2026-01-01T10:00:00Z")

	inTx(t, r, func(tx *sql.Tx) error {
		return r.MarkIntakeCompletedTx(ctx, tx, id, "2026-01-01T11:00:00Z")
	})
	req, err := r.GetIntakeRequest(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != domain.StatusCompleted || req.CompletedAt == nil || *req.CompletedAt != "2026-01-01T11:00:00Z" {
		t.Fatalf("unexpected row %+v", req)
	}

	// repeating keeps the first completion time
	inTx(t, r, func(tx *sql.Tx) error {
		return r.MarkIntakeCompletedTx(ctx, tx, id, "2026-01-01T12:00:00Z")
	})
	req, _ = r.GetIntakeRequest(ctx, id)
	if *req.CompletedAt != "2026-01-01T11:00:00Z" {
		t.Fatalf("completed_at moved to %s", *req.CompletedAt)
	}

	tx, _ := r.DB.BeginTx(ctx, nil)
	defer tx.Rollback()
	if err := r.MarkIntakeCompletedTx(ctx, tx, "missing", "2026-01-01T11:00:00Z"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnsureIdentityConflict(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	first, err := r.EnsureIdentity(ctx, domain.Identity{
		ID: "id-1", Email: "owner@acme.test", EmailConfirmed: true, CreatedAt: "2026-01-01T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := r.EnsureIdentity(ctx, domain.Identity{
		ID: "id-2", Email: "owner@acme.test", EmailConfirmed: true, CreatedAt: "2026-01-02T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("conflict should keep the first identity, got %s", second.ID)
	}
}

func TestAPIKeys(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	n, err := r.CountAPIKeys(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected empty key table: %v %d", err, n)
	}
	key := domain.APIKey{
		ID: "key-1", Name: "workflow-engine",
		KeyHash: repo.HashAPIKey("plaintext"), CreatedAt: "2026-01-01T10:00:00Z",
	}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("plaintext"))
	if err != nil || got.ID != "key-1" {
		t.Fatalf("lookup by hash: %v %+v", err, got)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for wrong key, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "key-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := r.CountAPIKeys(ctx); n != 0 {
		t.Fatalf("expected zero keys after delete, got %d", n)
	}
}
