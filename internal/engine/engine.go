package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"readyline/internal/config"
	"readyline/internal/domain"
	"readyline/internal/events"
	"readyline/internal/notify"
	"readyline/internal/repo"
)

// IdentityProvider is the subset of the identity service the pipelines need.
type IdentityProvider interface {
	EnsureUser(ctx context.Context, email string) (domain.Identity, error)
	MagicLink(ctx context.Context, email, redirect string) (string, error)
}

// Engine runs the submission and completion pipelines. One instance is built
// at startup and shared across requests.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Identity IdentityProvider
	Workflow *notify.Notifier
	Delivery *notify.Notifier
	Config   *config.Config
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, ident IdentityProvider) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Identity: ident,
		Workflow: notify.New(cfg.Webhooks.Workflow),
		Delivery: notify.New(cfg.Webhooks.Delivery),
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// SubmitOptions are the answers of one onboarding form.
type SubmitOptions struct {
	Email                string
	Consent              bool
	Industry             string
	WebsiteURL           string
	CompanyName          string
	CompanySize          *string
	AIAdoptionLevel      *string
	AITalent             *string
	BusinessGoals        []string
	ResponseSpeedToLeads *string
	MissedCalls          *string
	AdditionalContext    string
}

// SubmitRequest validates the payload, provisions an identity best-effort,
// persists the intake row, and notifies the workflow engine. Only the row
// insert is fatal: a captured lead beats a consistent one.
func (e Engine) SubmitRequest(ctx context.Context, opts SubmitOptions) (domain.IntakeRequest, error) {
	if strings.TrimSpace(opts.Email) == "" || !opts.Consent {
		return domain.IntakeRequest{}, errors.New("email and consent are required")
	}
	if strings.TrimSpace(opts.WebsiteURL) == "" && strings.TrimSpace(opts.CompanyName) == "" {
		return domain.IntakeRequest{}, errors.New("website url or company name is required")
	}

	var userID *string
	if e.Identity != nil {
		ident, err := e.Identity.EnsureUser(ctx, opts.Email)
		if err != nil {
			e.logger().Printf("submit: identity provisioning failed for %s: %v", opts.Email, err)
		} else {
			userID = &ident.ID
		}
	}

	req := domain.IntakeRequest{
		ID:                   uuid.NewString(),
		Email:                strings.TrimSpace(opts.Email),
		ConsentAccepted:      opts.Consent,
		Industry:             opts.Industry,
		WebsiteURL:           optional(opts.WebsiteURL),
		CompanyName:          optional(opts.CompanyName),
		CompanySize:          opts.CompanySize,
		AIAdoptionLevel:      opts.AIAdoptionLevel,
		AITalent:             opts.AITalent,
		BusinessGoals:        opts.BusinessGoals,
		ResponseSpeedToLeads: opts.ResponseSpeedToLeads,
		MissedCalls:          opts.MissedCalls,
		AdditionalContext:    opts.AdditionalContext,
		UserID:               userID,
		Status:               domain.StatusPending,
		CreatedAt:            e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.IntakeRequest{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIntakeRequestTx(ctx, tx, req); err != nil {
		return domain.IntakeRequest{}, fmt.Errorf("insert intake request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "request.submitted", "request", req.ID, "api", events.EventPayload{
		"email":   req.Email,
		"user_id": req.UserID,
	}); err != nil {
		return domain.IntakeRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.IntakeRequest{}, fmt.Errorf("insert intake request: %w", err)
	}

	if e.Workflow.Configured() {
		notice := notify.SubmissionNotice{RequestID: req.ID, Email: req.Email, UserID: req.UserID}
		if err := e.Workflow.Post(ctx, "request.submitted", notice); err != nil {
			e.logger().Printf("submit: workflow notification failed for %s: %v", req.ID, err)
		}
	}
	return req, nil
}

// CompletionResult reports what the completion pipeline managed to do.
type CompletionResult struct {
	Request          domain.IntakeRequest
	MagicLink        *string
	AlreadyCompleted bool
}

// CompleteRequest reacts to the workflow engine's completion notice. After
// the lookup succeeds every remaining step is best-effort: the respondent
// should still get their link even when bookkeeping glitches.
func (e Engine) CompleteRequest(ctx context.Context, requestID string) (CompletionResult, error) {
	if strings.TrimSpace(requestID) == "" {
		return CompletionResult{}, errors.New("requestId is required")
	}
	req, err := e.Repo.GetIntakeRequest(ctx, requestID)
	if err != nil {
		return CompletionResult{}, err
	}
	res := CompletionResult{Request: req, AlreadyCompleted: req.Status == domain.StatusCompleted}
	if res.AlreadyCompleted {
		e.logger().Printf("complete: request %s already completed, re-running delivery", req.ID)
	}

	if err := e.markCompleted(ctx, req.ID); err != nil {
		// A row stuck at pending despite delivery is an operator concern,
		// not a reason to withhold the respondent's link.
		e.logger().Printf("complete: status update failed for %s: %v", req.ID, err)
		e.appendDegradedEvent(ctx, req.ID, err)
	} else {
		req.Status = domain.StatusCompleted
		res.Request = req
	}

	if req.UserID != nil && e.Identity != nil {
		link, err := e.Identity.MagicLink(ctx, req.Email, e.Config.Auth.RedirectURL)
		if err != nil {
			e.logger().Printf("complete: magic link failed for %s: %v", req.ID, err)
		} else {
			res.MagicLink = &link
		}
	}

	if e.Delivery.Configured() {
		notice := notify.DeliveryNotice{
			RequestID: req.ID,
			UserID:    req.UserID,
			Email:     req.Email,
			MagicLink: res.MagicLink,
		}
		if err := e.Delivery.Post(ctx, "request.completed", notice); err != nil {
			e.logger().Printf("complete: delivery notification failed for %s: %v", req.ID, err)
		}
	}
	return res, nil
}

func (e Engine) markCompleted(ctx context.Context, requestID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.MarkIntakeCompletedTx(ctx, tx, requestID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "request.completed", "request", requestID, "workflow-engine", nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) appendDegradedEvent(ctx context.Context, requestID string, cause error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logger().Printf("complete: degraded event for %s not recorded: %v", requestID, err)
		return
	}
	defer tx.Rollback()
	appendErr := e.Events.Append(ctx, tx, "request.completion_degraded", "request", requestID, "workflow-engine", events.EventPayload{
		"error": cause.Error(),
	})
	if appendErr == nil {
		appendErr = tx.Commit()
	}
	if appendErr != nil {
		e.logger().Printf("complete: degraded event for %s not recorded: %v", requestID, appendErr)
	}
}

// StoreReport saves the workflow engine's generated report for a request.
func (e Engine) StoreReport(ctx context.Context, requestID string, payload map[string]any) (domain.Report, error) {
	if strings.TrimSpace(requestID) == "" {
		return domain.Report{}, errors.New("requestId is required")
	}
	if payload == nil {
		return domain.Report{}, errors.New("report payload is required")
	}
	if _, err := e.Repo.GetIntakeRequest(ctx, requestID); err != nil {
		return domain.Report{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	rep := domain.Report{RequestID: requestID, Payload: payload, CreatedAt: now, UpdatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertReportTx(ctx, tx, rep); err != nil {
		return domain.Report{}, fmt.Errorf("store report: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "report.stored", "report", requestID, "workflow-engine", nil); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, fmt.Errorf("store report: %w", err)
	}
	return e.Repo.GetReport(ctx, requestID)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
