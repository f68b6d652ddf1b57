package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"readyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const intakeColumns = `id,email,consent_accepted,COALESCE(industry,''),website_url,company_name,
company_size,ai_adoption_level,ai_talent,business_goals_json,response_speed_to_leads,
missed_calls,COALESCE(additional_context,''),user_id,status,created_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntakeRequest(row rowScanner) (domain.IntakeRequest, error) {
	var (
		req       domain.IntakeRequest
		consent   int
		goalsJSON string
	)
	err := row.Scan(&req.ID, &req.Email, &consent, &req.Industry, &req.WebsiteURL, &req.CompanyName,
		&req.CompanySize, &req.AIAdoptionLevel, &req.AITalent, &goalsJSON, &req.ResponseSpeedToLeads,
		&req.MissedCalls, &req.AdditionalContext, &req.UserID, &req.Status, &req.CreatedAt, &req.CompletedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.ConsentAccepted = consent != 0
	req.BusinessGoals = []string{}
	if goalsJSON != "" {
		if err := json.Unmarshal([]byte(goalsJSON), &req.BusinessGoals); err != nil {
			return req, fmt.Errorf("decode business_goals for %s: %w", req.ID, err)
		}
	}
	return req, nil
}

// InsertIntakeRequestTx writes a new intake row. The caller owns the
// transaction so the event append lands in the same commit.
func (r Repo) InsertIntakeRequestTx(ctx context.Context, tx *sql.Tx, req domain.IntakeRequest) error {
	goals := req.BusinessGoals
	if goals == nil {
		goals = []string{}
	}
	goalsJSON, err := json.Marshal(goals)
	if err != nil {
		return fmt.Errorf("encode business_goals: %w", err)
	}
	consent := 0
	if req.ConsentAccepted {
		consent = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO intake_requests(
id,email,consent_accepted,industry,website_url,company_name,company_size,ai_adoption_level,ai_talent,
business_goals_json,response_speed_to_leads,missed_calls,additional_context,user_id,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.Email, consent, nullable(req.Industry), req.WebsiteURL, req.CompanyName,
		req.CompanySize, req.AIAdoptionLevel, req.AITalent, string(goalsJSON),
		req.ResponseSpeedToLeads, req.MissedCalls, nullable(req.AdditionalContext), req.UserID,
		req.Status, req.CreatedAt)
	return err
}

func (r Repo) GetIntakeRequest(ctx context.Context, id string) (domain.IntakeRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+intakeColumns+` FROM intake_requests WHERE id=?`, id)
	return scanIntakeRequest(row)
}

type IntakeFilters struct {
	Status          string
	Email           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIntakeRequests(ctx context.Context, f IntakeFilters) ([]domain.IntakeRequest, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Email != "" {
		clauses = append(clauses, "email=?")
		args = append(args, f.Email)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + intakeColumns + ` FROM intake_requests WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IntakeRequest
	for rows.Next() {
		req, err := scanIntakeRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// MarkIntakeCompleted transitions a row to completed. Applying it to an
// already completed row succeeds and keeps the original completed_at.
func (r Repo) MarkIntakeCompletedTx(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE intake_requests SET status=?, completed_at=COALESCE(completed_at, ?) WHERE id=?`,
		domain.StatusCompleted, completedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureIdentity creates the identity for an email or returns the existing
// one. An already registered email is not an error.
func (r Repo) EnsureIdentity(ctx context.Context, id domain.Identity) (domain.Identity, error) {
	confirmed := 0
	if id.EmailConfirmed {
		confirmed = 1
	}
	if _, err := r.DB.ExecContext(ctx,
		`INSERT INTO identities(id,email,email_confirmed,created_at) VALUES (?,?,?,?)
ON CONFLICT(email) DO NOTHING`,
		id.ID, id.Email, confirmed, id.CreatedAt); err != nil {
		return domain.Identity{}, err
	}
	return r.GetIdentityByEmail(ctx, id.Email)
}

func (r Repo) GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error) {
	return scanIdentity(r.DB.QueryRowContext(ctx,
		`SELECT id,email,email_confirmed,created_at FROM identities WHERE email=?`, email))
}

func (r Repo) GetIdentity(ctx context.Context, id string) (domain.Identity, error) {
	return scanIdentity(r.DB.QueryRowContext(ctx,
		`SELECT id,email,email_confirmed,created_at FROM identities WHERE id=?`, id))
}

func scanIdentity(row *sql.Row) (domain.Identity, error) {
	var (
		ident     domain.Identity
		confirmed int
	)
	err := row.Scan(&ident.ID, &ident.Email, &confirmed, &ident.CreatedAt)
	if err == sql.ErrNoRows {
		return ident, ErrNotFound
	}
	ident.EmailConfirmed = confirmed != 0
	return ident, err
}

// UpsertReportTx stores the workflow engine's payload for a request,
// replacing any previous version.
func (r Repo) UpsertReportTx(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	payload, err := json.Marshal(rep.Payload)
	if err != nil {
		return fmt.Errorf("encode report payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reports(request_id,payload_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(request_id) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		rep.RequestID, string(payload), rep.CreatedAt, rep.UpdatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, requestID string) (domain.Report, error) {
	var (
		rep     domain.Report
		payload string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT request_id,payload_json,created_at,updated_at FROM reports WHERE request_id=?`,
		requestID).Scan(&rep.RequestID, &payload, &rep.CreatedAt, &rep.UpdatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal([]byte(payload), &rep.Payload); err != nil {
		return rep, fmt.Errorf("decode report payload for %s: %w", requestID, err)
	}
	return rep, nil
}

// LatestEvents returns the newest events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE %s ORDER BY id DESC LIMIT %d`, strings.Join(clauses, " AND "), limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var evt domain.Event
		if err := rows.Scan(&evt.ID, &evt.TS, &evt.Type, &evt.EntityKind, &evt.EntityID, &evt.ActorID, &evt.Payload); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
