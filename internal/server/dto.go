package server

import (
	"readyline/internal/domain"
)

// Request payloads. The wire contract uses the wizard's camelCase names.

type SubmitAIReadinessRequest struct {
	Email             string   `json:"email"`
	Consent           bool     `json:"consent"`
	Industry          string   `json:"industry,omitempty"`
	WebsiteURL        string   `json:"websiteUrl,omitempty"`
	CompanyName       string   `json:"companyName,omitempty"`
	CompanySize       *string  `json:"companySize,omitempty" enum:"small,medium,large"`
	AIAdoption        *string  `json:"aiAdoption,omitempty" enum:"none,experimenting,few_places,mature"`
	AITalent          *string  `json:"aiTalent,omitempty" enum:"in_house,consultants,none"`
	BusinessGoals     []string `json:"businessGoals,omitempty"`
	ResponseSpeed     *string  `json:"responseSpeed,omitempty"`
	MissedCalls       *string  `json:"missedCalls,omitempty"`
	AdditionalContext string   `json:"additionalContext,omitempty"`
}

type CompletionRequest struct {
	RequestID string `json:"requestId"`
}

type StoreReportRequest struct {
	Payload map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

// Response payloads

type SubmitResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

type CompletionResponse struct {
	OK bool `json:"ok"`
}

type RequestResponse struct {
	ID                   string   `json:"id"`
	Email                string   `json:"email"`
	ConsentAccepted      bool     `json:"consent_accepted"`
	Industry             string   `json:"industry,omitempty"`
	WebsiteURL           *string  `json:"website_url,omitempty"`
	CompanyName          *string  `json:"company_name,omitempty"`
	CompanySize          *string  `json:"company_size,omitempty" enum:"small,medium,large"`
	AIAdoptionLevel      *string  `json:"ai_adoption_level,omitempty" enum:"none,experimenting,few_places,mature"`
	AITalent             *string  `json:"ai_talent,omitempty" enum:"in_house,consultants,none"`
	BusinessGoals        []string `json:"business_goals"`
	ResponseSpeedToLeads *string  `json:"response_speed_to_leads,omitempty"`
	MissedCalls          *string  `json:"missed_calls,omitempty"`
	AdditionalContext    string   `json:"additional_context,omitempty"`
	UserID               *string  `json:"user_id,omitempty"`
	Status               string   `json:"status" enum:"pending,completed"`
	CreatedAt            string   `json:"created_at" format:"date-time"`
	CompletedAt          *string  `json:"completed_at,omitempty" format:"date-time"`
}

type ReportResponse struct {
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type paginatedRequests struct {
	Items      []RequestResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func requestResponse(req domain.IntakeRequest) RequestResponse {
	goals := req.BusinessGoals
	if goals == nil {
		goals = []string{}
	}
	return RequestResponse{
		ID:                   req.ID,
		Email:                req.Email,
		ConsentAccepted:      req.ConsentAccepted,
		Industry:             req.Industry,
		WebsiteURL:           req.WebsiteURL,
		CompanyName:          req.CompanyName,
		CompanySize:          req.CompanySize,
		AIAdoptionLevel:      req.AIAdoptionLevel,
		AITalent:             req.AITalent,
		BusinessGoals:        goals,
		ResponseSpeedToLeads: req.ResponseSpeedToLeads,
		MissedCalls:          req.MissedCalls,
		AdditionalContext:    req.AdditionalContext,
		UserID:               req.UserID,
		Status:               req.Status,
		CreatedAt:            req.CreatedAt,
		CompletedAt:          req.CompletedAt,
	}
}

func mapRequests(items []domain.IntakeRequest) []RequestResponse {
	res := make([]RequestResponse, 0, len(items))
	for _, req := range items {
		res = append(res, requestResponse(req))
	}
	return res
}

func reportResponse(rep domain.Report) ReportResponse {
	return ReportResponse{
		RequestID: rep.RequestID,
		Payload:   rep.Payload,
		CreatedAt: rep.CreatedAt,
		UpdatedAt: rep.UpdatedAt,
	}
}
