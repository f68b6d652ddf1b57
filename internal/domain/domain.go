package domain

// IntakeRequest is one submitted onboarding form. Status moves pending ->
// completed exactly once; rows are never deleted.
type IntakeRequest struct {
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

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Identity is an authentication principal keyed by email. Identities are
// pre-confirmed at creation; no confirmation mail is ever sent.
type Identity struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// Report is the workflow engine's output for one request. The payload is
// opaque to this service.
type Report struct {
	RequestID string         `json:"request_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
