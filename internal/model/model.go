package model

import (
	"context"
	"time"
)

// Participant represents a study participant as returned by the study API.
type Participant struct {
	ID              int64      `json:"id"`
	ParticipantID   string     `json:"participant_id"`
	Alias           *string    `json:"alias,omitempty"`
	Age             *int       `json:"age,omitempty"`
	Education       *string    `json:"education,omitempty"`
	Gender          *string    `json:"gender,omitempty"`
	ConsentSignedAt *time.Time `json:"consent_signed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Consented reports whether the participant has signed the consent form.
// Only consented participants may proceed to the survey.
func (p *Participant) Consented() bool {
	return p != nil && p.ConsentSignedAt != nil
}

// ParticipantUpdate is a partial update sent to PATCH /users/{id}.
// Nil fields are omitted from the request body.
type ParticipantUpdate struct {
	Alias     *string `json:"alias,omitempty"`
	Age       *int    `json:"age,omitempty"`
	Education *string `json:"education,omitempty"`
	Gender    *string `json:"gender,omitempty"`
	Consented *bool   `json:"consented,omitempty"`
}

// Question is a single BFI-2 inventory item. Reverse marks reverse-scored
// items; scoring itself happens on the server.
type Question struct {
	ID      int64  `json:"id"`
	Text    string `json:"text"`
	Domain  string `json:"domain"`
	Facet   string `json:"facet"`
	Reverse bool   `json:"reverse"`
}

// QuestionSet is the full instrument plus its presentation metadata.
// Scale maps each Likert value ("1".."5") to its descriptive label.
type QuestionSet struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Instructions string            `json:"instructions"`
	Scale        map[string]string `json:"scale"`
	Items        []Question        `json:"items"`
}

// LikertMin and LikertMax bound the answer scale used by the instrument.
const (
	LikertMin = 1
	LikertMax = 5
)

// SubmittedResponse is a server-confirmed record of one completed survey.
type SubmittedResponse struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"user_id"`
	SurveyType string        `json:"survey_type"`
	Responses  map[int64]int `json:"responses"`
	Scored     ScoredResult  `json:"scored"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ScoredResult is the per-trait scoring summary computed by the study API.
// This client never computes scores; it only displays them.
type ScoredResult struct {
	Summary map[string]float64     `json:"summary"`
	Domains map[string]DomainScore `json:"domains"`
}

// DomainScore describes one Big Five domain in a scored result.
type DomainScore struct {
	Name           string  `json:"name"`
	Code           string  `json:"code"`
	Score          float64 `json:"score"`
	Interpretation string  `json:"interpretation"`
}

// TraitCodes lists the five BFI-2 domain codes in canonical display order.
var TraitCodes = []string{"O", "C", "E", "A", "N"}

// TraitName maps a domain code to its human-readable trait name. Unrecognized
// codes fall back to the raw code so new server-side domains still render.
func TraitName(code string) string {
	switch code {
	case "O":
		return "Open-Mindedness"
	case "C":
		return "Conscientiousness"
	case "E":
		return "Extraversion"
	case "A":
		return "Agreeableness"
	case "N":
		return "Neuroticism"
	default:
		return code
	}
}

// EducationOptions are the selectable education levels on the consent form.
var EducationOptions = []string{
	"High school",
	"Some college",
	"Bachelor's degree",
	"Master's degree",
	"Doctorate",
	"Other",
}

// GenderOptions are the selectable gender identities on the consent form.
var GenderOptions = []string{
	"Woman",
	"Man",
	"Non-binary",
	"Prefer not to say",
	"Other",
}

// ValidOption reports whether value is one of the enumerated options.
func ValidOption(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	APIBase       string // base URL of the study REST API
	PageSize      int    // questions shown per survey page
	BasePath      string // URL prefix for sub-path deployments
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
}

type participantCtxKey struct{}

// ContextWithParticipant stores the authenticated participant in the request context.
func ContextWithParticipant(ctx context.Context, p *Participant) context.Context {
	return context.WithValue(ctx, participantCtxKey{}, p)
}

// ParticipantFromContext retrieves the authenticated participant from context, or nil.
func ParticipantFromContext(ctx context.Context) *Participant {
	p, _ := ctx.Value(participantCtxKey{}).(*Participant)
	return p
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
