// Package handler serves the participant-facing pages: login and
// registration, the consent form, the paginated survey, and the scored
// summary. All study data lives behind the REST API; this layer keeps only
// the browser session and the in-progress answer state.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JasonZhangHub/reflectionlab/internal/handler/views"
	"github.com/JasonZhangHub/reflectionlab/internal/model"
	"github.com/JasonZhangHub/reflectionlab/internal/store"
	"github.com/JasonZhangHub/reflectionlab/internal/survey"
)

// StudyAPI is the slice of the study REST API the handlers depend on.
// *api.Client satisfies it; tests substitute a fake.
type StudyAPI interface {
	survey.API
	Register(ctx context.Context, participantID, passcode string) (*model.Participant, error)
	Login(ctx context.Context, participantID, passcode string) (*model.Participant, error)
	UpdateParticipant(ctx context.Context, id int64, upd model.ParticipantUpdate) (*model.Participant, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	api    StudyAPI
	flows  *survey.Registry
	config model.AppConfig
}

// New creates a new Handler.
func New(s *store.Store, api StudyAPI, cfg model.AppConfig) *Handler {
	return &Handler{store: s, api: api, flows: survey.NewRegistry(), config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.csrfMiddleware)

	r.Get("/", h.handleLoginPage)
	r.Get("/static/app.css", h.handleStylesheet)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/register", h.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(h.requireParticipant)
		r.Get("/consent", h.handleConsentPage)
		r.Post("/consent", h.handleConsent)
		r.Get("/survey", h.handleSurveyPage)
		r.Post("/survey", h.handleSurveyAction)
		r.Get("/complete", h.handleCompletePage)
		r.Post("/signout", h.handleSignOut)
	})
}

// BasePathMiddleware stores the configured base path in the request context
// so views can build absolute links under sub-path deployments.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) base(r *http.Request, step int) views.Base {
	return views.Base{
		CSRFToken:   model.CSRFTokenFromContext(r.Context()),
		BasePath:    h.config.BasePath,
		Participant: model.ParticipantFromContext(r.Context()),
		Step:        step,
	}
}

func (h *Handler) handleStylesheet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(views.Stylesheet)
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// surveyFlow returns the session's flow, creating and loading it on first
// visit. A flow stuck in loading or error state is reloaded so a page
// refresh retries the API.
func (h *Handler) surveyFlow(r *http.Request, p *model.Participant, token string) *survey.Flow {
	flow, _ := h.flows.GetOrCreate(token, func() *survey.Flow {
		return survey.NewFlow(h.api, p.ID, h.config.PageSize)
	})
	if v := flow.View(); v.State == survey.StateLoading || v.State == survey.StateError {
		flow.Load(r.Context())
	}
	return flow
}

func (h *Handler) handleSurveyPage(w http.ResponseWriter, r *http.Request) {
	p := model.ParticipantFromContext(r.Context())
	if !p.Consented() {
		http.Redirect(w, r, h.path("/consent"), http.StatusSeeOther)
		return
	}
	token, _ := h.sessionToken(r)
	v := h.surveyFlow(r, p, token).View()

	data := views.SurveyData{
		Base:  h.base(r, 2),
		Flow:  v,
		Scale: views.ScaleOptions(v.Questions),
	}
	if v.Completed != nil {
		data.Summary = views.SummaryRows(v.Completed.Scored.Summary)
	}
	render(w, r, http.StatusOK, views.SurveyPage(data))
}

// handleSurveyAction records the posted answers for the visible page and
// applies one navigation action, then redirects so a reload never resubmits.
func (h *Handler) handleSurveyAction(w http.ResponseWriter, r *http.Request) {
	p := model.ParticipantFromContext(r.Context())
	if !p.Consented() {
		http.Redirect(w, r, h.path("/consent"), http.StatusSeeOther)
		return
	}
	token, _ := h.sessionToken(r)
	flow := h.flows.Lookup(token)
	if flow == nil {
		http.Redirect(w, r, h.path("/survey"), http.StatusSeeOther)
		return
	}

	for _, item := range flow.View().PageItems {
		raw := r.FormValue("q" + strconv.FormatInt(item.ID, 10))
		if raw == "" {
			continue
		}
		if value, err := strconv.Atoi(raw); err == nil {
			flow.Answer(item.ID, value)
		}
	}

	switch r.FormValue("nav") {
	case "prev":
		flow.Prev()
	case "next":
		flow.Next()
	case "submit":
		if _, err := flow.Submit(r.Context()); err == nil {
			http.Redirect(w, r, h.path("/complete"), http.StatusSeeOther)
			return
		}
	}
	http.Redirect(w, r, h.path("/survey"), http.StatusSeeOther)
}

func (h *Handler) handleCompletePage(w http.ResponseWriter, r *http.Request) {
	token, _ := h.sessionToken(r)
	flow := h.flows.Lookup(token)
	if flow == nil {
		http.Redirect(w, r, h.path("/survey"), http.StatusSeeOther)
		return
	}
	v := flow.View()
	if v.Completed == nil {
		http.Redirect(w, r, h.path("/survey"), http.StatusSeeOther)
		return
	}
	data := views.CompleteData{
		Base:    h.base(r, 2),
		Summary: views.SummaryRows(v.Completed.Scored.Summary),
	}
	render(w, r, http.StatusOK, views.CompletePage(data))
}
