package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/JasonZhangHub/reflectionlab/internal/api"
	"github.com/JasonZhangHub/reflectionlab/internal/handler/views"
	appI18n "github.com/JasonZhangHub/reflectionlab/internal/i18n"
	"github.com/JasonZhangHub/reflectionlab/internal/model"
)

const (
	minAge = 18
	maxAge = 120
)

func (h *Handler) handleConsentPage(w http.ResponseWriter, r *http.Request) {
	p := model.ParticipantFromContext(r.Context())
	if p.Consented() {
		http.Redirect(w, r, h.path("/survey"), http.StatusSeeOther)
		return
	}

	data := views.ConsentData{
		Base:             h.base(r, 1),
		EducationOptions: model.EducationOptions,
		GenderOptions:    model.GenderOptions,
	}
	if p.Alias != nil {
		data.Alias = *p.Alias
	}
	if p.Age != nil {
		data.Age = strconv.Itoa(*p.Age)
	}
	if p.Education != nil {
		data.Education = *p.Education
	}
	if p.Gender != nil {
		data.Gender = *p.Gender
	}
	render(w, r, http.StatusOK, views.ConsentPage(data))
}

// handleConsent validates the demographics form and records consent through
// the study API. The consent checkbox gates everything: without it no API
// call is made and the form is shown again with the entered values kept.
func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	p := model.ParticipantFromContext(r.Context())
	if p.Consented() {
		http.Redirect(w, r, h.path("/survey"), http.StatusSeeOther)
		return
	}

	alias := strings.TrimSpace(r.FormValue("alias"))
	ageRaw := strings.TrimSpace(r.FormValue("age"))
	education := r.FormValue("education")
	gender := r.FormValue("gender")
	consented := r.FormValue("consented") != ""

	data := views.ConsentData{
		Base:             h.base(r, 1),
		Alias:            alias,
		Age:              ageRaw,
		Education:        education,
		Gender:           gender,
		EducationOptions: model.EducationOptions,
		GenderOptions:    model.GenderOptions,
		Consented:        consented,
	}

	fail := func(messageID string) {
		data.Error = appI18n.T(r.Context(), messageID)
		render(w, r, http.StatusBadRequest, views.ConsentPage(data))
	}

	if !consented {
		fail("ConsentRequired")
		return
	}
	if alias == "" {
		fail("AliasRequired")
		return
	}
	age, err := strconv.Atoi(ageRaw)
	if err != nil || age < minAge || age > maxAge {
		fail("AgeInvalid")
		return
	}
	if !model.ValidOption(model.EducationOptions, education) || !model.ValidOption(model.GenderOptions, gender) {
		fail("OptionInvalid")
		return
	}

	yes := true
	updated, err := h.api.UpdateParticipant(r.Context(), p.ID, model.ParticipantUpdate{
		Alias:     &alias,
		Age:       &age,
		Education: &education,
		Gender:    &gender,
		Consented: &yes,
	})
	if err != nil {
		slog.Error("failed to record consent", "participant_id", p.ParticipantID, "error", err)
		message := appI18n.T(r.Context(), "ApiUnavailable")
		var reqErr *api.RequestError
		if errors.As(err, &reqErr) && reqErr.Status >= 400 && reqErr.Status < 500 {
			message = reqErr.Message
		}
		data.Error = message
		render(w, r, http.StatusBadGateway, views.ConsentPage(data))
		return
	}

	if token, ok := h.sessionToken(r); ok {
		if err := h.store.SaveParticipant(token, updated); err != nil {
			slog.Error("failed to refresh session", "error", err)
		}
	}
	slog.Info("consent recorded", "participant_id", updated.ParticipantID)
	http.Redirect(w, r, h.path("/survey"), http.StatusSeeOther)
}
