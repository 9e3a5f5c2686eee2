package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JasonZhangHub/reflectionlab/internal/api"
	"github.com/JasonZhangHub/reflectionlab/internal/handler/views"
	appI18n "github.com/JasonZhangHub/reflectionlab/internal/i18n"
	"github.com/JasonZhangHub/reflectionlab/internal/model"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// csrfMiddleware issues a fresh token on reads and verifies the submitted
// form token against the cookie on writes. Tokens rotate on every request.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" || r.Method == "HEAD" {
			token, err := generateCSRFToken()
			if err != nil {
				slog.Error("failed to generate CSRF token", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			h.setCSRFCookie(w, token)
			ctx := model.ContextWithCSRFToken(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing")
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		formToken := r.FormValue("csrf_token")
		if formToken == "" {
			slog.Warn("CSRF form token missing")
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		if len(formToken) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(formToken), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch")
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}

		token, err := generateCSRFToken()
		if err != nil {
			slog.Error("failed to generate CSRF token", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.setCSRFCookie(w, token)

		ctx := model.ContextWithCSRFToken(r.Context(), token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) sessionToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// requireParticipant resolves the session cookie to a participant and puts
// it on the request context. Requests without a live session land back on
// the login page.
func (h *Handler) requireParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := h.sessionToken(r)
		if !ok {
			http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
			return
		}

		p, err := h.store.LoadParticipant(token)
		if err != nil {
			slog.Error("failed to load session", "error", err)
			http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
			return
		}
		if p == nil {
			http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
			return
		}

		ctx := model.ContextWithParticipant(r.Context(), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// afterLoginPath routes a participant to the step they still need.
func afterLoginPath(p *model.Participant) string {
	if p.Consented() {
		return "/survey"
	}
	return "/consent"
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// A returning participant with a live session skips the login form.
	if token, ok := h.sessionToken(r); ok {
		if p, err := h.store.LoadParticipant(token); err == nil && p != nil {
			http.Redirect(w, r, h.path(afterLoginPath(p)), http.StatusSeeOther)
			return
		}
	}

	mode := "login"
	if r.URL.Query().Get("mode") == "register" {
		mode = "register"
	}
	render(w, r, http.StatusOK, views.LoginPage(views.LoginData{
		Base: h.base(r, 0),
		Mode: mode,
	}))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, "login", h.api.Login)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, "register", h.api.Register)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, mode string, call func(context.Context, string, string) (*model.Participant, error)) {
	participantID := strings.TrimSpace(r.FormValue("participant_id"))
	passcode := r.FormValue("passcode")

	if participantID == "" || passcode == "" {
		h.renderLoginError(w, r, mode, participantID, http.StatusBadRequest, appI18n.T(r.Context(), "CredentialsRequired"))
		return
	}

	p, err := call(r.Context(), participantID, passcode)
	if err != nil {
		status := http.StatusBadGateway
		message := appI18n.T(r.Context(), "ApiUnavailable")
		var reqErr *api.RequestError
		if errors.As(err, &reqErr) && reqErr.Status >= 400 && reqErr.Status < 500 {
			status = reqErr.Status
			message = reqErr.Message
		}
		slog.Warn("authentication failed", "mode", mode, "participant_id", participantID, "error", err)
		h.renderLoginError(w, r, mode, participantID, status, message)
		return
	}

	token, err := h.store.CreateSession(p)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("participant signed in", "mode", mode, "participant_id", p.ParticipantID)
	http.Redirect(w, r, h.path(afterLoginPath(p)), http.StatusSeeOther)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token, ok := h.sessionToken(r); ok {
		h.flows.Remove(token)
		if err := h.store.ClearSession(token); err != nil {
			slog.Error("failed to clear session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) renderLoginError(w http.ResponseWriter, r *http.Request, mode, participantID string, status int, message string) {
	render(w, r, status, views.LoginPage(views.LoginData{
		Base:          h.base(r, 0),
		Mode:          mode,
		ParticipantID: participantID,
		Error:         message,
	}))
}
