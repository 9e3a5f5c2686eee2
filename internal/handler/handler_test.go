package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JasonZhangHub/reflectionlab/internal/api"
	appI18n "github.com/JasonZhangHub/reflectionlab/internal/i18n"
	"github.com/JasonZhangHub/reflectionlab/internal/model"
	"github.com/JasonZhangHub/reflectionlab/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeStudy is an in-memory StudyAPI for handler tests.
type fakeStudy struct {
	mu sync.Mutex

	loginErr    error
	registerErr error
	updateErr   error

	loginCalls    int
	registerCalls int
	updateCalls   int
	questionCalls int
	submitCalls   int

	lastUpdate    model.ParticipantUpdate
	questions     *model.QuestionSet
	existing      []model.SubmittedResponse
	lastSubmitted map[int64]int
}

func (f *fakeStudy) participant() *model.Participant {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.Participant{ID: 7, ParticipantID: "PM-007", CreatedAt: now, UpdatedAt: now}
}

func (f *fakeStudy) Login(ctx context.Context, participantID, passcode string) (*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.participant(), nil
}

func (f *fakeStudy) Register(ctx context.Context, participantID, passcode string) (*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.participant(), nil
}

func (f *fakeStudy) UpdateParticipant(ctx context.Context, id int64, upd model.ParticipantUpdate) (*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.lastUpdate = upd
	p := f.participant()
	p.Alias = upd.Alias
	p.Age = upd.Age
	p.Education = upd.Education
	p.Gender = upd.Gender
	if upd.Consented != nil && *upd.Consented {
		signed := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
		p.ConsentSignedAt = &signed
	}
	return p, nil
}

func (f *fakeStudy) Questions(ctx context.Context) (*model.QuestionSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questionCalls++
	return f.questions, nil
}

func (f *fakeStudy) Responses(ctx context.Context, participantID int64) ([]model.SubmittedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing, nil
}

func (f *fakeStudy) SubmitResponses(ctx context.Context, participantID int64, answers map[int64]int, surveyType string) (*model.SubmittedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastSubmitted = answers
	return &model.SubmittedResponse{
		ID:         1,
		UserID:     participantID,
		SurveyType: surveyType,
		Responses:  answers,
		Scored: model.ScoredResult{
			Summary: map[string]float64{"O": 3.5, "C": 3.0, "E": 2.5, "A": 4.0, "N": 2.0},
		},
	}, nil
}

func tenQuestions() *model.QuestionSet {
	qs := &model.QuestionSet{
		Title: "Big Five Inventory-2",
		Scale: map[string]string{"1": "Disagree strongly", "5": "Agree strongly"},
	}
	for i := 1; i <= 10; i++ {
		qs.Items = append(qs.Items, model.Question{ID: int64(i), Text: "Item", Domain: "E"})
	}
	return qs
}

type testApp struct {
	handler *Handler
	router  chi.Router
	study   *fakeStudy
	store   *store.Store
}

func newTestApp(t *testing.T, study *fakeStudy) *testApp {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, study, model.AppConfig{PageSize: 10})
	r := chi.NewRouter()
	h.Routes(r)
	return &testApp{handler: h, router: r, study: study, store: s}
}

// signIn creates a backed session and returns its cookie.
func (a *testApp) signIn(t *testing.T, p *model.Participant) *http.Cookie {
	t.Helper()
	token, err := a.store.CreateSession(p)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func consentedParticipant() *model.Participant {
	signed := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	alias := "Ada"
	p := &model.Participant{ID: 7, ParticipantID: "PM-007", Alias: &alias}
	p.ConsentSignedAt = &signed
	return p
}

// postForm sends a POST with a matching CSRF cookie and form token.
func (a *testApp) postForm(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	form.Set("csrf_token", "test-token")
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-token"})
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestLoginCreatesSession(t *testing.T) {
	app := newTestApp(t, &fakeStudy{})

	w := app.postForm("/auth/login", url.Values{
		"participant_id": {"  PM-007  "},
		"passcode":       {"secret"},
	})

	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "/consent" {
		t.Errorf("expected redirect to /consent, got %q", got)
	}

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			session = c
		}
	}
	if session == nil || session.Value == "" {
		t.Fatal("expected session cookie to be set")
	}
	p, err := app.store.LoadParticipant(session.Value)
	if err != nil || p == nil {
		t.Fatalf("expected participant behind session, got %v, %v", p, err)
	}
	if p.ParticipantID != "PM-007" {
		t.Errorf("expected PM-007, got %q", p.ParticipantID)
	}
}

func TestLoginFailurePassesThroughAPIError(t *testing.T) {
	study := &fakeStudy{loginErr: &api.RequestError{Status: http.StatusUnauthorized, Message: "Invalid participant ID or passcode"}}
	app := newTestApp(t, study)

	w := app.postForm("/auth/login", url.Values{
		"participant_id": {"PM-007"},
		"passcode":       {"wrong"},
	})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid participant ID or passcode") {
		t.Error("expected API error message in the page")
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	app := newTestApp(t, &fakeStudy{})

	w := app.postForm("/auth/login", url.Values{"participant_id": {"PM-007"}})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if app.study.loginCalls != 0 {
		t.Errorf("expected no login call, got %d", app.study.loginCalls)
	}
}

func TestConsentCheckboxGatesUpdate(t *testing.T) {
	app := newTestApp(t, &fakeStudy{})
	cookie := app.signIn(t, app.study.participant())

	w := app.postForm("/consent", url.Values{
		"alias":     {"Ada"},
		"age":       {"30"},
		"education": {"Master's degree"},
		"gender":    {"Woman"},
	}, cookie)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if app.study.updateCalls != 0 {
		t.Errorf("expected no update call without consent, got %d", app.study.updateCalls)
	}
	if !strings.Contains(w.Body.String(), "You must confirm consent") {
		t.Error("expected consent error message in the page")
	}
	// Entered values survive the round trip.
	if !strings.Contains(w.Body.String(), `value="Ada"`) {
		t.Error("expected alias to be kept in the form")
	}
}

func TestConsentRecordsDemographics(t *testing.T) {
	app := newTestApp(t, &fakeStudy{})
	cookie := app.signIn(t, app.study.participant())

	w := app.postForm("/consent", url.Values{
		"alias":     {"  Ada  "},
		"age":       {"30"},
		"education": {"Master's degree"},
		"gender":    {"Woman"},
		"consented": {"on"},
	}, cookie)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "/survey" {
		t.Errorf("expected redirect to /survey, got %q", got)
	}

	upd := app.study.lastUpdate
	if upd.Alias == nil || *upd.Alias != "Ada" {
		t.Errorf("expected trimmed alias Ada, got %v", upd.Alias)
	}
	if upd.Age == nil || *upd.Age != 30 {
		t.Errorf("expected age 30, got %v", upd.Age)
	}
	if upd.Consented == nil || !*upd.Consented {
		t.Error("expected consented true in update")
	}

	// The session now carries the consented participant.
	p, err := app.store.LoadParticipant(cookie.Value)
	if err != nil || p == nil {
		t.Fatalf("LoadParticipant: %v, %v", p, err)
	}
	if !p.Consented() {
		t.Error("expected session participant to be consented")
	}
}

func TestConsentValidation(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing alias", url.Values{
			"age": {"30"}, "education": {"Other"}, "gender": {"Other"}, "consented": {"on"},
		}},
		{"age below range", url.Values{
			"alias": {"Ada"}, "age": {"12"}, "education": {"Other"}, "gender": {"Other"}, "consented": {"on"},
		}},
		{"age not a number", url.Values{
			"alias": {"Ada"}, "age": {"soon"}, "education": {"Other"}, "gender": {"Other"}, "consented": {"on"},
		}},
		{"unknown education", url.Values{
			"alias": {"Ada"}, "age": {"30"}, "education": {"Hogwarts"}, "gender": {"Other"}, "consented": {"on"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, &fakeStudy{})
			cookie := app.signIn(t, app.study.participant())

			w := app.postForm("/consent", tt.form, cookie)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if app.study.updateCalls != 0 {
				t.Errorf("expected no update call, got %d", app.study.updateCalls)
			}
		})
	}
}

func TestSurveyRequiresConsent(t *testing.T) {
	app := newTestApp(t, &fakeStudy{questions: tenQuestions()})
	cookie := app.signIn(t, app.study.participant())

	w := app.get("/survey", cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/consent" {
		t.Errorf("expected redirect to /consent, got %q", got)
	}
	if app.study.questionCalls != 0 {
		t.Errorf("expected no question fetch before consent, got %d", app.study.questionCalls)
	}
}

func TestRequireParticipantRedirectsAnonymous(t *testing.T) {
	app := newTestApp(t, &fakeStudy{})

	w := app.get("/survey")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/" {
		t.Errorf("expected redirect to /, got %q", got)
	}
}

func TestCSRFTokenRequired(t *testing.T) {
	app := newTestApp(t, &fakeStudy{})

	form := url.Values{"participant_id": {"PM-007"}, "passcode": {"secret"}}
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", w.Code)
	}
	if app.study.loginCalls != 0 {
		t.Errorf("expected no login call, got %d", app.study.loginCalls)
	}
}

func TestSurveySubmitThroughHandlers(t *testing.T) {
	app := newTestApp(t, &fakeStudy{questions: tenQuestions()})
	cookie := app.signIn(t, consentedParticipant())

	// First visit loads the question set.
	w := app.get("/survey", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if app.study.questionCalls != 1 {
		t.Fatalf("expected one question fetch, got %d", app.study.questionCalls)
	}

	// Answer every question on the single page and submit.
	form := url.Values{"nav": {"submit"}}
	for i := 1; i <= 10; i++ {
		form.Set("q"+strconv.Itoa(i), "4")
	}
	w = app.postForm("/survey", form, cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/complete" {
		t.Errorf("expected redirect to /complete, got %q", got)
	}
	if app.study.submitCalls != 1 {
		t.Fatalf("expected one submission, got %d", app.study.submitCalls)
	}
	if len(app.study.lastSubmitted) != 10 {
		t.Errorf("expected 10 answers submitted, got %d", len(app.study.lastSubmitted))
	}

	// The summary page renders the scored traits.
	w = app.get("/complete", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Agreeableness") {
		t.Error("expected trait names in the summary")
	}
}

func TestSurveyIncompleteSubmitStaysOnSurvey(t *testing.T) {
	app := newTestApp(t, &fakeStudy{questions: tenQuestions()})
	cookie := app.signIn(t, consentedParticipant())

	app.get("/survey", cookie)

	form := url.Values{"nav": {"submit"}}
	for i := 1; i <= 9; i++ {
		form.Set("q"+strconv.Itoa(i), "3")
	}
	w := app.postForm("/survey", form, cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/survey" {
		t.Errorf("expected redirect back to /survey, got %q", got)
	}
	if app.study.submitCalls != 0 {
		t.Errorf("expected no submission with an incomplete page, got %d", app.study.submitCalls)
	}
}

func TestCompletedSurveyShowsSummaryOnRevisit(t *testing.T) {
	study := &fakeStudy{existing: []model.SubmittedResponse{{
		ID: 1, UserID: 7, SurveyType: "pre",
		Scored: model.ScoredResult{Summary: map[string]float64{"O": 4.2}},
	}}}
	app := newTestApp(t, study)
	cookie := app.signIn(t, consentedParticipant())

	w := app.get("/survey", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if app.study.questionCalls != 0 {
		t.Errorf("expected no question fetch with an existing response, got %d", app.study.questionCalls)
	}
	if !strings.Contains(w.Body.String(), "4.20") {
		t.Error("expected existing score in the page")
	}
}

func TestSignOutTearsDownSession(t *testing.T) {
	app := newTestApp(t, &fakeStudy{questions: tenQuestions()})
	cookie := app.signIn(t, consentedParticipant())

	app.get("/survey", cookie)
	if app.handler.flows.Lookup(cookie.Value) == nil {
		t.Fatal("expected a live flow before sign-out")
	}

	w := app.postForm("/signout", url.Values{}, cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}
	if app.handler.flows.Lookup(cookie.Value) != nil {
		t.Error("expected flow to be removed on sign-out")
	}
	p, err := app.store.LoadParticipant(cookie.Value)
	if err != nil {
		t.Fatalf("LoadParticipant: %v", err)
	}
	if p != nil {
		t.Error("expected session to be cleared on sign-out")
	}
}
