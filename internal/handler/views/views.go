// Package views renders the application's pages as templ components backed
// by embedded HTML templates. Handlers compose a data struct and call
// Render on the returned component.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JasonZhangHub/reflectionlab/internal/i18n"
	"github.com/JasonZhangHub/reflectionlab/internal/model"
	"github.com/JasonZhangHub/reflectionlab/internal/survey"
)

//go:embed templates/*.html
var templateFS embed.FS

// The func map registered here only satisfies the parser; the context-bound
// translation funcs are swapped in per render.
var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"t":  func(string) string { return "" },
	"td": func(string, ...any) string { return "" },
}).ParseFS(templateFS, "templates/*.html"))

// page wraps one parsed template as a templ component. Translation funcs are
// rebound on every render so they pick up the request's localizer.
func page(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t, err := pages.Clone()
		if err != nil {
			return fmt.Errorf("clone templates: %w", err)
		}
		t.Funcs(template.FuncMap{
			"t": func(id string) string { return i18n.T(ctx, id) },
			"td": func(id string, pairs ...any) string {
				data := make(map[string]any, len(pairs)/2)
				for i := 0; i+1 < len(pairs); i += 2 {
					if key, ok := pairs[i].(string); ok {
						data[key] = pairs[i+1]
					}
				}
				return i18n.Td(ctx, id, data)
			},
		})
		return t.ExecuteTemplate(w, name, data)
	})
}

// Base carries the fields every page needs.
type Base struct {
	CSRFToken   string
	BasePath    string
	Participant *model.Participant
	Step        int // progress step index; negative hides the steps
}

// LoginData renders the combined login/register page.
type LoginData struct {
	Base
	Mode          string // "login" or "register"
	ParticipantID string
	Error         string
}

// ConsentData renders the consent and demographics form.
type ConsentData struct {
	Base
	Alias            string
	Age              string
	Education        string
	Gender           string
	EducationOptions []string
	GenderOptions    []string
	Consented        bool
	Error            string
}

// ScaleOption is one Likert value with its label.
type ScaleOption struct {
	Value int
	Label string
}

// SurveyData renders the survey page in any flow state.
type SurveyData struct {
	Base
	Flow    survey.View
	Scale   []ScaleOption
	Summary []TraitRow
}

// CompleteData renders the post-submission summary page.
type CompleteData struct {
	Base
	Summary []TraitRow
}

// TraitRow is one scored trait prepared for display.
type TraitRow struct {
	Code  string
	Name  string
	Value string // formatted to two decimals
	Width int    // bar width percentage against the 5.0 maximum
}

func LoginPage(d LoginData) templ.Component       { return page("login.html", d) }
func ConsentPage(d ConsentData) templ.Component   { return page("consent.html", d) }
func SurveyPage(d SurveyData) templ.Component     { return page("survey.html", d) }
func CompletePage(d CompleteData) templ.Component { return page("complete.html", d) }

// ScaleOptions lists the 1..5 Likert values in order with their labels from
// the question set. A missing label falls back to the bare value.
func ScaleOptions(qs *model.QuestionSet) []ScaleOption {
	if qs == nil {
		return nil
	}
	opts := make([]ScaleOption, 0, model.LikertMax)
	for v := model.LikertMin; v <= model.LikertMax; v++ {
		label := qs.Scale[strconv.Itoa(v)]
		if label == "" {
			label = strconv.Itoa(v)
		}
		opts = append(opts, ScaleOption{Value: v, Label: label})
	}
	return opts
}

// SummaryRows turns a scored summary into display rows: the five canonical
// traits first in O,C,E,A,N order, then any unrecognized codes sorted.
// An empty summary yields no rows.
func SummaryRows(summary map[string]float64) []TraitRow {
	if len(summary) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(summary))
	var rows []TraitRow
	add := func(code string) {
		value, ok := summary[code]
		if !ok || seen[code] {
			return
		}
		seen[code] = true
		rows = append(rows, TraitRow{
			Code:  code,
			Name:  model.TraitName(code),
			Value: strconv.FormatFloat(value, 'f', 2, 64),
			Width: barWidth(value),
		})
	}

	for _, code := range model.TraitCodes {
		add(code)
	}
	var extra []string
	for code := range summary {
		if !seen[code] {
			extra = append(extra, code)
		}
	}
	sort.Strings(extra)
	for _, code := range extra {
		add(code)
	}
	return rows
}

// barWidth maps a 0..5 score to a 0..100 bar percentage, clamped.
func barWidth(value float64) int {
	w := int(value / 5 * 100)
	if w < 0 {
		return 0
	}
	if w > 100 {
		return 100
	}
	return w
}
