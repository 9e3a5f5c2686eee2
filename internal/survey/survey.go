// Package survey implements the BFI-2 questionnaire flow: pagination,
// answer tracking, completion detection, and submission.
package survey

import (
	"context"
	"math"

	"github.com/JasonZhangHub/reflectionlab/internal/model"
)

const (
	// DefaultPageSize is the number of questions shown per survey page.
	DefaultPageSize = 10

	// SurveyTypeBaseline labels the one survey instance this client submits.
	SurveyTypeBaseline = "pre"
)

// API is the slice of the study API the survey flow needs.
type API interface {
	Questions(ctx context.Context) (*model.QuestionSet, error)
	Responses(ctx context.Context, participantID int64) ([]model.SubmittedResponse, error)
	SubmitResponses(ctx context.Context, participantID int64, answers map[int64]int, surveyType string) (*model.SubmittedResponse, error)
}

// PageCount returns ceil(total/pageSize); zero questions mean zero pages.
func PageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// PageItems returns the questions on the given zero-based page.
func PageItems(items []model.Question, page, pageSize int) []model.Question {
	if pageSize <= 0 || page < 0 {
		return nil
	}
	start := page * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// PageComplete reports whether every item on the page has an answer.
func PageComplete(items []model.Question, answers map[int64]int) bool {
	for _, item := range items {
		if _, ok := answers[item.ID]; !ok {
			return false
		}
	}
	return true
}

// Progress returns the answered percentage, rounded. Zero questions yield
// zero rather than a division by zero.
func Progress(answered, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(answered) / float64(total)))
}
