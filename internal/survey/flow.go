package survey

import (
	"context"
	"errors"
	"sync"

	"github.com/JasonZhangHub/reflectionlab/internal/model"
)

// State is the lifecycle phase of one survey flow.
type State string

const (
	StateLoading   State = "loading"
	StateAnswering State = "answering"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Flow owns the answer map, page index, and loaded question set for one
// participant's pass through the survey. A flow is created per session,
// loaded once, and discarded after submission or sign-out. Closed flows
// ignore late updates so a torn-down flow never changes state.
type Flow struct {
	mu            sync.Mutex
	api           API
	participantID int64
	pageSize      int

	state      State
	questions  *model.QuestionSet
	itemIDs    map[int64]struct{}
	answers    map[int64]int
	page       int
	submitting bool
	errMsg     string
	completed  *model.SubmittedResponse
	closed     bool
}

// NewFlow creates a flow for the participant. Call Load before rendering.
func NewFlow(api API, participantID int64, pageSize int) *Flow {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Flow{
		api:           api,
		participantID: participantID,
		pageSize:      pageSize,
		state:         StateLoading,
		answers:       make(map[int64]int),
	}
}

// Load determines whether the participant already completed the survey and,
// only if not, fetches the question set. The prior-response check gates the
// question fetch: when a submitted response exists the question set is never
// requested and the flow goes straight to Completed.
func (f *Flow) Load(ctx context.Context) {
	existing, err := f.api.Responses(ctx, f.participantID)
	if err != nil {
		f.fail(err)
		return
	}
	if len(existing) > 0 {
		first := existing[0]
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closed {
			return
		}
		f.completed = &first
		f.state = StateCompleted
		return
	}

	qs, err := f.api.Questions(ctx)
	if err != nil {
		f.fail(err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.questions = qs
	f.itemIDs = make(map[int64]struct{}, len(qs.Items))
	for _, item := range qs.Items {
		f.itemIDs[item.ID] = struct{}{}
	}
	f.state = StateAnswering
}

func (f *Flow) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.state = StateError
	f.errMsg = err.Error()
}

// Answer records a Likert value for a question. Values outside 1..5 and
// unknown question IDs are ignored. Answers are never cleared once set.
func (f *Flow) Answer(questionID int64, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.state != StateAnswering {
		return
	}
	if value < model.LikertMin || value > model.LikertMax {
		return
	}
	if _, ok := f.itemIDs[questionID]; !ok {
		return
	}
	f.answers[questionID] = value
}

// Prev moves to the previous page, clamped at the first.
func (f *Flow) Prev() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.state != StateAnswering {
		return
	}
	if f.page > 0 {
		f.page--
	}
}

// Next advances to the next page, but only when the current page is
// complete. The index is clamped at the last page.
func (f *Flow) Next() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.state != StateAnswering || f.questions == nil {
		return
	}
	items := PageItems(f.questions.Items, f.page, f.pageSize)
	if !PageComplete(items, f.answers) {
		return
	}
	if last := PageCount(len(f.questions.Items), f.pageSize) - 1; f.page < last {
		f.page++
	}
}

var (
	errNotAnswering    = errors.New("survey is not ready to submit")
	errSubmitInFlight  = errors.New("a submission is already in progress")
	errIncompleteItems = errors.New("every question must be answered before submitting")
)

// Submit sends the full answer map to the API exactly once. On success the
// flow transitions to Completed holding the scored response and the answer
// map is discarded. On failure the flow stays in Answering on the same page
// with all answers intact and the error message surfaced for the view.
func (f *Flow) Submit(ctx context.Context) (*model.SubmittedResponse, error) {
	f.mu.Lock()
	if f.closed || f.state != StateAnswering || f.questions == nil {
		f.mu.Unlock()
		return nil, errNotAnswering
	}
	if f.submitting {
		f.mu.Unlock()
		return nil, errSubmitInFlight
	}
	if !f.canSubmitLocked() || len(f.answers) != len(f.questions.Items) {
		f.mu.Unlock()
		return nil, errIncompleteItems
	}
	f.submitting = true
	f.errMsg = ""
	answers := make(map[int64]int, len(f.answers))
	for id, v := range f.answers {
		answers[id] = v
	}
	pid := f.participantID
	f.mu.Unlock()

	resp, err := f.api.SubmitResponses(ctx, pid, answers, SurveyTypeBaseline)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		// The flow was torn down while the request was in flight; drop the
		// result instead of mutating a discarded flow.
		return nil, errNotAnswering
	}
	f.submitting = false
	if err != nil {
		f.errMsg = err.Error()
		return nil, err
	}
	f.completed = resp
	f.state = StateCompleted
	f.answers = nil
	return resp, nil
}

// canSubmitLocked mirrors the Submit button gate: question set loaded, on
// the last page, last page complete, no submission in flight.
func (f *Flow) canSubmitLocked() bool {
	if f.state != StateAnswering || f.questions == nil || f.submitting {
		return false
	}
	last := PageCount(len(f.questions.Items), f.pageSize) - 1
	if f.page != last {
		return false
	}
	items := PageItems(f.questions.Items, f.page, f.pageSize)
	return PageComplete(items, f.answers)
}

// Close tears the flow down. Any in-flight callback that resolves afterwards
// has its effects suppressed.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// View is an immutable snapshot of the flow for rendering.
type View struct {
	State         State
	Error         string
	Questions     *model.QuestionSet
	Page          int
	PageCount     int
	PageItems     []model.Question
	Answers       map[int64]int
	AnsweredCount int
	Progress      int
	PageComplete  bool
	LastPage      bool
	CanSubmit     bool
	Submitting    bool
	Completed     *model.SubmittedResponse
}

// View snapshots the current flow state. The answer map is copied so the
// snapshot stays stable while the flow keeps mutating.
func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := View{
		State:      f.state,
		Error:      f.errMsg,
		Questions:  f.questions,
		Page:       f.page,
		Submitting: f.submitting,
		Completed:  f.completed,
	}
	v.Answers = make(map[int64]int, len(f.answers))
	for id, val := range f.answers {
		v.Answers[id] = val
	}
	v.AnsweredCount = len(v.Answers)

	if f.questions != nil {
		total := len(f.questions.Items)
		v.PageCount = PageCount(total, f.pageSize)
		v.PageItems = PageItems(f.questions.Items, f.page, f.pageSize)
		v.Progress = Progress(v.AnsweredCount, total)
		v.PageComplete = PageComplete(v.PageItems, f.answers)
		v.LastPage = v.PageCount > 0 && f.page == v.PageCount-1
		v.CanSubmit = f.canSubmitLocked()
	}
	return v
}
