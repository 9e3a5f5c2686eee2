// Package agent drives an LLM persona through the full participant journey:
// account creation, consent, and a complete pass over the survey. It is used
// to collect baseline profiles for synthetic personas.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/JasonZhangHub/reflectionlab/internal/api"
	"github.com/JasonZhangHub/reflectionlab/internal/model"
	"github.com/JasonZhangHub/reflectionlab/internal/survey"
)

const neutralAnswer = 3

// studyAPI is the slice of the study client the agent needs.
type studyAPI interface {
	survey.API
	Register(ctx context.Context, participantID, passcode string) (*model.Participant, error)
	Login(ctx context.Context, participantID, passcode string) (*model.Participant, error)
	UpdateParticipant(ctx context.Context, id int64, upd model.ParticipantUpdate) (*model.Participant, error)
}

// Agent answers survey questions in character, guided by a persona prompt.
type Agent struct {
	llm     *openai.Client
	model   string
	persona string
	prompt  string
	study   studyAPI
}

// New creates an agent backed by an OpenAI-compatible endpoint.
func New(baseURL, apiKey, modelName, persona, systemPrompt string, study studyAPI) *Agent {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Agent{
		llm:     openai.NewClientWithConfig(config),
		model:   modelName,
		persona: persona,
		prompt:  systemPrompt,
		study:   study,
	}
}

// LoadPersonaPrompt reads a persona markdown file and extracts the fenced
// block under the "## System Prompt" heading. Files without the markers are
// used verbatim.
func LoadPersonaPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona prompt: %w", err)
	}
	content := string(data)

	const startMarker = "## System Prompt\n\n```\n"
	const endMarker = "\n```"

	start := strings.Index(content, startMarker)
	if start == -1 {
		slog.Warn("system prompt markers not found, using entire file", "path", path)
		return content, nil
	}
	start += len(startMarker)
	end := strings.Index(content[start:], endMarker)
	if end == -1 {
		return content[start:], nil
	}
	return content[start : start+end], nil
}

// Run walks the persona through the study: sign in (registering on first
// contact), record consent, then answer and submit the survey. If the
// persona already completed the survey its stored response is returned
// without a retake.
func (a *Agent) Run(ctx context.Context, participantID, passcode string) (*model.SubmittedResponse, error) {
	p, err := a.signIn(ctx, participantID, passcode)
	if err != nil {
		return nil, err
	}

	if !p.Consented() {
		consented := true
		alias := a.persona
		p, err = a.study.UpdateParticipant(ctx, p.ID, model.ParticipantUpdate{
			Alias:     &alias,
			Consented: &consented,
		})
		if err != nil {
			return nil, fmt.Errorf("record consent: %w", err)
		}
		slog.Info("consent recorded", "participant_id", p.ParticipantID)
	}

	existing, err := a.study.Responses(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing responses: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("survey already completed, skipping retake", "participant_id", p.ParticipantID)
		return &existing[0], nil
	}

	qs, err := a.study.Questions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	answers := make(map[int64]int, len(qs.Items))
	for _, q := range qs.Items {
		answer, err := a.answer(ctx, q, qs)
		if err != nil {
			return nil, fmt.Errorf("answer question %d: %w", q.ID, err)
		}
		answers[q.ID] = answer
		slog.Debug("question answered", "id", q.ID, "domain", q.Domain, "answer", answer)
	}
	slog.Info("survey answered", "persona", a.persona, "questions", len(answers))

	resp, err := a.study.SubmitResponses(ctx, p.ID, answers, survey.SurveyTypeBaseline)
	if err != nil {
		return nil, fmt.Errorf("submit responses: %w", err)
	}
	return resp, nil
}

// signIn registers the participant, falling back to login when the account
// already exists.
func (a *Agent) signIn(ctx context.Context, participantID, passcode string) (*model.Participant, error) {
	p, err := a.study.Register(ctx, participantID, passcode)
	if err == nil {
		slog.Info("registered participant", "participant_id", p.ParticipantID)
		return p, nil
	}

	var reqErr *api.RequestError
	if errors.As(err, &reqErr) && reqErr.Status == http.StatusConflict {
		p, err = a.study.Login(ctx, participantID, passcode)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		slog.Info("logged in existing participant", "participant_id", p.ParticipantID)
		return p, nil
	}
	return nil, fmt.Errorf("register: %w", err)
}

func (a *Agent) answer(ctx context.Context, q model.Question, qs *model.QuestionSet) (int, error) {
	resp, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: a.prompt},
			{Role: openai.ChatMessageRoleUser, Content: buildQuestionPrompt(q, qs)},
		},
		MaxTokens:   10,
		Temperature: 0.3,
	})
	if err != nil {
		return 0, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	answer := parseAnswer(raw)
	if answer == neutralAnswer && !strings.HasPrefix(strings.TrimSpace(raw), "3") {
		slog.Warn("unparseable LLM answer, defaulting to neutral", "id", q.ID, "raw", raw)
	}
	return answer, nil
}

// buildQuestionPrompt frames one inventory item as a survey question with
// the instrument's own scale labels.
func buildQuestionPrompt(q model.Question, qs *model.QuestionSet) string {
	var sb strings.Builder
	sb.WriteString("You are taking a personality survey. Answer the following question based on your personality and how you genuinely see yourself.\n\n")
	sb.WriteString(fmt.Sprintf("Question: %q\n\n", "I am someone who "+strings.ToLower(q.Text)))
	sb.WriteString("Response options:\n")
	for v := model.LikertMin; v <= model.LikertMax; v++ {
		label := qs.Scale[strconv.Itoa(v)]
		if label == "" {
			label = strconv.Itoa(v)
		}
		sb.WriteString(fmt.Sprintf("%d - %s\n", v, label))
	}
	sb.WriteString("\nBased on your personality, which response (1-5) best describes you?\n\n")
	sb.WriteString("IMPORTANT: Respond with ONLY a single number (1, 2, 3, 4, or 5). No explanation needed.")
	return sb.String()
}

// parseAnswer reads the first character of the reply as a Likert value.
// Anything outside 1..5 falls back to neutral.
func parseAnswer(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return neutralAnswer
	}
	v, err := strconv.Atoi(s[:1])
	if err != nil || v < model.LikertMin || v > model.LikertMax {
		return neutralAnswer
	}
	return v
}
