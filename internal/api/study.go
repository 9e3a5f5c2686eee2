package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JasonZhangHub/reflectionlab/internal/model"
)

type credentials struct {
	ParticipantID string `json:"participant_id"`
	Passcode      string `json:"passcode"`
}

// Register creates a new participant account.
func (c *Client) Register(ctx context.Context, participantID, passcode string) (*model.Participant, error) {
	var p model.Participant
	err := c.do(ctx, http.MethodPost, "/auth/register", credentials{participantID, passcode}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Login authenticates an existing participant.
func (c *Client) Login(ctx context.Context, participantID, passcode string) (*model.Participant, error) {
	var p model.Participant
	err := c.do(ctx, http.MethodPost, "/auth/login", credentials{participantID, passcode}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateParticipant partially updates a participant's demographics and
// consent flag, returning the updated record.
func (c *Client) UpdateParticipant(ctx context.Context, id int64, upd model.ParticipantUpdate) (*model.Participant, error) {
	var p model.Participant
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/users/%d", id), upd, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Questions fetches the BFI-2 question set.
func (c *Client) Questions(ctx context.Context) (*model.QuestionSet, error) {
	var qs model.QuestionSet
	if err := c.do(ctx, http.MethodGet, "/bfi2/questions", nil, &qs); err != nil {
		return nil, err
	}
	return &qs, nil
}

// Responses lists a participant's submitted responses, newest first.
// The list is empty when the participant has not completed the survey.
func (c *Client) Responses(ctx context.Context, participantID int64) ([]model.SubmittedResponse, error) {
	var responses []model.SubmittedResponse
	path := fmt.Sprintf("/bfi2/users/%d/responses", participantID)
	if err := c.do(ctx, http.MethodGet, path, nil, &responses); err != nil {
		return nil, err
	}
	return responses, nil
}

type submitRequest struct {
	UserID     int64         `json:"user_id"`
	SurveyType string        `json:"survey_type"`
	Responses  map[int64]int `json:"responses"`
}

// SubmitResponses submits the full answer map for one survey instance and
// returns the server-scored record.
func (c *Client) SubmitResponses(ctx context.Context, participantID int64, answers map[int64]int, surveyType string) (*model.SubmittedResponse, error) {
	var resp model.SubmittedResponse
	body := submitRequest{UserID: participantID, SurveyType: surveyType, Responses: answers}
	if err := c.do(ctx, http.MethodPost, "/bfi2/responses", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
