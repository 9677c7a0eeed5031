package server

import (
	"proofday/internal/domain"
	"proofday/internal/quickcheck"
)

// Request payloads

type CreateGoalRequest struct {
	Address  string `json:"address"`
	Title    string `json:"title"`
	Scope    string `json:"scope"`
	Deadline string `json:"deadline"`
}

type GenerateQuestionsRequest struct {
	GoalID string `json:"goalId"`
}

type EvaluateRequest struct {
	GoalID string `json:"goalId"`
	A1     string `json:"a1"`
	A2     string `json:"a2"`
}

type AttestRequest struct {
	GoalID string `json:"goalId"`
}

type EnsureUserRequest struct {
	Address string  `json:"address"`
	Name    *string `json:"name,omitempty"`
}

// Response payloads

type GoalEnvelope struct {
	Goal domain.Goal `json:"goal"`
}

type GoalsEnvelope struct {
	Goals []domain.Goal `json:"goals"`
}

type UsersEnvelope struct {
	Users []domain.User `json:"users"`
}

type QuestionsEnvelope struct {
	Questions quickcheck.Questions `json:"questions"`
}

type EvaluateEnvelope struct {
	OK    bool        `json:"ok"`
	Goal  domain.Goal `json:"goal"`
	TxURL string      `json:"txUrl,omitempty"`
}

type EnsureUserEnvelope struct {
	User  domain.User `json:"user"`
	Token string      `json:"token,omitempty"`
}

type ProfileEnvelope struct {
	User  domain.User         `json:"user"`
	Goals []domain.Goal       `json:"goals"`
	Stats domain.ProfileStats `json:"stats"`
}

type FeedEnvelope struct {
	Goals []domain.GoalWithOwner `json:"goals"`
}
