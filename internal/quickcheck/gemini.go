package quickcheck

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"proofday/internal/config"
)

const defaultModel = "gemini-2.0-flash"

const generatorSystem = `You are "Proof-of-Day Quick-Check", a generator of TWO simple, concrete questions to verify someone likely completed a stated goal.
Return strict JSON: {"questions":["Q1","Q2"]} with no extra text. Keep questions short and check real understanding.`

const judgeSystem = `You are "Proof-of-Day Judge". Decide PASS or FAIL based on whether answers plausibly show the goal was done.
Extremely lenient. Only FAIL if clearly bogus or unrelated.
Return strict JSON: {"result":"PASS"} or {"result":"FAIL"} with optional {"reason":"..."} (short).`

// Service implements Generator and Judge against the Gemini API.
type Service struct {
	client *genai.Client
	model  string
}

// NewService builds the Gemini-backed quick-check service. The API key is
// required; the model falls back to a default when unset.
func NewService(ctx context.Context, cfg config.QuickcheckConfig) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("quickcheck api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Service{client: client, model: model}, nil
}

func (s *Service) Generate(ctx context.Context, title, scope string) (Questions, error) {
	payload, _ := json.Marshal(map[string]string{"goal": title, "scope": scope})
	raw, err := s.complete(ctx, generatorSystem, string(payload), 0.2)
	if err != nil {
		return Questions{}, fmt.Errorf("generate questions: %w", err)
	}
	var q Questions
	decodeJSON(raw, &q)
	return q, nil
}

func (s *Service) Judge(ctx context.Context, sub Submission) (Verdict, error) {
	payload, _ := json.Marshal(sub)
	raw, err := s.complete(ctx, judgeSystem, string(payload), 0)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge answers: %w", err)
	}
	var v Verdict
	decodeJSON(raw, &v)
	return v, nil
}

func (s *Service) complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	res, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr(temperature),
	})
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}
