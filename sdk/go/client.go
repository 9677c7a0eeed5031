package proofdaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Proofday HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID        string  `json:"id"`
	Address   string  `json:"address"`
	Name      *string `json:"name,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// Goal represents the API goal model.
type Goal struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	Title            string  `json:"title"`
	Scope            string  `json:"scope"`
	Deadline         string  `json:"deadline"`
	Status           string  `json:"status"`
	QuestionsJSON    *string `json:"questions_json,omitempty"`
	AnswersJSON      *string `json:"answers_json,omitempty"`
	JudgeResult      *string `json:"judge_result,omitempty"`
	AttestationUID   *string `json:"attestation_uid,omitempty"`
	AttestationTxURL *string `json:"attestation_tx_url,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// FeedGoal is a goal annotated with its owner for the public feed.
type FeedGoal struct {
	Goal
	OwnerAddress string  `json:"owner_address"`
	OwnerName    *string `json:"owner_name,omitempty"`
}

// ProfileStats summarizes a user's pass record.
type ProfileStats struct {
	Total         int `json:"total"`
	Passed        int `json:"passed"`
	PassPct       int `json:"pass_pct"`
	MaxStreak     int `json:"max_streak"`
	CurrentStreak int `json:"current_streak"`
}

// Profile is a public user profile with goals and stats.
type Profile struct {
	User  User         `json:"user"`
	Goals []Goal       `json:"goals"`
	Stats ProfileStats `json:"stats"`
}

// EvaluateResult is the outcome of a quick-check evaluation.
type EvaluateResult struct {
	OK    bool   `json:"ok"`
	Goal  Goal   `json:"goal"`
	TxURL string `json:"txUrl,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// EnsureUser resolves or creates the user for an address. When the server
// runs with session auth enabled the returned token should be set as
// BearerToken for subsequent calls.
func (c *Client) EnsureUser(ctx context.Context, address string, name string) (User, string, error) {
	body := map[string]any{"address": address}
	if name != "" {
		body["name"] = name
	}
	var resp struct {
		User  User   `json:"user"`
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "user/ensure", body, &resp)
	return resp.User, resp.Token, err
}

// CreateGoal declares a goal with a deadline and scope.
func (c *Client) CreateGoal(ctx context.Context, address, title, scope, deadline string) (Goal, error) {
	body := map[string]any{
		"address":  address,
		"title":    title,
		"scope":    scope,
		"deadline": deadline,
	}
	var resp struct {
		Goal Goal `json:"goal"`
	}
	err := c.do(ctx, http.MethodPost, "goal", body, &resp)
	return resp.Goal, err
}

// Goals lists an address's goals, newest first.
func (c *Client) Goals(ctx context.Context, address string) ([]Goal, error) {
	var resp struct {
		Goals []Goal `json:"goals"`
	}
	endpoint := fmt.Sprintf("goal?address=%s", url.QueryEscape(address))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Goals, err
}

// Discover searches users by address or name fragment.
func (c *Client) Discover(ctx context.Context, term string) ([]User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	endpoint := fmt.Sprintf("goal?discover=%s", url.QueryEscape(term))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Users, err
}

// GenerateQuestions asks the service to produce the two quick-check
// questions for a goal.
func (c *Client) GenerateQuestions(ctx context.Context, goalID string) ([]string, error) {
	body := map[string]any{"goalId": goalID}
	var resp struct {
		Questions struct {
			Questions []string `json:"questions"`
		} `json:"questions"`
	}
	err := c.do(ctx, http.MethodPost, "goal/questions", body, &resp)
	return resp.Questions.Questions, err
}

// Evaluate submits the two answers and settles the goal PASS or FAIL.
func (c *Client) Evaluate(ctx context.Context, goalID, a1, a2 string) (EvaluateResult, error) {
	body := map[string]any{"goalId": goalID, "a1": a1, "a2": a2}
	var resp EvaluateResult
	err := c.do(ctx, http.MethodPost, "goal/evaluate", body, &resp)
	return resp, err
}

// Attest retries the attestation write for a PASSED goal.
func (c *Client) Attest(ctx context.Context, goalID string) (Goal, error) {
	body := map[string]any{"goalId": goalID}
	var resp struct {
		Goal Goal `json:"goal"`
	}
	err := c.do(ctx, http.MethodPost, "goal/attest", body, &resp)
	return resp.Goal, err
}

// Profile fetches the public profile for an address.
func (c *Client) Profile(ctx context.Context, address string) (Profile, error) {
	var resp Profile
	endpoint := fmt.Sprintf("profile/%s", url.PathEscape(address))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Feed returns the most recent goals across all users.
func (c *Client) Feed(ctx context.Context) ([]FeedGoal, error) {
	var resp struct {
		Goals []FeedGoal `json:"goals"`
	}
	err := c.do(ctx, http.MethodGet, "feed", nil, &resp)
	return resp.Goals, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
