package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"proofday/internal/attest"
	"proofday/internal/config"
	"proofday/internal/domain"
	"proofday/internal/events"
	"proofday/internal/quickcheck"
	"proofday/internal/repo"
)

// Engine drives the goal lifecycle: PENDING -> questions generated ->
// answers judged -> PASSED/FAILED, with the attestation write decoupled
// from the verdict so a ledger failure cannot erase a genuine pass.
type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Generator quickcheck.Generator
	Judge     quickcheck.Judge
	Attester  attest.Writer
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// NormalizeAddress lowercases an address for use as a lookup key. Applied
// at every boundary so two casings can never split one identity.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// EnsureUser resolves the identity for an address, creating it on first
// contact. A nonempty name replaces the stored one; nil or blank leaves it.
func (e Engine) EnsureUser(ctx context.Context, address string, name *string) (domain.User, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return domain.User{}, inputErrorf("address is required")
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		name = nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	u, err := e.Repo.UpsertUser(ctx, tx, uuid.NewString(), addr, name, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "user.ensured", addr, "user", u.ID, nil); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	Address  string
	Title    string
	Scope    string
	Deadline string
}

var deadlineLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDeadline(raw string) (time.Time, error) {
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// CreateGoal validates inputs, resolves the owning identity and creates a
// PENDING goal. Nothing is persisted when validation rejects.
func (e Engine) CreateGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	addr := NormalizeAddress(opts.Address)
	if addr == "" {
		return domain.Goal{}, inputErrorf("address is required")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Goal{}, inputErrorf("title is required")
	}
	if strings.TrimSpace(opts.Scope) == "" {
		return domain.Goal{}, inputErrorf("scope is required")
	}
	if strings.TrimSpace(opts.Deadline) == "" {
		return domain.Goal{}, inputErrorf("deadline is required")
	}
	deadline, err := parseDeadline(opts.Deadline)
	if err != nil {
		return domain.Goal{}, inputErrorf("invalid deadline: %v", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	owner, err := e.Repo.UpsertUser(ctx, tx, uuid.NewString(), addr, nil, now)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("upsert user: %w", err)
	}
	g := domain.Goal{
		ID:        uuid.NewString(),
		UserID:    owner.ID,
		Title:     opts.Title,
		Scope:     opts.Scope,
		Deadline:  deadline.UTC().Format(time.RFC3339),
		Status:    domain.StatusPending,
		CreatedAt: now,
	}
	if err := e.Repo.InsertGoal(ctx, tx, g); err != nil {
		return domain.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "goal.created", addr, "goal", g.ID, events.EventPayload{"title": g.Title}); err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

// GenerateQuestions invokes the question generator for a goal and persists
// the returned payload verbatim. It overwrites any prior questions; gating
// regeneration is the caller's concern.
func (e Engine) GenerateQuestions(ctx context.Context, goalID string) (quickcheck.Questions, error) {
	if goalID == "" {
		return quickcheck.Questions{}, inputErrorf("goalId is required")
	}
	g, err := e.Repo.GetGoal(ctx, goalID)
	if err != nil {
		return quickcheck.Questions{}, err
	}
	if g.Title == "" || g.Scope == "" {
		return quickcheck.Questions{}, PreconditionError{Msg: "goal title and scope are required for question generation"}
	}
	if e.Generator == nil {
		return quickcheck.Questions{}, CollaboratorError{Op: "quickcheck generator", Err: errors.New("not configured")}
	}
	q, err := e.Generator.Generate(ctx, g.Title, g.Scope)
	if err != nil {
		return quickcheck.Questions{}, CollaboratorError{Op: "quickcheck generator", Err: err}
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return quickcheck.Questions{}, fmt.Errorf("marshal questions: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return quickcheck.Questions{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateGoalQuestions(ctx, tx, g.ID, string(payload)); err != nil {
		return quickcheck.Questions{}, err
	}
	if err := e.Events.Append(ctx, tx, "goal.questions_generated", "", "goal", g.ID, nil); err != nil {
		return quickcheck.Questions{}, err
	}
	if err := tx.Commit(); err != nil {
		return quickcheck.Questions{}, err
	}
	return q, nil
}

// EvaluationResult is the outcome of one evaluation call.
type EvaluationResult struct {
	Goal  domain.Goal
	TxURL string
}

// Evaluate is the single state-transition point for a goal. The judge's
// verdict is normalized conservatively: anything but the exact literal PASS
// fails. The verdict is persisted before the attestation write, and an
// attestation failure leaves the goal PASSED with a null attestation uid
// (retryable via RetryAttestation).
func (e Engine) Evaluate(ctx context.Context, goalID, a1, a2 string) (EvaluationResult, error) {
	if goalID == "" {
		return EvaluationResult{}, inputErrorf("goalId is required")
	}
	g, err := e.Repo.GetGoal(ctx, goalID)
	if err != nil {
		return EvaluationResult{}, err
	}
	owner, err := e.Repo.GetUser(ctx, g.UserID)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("load goal owner: %w", err)
	}
	if g.QuestionsJSON == nil {
		return EvaluationResult{}, PreconditionError{Msg: "questions not generated yet"}
	}
	qs := quickcheck.ParseQuestions(*g.QuestionsJSON)
	q1, q2 := qs.At(0), qs.At(1)

	if e.Judge == nil {
		return EvaluationResult{}, CollaboratorError{Op: "quickcheck judge", Err: errors.New("not configured")}
	}
	verdict, err := e.Judge.Judge(ctx, quickcheck.Submission{
		Goal:  g.Title,
		Scope: g.Scope,
		Q1:    q1,
		Q2:    q2,
		A1:    a1,
		A2:    a2,
	})
	if err != nil {
		return EvaluationResult{}, CollaboratorError{Op: "quickcheck judge", Err: err}
	}

	status := domain.StatusFailed
	if verdict.Pass() {
		status = domain.StatusPassed
	}
	judgeRaw := verdict.Result
	if judgeRaw == "" {
		judgeRaw = status
	}
	answers, err := json.Marshal(map[string]string{"a1": a1, "a2": a2})
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("marshal answers: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return EvaluationResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateGoalOutcome(ctx, tx, g.ID, repo.GoalOutcome{
		AnswersJSON: string(answers),
		JudgeResult: judgeRaw,
		Status:      status,
		Notes:       renderNotes(q1, a1, q2, a2, verdict),
	}); err != nil {
		return EvaluationResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "goal.evaluated", owner.Address, "goal", g.ID, events.EventPayload{"status": status}); err != nil {
		return EvaluationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return EvaluationResult{}, err
	}

	var txURL string
	if status == domain.StatusPassed {
		receipt, err := e.writeAttestation(ctx, g.ID, owner.Address)
		if err != nil {
			// Non-fatal: the pass is already persisted, the attestation can
			// be retried later.
			log.Printf("WARNING: attestation for goal %s failed: %v", g.ID, err)
		} else {
			txURL = receipt.TxURL
		}
	}

	updated, err := e.Repo.GetGoal(ctx, g.ID)
	if err != nil {
		return EvaluationResult{}, err
	}
	return EvaluationResult{Goal: updated, TxURL: txURL}, nil
}

// RetryAttestation re-runs the attestation write for an already-PASSED goal
// that is missing one. It is idempotent on goals that already carry a uid.
func (e Engine) RetryAttestation(ctx context.Context, goalID string) (EvaluationResult, error) {
	if goalID == "" {
		return EvaluationResult{}, inputErrorf("goalId is required")
	}
	g, err := e.Repo.GetGoal(ctx, goalID)
	if err != nil {
		return EvaluationResult{}, err
	}
	if g.Status != domain.StatusPassed {
		return EvaluationResult{}, PreconditionError{Msg: "goal is not PASSED; nothing to attest"}
	}
	if g.AttestationUID != nil {
		var txURL string
		if g.AttestationTxURL != nil {
			txURL = *g.AttestationTxURL
		}
		return EvaluationResult{Goal: g, TxURL: txURL}, nil
	}
	owner, err := e.Repo.GetUser(ctx, g.UserID)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("load goal owner: %w", err)
	}
	receipt, err := e.writeAttestation(ctx, g.ID, owner.Address)
	if err != nil {
		return EvaluationResult{}, err
	}
	updated, err := e.Repo.GetGoal(ctx, g.ID)
	if err != nil {
		return EvaluationResult{}, err
	}
	return EvaluationResult{Goal: updated, TxURL: receipt.TxURL}, nil
}

func (e Engine) writeAttestation(ctx context.Context, goalID, address string) (attest.Receipt, error) {
	if e.Attester == nil {
		return attest.Receipt{}, CollaboratorError{Op: "attestation writer", Err: errors.New("not configured")}
	}
	receipt, err := e.Attester.Attest(ctx, goalID, "PASS")
	if err != nil {
		return attest.Receipt{}, CollaboratorError{Op: "attestation writer", Err: err}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return attest.Receipt{}, err
	}
	defer tx.Rollback()
	var txURL *string
	if receipt.TxURL != "" {
		txURL = &receipt.TxURL
	}
	if err := e.Repo.UpdateGoalAttestation(ctx, tx, goalID, receipt.UID, txURL); err != nil {
		return attest.Receipt{}, err
	}
	if err := e.Events.Append(ctx, tx, "goal.attested", address, "goal", goalID, events.EventPayload{"uid": receipt.UID}); err != nil {
		return attest.Receipt{}, err
	}
	if err := tx.Commit(); err != nil {
		return attest.Receipt{}, err
	}
	return receipt, nil
}

func renderNotes(q1, a1, q2, a2 string, v quickcheck.Verdict) string {
	notes := fmt.Sprintf("Q1: %s\nA1: %s\nQ2: %s\nA2: %s\nJudge: %s", q1, a1, q2, a2, v.Result)
	if v.Reason != "" {
		notes += fmt.Sprintf(" (%s)", v.Reason)
	}
	return notes
}

// GoalsByAddress lists goals owned by an address, newest first. An unknown
// address yields an empty list rather than an error.
func (e Engine) GoalsByAddress(ctx context.Context, address string) ([]domain.Goal, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return nil, inputErrorf("address is required")
	}
	u, err := e.Repo.GetUserByAddress(ctx, addr)
	if errors.Is(err, repo.ErrNotFound) {
		return []domain.Goal{}, nil
	}
	if err != nil {
		return nil, err
	}
	goals, err := e.Repo.ListGoalsByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if goals == nil {
		goals = []domain.Goal{}
	}
	return goals, nil
}

// Discover searches users by partial address or name, case-insensitive.
// An empty term returns the most recently created users, capped at 50.
func (e Engine) Discover(ctx context.Context, term string) ([]domain.User, error) {
	users, err := e.Repo.SearchUsers(ctx, strings.TrimSpace(term), 50)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// Feed returns the most recent goals across all users with owners joined.
func (e Engine) Feed(ctx context.Context) ([]domain.GoalWithOwner, error) {
	goals, err := e.Repo.ListRecentGoals(ctx, 50)
	if err != nil {
		return nil, err
	}
	if goals == nil {
		goals = []domain.GoalWithOwner{}
	}
	return goals, nil
}

// Profile fetches a user with goals (newest first) and the aggregated
// pass/streak stats for the public profile view.
func (e Engine) Profile(ctx context.Context, address string) (domain.User, []domain.Goal, domain.ProfileStats, error) {
	addr := NormalizeAddress(address)
	if addr == "" {
		return domain.User{}, nil, domain.ProfileStats{}, inputErrorf("address is required")
	}
	u, err := e.Repo.GetUserByAddress(ctx, addr)
	if err != nil {
		return domain.User{}, nil, domain.ProfileStats{}, err
	}
	goals, err := e.Repo.ListGoalsByUser(ctx, u.ID)
	if err != nil {
		return domain.User{}, nil, domain.ProfileStats{}, err
	}
	if goals == nil {
		goals = []domain.Goal{}
	}
	return u, goals, ComputeStats(goals), nil
}

// ComputeStats aggregates pass counts and streaks over goals ordered
// newest-first. The current streak counts consecutive passes backward from
// the most recent goal; the max streak is the longest run anywhere.
func ComputeStats(goals []domain.Goal) domain.ProfileStats {
	stats := domain.ProfileStats{Total: len(goals)}
	cur := 0
	trailing := true
	for _, g := range goals {
		if g.Status == domain.StatusPassed {
			stats.Passed++
			cur++
			if cur > stats.MaxStreak {
				stats.MaxStreak = cur
			}
			if trailing {
				stats.CurrentStreak++
			}
		} else {
			cur = 0
			trailing = false
		}
	}
	if stats.Total > 0 {
		stats.PassPct = int(float64(stats.Passed)/float64(stats.Total)*100 + 0.5)
	}
	return stats
}
