package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"proofday/internal/attest"
	"proofday/internal/config"
	"proofday/internal/db"
	"proofday/internal/domain"
	"proofday/internal/engine"
	"proofday/internal/migrate"
	"proofday/internal/quickcheck"
)

type stubGenerator struct {
	questions quickcheck.Questions
	err       error
}

func (s stubGenerator) Generate(_ context.Context, _, _ string) (quickcheck.Questions, error) {
	return s.questions, s.err
}

type stubJudge struct {
	verdict quickcheck.Verdict
	err     error
}

func (s stubJudge) Judge(_ context.Context, _ quickcheck.Submission) (quickcheck.Verdict, error) {
	return s.verdict, s.err
}

type failingAttester struct{}

func (failingAttester) Attest(_ context.Context, _, _ string) (attest.Receipt, error) {
	return attest.Receipt{}, errors.New("ledger unreachable")
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Generator = stubGenerator{questions: quickcheck.Questions{Questions: []string{
		"What did you actually do?",
		"What artifact proves it?",
	}}}
	eng.Judge = stubJudge{verdict: quickcheck.Verdict{Result: "PASS", Reason: "plausible"}}
	eng.Attester = attest.New(config.AttestationConfig{})
	return &testEnv{Engine: eng, Ctx: context.Background()}
}

func (env *testEnv) mustGoal(t *testing.T, address string) domain.Goal {
	t.Helper()
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
		Address:  address,
		Title:    "Ship the report",
		Scope:    "PDF sent to the team",
		Deadline: "2026-01-31",
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	return g
}

func (env *testEnv) evaluated(t *testing.T, address string, verdict quickcheck.Verdict) domain.Goal {
	t.Helper()
	g := env.mustGoal(t, address)
	if _, err := env.Engine.GenerateQuestions(env.Ctx, g.ID); err != nil {
		t.Fatalf("generate questions: %v", err)
	}
	env.Engine.Judge = stubJudge{verdict: verdict}
	res, err := env.Engine.Evaluate(env.Ctx, g.ID, "did it", "here is proof")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return res.Goal
}

func TestEnsureUserIdempotentAcrossCasings(t *testing.T) {
	env := newTestEnv(t)
	name := "Alice"
	first, err := env.Engine.EnsureUser(env.Ctx, "0xABCDEF", &name)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	second, err := env.Engine.EnsureUser(env.Ctx, "  0xabcdef ", nil)
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one identity, got %s and %s", first.ID, second.ID)
	}
	if second.Address != "0xabcdef" {
		t.Fatalf("address not normalized: %q", second.Address)
	}
	if second.Name == nil || *second.Name != "Alice" {
		t.Fatalf("nil name overwrote stored name: %v", second.Name)
	}
}

func TestEnsureUserUpdatesName(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.EnsureUser(env.Ctx, "0xaa", nil); err != nil {
		t.Fatal(err)
	}
	name := "Bob"
	u, err := env.Engine.EnsureUser(env.Ctx, "0xaa", &name)
	if err != nil {
		t.Fatal(err)
	}
	if u.Name == nil || *u.Name != "Bob" {
		t.Fatalf("name not updated: %v", u.Name)
	}
	blank := "   "
	u, err = env.Engine.EnsureUser(env.Ctx, "0xaa", &blank)
	if err != nil {
		t.Fatal(err)
	}
	if u.Name == nil || *u.Name != "Bob" {
		t.Fatalf("blank name should not replace stored name: %v", u.Name)
	}
}

func TestCreateGoalValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		opts engine.GoalCreateOptions
	}{
		{"missing address", engine.GoalCreateOptions{Title: "t", Scope: "s", Deadline: "2026-01-31"}},
		{"missing title", engine.GoalCreateOptions{Address: "0xaa", Scope: "s", Deadline: "2026-01-31"}},
		{"missing scope", engine.GoalCreateOptions{Address: "0xaa", Title: "t", Deadline: "2026-01-31"}},
		{"missing deadline", engine.GoalCreateOptions{Address: "0xaa", Title: "t", Scope: "s"}},
		{"garbage deadline", engine.GoalCreateOptions{Address: "0xaa", Title: "t", Scope: "s", Deadline: "whenever"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateGoal(env.Ctx, tc.opts)
			var ierr engine.InputError
			if !errors.As(err, &ierr) {
				t.Fatalf("expected input error, got %v", err)
			}
		})
	}
	// rejected creates must leave nothing behind, including the owner row
	users, err := env.Engine.Discover(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("rejected create persisted a user: %v", users)
	}
}

func TestCreateGoalAcceptsDateOnlyDeadline(t *testing.T) {
	env := newTestEnv(t)
	g := env.mustGoal(t, "0xaa")
	if g.Status != domain.StatusPending {
		t.Fatalf("new goal status = %q", g.Status)
	}
	if g.Deadline != "2026-01-31T00:00:00Z" {
		t.Fatalf("deadline not normalized to RFC3339: %q", g.Deadline)
	}
}

func TestGenerateQuestionsPersistsVerbatim(t *testing.T) {
	env := newTestEnv(t)
	g := env.mustGoal(t, "0xaa")
	q, err := env.Engine.GenerateQuestions(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("generate questions: %v", err)
	}
	if len(q.Questions) != 2 {
		t.Fatalf("expected two questions, got %d", len(q.Questions))
	}
	stored, err := env.Engine.Repo.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.QuestionsJSON == nil {
		t.Fatal("questions not persisted")
	}
	parsed := quickcheck.ParseQuestions(*stored.QuestionsJSON)
	if parsed.At(0) != q.Questions[0] || parsed.At(1) != q.Questions[1] {
		t.Fatalf("persisted questions differ: %q", *stored.QuestionsJSON)
	}
}

func TestGenerateQuestionsUnknownGoal(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GenerateQuestions(env.Ctx, "nope")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestGeneratorFailureIsCollaboratorError(t *testing.T) {
	env := newTestEnv(t)
	g := env.mustGoal(t, "0xaa")
	env.Engine.Generator = stubGenerator{err: errors.New("model offline")}
	_, err := env.Engine.GenerateQuestions(env.Ctx, g.ID)
	var cerr engine.CollaboratorError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestEvaluateRequiresQuestions(t *testing.T) {
	env := newTestEnv(t)
	g := env.mustGoal(t, "0xaa")
	_, err := env.Engine.Evaluate(env.Ctx, g.ID, "a", "b")
	var perr engine.PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestVerdictNormalization(t *testing.T) {
	cases := []struct {
		name    string
		verdict quickcheck.Verdict
		status  string
		judge   string
	}{
		{"literal pass", quickcheck.Verdict{Result: "PASS"}, domain.StatusPassed, "PASS"},
		{"lowercase pass", quickcheck.Verdict{Result: "pass"}, domain.StatusPassed, "pass"},
		{"fail", quickcheck.Verdict{Result: "FAIL", Reason: "no proof"}, domain.StatusFailed, "FAIL"},
		{"garbled", quickcheck.Verdict{Result: "maybe"}, domain.StatusFailed, "maybe"},
		{"empty result", quickcheck.Verdict{}, domain.StatusFailed, domain.StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			g := env.evaluated(t, "0xaa", tc.verdict)
			if g.Status != tc.status {
				t.Fatalf("status = %q, want %q", g.Status, tc.status)
			}
			if g.JudgeResult == nil || *g.JudgeResult != tc.judge {
				t.Fatalf("judge result = %v, want %q", g.JudgeResult, tc.judge)
			}
		})
	}
}

func TestEvaluatePassWritesOfflineAttestation(t *testing.T) {
	env := newTestEnv(t)
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "PASS"})
	if g.AttestationUID == nil || *g.AttestationUID != attest.OfflineUID {
		t.Fatalf("attestation uid = %v, want offline sentinel", g.AttestationUID)
	}
	if g.AttestationTxURL != nil {
		t.Fatalf("offline mode should not carry a tx url: %v", g.AttestationTxURL)
	}
}

func TestEvaluateFailSkipsAttestation(t *testing.T) {
	env := newTestEnv(t)
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "FAIL"})
	if g.AttestationUID != nil {
		t.Fatalf("failed goal should not be attested: %v", g.AttestationUID)
	}
}

func TestAttestationFailureDoesNotEraseVerdict(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Attester = failingAttester{}
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "PASS"})
	if g.Status != domain.StatusPassed {
		t.Fatalf("attestation failure flipped status to %q", g.Status)
	}
	if g.AttestationUID != nil {
		t.Fatalf("attestation uid should stay null after failure: %v", g.AttestationUID)
	}
}

func TestRetryAttestation(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Attester = failingAttester{}
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "PASS"})

	// still failing
	_, err := env.Engine.RetryAttestation(env.Ctx, g.ID)
	if err == nil {
		t.Fatal("expected retry to surface the ledger error")
	}

	// ledger back: retry succeeds and is idempotent afterwards
	env.Engine.Attester = attest.New(config.AttestationConfig{})
	res, err := env.Engine.RetryAttestation(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Goal.AttestationUID == nil || *res.Goal.AttestationUID != attest.OfflineUID {
		t.Fatalf("retry did not attach uid: %v", res.Goal.AttestationUID)
	}
	again, err := env.Engine.RetryAttestation(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if *again.Goal.AttestationUID != *res.Goal.AttestationUID {
		t.Fatal("retry is not idempotent")
	}
}

func TestRetryAttestationRequiresPass(t *testing.T) {
	env := newTestEnv(t)
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "FAIL"})
	_, err := env.Engine.RetryAttestation(env.Ctx, g.ID)
	var perr engine.PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestNotesTranscript(t *testing.T) {
	env := newTestEnv(t)
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "FAIL", Reason: "answers too vague"})
	if g.Notes == nil {
		t.Fatal("notes not persisted")
	}
	for _, want := range []string{
		"Q1: What did you actually do?",
		"A1: did it",
		"Q2: What artifact proves it?",
		"A2: here is proof",
		"Judge: FAIL (answers too vague)",
	} {
		if !strings.Contains(*g.Notes, want) {
			t.Fatalf("notes missing %q:\n%s", want, *g.Notes)
		}
	}
}

func TestGoalsByAddressUnknownIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	goals, err := env.Engine.GoalsByAddress(env.Ctx, "0xnobody")
	if err != nil {
		t.Fatalf("unknown address should not error: %v", err)
	}
	if len(goals) != 0 {
		t.Fatalf("expected empty list, got %d goals", len(goals))
	}
}

func TestGoalsByAddressNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	env.Engine.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	for _, title := range []string{"first", "second", "third"} {
		if _, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{
			Address: "0xaa", Title: title, Scope: "s", Deadline: "2026-02-01",
		}); err != nil {
			t.Fatal(err)
		}
	}
	goals, err := env.Engine.GoalsByAddress(env.Ctx, "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	if len(goals) != 3 || goals[0].Title != "third" || goals[2].Title != "first" {
		t.Fatalf("unexpected ordering: %+v", goals)
	}
}

func TestDiscover(t *testing.T) {
	env := newTestEnv(t)
	alice := "Alice"
	if _, err := env.Engine.EnsureUser(env.Ctx, "0xaaa111", &alice); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.EnsureUser(env.Ctx, "0xbbb222", nil); err != nil {
		t.Fatal(err)
	}
	users, err := env.Engine.Discover(env.Ctx, "ALICE")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Address != "0xaaa111" {
		t.Fatalf("name search failed: %+v", users)
	}
	users, err = env.Engine.Discover(env.Ctx, "bbb")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Address != "0xbbb222" {
		t.Fatalf("address search failed: %+v", users)
	}
	users, err = env.Engine.Discover(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("empty term should list everyone: %+v", users)
	}
}

func TestFeedJoinsOwner(t *testing.T) {
	env := newTestEnv(t)
	name := "Carol"
	if _, err := env.Engine.EnsureUser(env.Ctx, "0xcc", &name); err != nil {
		t.Fatal(err)
	}
	env.mustGoal(t, "0xcc")
	feed, err := env.Engine.Feed(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].OwnerAddress != "0xcc" {
		t.Fatalf("feed owner join wrong: %+v", feed)
	}
	if feed[0].OwnerName == nil || *feed[0].OwnerName != "Carol" {
		t.Fatalf("feed owner name wrong: %v", feed[0].OwnerName)
	}
}

func TestReEvaluationOverwritesOutcome(t *testing.T) {
	env := newTestEnv(t)
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "FAIL"})
	env.Engine.Judge = stubJudge{verdict: quickcheck.Verdict{Result: "PASS"}}
	res, err := env.Engine.Evaluate(env.Ctx, g.ID, "better answer", "with proof")
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if res.Goal.Status != domain.StatusPassed {
		t.Fatalf("re-evaluation did not overwrite status: %q", res.Goal.Status)
	}
	if res.Goal.AnswersJSON == nil || !strings.Contains(*res.Goal.AnswersJSON, "better answer") {
		t.Fatalf("answers not overwritten: %v", res.Goal.AnswersJSON)
	}
}

func TestComputeStats(t *testing.T) {
	pass := domain.Goal{Status: domain.StatusPassed}
	fail := domain.Goal{Status: domain.StatusFailed}
	pending := domain.Goal{Status: domain.StatusPending}

	// newest first: P P F P
	stats := engine.ComputeStats([]domain.Goal{pass, pass, fail, pass})
	if stats.CurrentStreak != 2 || stats.MaxStreak != 2 {
		t.Fatalf("P P F P: current=%d max=%d", stats.CurrentStreak, stats.MaxStreak)
	}
	if stats.Total != 4 || stats.Passed != 3 || stats.PassPct != 75 {
		t.Fatalf("P P F P: total=%d passed=%d pct=%d", stats.Total, stats.Passed, stats.PassPct)
	}

	// newest first: F P P P
	stats = engine.ComputeStats([]domain.Goal{fail, pass, pass, pass})
	if stats.CurrentStreak != 0 || stats.MaxStreak != 3 {
		t.Fatalf("F P P P: current=%d max=%d", stats.CurrentStreak, stats.MaxStreak)
	}

	// pending breaks a streak the same way a fail does
	stats = engine.ComputeStats([]domain.Goal{pass, pending, pass})
	if stats.CurrentStreak != 1 || stats.MaxStreak != 1 {
		t.Fatalf("P ~ P: current=%d max=%d", stats.CurrentStreak, stats.MaxStreak)
	}

	stats = engine.ComputeStats(nil)
	if stats.Total != 0 || stats.PassPct != 0 {
		t.Fatalf("empty: %+v", stats)
	}
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	g := env.evaluated(t, "0xaa", quickcheck.Verdict{Result: "PASS"})
	u, goals, stats, err := env.Engine.Profile(env.Ctx, "0xAA")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if u.Address != "0xaa" {
		t.Fatalf("profile address: %q", u.Address)
	}
	if len(goals) != 1 || goals[0].ID != g.ID {
		t.Fatalf("profile goals: %+v", goals)
	}
	if stats.Total != 1 || stats.Passed != 1 || stats.PassPct != 100 || stats.CurrentStreak != 1 {
		t.Fatalf("profile stats: %+v", stats)
	}
}
