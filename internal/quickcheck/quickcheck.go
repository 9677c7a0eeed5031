// Package quickcheck holds the two-question verification flow: a generator
// that produces the quick-check questions for a goal and a judge that turns
// free-text answers into a PASS/FAIL verdict.
package quickcheck

import (
	"context"
	"encoding/json"
	"strings"
)

// Questions is the generator's raw result. The model is free to return a
// malformed shape, so consumers must go through At rather than indexing.
type Questions struct {
	Questions []string `json:"questions"`
}

// At returns the question at position i, or "" when the generated payload
// came back short or malformed.
func (q Questions) At(i int) string {
	if i < 0 || i >= len(q.Questions) {
		return ""
	}
	return q.Questions[i]
}

// Submission is everything the judge sees for one goal.
type Submission struct {
	Goal  string `json:"goal"`
	Scope string `json:"scope"`
	Q1    string `json:"q1"`
	Q2    string `json:"q2"`
	A1    string `json:"a1"`
	A2    string `json:"a2"`
}

// Verdict is the judge's raw result. Result is normalized via Pass; Reason
// is optional free text.
type Verdict struct {
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// Pass reports whether the raw result normalizes to PASS. Anything other
// than the exact literal, including an absent field, counts as FAIL so
// judge ambiguity can never produce a pass.
func (v Verdict) Pass() bool {
	return strings.ToUpper(v.Result) == "PASS"
}

type Generator interface {
	Generate(ctx context.Context, title, scope string) (Questions, error)
}

type Judge interface {
	Judge(ctx context.Context, sub Submission) (Verdict, error)
}

// ParseQuestions rebuilds Questions from a stored payload. Malformed or
// truncated payloads yield a zero value whose At calls return "".
func ParseQuestions(raw string) Questions {
	var q Questions
	decodeJSON(raw, &q)
	return q
}

// decodeJSON strips markdown fences the model sometimes wraps JSON in and
// unmarshals best-effort: a payload that does not parse leaves the zero
// value, which downstream defaulting treats as empty/FAIL.
func decodeJSON(raw string, out any) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	_ = json.Unmarshal([]byte(strings.TrimSpace(s)), out)
}
