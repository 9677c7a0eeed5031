package domain

// Goal lifecycle statuses. PENDING is the only entry state; evaluation is
// the single transition out of it.
const (
	StatusPending = "PENDING"
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
)

type User struct {
	ID        string  `json:"id"`
	Address   string  `json:"address"`
	Name      *string `json:"name,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Goal struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	Title            string  `json:"title"`
	Scope            string  `json:"scope"`
	Deadline         string  `json:"deadline" format:"date-time"`
	Status           string  `json:"status" enum:"PENDING,PASSED,FAILED"`
	QuestionsJSON    *string `json:"questions_json,omitempty"`
	AnswersJSON      *string `json:"answers_json,omitempty"`
	JudgeResult      *string `json:"judge_result,omitempty"`
	AttestationUID   *string `json:"attestation_uid,omitempty"`
	AttestationTxURL *string `json:"attestation_tx_url,omitempty"`
	Notes            *string `json:"notes,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// GoalWithOwner joins a goal to its owning user for feed views.
type GoalWithOwner struct {
	Goal
	OwnerAddress string  `json:"owner_address"`
	OwnerName    *string `json:"owner_name,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Address    string `json:"address,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// ProfileStats is the public profile aggregation over one user's goals.
type ProfileStats struct {
	Total         int `json:"total"`
	Passed        int `json:"passed"`
	PassPct       int `json:"pass_pct"`
	MaxStreak     int `json:"max_streak"`
	CurrentStreak int `json:"current_streak"`
}
