package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"proofday/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const goalColumns = `id,user_id,title,scope,deadline,status,questions_json,answers_json,judge_result,attestation_uid,attestation_tx_url,notes,created_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var name sql.NullString
	err := row.Scan(&u.ID, &u.Address, &name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if name.Valid {
		u.Name = &name.String
	}
	return u, err
}

// UpsertUser creates the user on first contact. An existing record keeps
// its name unless a new one is supplied (pass nil to leave it untouched).
func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, id, address string, name *string, createdAt string) (domain.User, error) {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,address,name,created_at) VALUES (?,?,?,?)
ON CONFLICT(address) DO UPDATE SET name=COALESCE(excluded.name, users.name)`,
		id, address, nullableStringPtr(name), createdAt)
	if err != nil {
		return domain.User{}, err
	}
	return scanUser(tx.QueryRowContext(ctx, `SELECT id,address,name,created_at FROM users WHERE address=?`, address))
}

func (r Repo) GetUserByAddress(ctx context.Context, address string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,address,name,created_at FROM users WHERE address=?`, address))
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,address,name,created_at FROM users WHERE id=?`, id))
}

// SearchUsers matches address or name case-insensitively. An empty term
// returns the most recently created users up to limit.
func (r Repo) SearchUsers(ctx context.Context, term string, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,address,name,created_at FROM users`
	args := []any{}
	if term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		query += ` WHERE address LIKE ? OR LOWER(COALESCE(name,'')) LIKE ?`
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var name sql.NullString
		if err := rows.Scan(&u.ID, &u.Address, &name, &u.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			u.Name = &name.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) InsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goals(`+goalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.UserID, g.Title, g.Scope, g.Deadline, g.Status,
		nullableStringPtr(g.QuestionsJSON), nullableStringPtr(g.AnswersJSON), nullableStringPtr(g.JudgeResult),
		nullableStringPtr(g.AttestationUID), nullableStringPtr(g.AttestationTxURL), nullableStringPtr(g.Notes),
		g.CreatedAt)
	return err
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id)
	return scanGoalRow(row.Scan)
}

func scanGoalRow(scan func(dest ...any) error) (domain.Goal, error) {
	var g domain.Goal
	var questions, answers, judge, attUID, attURL, notes sql.NullString
	err := scan(&g.ID, &g.UserID, &g.Title, &g.Scope, &g.Deadline, &g.Status,
		&questions, &answers, &judge, &attUID, &attURL, &notes, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.QuestionsJSON = ptrIfValid(questions)
	g.AnswersJSON = ptrIfValid(answers)
	g.JudgeResult = ptrIfValid(judge)
	g.AttestationUID = ptrIfValid(attUID)
	g.AttestationTxURL = ptrIfValid(attURL)
	g.Notes = ptrIfValid(notes)
	return g, nil
}

func (r Repo) UpdateGoalQuestions(ctx context.Context, tx *sql.Tx, id, questionsJSON string) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET questions_json=? WHERE id=?`, questionsJSON, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GoalOutcome carries the evaluation write: answers, verdict, status and
// transcript land together; attestation fields follow separately.
type GoalOutcome struct {
	AnswersJSON string
	JudgeResult string
	Status      string
	Notes       string
}

func (r Repo) UpdateGoalOutcome(ctx context.Context, tx *sql.Tx, id string, o GoalOutcome) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET answers_json=?, judge_result=?, status=?, notes=? WHERE id=?`,
		o.AnswersJSON, o.JudgeResult, o.Status, o.Notes, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateGoalAttestation(ctx context.Context, tx *sql.Tx, id, uid string, txURL *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET attestation_uid=?, attestation_tx_url=? WHERE id=?`,
		uid, nullableStringPtr(txURL), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListGoalsByUser(ctx context.Context, userID string) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoalRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// ListRecentGoals returns the newest goals across all users with the owner
// joined, for the social feed.
func (r Repo) ListRecentGoals(ctx context.Context, limit int) ([]domain.GoalWithOwner, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT g.id,g.user_id,g.title,g.scope,g.deadline,g.status,g.questions_json,g.answers_json,g.judge_result,g.attestation_uid,g.attestation_tx_url,g.notes,g.created_at,u.address,u.name
FROM goals g JOIN users u ON u.id=g.user_id ORDER BY g.created_at DESC, g.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GoalWithOwner
	for rows.Next() {
		var g domain.GoalWithOwner
		var questions, answers, judge, attUID, attURL, notes, ownerName sql.NullString
		if err := rows.Scan(&g.ID, &g.UserID, &g.Title, &g.Scope, &g.Deadline, &g.Status,
			&questions, &answers, &judge, &attUID, &attURL, &notes, &g.CreatedAt,
			&g.OwnerAddress, &ownerName); err != nil {
			return nil, err
		}
		g.QuestionsJSON = ptrIfValid(questions)
		g.AnswersJSON = ptrIfValid(answers)
		g.JudgeResult = ptrIfValid(judge)
		g.AttestationUID = ptrIfValid(attUID)
		g.AttestationTxURL = ptrIfValid(attURL)
		g.Notes = ptrIfValid(notes)
		g.OwnerName = ptrIfValid(ownerName)
		res = append(res, g)
	}
	return res, rows.Err()
}

func ptrIfValid(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
