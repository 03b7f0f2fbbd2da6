package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brettboylen/mischief-tracker/models"
)

const justiceSchema = `
	CREATE TABLE IF NOT EXISTS trials (
		trial_id TEXT PRIMARY KEY,
		accuser TEXT NOT NULL,
		accused TEXT NOT NULL,
		evidence_url TEXT NOT NULL,
		accusation TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		status TEXT NOT NULL,
		guilty_votes INTEGER NOT NULL,
		innocent_votes INTEGER NOT NULL,
		voters TEXT NOT NULL,
		final_verdict TEXT,
		concluded_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trials_status ON trials(status);
	CREATE TABLE IF NOT EXISTS debts (
		debt_id TEXT PRIMARY KEY,
		debtor TEXT NOT NULL,
		creditor TEXT NOT NULL,
		beers_owed INTEGER NOT NULL,
		amount_usd INTEGER NOT NULL,
		reason TEXT NOT NULL,
		trial_id TEXT NOT NULL,
		created_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_date TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_debts_debtor ON debts(debtor);
	CREATE INDEX IF NOT EXISTS idx_debts_creditor ON debts(creditor);
	CREATE TABLE IF NOT EXISTS honor_scores (
		user_handle TEXT PRIMARY KEY,
		honor_score INTEGER NOT NULL,
		last_updated TEXT NOT NULL,
		last_change INTEGER NOT NULL DEFAULT 0,
		last_reason TEXT
	);
	CREATE TABLE IF NOT EXISTS point_adjustments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_handle TEXT NOT NULL,
		points INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_points_user ON point_adjustments(user_handle);
	`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatOptionalTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseOptionalTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// SaveTrial inserts or replaces a trial
func (d *Database) SaveTrial(ctx context.Context, trial models.Trial) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	voters, err := json.Marshal(trial.Voters)
	if err != nil {
		return fmt.Errorf("failed to encode voters: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO trials (
		trial_id, accuser, accused, evidence_url, accusation, created_at,
		expires_at, status, guilty_votes, innocent_votes, voters,
		final_verdict, concluded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = d.db.ExecContext(ctx, query,
		trial.ID, trial.Accuser, trial.Accused, trial.EvidenceURL, trial.Accusation,
		formatTime(trial.CreatedAt), formatTime(trial.ExpiresAt), trial.Status,
		trial.Votes.Guilty, trial.Votes.Innocent, string(voters),
		sql.NullString{String: trial.FinalVerdict, Valid: trial.FinalVerdict != ""},
		formatOptionalTime(trial.ConcludedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save trial %s: %w", trial.ID, err)
	}

	return nil
}

const trialColumns = `trial_id, accuser, accused, evidence_url, accusation, created_at,
		expires_at, status, guilty_votes, innocent_votes, voters,
		final_verdict, concluded_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrial(row rowScanner) (models.Trial, error) {
	var trial models.Trial
	var createdAt, expiresAt, voters string
	var verdict, concludedAt sql.NullString

	err := row.Scan(
		&trial.ID, &trial.Accuser, &trial.Accused, &trial.EvidenceURL, &trial.Accusation,
		&createdAt, &expiresAt, &trial.Status, &trial.Votes.Guilty, &trial.Votes.Innocent,
		&voters, &verdict, &concludedAt,
	)
	if err != nil {
		return trial, err
	}

	if err := json.Unmarshal([]byte(voters), &trial.Voters); err != nil {
		return trial, fmt.Errorf("failed to decode voters: %w", err)
	}
	if trial.Voters == nil {
		trial.Voters = []string{}
	}
	trial.CreatedAt = parseTime(createdAt)
	trial.ExpiresAt = parseTime(expiresAt)
	trial.FinalVerdict = verdict.String
	trial.ConcludedAt = parseOptionalTime(concludedAt)

	return trial, nil
}

// GetTrial loads a trial by id
func (d *Database) GetTrial(ctx context.Context, id string) (models.Trial, bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	row := d.db.QueryRowContext(ctx, "SELECT "+trialColumns+" FROM trials WHERE trial_id = ?", id)
	trial, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Trial{}, false, nil
	}
	if err != nil {
		return models.Trial{}, false, fmt.Errorf("failed to load trial %s: %w", id, err)
	}

	return trial, true, nil
}

// TrialsByStatus lists trials in a given status, oldest first
func (d *Database) TrialsByStatus(ctx context.Context, status string) ([]models.Trial, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+trialColumns+" FROM trials WHERE status = ? ORDER BY created_at ASC", status)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	trials := make([]models.Trial, 0)
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		trials = append(trials, trial)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return trials, nil
}

// SaveDebt inserts a new debt
func (d *Database) SaveDebt(ctx context.Context, debt models.Debt) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT INTO debts (
		debt_id, debtor, creditor, beers_owed, amount_usd, reason, trial_id,
		created_date, due_date, status, paid_date
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.ExecContext(ctx, query,
		debt.ID, debt.Debtor, debt.Creditor, debt.BeersOwed, debt.AmountUSD,
		debt.Reason, debt.TrialID, formatTime(debt.CreatedAt), formatTime(debt.DueDate),
		debt.Status, formatOptionalTime(debt.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save debt %s: %w", debt.ID, err)
	}

	return nil
}

func (d *Database) queryDebts(ctx context.Context, column, user string) ([]models.Debt, error) {
	query := `
	SELECT debt_id, debtor, creditor, beers_owed, amount_usd, reason, trial_id,
		created_date, due_date, status, paid_date
	FROM debts
	WHERE ` + column + ` = ?
	ORDER BY created_date ASC
	`

	rows, err := d.db.QueryContext(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}
	defer rows.Close()

	debts := make([]models.Debt, 0)
	for rows.Next() {
		var debt models.Debt
		var createdAt, dueDate string
		var paidAt sql.NullString

		err := rows.Scan(
			&debt.ID, &debt.Debtor, &debt.Creditor, &debt.BeersOwed, &debt.AmountUSD,
			&debt.Reason, &debt.TrialID, &createdAt, &dueDate, &debt.Status, &paidAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}

		debt.CreatedAt = parseTime(createdAt)
		debt.DueDate = parseTime(dueDate)
		debt.PaidAt = parseOptionalTime(paidAt)
		debts = append(debts, debt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return debts, nil
}

// DebtsFor returns the debts a user owes and is owed
func (d *Database) DebtsFor(ctx context.Context, user string) (models.Debts, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	owes, err := d.queryDebts(ctx, "debtor", user)
	if err != nil {
		return models.Debts{}, err
	}
	owed, err := d.queryDebts(ctx, "creditor", user)
	if err != nil {
		return models.Debts{}, err
	}

	return models.Debts{Debtor: owes, Creditor: owed}, nil
}

// MarkDebtPaid settles a debt; it reports false when the debt does not exist
func (d *Database) MarkDebtPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	res, err := d.db.ExecContext(ctx,
		"UPDATE debts SET status = ?, paid_date = ? WHERE debt_id = ?",
		models.DebtPaid, formatTime(paidAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark debt %s paid: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}

	return affected > 0, nil
}

// Honor returns a user's stored honor score
func (d *Database) Honor(ctx context.Context, user string) (int, bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var score int
	err := d.db.QueryRowContext(ctx, "SELECT honor_score FROM honor_scores WHERE user_handle = ?", user).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load honor for %s: %w", user, err)
	}

	return score, true, nil
}

// SetHonor stores a user's honor score along with the change that produced it
func (d *Database) SetHonor(ctx context.Context, user string, score, change int, reason string, at time.Time) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT OR REPLACE INTO honor_scores (user_handle, honor_score, last_updated, last_change, last_reason)
	VALUES (?, ?, ?, ?, ?)
	`

	if _, err := d.db.ExecContext(ctx, query, user, score, formatTime(at), change, reason); err != nil {
		return fmt.Errorf("failed to save honor for %s: %w", user, err)
	}

	return nil
}

// AddPoints appends a point adjustment to a user's ledger
func (d *Database) AddPoints(ctx context.Context, user string, points int, reason string, at time.Time) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	_, err := d.db.ExecContext(ctx,
		"INSERT INTO point_adjustments (user_handle, points, reason, created_at) VALUES (?, ?, ?, ?)",
		user, points, reason, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record points for %s: %w", user, err)
	}

	return nil
}

// PointsFor sums a user's point adjustments
func (d *Database) PointsFor(ctx context.Context, user string) (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var total int
	err := d.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points), 0) FROM point_adjustments WHERE user_handle = ?", user,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum points for %s: %w", user, err)
	}

	return total, nil
}
