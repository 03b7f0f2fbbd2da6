package justice

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/mischief-tracker/db"
	"github.com/brettboylen/mischief-tracker/models"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	database, err := db.NewDatabase(filepath.Join(t.TempDir(), "justice.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	c := &clock{now: time.Date(2025, 11, 7, 12, 0, 0, 0, time.UTC)}
	seq := 0
	svc := NewService(database, log)
	svc.now = c.Now
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return svc, c
}

func vote(t *testing.T, svc *Service, trialID string, verdicts ...string) models.Trial {
	t.Helper()
	var trial models.Trial
	var err error
	for i, v := range verdicts {
		trial, err = svc.CastVote(context.Background(), trialID, fmt.Sprintf("@voter%d", i), v)
		require.NoError(t, err)
	}
	return trial
}

func TestCreateTrial(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	trial, err := svc.CreateTrial(ctx, "Casper", "@Shady", "https://instagram.com/p/1", "Fake coffee")
	require.NoError(t, err)

	assert.Equal(t, "@casper", trial.Accuser)
	assert.Equal(t, "@shady", trial.Accused)
	assert.Equal(t, models.TrialActive, trial.Status)
	assert.Equal(t, c.now.Add(TrialDuration), trial.ExpiresAt)

	for _, user := range []string{"@casper", "@shady"} {
		points, err := svc.Points(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, -FilingCost, points, user)
	}

	active, err := svc.ActiveTrials(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCreateTrialRequiresHonor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.store.SetHonor(ctx, "@liar", 49, -51, "test", time.Now()))

	_, err := svc.CreateTrial(ctx, "@liar", "@shady", "", "")
	assert.ErrorIs(t, err, ErrInsufficientHonor)

	_, err = svc.CreateTrial(ctx, "", "@shady", "", "")
	assert.ErrorIs(t, err, ErrInvalidParty)
}

func TestGuiltyVerdict(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	trial, err := svc.CreateTrial(ctx, "@casper", "@shady", "", "")
	require.NoError(t, err)

	concluded := vote(t, svc, trial.ID, "guilty", "guilty", "innocent", "guilty", "innocent")
	assert.Equal(t, models.TrialConcluded, concluded.Status)
	assert.Equal(t, models.VerdictGuilty, concluded.FinalVerdict)
	require.NotNil(t, concluded.ConcludedAt)

	honor, err := svc.Honor(ctx, "@shady")
	require.NoError(t, err)
	assert.Equal(t, 90, honor)
	honor, err = svc.Honor(ctx, "@casper")
	require.NoError(t, err)
	assert.Equal(t, 103, honor)
	honor, err = svc.Honor(ctx, "@voter0")
	require.NoError(t, err)
	assert.Equal(t, 101, honor)

	points, err := svc.Points(ctx, "@casper")
	require.NoError(t, err)
	assert.Equal(t, -FilingCost+VerdictReward, points)

	debts, err := svc.Debts(ctx, "@shady")
	require.NoError(t, err)
	require.Len(t, debts.Debtor, 1)
	debt := debts.Debtor[0]
	assert.Equal(t, "@casper", debt.Creditor)
	assert.Equal(t, 1, debt.BeersOwed)
	assert.Equal(t, 5, debt.AmountUSD)
	assert.Equal(t, models.DebtPending, debt.Status)
	assert.True(t, debt.DueDate.Equal(c.now.Add(DebtTerm)))

	_, err = svc.CastVote(ctx, trial.ID, "@late", "guilty")
	assert.ErrorIs(t, err, ErrTrialClosed)
}

func TestInnocentVerdictOnTie(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	trial, err := svc.CreateTrial(ctx, "@casper", "@shady", "", "")
	require.NoError(t, err)
	vote(t, svc, trial.ID, "guilty", "innocent")

	// expired trials are concluded on the next vote
	svc.now = func() time.Time { return trial.ExpiresAt }
	concluded, err := svc.CastVote(ctx, trial.ID, "@late", "guilty")
	assert.ErrorIs(t, err, ErrTrialClosed)
	assert.Equal(t, models.VerdictInnocent, concluded.FinalVerdict)
	assert.Equal(t, 2, concluded.Votes.Guilty+concluded.Votes.Innocent)

	honor, err := svc.Honor(ctx, "@casper")
	require.NoError(t, err)
	assert.Equal(t, 95, honor)
	honor, err = svc.Honor(ctx, "@shady")
	require.NoError(t, err)
	assert.Equal(t, 102, honor)

	debts, err := svc.Debts(ctx, "@shady")
	require.NoError(t, err)
	require.Len(t, debts.Creditor, 1)
	assert.Equal(t, 3, debts.Creditor[0].BeersOwed)
	assert.Equal(t, 15, debts.Creditor[0].AmountUSD)

	require.NoError(t, svc.MarkPaid(ctx, debts.Creditor[0].ID))
	assert.ErrorIs(t, svc.MarkPaid(ctx, "missing"), ErrDebtNotFound)
}

func TestCastVoteErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CastVote(ctx, "missing", "@a", "guilty")
	assert.ErrorIs(t, err, ErrTrialNotFound)

	trial, err := svc.CreateTrial(ctx, "@casper", "@shady", "", "")
	require.NoError(t, err)

	_, err = svc.CastVote(ctx, trial.ID, "@a", "maybe")
	assert.ErrorIs(t, err, ErrInvalidVerdict)

	_, err = svc.CastVote(ctx, trial.ID, "@a", "guilty")
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, trial.ID, "A", "innocent")
	assert.ErrorIs(t, err, ErrAlreadyVoted)
}

func TestActiveTrialsConcludesExpired(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	old, err := svc.CreateTrial(ctx, "@casper", "@shady", "", "")
	require.NoError(t, err)

	c.now = c.now.Add(TrialDuration)
	fresh, err := svc.CreateTrial(ctx, "@shady", "@casper", "", "")
	require.NoError(t, err)

	active, err := svc.ActiveTrials(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)

	concluded, err := svc.Trial(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TrialConcluded, concluded.Status)
	assert.Equal(t, models.VerdictInnocent, concluded.FinalVerdict)
}

func TestHonorFloorsAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.store.SetHonor(ctx, "@shady", 4, 0, "test", time.Now()))
	score, err := svc.adjustHonor(ctx, "@shady", -10, "guilty_verdict", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, score)

	honor, err := svc.Honor(ctx, "@newbie")
	require.NoError(t, err)
	assert.Equal(t, DefaultHonor, honor)
}
