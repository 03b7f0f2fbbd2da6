// Package justice runs community trials over cheating accusations and keeps
// the honor scores and beer debts they produce.
package justice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/models"
)

var (
	ErrTrialNotFound     = errors.New("trial not found")
	ErrTrialClosed       = errors.New("trial is no longer active")
	ErrAlreadyVoted      = errors.New("already voted")
	ErrInsufficientHonor = errors.New("insufficient honor to start a trial")
	ErrInvalidVerdict    = errors.New("verdict must be guilty or innocent")
	ErrDebtNotFound      = errors.New("debt not found")
	ErrInvalidParty      = errors.New("accuser and accused are required")
)

const (
	DefaultHonor    = 100
	MinTrialHonor   = 50
	TrialDuration   = 6 * time.Hour
	VotesToConclude = 5
	FilingCost      = 5
	VerdictReward   = 7
	VoteReward      = 1
	BeerPriceUSD    = 5
	DebtTerm        = 7 * 24 * time.Hour
)

// Store persists trials, debts, honor and the point ledger
type Store interface {
	SaveTrial(ctx context.Context, trial models.Trial) error
	GetTrial(ctx context.Context, id string) (models.Trial, bool, error)
	TrialsByStatus(ctx context.Context, status string) ([]models.Trial, error)
	SaveDebt(ctx context.Context, debt models.Debt) error
	DebtsFor(ctx context.Context, user string) (models.Debts, error)
	MarkDebtPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	Honor(ctx context.Context, user string) (int, bool, error)
	SetHonor(ctx context.Context, user string, score, change int, reason string, at time.Time) error
	AddPoints(ctx context.Context, user string, points int, reason string, at time.Time) error
	PointsFor(ctx context.Context, user string) (int, error)
}

// Service applies the trial rules. Mutations are serialised so vote counts
// and honor updates never interleave.
type Service struct {
	store Store
	log   *logrus.Logger
	mutex sync.Mutex
	now   func() time.Time
	newID func() string
}

// NewService creates a justice service backed by store
func NewService(store Store, log *logrus.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// NormalizeHandle lowercases a handle and ensures the @ prefix
func NormalizeHandle(handle string) string {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" {
		return ""
	}
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	return handle
}

// CreateTrial opens a trial. Filing costs both parties points.
func (s *Service) CreateTrial(ctx context.Context, accuser, accused, evidenceURL, accusation string) (models.Trial, error) {
	accuser, accused = NormalizeHandle(accuser), NormalizeHandle(accused)
	if accuser == "" || accused == "" {
		return models.Trial{}, ErrInvalidParty
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	honor, err := s.honor(ctx, accuser)
	if err != nil {
		return models.Trial{}, err
	}
	if honor < MinTrialHonor {
		return models.Trial{}, fmt.Errorf("%w: %s has %d", ErrInsufficientHonor, accuser, honor)
	}

	now := s.now().UTC()
	trial := models.Trial{
		ID:          s.newID(),
		Accuser:     accuser,
		Accused:     accused,
		EvidenceURL: evidenceURL,
		Accusation:  accusation,
		CreatedAt:   now,
		ExpiresAt:   now.Add(TrialDuration),
		Status:      models.TrialActive,
		Voters:      []string{},
	}
	if err := s.store.SaveTrial(ctx, trial); err != nil {
		return models.Trial{}, fmt.Errorf("failed to save trial: %w", err)
	}

	for _, party := range []string{accuser, accused} {
		if err := s.store.AddPoints(ctx, party, -FilingCost, "trial_filed", now); err != nil {
			return models.Trial{}, fmt.Errorf("failed to charge %s: %w", party, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"trial_id": trial.ID,
		"accuser":  accuser,
		"accused":  accused,
	}).Info("Trial opened")

	return trial, nil
}

// CastVote records a ballot. A vote on an expired trial concludes it and
// returns ErrTrialClosed alongside the concluded trial.
func (s *Service) CastVote(ctx context.Context, trialID, voter, verdict string) (models.Trial, error) {
	voter = NormalizeHandle(voter)
	verdict = strings.ToLower(strings.TrimSpace(verdict))
	if verdict != models.VerdictGuilty && verdict != models.VerdictInnocent {
		return models.Trial{}, ErrInvalidVerdict
	}
	if voter == "" {
		return models.Trial{}, ErrInvalidParty
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	trial, found, err := s.store.GetTrial(ctx, trialID)
	if err != nil {
		return models.Trial{}, fmt.Errorf("failed to load trial: %w", err)
	}
	if !found {
		return models.Trial{}, ErrTrialNotFound
	}
	if trial.Status != models.TrialActive {
		return trial, ErrTrialClosed
	}

	now := s.now().UTC()
	if !now.Before(trial.ExpiresAt) {
		concluded, err := s.conclude(ctx, trial, now)
		if err != nil {
			return models.Trial{}, err
		}
		return concluded, ErrTrialClosed
	}

	for _, v := range trial.Voters {
		if v == voter {
			return trial, ErrAlreadyVoted
		}
	}

	if verdict == models.VerdictGuilty {
		trial.Votes.Guilty++
	} else {
		trial.Votes.Innocent++
	}
	trial.Voters = append(trial.Voters, voter)

	if err := s.store.SaveTrial(ctx, trial); err != nil {
		return models.Trial{}, fmt.Errorf("failed to save vote: %w", err)
	}
	if err := s.store.AddPoints(ctx, voter, VoteReward, "trial_vote", now); err != nil {
		return models.Trial{}, err
	}
	if _, err := s.adjustHonor(ctx, voter, 1, "trial_participation", now); err != nil {
		return models.Trial{}, err
	}

	if trial.Votes.Guilty+trial.Votes.Innocent >= VotesToConclude {
		return s.conclude(ctx, trial, now)
	}
	return trial, nil
}

// conclude settles a trial. Callers hold the mutex.
func (s *Service) conclude(ctx context.Context, trial models.Trial, now time.Time) (models.Trial, error) {
	trial.Status = models.TrialConcluded
	trial.ConcludedAt = &now

	winner, loser := trial.Accuser, trial.Accused
	beers := 1
	if trial.Votes.Guilty > trial.Votes.Innocent {
		trial.FinalVerdict = models.VerdictGuilty
		if _, err := s.adjustHonor(ctx, trial.Accused, -10, "guilty_verdict", now); err != nil {
			return models.Trial{}, err
		}
		if _, err := s.adjustHonor(ctx, trial.Accuser, 3, "correct_accusation", now); err != nil {
			return models.Trial{}, err
		}
	} else {
		trial.FinalVerdict = models.VerdictInnocent
		winner, loser = trial.Accused, trial.Accuser
		beers = 3
		if _, err := s.adjustHonor(ctx, trial.Accuser, -5, "false_accusation", now); err != nil {
			return models.Trial{}, err
		}
		if _, err := s.adjustHonor(ctx, trial.Accused, 2, "vindicated", now); err != nil {
			return models.Trial{}, err
		}
	}

	if err := s.store.AddPoints(ctx, winner, VerdictReward, trial.FinalVerdict+"_verdict", now); err != nil {
		return models.Trial{}, err
	}

	debt := models.Debt{
		ID:        s.newID(),
		Debtor:    loser,
		Creditor:  winner,
		BeersOwed: beers,
		AmountUSD: beers * BeerPriceUSD,
		Reason:    trial.FinalVerdict + "_verdict",
		TrialID:   trial.ID,
		CreatedAt: now,
		DueDate:   now.Add(DebtTerm),
		Status:    models.DebtPending,
	}
	if err := s.store.SaveDebt(ctx, debt); err != nil {
		return models.Trial{}, fmt.Errorf("failed to record debt: %w", err)
	}
	if err := s.store.SaveTrial(ctx, trial); err != nil {
		return models.Trial{}, fmt.Errorf("failed to conclude trial: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"trial_id": trial.ID,
		"verdict":  trial.FinalVerdict,
		"guilty":   trial.Votes.Guilty,
		"innocent": trial.Votes.Innocent,
	}).Info("Trial concluded")

	return trial, nil
}

// ActiveTrials concludes expired trials and returns those still open
func (s *Service) ActiveTrials(ctx context.Context) ([]models.Trial, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	trials, err := s.store.TrialsByStatus(ctx, models.TrialActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}

	now := s.now().UTC()
	active := make([]models.Trial, 0, len(trials))
	for _, trial := range trials {
		if now.Before(trial.ExpiresAt) {
			active = append(active, trial)
			continue
		}
		if _, err := s.conclude(ctx, trial, now); err != nil {
			return nil, err
		}
	}
	return active, nil
}

// Trial returns a single trial by id
func (s *Service) Trial(ctx context.Context, id string) (models.Trial, error) {
	trial, found, err := s.store.GetTrial(ctx, id)
	if err != nil {
		return models.Trial{}, err
	}
	if !found {
		return models.Trial{}, ErrTrialNotFound
	}
	return trial, nil
}

// Honor returns a user's honor score, initialising it on first read
func (s *Service) Honor(ctx context.Context, user string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.honor(ctx, NormalizeHandle(user))
}

func (s *Service) honor(ctx context.Context, user string) (int, error) {
	score, found, err := s.store.Honor(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("failed to read honor: %w", err)
	}
	if found {
		return score, nil
	}
	if err := s.store.SetHonor(ctx, user, DefaultHonor, 0, "initial", s.now().UTC()); err != nil {
		return 0, fmt.Errorf("failed to initialise honor: %w", err)
	}
	return DefaultHonor, nil
}

func (s *Service) adjustHonor(ctx context.Context, user string, change int, reason string, at time.Time) (int, error) {
	current, err := s.honor(ctx, user)
	if err != nil {
		return 0, err
	}
	score := current + change
	if score < 0 {
		score = 0
	}
	if err := s.store.SetHonor(ctx, user, score, change, reason, at); err != nil {
		return 0, fmt.Errorf("failed to update honor: %w", err)
	}
	return score, nil
}

// Points returns the net trial point adjustments for a user
func (s *Service) Points(ctx context.Context, user string) (int, error) {
	return s.store.PointsFor(ctx, NormalizeHandle(user))
}

// Debts returns the debts a user owes and is owed
func (s *Service) Debts(ctx context.Context, user string) (models.Debts, error) {
	return s.store.DebtsFor(ctx, NormalizeHandle(user))
}

// MarkPaid settles a debt
func (s *Service) MarkPaid(ctx context.Context, debtID string) error {
	ok, err := s.store.MarkDebtPaid(ctx, debtID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark debt paid: %w", err)
	}
	if !ok {
		return ErrDebtNotFound
	}
	s.log.WithField("debt_id", debtID).Info("Debt paid")
	return nil
}
