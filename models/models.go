package models

import (
	"strings"
	"time"
)

// Platform identifies the social network a post came from
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformX         Platform = "x"
)

// Platforms lists every platform channel in publication order
var Platforms = []Platform{PlatformInstagram, PlatformFacebook, PlatformX}

// ParsePlatform maps a scraper platform name onto a Platform; "twitter" is an alias for x
func ParsePlatform(name string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "instagram", "ig":
		return PlatformInstagram, true
	case "facebook", "fb":
		return PlatformFacebook, true
	case "x", "twitter":
		return PlatformX, true
	}
	return "", false
}

// MissionID identifies an in-game mission
type MissionID int

// RawPost is one acquired social media post
type RawPost struct {
	Platform     Platform  `json:"platform"`
	NativeID     string    `json:"native_id,omitempty"`
	Text         string    `json:"text"`
	AuthorHandle string    `json:"author_handle,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ParsedClaim holds the game facts extracted from a post's hashtags
type ParsedClaim struct {
	Handle    string    `json:"handle"`
	Points    int       `json:"points"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Country   string    `json:"country"`
	MissionID MissionID `json:"mission_id"`
}

// Claim is a parsed claim recorded in a source's history
type Claim struct {
	ParsedClaim
	Identity  string    `json:"post_id"`
	Source    string    `json:"source"`
	Platform  Platform  `json:"platform"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// LeaderboardEntry is one player's running total
type LeaderboardEntry struct {
	Handle  string `json:"handle"`
	Points  int    `json:"points"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// Geography counts claims as country -> state -> city -> count
type Geography map[string]map[string]map[string]int

// Add increments the count for a location, creating levels as needed
func (g Geography) Add(country, state, city string) {
	states, ok := g[country]
	if !ok {
		states = make(map[string]map[string]int)
		g[country] = states
	}
	cities, ok := states[state]
	if !ok {
		cities = make(map[string]int)
		states[state] = cities
	}
	cities[city]++
}

// Clone returns a deep copy
func (g Geography) Clone() Geography {
	out := make(Geography, len(g))
	for country, states := range g {
		statesCopy := make(map[string]map[string]int, len(states))
		for state, cities := range states {
			citiesCopy := make(map[string]int, len(cities))
			for city, n := range cities {
				citiesCopy[city] = n
			}
			statesCopy[state] = citiesCopy
		}
		out[country] = statesCopy
	}
	return out
}

// PlatformCounts holds per-platform post counts for a mission
type PlatformCounts struct {
	Instagram int `json:"instagram"`
	Facebook  int `json:"facebook"`
	X         int `json:"x"`
}

// Get returns the count for a platform
func (p PlatformCounts) Get(platform Platform) int {
	switch platform {
	case PlatformInstagram:
		return p.Instagram
	case PlatformFacebook:
		return p.Facebook
	case PlatformX:
		return p.X
	}
	return 0
}

// Set overwrites the count for a platform
func (p *PlatformCounts) Set(platform Platform, n int) {
	switch platform {
	case PlatformInstagram:
		p.Instagram = n
	case PlatformFacebook:
		p.Facebook = n
	case PlatformX:
		p.X = n
	}
}

// MissionTally maps mission ids to per-platform counts; JSON keys are the ids as strings
type MissionTally map[MissionID]PlatformCounts

// Increment adds one post for the mission on the given platform
func (m MissionTally) Increment(id MissionID, platform Platform) {
	counts := m[id]
	counts.Set(platform, counts.Get(platform)+1)
	m[id] = counts
}

// Requirement is a hashtag an accused player must post to clear a case
type Requirement struct {
	Hashtag   string `json:"hashtag"`
	Completed bool   `json:"completed"`
}

// JusticeCase is an accusation raised through evidence hashtags
type JusticeCase struct {
	ID              string        `json:"id"`
	Mission         string        `json:"mission"`
	Accused         string        `json:"accused"`
	Accuser         string        `json:"accuser"`
	EvidenceHashtag string        `json:"evidenceHashtag"`
	Date            string        `json:"date"`
	Requirements    []Requirement `json:"requirements"`
	Status          string        `json:"status"`
}

// Stats summarises a run's verification
type Stats struct {
	PostsProcessed   int     `json:"posts_processed"`
	PostsVerified    int     `json:"posts_verified"`
	VerificationRate float64 `json:"verification_rate"`
}

// AggregateResult is one source's view of the game
type AggregateResult struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Geography   Geography          `json:"geography"`
	Missions    MissionTally       `json:"missions"`
	Justice     []JusticeCase      `json:"justice"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Source      string             `json:"source"`
	Stats       Stats              `json:"stats"`
}

// PlatformWinners records which source supplied each platform count
type PlatformWinners struct {
	Instagram string `json:"instagram"`
	Facebook  string `json:"facebook"`
	X         string `json:"x"`
}

// Set records the winning source for a platform
func (w *PlatformWinners) Set(platform Platform, source string) {
	switch platform {
	case PlatformInstagram:
		w.Instagram = source
	case PlatformFacebook:
		w.Facebook = source
	case PlatformX:
		w.X = source
	}
}

// ReconciledResult is the canonical published artifact
type ReconciledResult struct {
	AggregateResult
	Winners map[MissionID]PlatformWinners `json:"winners"`
}

// Trial statuses
const (
	TrialActive    = "active"
	TrialConcluded = "concluded"
)

// Verdicts
const (
	VerdictGuilty   = "guilty"
	VerdictInnocent = "innocent"
)

// Votes tallies a trial's ballots
type Votes struct {
	Guilty   int `json:"guilty"`
	Innocent int `json:"innocent"`
}

// Trial is a community vote on an accusation
type Trial struct {
	ID           string     `json:"trial_id"`
	Accuser      string     `json:"accuser"`
	Accused      string     `json:"accused"`
	EvidenceURL  string     `json:"evidence_url"`
	Accusation   string     `json:"accusation"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Status       string     `json:"status"`
	Votes        Votes      `json:"votes"`
	Voters       []string   `json:"voters"`
	FinalVerdict string     `json:"final_verdict,omitempty"`
	ConcludedAt  *time.Time `json:"concluded_at,omitempty"`
}

// Debt statuses
const (
	DebtPending = "pending"
	DebtPaid    = "paid"
)

// Debt is a beer owed after a trial
type Debt struct {
	ID        string     `json:"debt_id"`
	Debtor    string     `json:"debtor"`
	Creditor  string     `json:"creditor"`
	BeersOwed int        `json:"beers_owed"`
	AmountUSD int        `json:"amount_usd"`
	Reason    string     `json:"reason"`
	TrialID   string     `json:"trial_id"`
	CreatedAt time.Time  `json:"created_date"`
	DueDate   time.Time  `json:"due_date"`
	Status    string     `json:"status"`
	PaidAt    *time.Time `json:"paid_date,omitempty"`
}

// Debts splits a user's debts by side
type Debts struct {
	Debtor   []Debt `json:"debtor"`
	Creditor []Debt `json:"creditor"`
}
