package game

import (
	"sort"
	"time"
)

// Status is the table lifecycle state.
type Status string

const (
	StatusLobby    Status = "lobby"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Phase is the sub-state of an active round. It is meaningful only while
// the table status is playing.
type Phase string

const (
	PhaseNone       Phase = ""
	PhasePreRound   Phase = "pre_round"
	PhaseGrace      Phase = "grace_period"
	PhaseBidding    Phase = "bidding"
	PhaseResolution Phase = "resolution"
)

// Settings are the immutable creation-time parameters of a table.
type Settings struct {
	Name          string        `json:"name"`
	StartingBank  time.Duration `json:"startingBank"`
	TotalRounds   int           `json:"totalRounds"`
	MaxPlayers    int           `json:"maxPlayers"`
	GracePeriod   time.Duration `json:"gracePeriod"`
	PasswordHash  string        `json:"passwordHash,omitempty"`
}

// PasswordRequired reports whether joining needs a password.
func (s Settings) PasswordRequired() bool {
	return s.PasswordHash != ""
}

// PlayerSession is one joined player, independent of any single
// connection. The transient bid fields are cleared at the start of every
// round; the time bank never goes negative.
type PlayerSession struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	ReconnectSecret string        `json:"reconnectSecret"`
	Ready           bool          `json:"ready"`
	Connected       bool          `json:"connected"`
	TimeBank        time.Duration `json:"timeBank"`
	Points          int           `json:"points"`
	LastWinRound    int           `json:"lastWinRound,omitempty"`

	// Transient per-round bid state.
	BidStartedAt time.Time     `json:"bidStartedAt,omitempty"`
	BidDuration  time.Duration `json:"bidDuration"`
	Released     bool          `json:"released"`
	Participated bool          `json:"participated"`

	DisconnectedAt time.Time `json:"disconnectedAt,omitempty"`
}

// Bidding reports whether the player is currently holding a bid.
func (p *PlayerSession) Bidding() bool {
	return !p.BidStartedAt.IsZero() && !p.Released
}

// resetRound clears the transient bid state at the start of a round.
func (p *PlayerSession) resetRound() {
	p.BidStartedAt = time.Time{}
	p.BidDuration = 0
	p.Released = false
	p.Participated = false
}

// RoundEntry is one player's participation record inside a RoundResult.
type RoundEntry struct {
	PlayerID     string        `json:"playerId"`
	Name         string        `json:"name"`
	Bid          time.Duration `json:"bid"`
	Participated bool          `json:"participated"`
}

// RoundResult is the append-only record of a completed round. It is never
// mutated after creation.
type RoundResult struct {
	Round      int           `json:"round"`
	WinnerID   string        `json:"winnerId,omitempty"`
	WinnerName string        `json:"winnerName,omitempty"`
	WinningBid time.Duration `json:"winningBid"`
	Tie        bool          `json:"tie"`
	Entries    []RoundEntry  `json:"entries"`
}

// FinalStanding is one row of the end-of-game ranking. It is derived
// output, computed once at game end and never stored.
type FinalStanding struct {
	Rank         int
	PlayerID     string
	Name         string
	Points       int
	TimeBank     time.Duration
	LastWinRound int
}

// ComputeStandings ranks players by (points desc, remaining bank desc,
// last-win round desc) and assigns dense ranks starting at 1. Players that
// compare equal on all three keys share a rank; ordering among them is
// stable by join order.
func ComputeStandings(players []*PlayerSession) []FinalStanding {
	ranked := make([]*PlayerSession, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.TimeBank != b.TimeBank {
			return a.TimeBank > b.TimeBank
		}
		return a.LastWinRound > b.LastWinRound
	})

	standings := make([]FinalStanding, 0, len(ranked))
	rank := 0
	for i, p := range ranked {
		if i == 0 || !sameRank(ranked[i-1], p) {
			rank++
		}
		standings = append(standings, FinalStanding{
			Rank:         rank,
			PlayerID:     p.ID,
			Name:         p.Name,
			Points:       p.Points,
			TimeBank:     p.TimeBank,
			LastWinRound: p.LastWinRound,
		})
	}
	return standings
}

func sameRank(a, b *PlayerSession) bool {
	return a.Points == b.Points && a.TimeBank == b.TimeBank && a.LastWinRound == b.LastWinRound
}
