package game

import "time"

// Fixed gameplay constants. All bid arithmetic is in milliseconds on the
// wire and time.Duration internally.
const (
	// MaxLatencyComp bounds how far a client-claimed timestamp may pull a
	// bid edge away from the server clock.
	MaxLatencyComp = 2 * time.Second

	// TieThreshold is the maximum gap within which two bids count as equal.
	TieThreshold = 100 * time.Millisecond

	// PreRoundCountdown is the fixed delay between rounds.
	PreRoundCountdown = 3 * time.Second

	// ResultsDisplay is how long round results stay up before the next
	// round starts.
	ResultsDisplay = 5 * time.Second

	// ReconnectWindow is how long a disconnected lobby player is kept
	// before the sweep removes them.
	ReconnectWindow = 90 * time.Second
)

// adjustedTime compensates a bid edge for claimed client/server clock skew,
// clamped so a client can never move an edge by more than MaxLatencyComp.
func adjustedTime(serverNow time.Time, clientMillis int64) time.Time {
	client := time.UnixMilli(clientMillis)
	skew := serverNow.Sub(client)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxLatencyComp {
		skew = MaxLatencyComp
	}
	return serverNow.Add(-skew)
}

// effectiveBid computes the counted portion of a hold released during the
// bidding phase: any time held before the grace period ended is clipped.
func effectiveBid(start, end, graceEndedAt time.Time) time.Duration {
	if start.Before(graceEndedAt) {
		start = graceEndedAt
	}
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	return d
}

// resolveRound runs the deterministic single-pass resolution over players
// in join order. Every positive bid is deducted from its owner's bank,
// clamped at zero, regardless of outcome. A tie (two or more bids within
// TieThreshold of the maximum) nullifies the winner; otherwise the sole
// leader gains a point and records the round as their most recent win.
func resolveRound(round int, players []*PlayerSession) RoundResult {
	var (
		leader   *PlayerSession
		maxBid   time.Duration
		tieCount int
	)

	entries := make([]RoundEntry, 0, len(players))
	for _, p := range players {
		d := p.BidDuration
		entries = append(entries, RoundEntry{
			PlayerID:     p.ID,
			Name:         p.Name,
			Bid:          d,
			Participated: p.Participated,
		})
		if d <= 0 {
			continue
		}

		switch {
		case d > maxBid+TieThreshold:
			// Strict new leader.
			leader = p
			maxBid = d
			tieCount = 1
		case d >= maxBid-TieThreshold:
			tieCount++
			if d > maxBid {
				// Keeps the displayed winning duration accurate without
				// changing tie status.
				leader = p
				maxBid = d
			}
		}
	}

	result := RoundResult{
		Round:      round,
		WinningBid: maxBid,
		Tie:        tieCount > 1,
		Entries:    entries,
	}

	for _, p := range players {
		if p.BidDuration <= 0 {
			continue
		}
		p.TimeBank -= p.BidDuration
		if p.TimeBank < 0 {
			p.TimeBank = 0
		}
	}

	if leader != nil && tieCount == 1 {
		leader.Points++
		leader.LastWinRound = round
		result.WinnerID = leader.ID
		result.WinnerName = leader.Name
	}
	return result
}
