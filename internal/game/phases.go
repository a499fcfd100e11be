package game

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/holdfast-game/holdfast/internal/protocol"
)

var zeroTime = time.Time{}

// armTimer schedules the single phase-transition timer. Arming supersedes
// any previous timer; the generation plus phase tag make a stale firing a
// no-op, so fast transitions and restarts are safe.
func (t *Table) armTimer(d time.Duration, phase Phase) {
	t.stopTimer()
	t.timerGen++
	gen := t.timerGen
	t.timerPhase = phase
	if d < time.Millisecond {
		d = time.Millisecond
	}
	timer := t.clock.NewTimer(d)
	t.timer = timer
	go func() {
		select {
		case <-timer.Chan():
			t.enqueue(cmdTimer{gen: gen, phase: phase})
		case <-t.done:
			stopAndDrainTimer(timer)
		}
	}()
}

func (t *Table) stopTimer() {
	if t.timer != nil {
		stopAndDrainTimer(t.timer)
		t.timer = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so the waiting
// goroutine cannot leak, per the time.Timer.Stop contract.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// handleTimer advances the phase machine when the armed timer fires. A
// fire carrying an old generation or a phase the table already left is
// discarded.
func (t *Table) handleTimer(gen int, phase Phase) {
	if gen != t.timerGen || phase != t.phase || t.status != StatusPlaying {
		t.log.Debug().Int("gen", gen).Str("phase", string(phase)).Msg("discarding stale timer")
		return
	}
	switch phase {
	case PhasePreRound:
		t.enterGrace()
	case PhaseGrace:
		t.enterBidding()
	case PhaseResolution:
		if t.round < t.settings.TotalRounds {
			t.enterPreRound()
		} else {
			t.finishGame()
		}
	}
	t.save()
}

// handleStartGame moves the table out of the lobby. Host only, at least
// two connected players, all of them ready.
func (t *Table) handleStartGame(conn Sink, p *PlayerSession) {
	if t.status != StatusLobby {
		t.reply(conn, ErrInvalidAction)
		return
	}
	if p.ID != t.hostID {
		t.reply(conn, ErrNotHost)
		return
	}
	connected := 0
	allReady := true
	for _, pl := range t.orderedPlayers() {
		if !pl.Connected {
			continue
		}
		connected++
		allReady = allReady && pl.Ready
	}
	if connected < 2 {
		t.reply(conn, ErrNotEnoughPlayers)
		return
	}
	if !allReady {
		t.reply(conn, ErrPlayersNotReady)
		return
	}

	t.status = StatusPlaying
	t.log.Info().Int("players", connected).Msg("game starting")
	t.broadcast(protocol.Event{
		Type: protocol.EventGameStarting,
		Data: protocol.GameStartingPayload{CountdownMs: PreRoundCountdown.Milliseconds()},
	}, "")
	t.enterPreRound()
}

// enterPreRound begins the next round: bump the counter, clear every
// player's transient bid state and arm the fixed countdown.
func (t *Table) enterPreRound() {
	t.round++
	t.phase = PhasePreRound
	now := t.clock.Now()
	t.phaseStartedAt = now
	t.phaseEndsAt = now.Add(PreRoundCountdown)
	t.graceEndedAt = zeroTime
	for _, p := range t.orderedPlayers() {
		p.resetRound()
	}
	t.log.Info().Int("round", t.round).Msg("round starting")
	t.broadcast(protocol.Event{
		Type: protocol.EventRoundStart,
		Data: protocol.RoundStartPayload{
			Round:       t.round,
			TotalRounds: t.settings.TotalRounds,
			StartsAt:    protocol.Millis(t.phaseEndsAt),
		},
	}, "")
	t.armTimer(PreRoundCountdown, PhasePreRound)
}

// enterGrace opens the free-release window.
func (t *Table) enterGrace() {
	t.phase = PhaseGrace
	now := t.clock.Now()
	t.phaseStartedAt = now
	t.phaseEndsAt = now.Add(t.settings.GracePeriod)
	t.broadcast(protocol.Event{
		Type: protocol.EventRoundActive,
		Data: protocol.RoundActivePayload{GracePeriodEndsAt: protocol.Millis(t.phaseEndsAt)},
	}, "")
	t.armTimer(t.settings.GracePeriod, PhaseGrace)
}

// enterBidding closes the grace window and starts counting held bids.
// Players who already released during grace need no further action, so
// completion is re-evaluated immediately.
func (t *Table) enterBidding() {
	t.phase = PhaseBidding
	now := t.clock.Now()
	t.phaseStartedAt = now
	t.phaseEndsAt = zeroTime
	t.graceEndedAt = now
	t.broadcast(protocol.Event{Type: protocol.EventGraceExpired}, "")
	t.checkRoundCompletion()
}

// handleBidStart records a server-adjusted bid start. Ignored outside the
// grace and bidding phases or when a bid is already in progress.
func (t *Table) handleBidStart(p *PlayerSession, clientTimestamp int64) {
	if t.status != StatusPlaying || (t.phase != PhaseGrace && t.phase != PhaseBidding) {
		return
	}
	if p.Released || !p.BidStartedAt.IsZero() {
		return
	}
	p.BidStartedAt = adjustedTime(t.clock.Now(), clientTimestamp)
	t.broadcast(protocol.Event{
		Type: protocol.EventBidUpdate,
		Data: protocol.BidUpdatePayload{PlayerID: p.ID, IsBidding: true},
	}, "")
}

// handleBidEnd commits a release. During grace the bid is forced to zero;
// during bidding any portion held before grace ended is clipped.
func (t *Table) handleBidEnd(p *PlayerSession, clientTimestamp int64) {
	if t.status != StatusPlaying || p.Released || p.BidStartedAt.IsZero() {
		return
	}
	switch t.phase {
	case PhaseGrace:
		p.BidDuration = 0
	case PhaseBidding:
		end := adjustedTime(t.clock.Now(), clientTimestamp)
		p.BidDuration = effectiveBid(p.BidStartedAt, end, t.graceEndedAt)
	default:
		return
	}
	p.Released = true
	p.Participated = true
	p.BidStartedAt = zeroTime

	t.log.Debug().Str("player_id", p.ID).Dur("bid", p.BidDuration).Msg("bid released")
	t.broadcast(protocol.Event{
		Type: protocol.EventBidUpdate,
		Data: protocol.BidUpdatePayload{
			PlayerID:     p.ID,
			IsBidding:    false,
			CurrentBidMs: p.BidDuration.Milliseconds(),
		},
	}, "")
	t.checkRoundCompletion()
}

// checkRoundCompletion resolves the round once every connected player has
// either released or never started a bid. Disconnected players never
// block completion.
func (t *Table) checkRoundCompletion() {
	if t.status != StatusPlaying || t.phase != PhaseBidding {
		return
	}
	for _, p := range t.orderedPlayers() {
		if p.Connected && p.Bidding() {
			return
		}
	}
	t.enterResolution()
}

// enterResolution runs bid resolution synchronously and shows results for
// a fixed display period.
func (t *Table) enterResolution() {
	t.phase = PhaseResolution
	now := t.clock.Now()
	t.phaseStartedAt = now
	t.phaseEndsAt = now.Add(ResultsDisplay)

	result := resolveRound(t.round, t.orderedPlayers())
	t.results = append(t.results, result)

	t.log.Info().
		Int("round", result.Round).
		Str("winner", result.WinnerID).
		Bool("tie", result.Tie).
		Dur("winning_bid", result.WinningBid).
		Msg("round resolved")

	t.broadcast(protocol.Event{
		Type: protocol.EventRoundEnd,
		Data: protocol.RoundEndPayload{
			Results:       roundResultInfo(result),
			NextRoundInMs: ResultsDisplay.Milliseconds(),
		},
	}, "")
	t.armTimer(ResultsDisplay, PhaseResolution)
}

// finishGame computes final standings and parks the table in its terminal
// state.
func (t *Table) finishGame() {
	t.status = StatusFinished
	t.phase = PhaseNone
	t.phaseEndsAt = zeroTime
	t.finishedAt = t.clock.Now()
	t.stopTimer()

	standings := ComputeStandings(t.orderedPlayers())
	t.log.Info().Int("rounds", len(t.results)).Msg("game finished")
	t.broadcast(protocol.Event{
		Type: protocol.EventGameEnd,
		Data: protocol.GameEndPayload{Standings: standingInfos(standings)},
	}, "")
}

// rearmRestoredPhase re-arms the timer a restored table needs for the
// phase it was persisted in. An already-lapsed deadline fires on the next
// tick rather than being lost.
func (t *Table) rearmRestoredPhase() {
	switch t.phase {
	case PhasePreRound, PhaseGrace, PhaseResolution:
		t.armTimer(t.phaseEndsAt.Sub(t.clock.Now()), t.phase)
	case PhaseBidding:
		// No deadline in bidding; completion is event-driven. All
		// restored players are disconnected, so any still-open bids
		// cannot gate the round once someone reconnects and releases.
	}
}
