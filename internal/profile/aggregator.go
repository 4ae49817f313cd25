package profile

import "time"

// EscapeSummary carries the escape-duel portion of a completed game as raw
// counts. Reporting raw successes and attempts (rather than deltas layered
// on running rates) keeps the reconciled success rates drift-free no matter
// how many attempts a single game contributes.
type EscapeSummary struct {
	CaughtInstances      int
	Escapes              int
	HideAttempts         int
	SuccessfulHides      int
	RunAttempts          int
	SuccessfulRuns       int
	OptionCounts         map[string]int
	OptionHistory        []string
	AICorrectPredictions int
}

// GameSummary is one completed game as reported by the game loop.
type GameSummary struct {
	GameID           string
	Outcome          string
	FinalScore       int
	RoundsPlayed     int
	Caught           bool
	NumOpponents     int
	LocationsChosen  []string
	ItemsUsed        []string
	EscapesInGame    int
	HighThreatEscape bool
	Escape           *EscapeSummary
}

// ApplyGame folds one completed game into the profile, mutating it in place
// and returning it ready to persist. It never touches storage; the store
// owns persistence.
func ApplyGame(p *PlayerProfile, game *GameSummary, now time.Time) *PlayerProfile {
	p.Stats.TotalGames++
	if game.Outcome == OutcomeWin {
		p.Stats.Wins++
	} else {
		p.Stats.Losses++
	}
	p.Stats.UpdateWinRate()

	if game.FinalScore > p.Stats.HighestScore {
		p.Stats.HighestScore = game.FinalScore
	}
	p.Stats.TotalPointsEarned += game.FinalScore
	p.Stats.TotalRoundsPlayed += game.RoundsPlayed
	if game.Caught {
		p.Stats.TimesCaught++
	}

	applyBehavioral(p, game)
	if game.Escape != nil {
		applyEscape(&p.Hiding, game.Escape)
	}

	p.MatchHistory = append(p.MatchHistory, MatchHistoryEntry{
		GameID:           game.GameID,
		Date:             now,
		Outcome:          game.Outcome,
		FinalScore:       game.FinalScore,
		RoundsPlayed:     game.RoundsPlayed,
		Caught:           game.Caught,
		NumOpponents:     game.NumOpponents,
		EscapesInGame:    game.EscapesInGame,
		HighThreatEscape: game.HighThreatEscape,
	})
	if len(p.MatchHistory) > matchHistoryCap {
		p.MatchHistory = p.MatchHistory[len(p.MatchHistory)-matchHistoryCap:]
	}

	p.LastPlayed = now
	p.Behavioral.RiskProfile = p.PlayStyle()

	return p
}

func applyBehavioral(p *PlayerProfile, game *GameSummary) {
	for _, loc := range game.LocationsChosen {
		p.Behavioral.LocationFrequencies[loc]++
	}
	p.Behavioral.UpdateFavoriteLocation()
	p.Behavioral.UpdatePredictability()

	for _, item := range game.ItemsUsed {
		p.Behavioral.ItemUsage[item]++
	}
}

func applyEscape(h *HidingStats, esc *EscapeSummary) {
	h.TotalCaughtInstances += esc.CaughtInstances
	h.TotalEscapes += esc.Escapes

	// Weighted reconciliation: the old rate stands in for all prior
	// successes, and this game's raw counts extend it.
	h.HideSuccessRate = reconcileRate(h.HideSuccessRate, h.HideAttempts, esc.HideAttempts, esc.SuccessfulHides)
	h.HideAttempts += esc.HideAttempts
	h.RunSuccessRate = reconcileRate(h.RunSuccessRate, h.RunAttempts, esc.RunAttempts, esc.SuccessfulRuns)
	h.RunAttempts += esc.RunAttempts

	for option, count := range esc.OptionCounts {
		h.FavoriteEscapeOptions[option] += count
	}

	h.EscapeOptionHistory = append(h.EscapeOptionHistory, esc.OptionHistory...)
	if len(h.EscapeOptionHistory) > escapeHistoryCap {
		h.EscapeOptionHistory = h.EscapeOptionHistory[len(h.EscapeOptionHistory)-escapeHistoryCap:]
	}

	h.AICorrectPredictions += esc.AICorrectPredictions
	if h.TotalCaughtInstances > 0 {
		h.AIPredictionAccuracy = float64(h.AICorrectPredictions) / float64(h.TotalCaughtInstances)
	}

	h.UpdateRiskProfile()
}

// reconcileRate folds a game's worth of raw attempt counts into a running
// success rate: (old_rate*prior_attempts + successes) / new_attempts.
func reconcileRate(oldRate float64, priorAttempts, newAttempts, successes int) float64 {
	total := priorAttempts + newAttempts
	if total == 0 {
		return 0
	}
	return (oldRate*float64(priorAttempts) + float64(successes)) / float64(total)
}
