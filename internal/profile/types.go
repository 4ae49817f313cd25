// Package profile provides durable per-player behavioral profiles and the
// aggregation logic that folds completed games into them.
package profile

import (
	"sort"
	"time"
)

// Risk labels assigned once a player has enough escape attempts on record.
const (
	RiskAggressiveHider = "aggressive_hider"
	RiskRunner          = "runner"
	RiskBalanced        = "balanced"
)

// Game outcomes as reported by the game loop.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
)

const (
	// matchHistoryCap is the hard cap on the match-history ring buffer.
	matchHistoryCap = 10

	// escapeHistoryCap bounds the escape-option recency list.
	escapeHistoryCap = 20

	// riskMinAttempts is the minimum hide+run attempts before a risk label
	// is assigned.
	riskMinAttempts = 5
)

// Stats holds a player's lifetime game statistics.
type Stats struct {
	TotalGames        int     `json:"total_games"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	WinRate           float64 `json:"win_rate"`
	HighestScore      int     `json:"highest_score"`
	TotalPointsEarned int     `json:"total_points_earned"`
	TimesCaught       int     `json:"times_caught"`
	TotalRoundsPlayed int     `json:"total_rounds_played"`
}

// UpdateWinRate recomputes WinRate from Wins and TotalGames. It must be
// called after every mutation of either counter; the stored value is never
// allowed to go stale.
func (s *Stats) UpdateWinRate() {
	if s.TotalGames > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalGames)
	} else {
		s.WinRate = 0
	}
}

// BehavioralStats captures a player's location-choice tendencies.
type BehavioralStats struct {
	FavoriteLocation    string         `json:"favorite_location"`
	LocationFrequencies map[string]int `json:"location_frequencies"`
	RiskProfile         string         `json:"risk_profile"`
	PredictabilityScore float64        `json:"predictability_score"`
	ItemUsage           map[string]int `json:"item_usage"`
}

// UpdateFavoriteLocation recomputes the arg-max of the frequency map.
// Ties break lexicographically so the result is deterministic.
func (b *BehavioralStats) UpdateFavoriteLocation() {
	best := ""
	bestCount := 0
	for loc, count := range b.LocationFrequencies {
		if count > bestCount || (count == bestCount && (best == "" || loc < best)) {
			best = loc
			bestCount = count
		}
	}
	if best != "" {
		b.FavoriteLocation = best
	}
}

// UpdatePredictability recomputes the predictability score as the share of
// all historical choices taken by the single most frequent location.
func (b *BehavioralStats) UpdatePredictability() {
	total := 0
	max := 0
	for _, count := range b.LocationFrequencies {
		total += count
		if count > max {
			max = count
		}
	}
	if total > 0 {
		b.PredictabilityScore = float64(max) / float64(total)
	}
}

// LocationPreferences returns the normalized choice distribution over every
// location the player has ever picked. Empty history yields an empty map.
func (b *BehavioralStats) LocationPreferences() map[string]float64 {
	total := 0
	for _, count := range b.LocationFrequencies {
		total += count
	}
	if total == 0 {
		return map[string]float64{}
	}

	prefs := make(map[string]float64, len(b.LocationFrequencies))
	for loc, count := range b.LocationFrequencies {
		prefs[loc] = float64(count) / float64(total)
	}
	return prefs
}

// HidingStats captures a player's escape patterns when caught.
type HidingStats struct {
	TotalCaughtInstances  int            `json:"total_caught_instances"`
	TotalEscapes          int            `json:"total_escapes"`
	HideAttempts          int            `json:"hide_attempts"`
	RunAttempts           int            `json:"run_attempts"`
	HideSuccessRate       float64        `json:"hide_success_rate"`
	RunSuccessRate        float64        `json:"run_success_rate"`
	FavoriteEscapeOptions map[string]int `json:"favorite_escape_options"`
	EscapeOptionHistory   []string       `json:"escape_option_history"`
	AIPredictionAccuracy  float64        `json:"ai_prediction_accuracy"`
	AICorrectPredictions  int            `json:"ai_correct_predictions"`
	RiskProfileWhenCaught string         `json:"risk_profile_when_caught"`
}

// UpdateRiskProfile assigns the caught-risk label once enough attempts have
// accumulated. Thresholds: >=0.7 hide ratio is an aggressive hider, <=0.3 a
// runner, anything between is balanced.
func (h *HidingStats) UpdateRiskProfile() {
	total := h.HideAttempts + h.RunAttempts
	if total < riskMinAttempts {
		return
	}

	hideRatio := float64(h.HideAttempts) / float64(total)
	switch {
	case hideRatio >= 0.7:
		h.RiskProfileWhenCaught = RiskAggressiveHider
	case hideRatio <= 0.3:
		h.RiskProfileWhenCaught = RiskRunner
	default:
		h.RiskProfileWhenCaught = RiskBalanced
	}
}

// AIMemory tracks the adversarial AI's record against this player.
type AIMemory struct {
	TimesPredicted      int        `json:"times_predicted"`
	TimesCaughtByAI     int        `json:"times_caught_by_ai"`
	CatchRate           float64    `json:"catch_rate"`
	HasPersonalModel    bool       `json:"has_personal_model"`
	ModelTrainedAt      *time.Time `json:"model_trained_at,omitempty"`
	ModelTrainedOnGames int        `json:"model_trained_on_games"`
}

// UpdateCatchRate recomputes the AI's catch rate against this player.
func (m *AIMemory) UpdateCatchRate() {
	if m.TimesPredicted > 0 {
		m.CatchRate = float64(m.TimesCaughtByAI) / float64(m.TimesPredicted)
	} else {
		m.CatchRate = 0
	}
}

// MatchHistoryEntry is one completed game in the ring-buffered history.
type MatchHistoryEntry struct {
	GameID           string    `json:"game_id"`
	Date             time.Time `json:"date"`
	Outcome          string    `json:"outcome"`
	FinalScore       int       `json:"final_score"`
	RoundsPlayed     int       `json:"rounds_played"`
	Caught           bool      `json:"caught"`
	NumOpponents     int       `json:"num_opponents"`
	EscapesInGame    int       `json:"escapes_in_game"`
	HighThreatEscape bool      `json:"high_threat_escape"`
}

// PlayerProfile is the complete durable record for one player. Identity
// fields are immutable after creation; everything else is mutated by the
// aggregator after each completed game.
type PlayerProfile struct {
	ProfileID    string              `json:"profile_id"`
	Name         string              `json:"name"`
	CreatedAt    time.Time           `json:"created_at"`
	LastPlayed   time.Time           `json:"last_played"`
	Stats        Stats               `json:"stats"`
	Behavioral   BehavioralStats     `json:"behavioral_stats"`
	Hiding       HidingStats         `json:"hiding_stats"`
	AIMemory     AIMemory            `json:"ai_memory"`
	MatchHistory []MatchHistoryEntry `json:"match_history"`
}

// NewPlayerProfile returns a profile with every statistic at its default.
func NewPlayerProfile(id, name string, now time.Time) *PlayerProfile {
	return &PlayerProfile{
		ProfileID:  id,
		Name:       name,
		CreatedAt:  now,
		LastPlayed: now,
		Behavioral: BehavioralStats{
			FavoriteLocation:    "Unknown",
			LocationFrequencies: make(map[string]int),
			RiskProfile:         "neutral",
			PredictabilityScore: 0.5,
			ItemUsage:           make(map[string]int),
		},
		Hiding: HidingStats{
			FavoriteEscapeOptions: make(map[string]int),
			EscapeOptionHistory:   []string{},
			RiskProfileWhenCaught: RiskBalanced,
		},
		MatchHistory: []MatchHistoryEntry{},
	}
}

// PlayStyle derives a coarse play-style label from the profile. Players with
// fewer than 3 games are neutral; low predictability reads as unpredictable;
// players caught in over half their games read as aggressive.
func (p *PlayerProfile) PlayStyle() string {
	if p.Stats.TotalGames < 3 {
		return "neutral"
	}
	if p.Behavioral.PredictabilityScore < 0.4 {
		return "unpredictable"
	}

	games := p.Stats.TotalGames
	if games < 1 {
		games = 1
	}
	if float64(p.Stats.TimesCaught)/float64(games) > 0.5 {
		return "aggressive"
	}
	return "conservative"
}

// Summary is a lightweight projection of a profile for list views and the
// index document.
type Summary struct {
	ProfileID  string    `json:"id"`
	Name       string    `json:"name"`
	LastPlayed time.Time `json:"last_played"`
	TotalGames int       `json:"games"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	WinRate    float64   `json:"win_rate"`
}

// Summarize builds the list-view projection of a profile.
func (p *PlayerProfile) Summarize() Summary {
	return Summary{
		ProfileID:  p.ProfileID,
		Name:       p.Name,
		LastPlayed: p.LastPlayed,
		TotalGames: p.Stats.TotalGames,
		Wins:       p.Stats.Wins,
		Losses:     p.Stats.Losses,
		WinRate:    p.Stats.WinRate,
	}
}

// SortSummaries orders summaries by last-played descending, the order the
// index document and List use.
func SortSummaries(summaries []Summary) {
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastPlayed.After(summaries[j].LastPlayed)
	})
}
