package history

import "time"

// Round is one decision point within a game for one player, ordered by
// RoundNumber ascending. The feature extractor consumes these read-only.
type Round struct {
	GameID        string
	ProfileID     string
	RoundNumber   int
	Location      string
	LocationValue int
	PointsBefore  int
	PointsEarned  int
	Caught        bool
	ItemsHeld     int
}

// PlayerGame is one player's row in a completed game.
type PlayerGame struct {
	GameID       string
	ProfileID    string
	Outcome      string
	FinalScore   int
	RoundsPlayed int
	Caught       bool
}

// Game is a completed game with every participating player's summary and
// per-round history.
type Game struct {
	ID         string
	PlayedAt   time.Time
	NumPlayers int
	Players    []PlayerGame
	Rounds     []Round
}

// GameRounds groups one player's rounds for a single game, ordered by round
// number. Slices of GameRounds are ordered oldest game first.
type GameRounds struct {
	GameID     string
	PlayedAt   time.Time
	NumPlayers int
	Rounds     []Round
}
