package history

import (
	"context"
	"database/sql"
	"fmt"
)

// GameRepository handles database operations for completed games and rounds.
type GameRepository interface {
	// CreateGame inserts a completed game with all player summaries and
	// rounds in one transaction.
	CreateGame(ctx context.Context, game *Game) error

	// CountGamesByProfile returns the number of stored games a player
	// appears in.
	CountGamesByProfile(ctx context.Context, profileID string) (int, error)

	// GetRoundsByProfile returns a player's per-round history across every
	// stored game, grouped per game, oldest game first, rounds ordered by
	// round number.
	GetRoundsByProfile(ctx context.Context, profileID string) ([]GameRounds, error)

	// DeleteByProfile removes a player's game participation and rounds.
	// Games with no remaining participants are removed entirely.
	DeleteByProfile(ctx context.Context, profileID string) error
}

// gameRepository is the concrete SQLite implementation of GameRepository.
type gameRepository struct {
	db *sql.DB
}

// NewGameRepository creates a new game repository.
func NewGameRepository(db *sql.DB) GameRepository {
	return &gameRepository{db: db}
}

// CreateGame inserts a completed game with all player summaries and rounds.
func (r *gameRepository) CreateGame(ctx context.Context, game *Game) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO games (id, played_at, num_players) VALUES (?, ?, ?)`,
		game.ID, game.PlayedAt, game.NumPlayers,
	)
	if err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}

	for _, player := range game.Players {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO game_players (game_id, profile_id, outcome, final_score, rounds_played, caught)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			game.ID, player.ProfileID, player.Outcome, player.FinalScore, player.RoundsPlayed, player.Caught,
		)
		if err != nil {
			return fmt.Errorf("failed to create game player: %w", err)
		}
	}

	for _, round := range game.Rounds {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rounds (game_id, profile_id, round_number, location, location_value,
			                     points_before, points_earned, caught, items_held)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			game.ID, round.ProfileID, round.RoundNumber, round.Location, round.LocationValue,
			round.PointsBefore, round.PointsEarned, round.Caught, round.ItemsHeld,
		)
		if err != nil {
			return fmt.Errorf("failed to create round: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit game: %w", err)
	}
	return nil
}

// CountGamesByProfile returns the number of stored games for a player.
func (r *gameRepository) CountGamesByProfile(ctx context.Context, profileID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM game_players WHERE profile_id = ?`, profileID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count games: %w", err)
	}
	return count, nil
}

// GetRoundsByProfile returns a player's rounds grouped per game.
func (r *gameRepository) GetRoundsByProfile(ctx context.Context, profileID string) ([]GameRounds, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.game_id, g.played_at, g.num_players, r.round_number, r.location, r.location_value,
		        r.points_before, r.points_earned, r.caught, r.items_held
		 FROM rounds r
		 JOIN games g ON g.id = r.game_id
		 WHERE r.profile_id = ?
		 ORDER BY g.played_at ASC, g.id ASC, r.round_number ASC`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var games []GameRounds
	for rows.Next() {
		round := Round{ProfileID: profileID}
		var playedAt sql.NullTime
		var numPlayers int
		if err := rows.Scan(
			&round.GameID, &playedAt, &numPlayers, &round.RoundNumber, &round.Location, &round.LocationValue,
			&round.PointsBefore, &round.PointsEarned, &round.Caught, &round.ItemsHeld,
		); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}

		if len(games) == 0 || games[len(games)-1].GameID != round.GameID {
			games = append(games, GameRounds{GameID: round.GameID, PlayedAt: playedAt.Time, NumPlayers: numPlayers})
		}
		last := &games[len(games)-1]
		last.Rounds = append(last.Rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rounds: %w", err)
	}

	return games, nil
}

// DeleteByProfile removes a player's participation rows and rounds, then
// drops games left with no participants.
func (r *gameRepository) DeleteByProfile(ctx context.Context, profileID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rounds WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("failed to delete rounds: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_players WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("failed to delete game players: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM games WHERE id NOT IN (SELECT DISTINCT game_id FROM game_players)`,
	); err != nil {
		return fmt.Errorf("failed to delete orphaned games: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}
	return nil
}
