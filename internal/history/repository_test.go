package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) GameRepository {
	t.Helper()

	db, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "history.db")))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	return NewGameRepository(db.Conn())
}

func storedGame(id string, playedAt time.Time, profileIDs ...string) *Game {
	game := &Game{
		ID:         id,
		PlayedAt:   playedAt,
		NumPlayers: len(profileIDs),
	}
	for _, profileID := range profileIDs {
		game.Players = append(game.Players, PlayerGame{
			GameID:       id,
			ProfileID:    profileID,
			Outcome:      "loss",
			FinalScore:   20,
			RoundsPlayed: 2,
		})
		for r := 1; r <= 2; r++ {
			game.Rounds = append(game.Rounds, Round{
				GameID:        id,
				ProfileID:     profileID,
				RoundNumber:   r,
				Location:      fmt.Sprintf("loc%d", r),
				LocationValue: 10 * r,
				PointsBefore:  10 * (r - 1),
				PointsEarned:  10,
				ItemsHeld:     r,
			})
		}
	}
	return game
}

func TestCreateGameAndCount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		game := storedGame(fmt.Sprintf("g%d", i), now.Add(time.Duration(i)*time.Hour), "p1", "p2")
		if err := repo.CreateGame(ctx, game); err != nil {
			t.Fatalf("CreateGame() error = %v", err)
		}
	}

	count, err := repo.CountGamesByProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("CountGamesByProfile() error = %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	count, err = repo.CountGamesByProfile(ctx, "stranger")
	if err != nil {
		t.Fatalf("CountGamesByProfile() error = %v", err)
	}
	if count != 0 {
		t.Errorf("count for unknown profile = %d, want 0", count)
	}
}

func TestGetRoundsByProfileOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Insert newest first; the query must still return oldest first.
	for _, g := range []struct {
		id     string
		offset time.Duration
	}{
		{"g-new", 2 * time.Hour},
		{"g-old", 0},
		{"g-mid", time.Hour},
	} {
		if err := repo.CreateGame(ctx, storedGame(g.id, base.Add(g.offset), "p1")); err != nil {
			t.Fatalf("CreateGame(%s) error = %v", g.id, err)
		}
	}

	games, err := repo.GetRoundsByProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("GetRoundsByProfile() error = %v", err)
	}

	if len(games) != 3 {
		t.Fatalf("got %d games, want 3", len(games))
	}
	wantOrder := []string{"g-old", "g-mid", "g-new"}
	for i, want := range wantOrder {
		if games[i].GameID != want {
			t.Errorf("game %d = %s, want %s", i, games[i].GameID, want)
		}
	}

	for _, game := range games {
		if game.NumPlayers != 1 {
			t.Errorf("game %s NumPlayers = %d, want 1", game.GameID, game.NumPlayers)
		}
		if len(game.Rounds) != 2 {
			t.Fatalf("game %s has %d rounds, want 2", game.GameID, len(game.Rounds))
		}
		for i, round := range game.Rounds {
			if round.RoundNumber != i+1 {
				t.Errorf("game %s round %d has number %d, want %d", game.GameID, i, round.RoundNumber, i+1)
			}
		}
	}
}

func TestGetRoundsByProfileScopesToPlayer(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateGame(ctx, storedGame("g1", time.Now().UTC(), "p1", "p2")); err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}

	games, err := repo.GetRoundsByProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("GetRoundsByProfile() error = %v", err)
	}
	if len(games) != 1 {
		t.Fatalf("got %d games, want 1", len(games))
	}
	for _, round := range games[0].Rounds {
		if round.ProfileID != "p1" {
			t.Errorf("round belongs to %s, want p1", round.ProfileID)
		}
	}
}

func TestDeleteByProfile(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// g-shared has a second participant, g-solo does not.
	if err := repo.CreateGame(ctx, storedGame("g-shared", now, "p1", "p2")); err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}
	if err := repo.CreateGame(ctx, storedGame("g-solo", now.Add(time.Hour), "p1")); err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}

	if err := repo.DeleteByProfile(ctx, "p1"); err != nil {
		t.Fatalf("DeleteByProfile() error = %v", err)
	}

	count, err := repo.CountGamesByProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("CountGamesByProfile() error = %v", err)
	}
	if count != 0 {
		t.Errorf("p1 still appears in %d games", count)
	}

	games, err := repo.GetRoundsByProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("GetRoundsByProfile() error = %v", err)
	}
	if len(games) != 0 {
		t.Errorf("p1 still has %d games of rounds", len(games))
	}

	// The shared game survives for the remaining participant.
	count, err = repo.CountGamesByProfile(ctx, "p2")
	if err != nil {
		t.Fatalf("CountGamesByProfile() error = %v", err)
	}
	if count != 1 {
		t.Errorf("p2 appears in %d games, want 1", count)
	}

	p2Games, err := repo.GetRoundsByProfile(ctx, "p2")
	if err != nil {
		t.Fatalf("GetRoundsByProfile() error = %v", err)
	}
	if len(p2Games) != 1 || p2Games[0].GameID != "g-shared" {
		t.Errorf("p2 games = %v, want just g-shared", p2Games)
	}
}
