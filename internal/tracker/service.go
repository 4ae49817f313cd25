// Package tracker exposes the call surface the game loop consumes:
// recording completed games, serving predictions, and reporting model
// status. It owns the orchestration between the profile store, the history
// database, the trainer, and the predictor.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanternworks/manhunt/internal/config"
	"github.com/lanternworks/manhunt/internal/history"
	"github.com/lanternworks/manhunt/internal/ml"
	"github.com/lanternworks/manhunt/internal/profile"
)

// ErrPredictionUnavailable is returned by GetPrediction when the player has
// no trained personal model. Callers fall back to their non-personalized
// predictor.
var ErrPredictionUnavailable = errors.New("no personal model available")

// ProfileStore is the profile persistence surface the service depends on.
type ProfileStore interface {
	Create(name string) (*profile.PlayerProfile, error)
	Load(id string) (*profile.PlayerProfile, error)
	Save(p *profile.PlayerProfile) error
	Delete(id string) error
	List() ([]profile.Summary, error)
	RebuildIndex() error
}

// Trainer builds personal models from stored history.
type Trainer interface {
	ShouldTrain(ctx context.Context, profileID string) (bool, error)
	Train(ctx context.Context, profileID string) error
}

// Predictor serves predictions from trained models.
type Predictor interface {
	Load(profileID string) error
	Loaded(profileID string) bool
	Predict(profileID string, features []float64) (map[string]float64, error)
	Invalidate(profileID string)
}

// Service wires the subsystem together behind the inbound call surface.
type Service struct {
	profiles  ProfileStore
	games     history.GameRepository
	trainer   Trainer
	predictor Predictor
	training  *config.TrainingConfig
	logger    *zap.Logger

	now func() time.Time
}

// NewService creates the service. All collaborators are constructed by the
// process entry point and passed in explicitly.
func NewService(profiles ProfileStore, games history.GameRepository, trainer Trainer, predictor Predictor, training *config.TrainingConfig, logger *zap.Logger) *Service {
	if training == nil {
		defaults := config.DefaultConfig().Training
		training = &defaults
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profiles:  profiles,
		games:     games,
		trainer:   trainer,
		predictor: predictor,
		training:  training,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterPlayer creates a new profile for a player name.
func (s *Service) RegisterPlayer(ctx context.Context, name string) (*profile.PlayerProfile, error) {
	return s.profiles.Create(name)
}

// ModelStatus reports whether a player has a trained personal model.
type ModelStatus struct {
	Trained        bool `json:"trained"`
	TrainedOnGames int  `json:"trained_on_games"`
}

// RecordCompletedGame persists one completed game for a player: rounds go
// to the history database, the summary is folded into the profile, the
// index is rebuilt, and a milestone game count triggers a retrain. Storage
// errors surface to the caller; training failures are absorbed and logged,
// never aborting the enclosing game.
func (s *Service) RecordCompletedGame(ctx context.Context, profileID string, summary *profile.GameSummary, rounds []history.Round) error {
	p, err := s.profiles.Load(profileID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if summary.GameID == "" {
		summary.GameID = uuid.NewString()
	}

	game := &history.Game{
		ID:         summary.GameID,
		PlayedAt:   now,
		NumPlayers: summary.NumOpponents + 1,
		Players: []history.PlayerGame{{
			GameID:       summary.GameID,
			ProfileID:    profileID,
			Outcome:      summary.Outcome,
			FinalScore:   summary.FinalScore,
			RoundsPlayed: summary.RoundsPlayed,
			Caught:       summary.Caught,
		}},
	}
	for _, round := range rounds {
		round.GameID = summary.GameID
		round.ProfileID = profileID
		game.Rounds = append(game.Rounds, round)
	}

	if err := s.games.CreateGame(ctx, game); err != nil {
		return fmt.Errorf("failed to store game history: %w", err)
	}

	profile.ApplyGame(p, summary, now)

	if err := s.profiles.Save(p); err != nil {
		return err
	}
	if err := s.profiles.RebuildIndex(); err != nil {
		return err
	}

	if s.training.IsMilestone(p.Stats.TotalGames) {
		s.retrain(ctx, profileID, p.Stats.TotalGames)
	}

	return nil
}

// retrain runs a milestone training pass. Failures never propagate: an
// insufficient-data result simply defers training to a later milestone.
func (s *Service) retrain(ctx context.Context, profileID string, totalGames int) {
	err := s.trainer.Train(ctx, profileID)
	switch {
	case err == nil:
		s.predictor.Invalidate(profileID)
		s.logger.Info("milestone retrain complete",
			zap.String("profile_id", profileID),
			zap.Int("total_games", totalGames))
	case errors.Is(err, ml.ErrInsufficientData):
		s.logger.Info("milestone retrain deferred",
			zap.String("profile_id", profileID),
			zap.Int("total_games", totalGames),
			zap.Error(err))
	default:
		s.logger.Error("milestone retrain failed",
			zap.String("profile_id", profileID),
			zap.Int("total_games", totalGames),
			zap.Error(err))
	}
}

// GetPrediction returns the player's personal-model probability
// distribution for a feature vector, loading the model lazily. Players
// without a model get ErrPredictionUnavailable.
func (s *Service) GetPrediction(ctx context.Context, profileID string, features []float64) (map[string]float64, error) {
	if !s.predictor.Loaded(profileID) {
		if err := s.predictor.Load(profileID); err != nil {
			if errors.Is(err, ml.ErrModelNotFound) {
				return nil, fmt.Errorf("%w: profile %s", ErrPredictionUnavailable, profileID)
			}
			return nil, err
		}
	}

	return s.predictor.Predict(profileID, features)
}

// GetModelStatus reports whether the player's personal model has been
// trained and on how many games.
func (s *Service) GetModelStatus(ctx context.Context, profileID string) (*ModelStatus, error) {
	p, err := s.profiles.Load(profileID)
	if err != nil {
		return nil, err
	}

	return &ModelStatus{
		Trained:        p.AIMemory.HasPersonalModel,
		TrainedOnGames: p.AIMemory.ModelTrainedOnGames,
	}, nil
}

// TrainPlayer runs an explicit (non-milestone) training pass for a player.
func (s *Service) TrainPlayer(ctx context.Context, profileID string) error {
	ready, err := s.trainer.ShouldTrain(ctx, profileID)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("%w: below minimum game count", ml.ErrInsufficientData)
	}

	if err := s.trainer.Train(ctx, profileID); err != nil {
		return err
	}
	s.predictor.Invalidate(profileID)
	return nil
}

// DeleteProfile removes a player's record, model artifacts, and stored
// history. After deletion the player is fully back in the no-model state.
func (s *Service) DeleteProfile(ctx context.Context, profileID string) error {
	s.predictor.Invalidate(profileID)

	if err := s.profiles.Delete(profileID); err != nil {
		return err
	}
	if err := s.games.DeleteByProfile(ctx, profileID); err != nil {
		return err
	}

	return nil
}

// ListProfiles returns profile summaries sorted by last-played descending.
func (s *Service) ListProfiles(ctx context.Context) ([]profile.Summary, error) {
	return s.profiles.List()
}
