package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lanternworks/manhunt/internal/history"
	"github.com/lanternworks/manhunt/internal/profile"
)

// ErrInsufficientData is returned when a player does not yet have enough
// games or samples to train on. Recoverable; training simply defers.
var ErrInsufficientData = errors.New("insufficient training data")

// ProfileStore is the subset of the profile store the trainer needs to flag
// a player's AI memory after a successful train.
type ProfileStore interface {
	Load(id string) (*profile.PlayerProfile, error)
	Save(p *profile.PlayerProfile) error
}

// TrainerConfig holds training thresholds and hyperparameters.
type TrainerConfig struct {
	// MinGames is the minimum stored game count before training is
	// considered at all.
	MinGames int

	// MinSamples is the minimum number of (vector, label) pairs a training
	// run requires.
	MinSamples int

	// Classifier holds the gradient-descent hyperparameters.
	Classifier *ClassifierConfig
}

// DefaultTrainerConfig returns the thresholds used in production: 5 games
// and 10 samples.
func DefaultTrainerConfig() *TrainerConfig {
	return &TrainerConfig{
		MinGames:   5,
		MinSamples: 10,
		Classifier: DefaultClassifierConfig(),
	}
}

// Trainer builds personal models from a player's stored round history.
// Training is a pure read(history) -> write(artifact) operation: it never
// mutates round history and re-running it fully replaces the prior artifact.
type Trainer struct {
	games     history.GameRepository
	profiles  ProfileStore
	modelsDir string
	config    *TrainerConfig
	logger    *zap.Logger

	now func() time.Time
}

// NewTrainer creates a trainer writing artifacts into modelsDir.
func NewTrainer(games history.GameRepository, profiles ProfileStore, modelsDir string, config *TrainerConfig, logger *zap.Logger) *Trainer {
	if config == nil {
		config = DefaultTrainerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		games:     games,
		profiles:  profiles,
		modelsDir: modelsDir,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// ShouldTrain reports whether the player's stored game count meets the
// minimum-games floor.
func (t *Trainer) ShouldTrain(ctx context.Context, profileID string) (bool, error) {
	count, err := t.games.CountGamesByProfile(ctx, profileID)
	if err != nil {
		return false, fmt.Errorf("failed to count games for %s: %w", profileID, err)
	}
	return count >= t.config.MinGames, nil
}

// Train loads every stored round for the player, extracts training samples,
// and fits a fresh classifier. Below the games or samples floor it returns
// ErrInsufficientData without side effects. On success the artifact pair is
// replaced wholesale and the profile's AI memory is flagged; a failure while
// flagging is logged but does not roll back the trained model.
func (t *Trainer) Train(ctx context.Context, profileID string) error {
	gameRounds, err := t.games.GetRoundsByProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("failed to load history for %s: %w", profileID, err)
	}

	if len(gameRounds) < t.config.MinGames {
		return fmt.Errorf("%w: %d games, need %d", ErrInsufficientData, len(gameRounds), t.config.MinGames)
	}

	var samples []Sample
	for _, game := range gameRounds {
		samples = append(samples, ExtractGameSamples(game.Rounds, game.NumPlayers)...)
	}

	if len(samples) < t.config.MinSamples {
		return fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(samples), t.config.MinSamples)
	}

	labels, encoded := encodeLabels(samples)
	vectors := make([][]float64, len(samples))
	for i, s := range samples {
		vectors[i] = s.Features
	}

	classifier, err := TrainClassifier(vectors, encoded, len(labels), t.config.Classifier)
	if err != nil {
		return fmt.Errorf("failed to train classifier for %s: %w", profileID, err)
	}

	model := &Model{Classifier: classifier, Labels: labels}
	if err := SaveModel(t.modelsDir, profileID, model); err != nil {
		return fmt.Errorf("failed to save model for %s: %w", profileID, err)
	}

	t.logger.Info("trained personal model",
		zap.String("profile_id", profileID),
		zap.Int("games", len(gameRounds)),
		zap.Int("samples", len(samples)),
		zap.Int("labels", len(labels)))

	t.flagProfile(profileID, len(gameRounds))

	return nil
}

// flagProfile records the successful train on the player's AI memory. Any
// failure here is logged and absorbed; the trained artifact stands.
func (t *Trainer) flagProfile(profileID string, gameCount int) {
	p, err := t.profiles.Load(profileID)
	if err != nil {
		t.logger.Warn("failed to load profile after training",
			zap.String("profile_id", profileID),
			zap.Error(err))
		return
	}

	trainedAt := t.now().UTC()
	p.AIMemory.HasPersonalModel = true
	p.AIMemory.ModelTrainedAt = &trainedAt
	p.AIMemory.ModelTrainedOnGames = gameCount

	if err := t.profiles.Save(p); err != nil {
		t.logger.Warn("failed to flag profile after training",
			zap.String("profile_id", profileID),
			zap.Error(err))
	}
}

// encodeLabels assigns class indices in first-seen order and returns the
// ordered label list alongside the encoded labels.
func encodeLabels(samples []Sample) ([]string, []int) {
	index := make(map[string]int)
	var labels []string
	encoded := make([]int, len(samples))

	for i, s := range samples {
		idx, ok := index[s.Label]
		if !ok {
			idx = len(labels)
			index[s.Label] = idx
			labels = append(labels, s.Label)
		}
		encoded[i] = idx
	}

	return labels, encoded
}
