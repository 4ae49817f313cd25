package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternworks/manhunt/internal/config"
	"github.com/lanternworks/manhunt/internal/history"
	"github.com/lanternworks/manhunt/internal/ml"
	"github.com/lanternworks/manhunt/internal/profile"
)

type fakeProfiles struct {
	profiles      map[string]*profile.PlayerProfile
	saved         int
	indexRebuilds int
	deleted       []string
}

func newFakeProfiles(ids ...string) *fakeProfiles {
	f := &fakeProfiles{profiles: make(map[string]*profile.PlayerProfile)}
	for _, id := range ids {
		f.profiles[id] = profile.NewPlayerProfile(id, "Player "+id, time.Now())
	}
	return f
}

func (f *fakeProfiles) Create(name string) (*profile.PlayerProfile, error) {
	p := profile.NewPlayerProfile("new-id", name, time.Now())
	f.profiles[p.ProfileID] = p
	return p, nil
}

func (f *fakeProfiles) Load(id string) (*profile.PlayerProfile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return p, nil
}

func (f *fakeProfiles) Save(p *profile.PlayerProfile) error {
	f.saved++
	f.profiles[p.ProfileID] = p
	return nil
}

func (f *fakeProfiles) Delete(id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.profiles, id)
	return nil
}

func (f *fakeProfiles) List() ([]profile.Summary, error) {
	var summaries []profile.Summary
	for _, p := range f.profiles {
		summaries = append(summaries, p.Summarize())
	}
	return summaries, nil
}

func (f *fakeProfiles) RebuildIndex() error {
	f.indexRebuilds++
	return nil
}

type fakeRepo struct {
	created   []*history.Game
	deleted   []string
	createErr error
}

func (f *fakeRepo) CreateGame(ctx context.Context, game *history.Game) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, game)
	return nil
}

func (f *fakeRepo) CountGamesByProfile(ctx context.Context, profileID string) (int, error) {
	return len(f.created), nil
}

func (f *fakeRepo) GetRoundsByProfile(ctx context.Context, profileID string) ([]history.GameRounds, error) {
	return nil, nil
}

func (f *fakeRepo) DeleteByProfile(ctx context.Context, profileID string) error {
	f.deleted = append(f.deleted, profileID)
	return nil
}

type fakeTrainer struct {
	trained  []string
	trainErr error
	ready    bool
}

func (f *fakeTrainer) ShouldTrain(ctx context.Context, profileID string) (bool, error) {
	return f.ready, nil
}

func (f *fakeTrainer) Train(ctx context.Context, profileID string) error {
	if f.trainErr != nil {
		return f.trainErr
	}
	f.trained = append(f.trained, profileID)
	return nil
}

type fakePredictor struct {
	models      map[string]map[string]float64
	loaded      map[string]bool
	invalidated []string
}

func newFakePredictor() *fakePredictor {
	return &fakePredictor{
		models: make(map[string]map[string]float64),
		loaded: make(map[string]bool),
	}
}

func (f *fakePredictor) Load(profileID string) error {
	if _, ok := f.models[profileID]; !ok {
		return ml.ErrModelNotFound
	}
	f.loaded[profileID] = true
	return nil
}

func (f *fakePredictor) Loaded(profileID string) bool {
	return f.loaded[profileID]
}

func (f *fakePredictor) Predict(profileID string, features []float64) (map[string]float64, error) {
	if !f.loaded[profileID] {
		return nil, ml.ErrModelNotLoaded
	}
	return f.models[profileID], nil
}

func (f *fakePredictor) Invalidate(profileID string) {
	f.invalidated = append(f.invalidated, profileID)
	delete(f.loaded, profileID)
}

type serviceFixture struct {
	profiles  *fakeProfiles
	repo      *fakeRepo
	trainer   *fakeTrainer
	predictor *fakePredictor
	service   *Service
}

func newFixture(profileIDs ...string) *serviceFixture {
	f := &serviceFixture{
		profiles:  newFakeProfiles(profileIDs...),
		repo:      &fakeRepo{},
		trainer:   &fakeTrainer{ready: true},
		predictor: newFakePredictor(),
	}
	training := config.DefaultConfig().Training
	f.service = NewService(f.profiles, f.repo, f.trainer, f.predictor, &training, nil)
	return f
}

func TestRecordCompletedGamePersistsAndAggregates(t *testing.T) {
	f := newFixture("p1")

	summary := &profile.GameSummary{
		GameID:       "g1",
		Outcome:      profile.OutcomeWin,
		FinalScore:   30,
		RoundsPlayed: 3,
		NumOpponents: 3,
	}
	rounds := []history.Round{
		{RoundNumber: 1, Location: "warehouse"},
		{RoundNumber: 2, Location: "basement"},
	}

	err := f.service.RecordCompletedGame(context.Background(), "p1", summary, rounds)
	require.NoError(t, err)

	require.Len(t, f.repo.created, 1)
	game := f.repo.created[0]
	assert.Equal(t, "g1", game.ID)
	assert.Equal(t, 4, game.NumPlayers)
	require.Len(t, game.Players, 1)
	assert.Equal(t, "p1", game.Players[0].ProfileID)
	require.Len(t, game.Rounds, 2)
	assert.Equal(t, "p1", game.Rounds[0].ProfileID)
	assert.Equal(t, "g1", game.Rounds[0].GameID)

	p := f.profiles.profiles["p1"]
	assert.Equal(t, 1, p.Stats.TotalGames)
	assert.Equal(t, 1, p.Stats.Wins)
	assert.Equal(t, 1, f.profiles.saved)
	assert.Equal(t, 1, f.profiles.indexRebuilds)
}

func TestRecordCompletedGameGeneratesGameID(t *testing.T) {
	f := newFixture("p1")

	summary := &profile.GameSummary{Outcome: profile.OutcomeLoss}
	err := f.service.RecordCompletedGame(context.Background(), "p1", summary, nil)
	require.NoError(t, err)

	require.Len(t, f.repo.created, 1)
	assert.NotEmpty(t, f.repo.created[0].ID)
}

func TestRecordCompletedGameUnknownProfile(t *testing.T) {
	f := newFixture()

	err := f.service.RecordCompletedGame(context.Background(), "ghost", &profile.GameSummary{}, nil)
	assert.ErrorIs(t, err, profile.ErrNotFound)
	assert.Empty(t, f.repo.created)
}

func TestRecordCompletedGameStorageErrorSurfaces(t *testing.T) {
	f := newFixture("p1")
	f.repo.createErr = errors.New("disk full")

	err := f.service.RecordCompletedGame(context.Background(), "p1", &profile.GameSummary{}, nil)
	require.Error(t, err)

	// The stored profile is untouched when history persistence fails.
	assert.Equal(t, 0, f.profiles.saved)
	assert.Equal(t, 0, f.profiles.profiles["p1"].Stats.TotalGames)
}

func TestMilestoneTriggersRetrain(t *testing.T) {
	f := newFixture("p1")
	f.profiles.profiles["p1"].Stats.TotalGames = 4
	f.profiles.profiles["p1"].Stats.Losses = 4
	f.profiles.profiles["p1"].Stats.UpdateWinRate()

	// Game 5 lands exactly on the first milestone.
	err := f.service.RecordCompletedGame(context.Background(), "p1", &profile.GameSummary{Outcome: profile.OutcomeLoss}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1"}, f.trainer.trained)
	assert.Contains(t, f.predictor.invalidated, "p1")
}

func TestNonMilestoneDoesNotRetrain(t *testing.T) {
	f := newFixture("p1")
	f.profiles.profiles["p1"].Stats.TotalGames = 5

	// Game 6 sits between milestones.
	err := f.service.RecordCompletedGame(context.Background(), "p1", &profile.GameSummary{Outcome: profile.OutcomeLoss}, nil)
	require.NoError(t, err)

	assert.Empty(t, f.trainer.trained)
}

func TestMilestoneTrainingFailureAbsorbed(t *testing.T) {
	f := newFixture("p1")
	f.profiles.profiles["p1"].Stats.TotalGames = 4
	f.trainer.trainErr = ml.ErrInsufficientData

	err := f.service.RecordCompletedGame(context.Background(), "p1", &profile.GameSummary{Outcome: profile.OutcomeLoss}, nil)

	// The game itself is recorded; only the retrain is deferred.
	require.NoError(t, err)
	assert.Len(t, f.repo.created, 1)
	assert.Equal(t, 5, f.profiles.profiles["p1"].Stats.TotalGames)
}

func TestGetPredictionLazyLoads(t *testing.T) {
	f := newFixture("p1")
	f.predictor.models["p1"] = map[string]float64{"warehouse": 0.7, "basement": 0.3}

	dist, err := f.service.GetPrediction(context.Background(), "p1", make([]float64, ml.FeatureCount))
	require.NoError(t, err)
	assert.Equal(t, 0.7, dist["warehouse"])
	assert.True(t, f.predictor.Loaded("p1"))
}

func TestGetPredictionWithoutModel(t *testing.T) {
	f := newFixture("p1")

	_, err := f.service.GetPrediction(context.Background(), "p1", make([]float64, ml.FeatureCount))
	assert.ErrorIs(t, err, ErrPredictionUnavailable)
}

func TestGetModelStatus(t *testing.T) {
	f := newFixture("p1")

	status, err := f.service.GetModelStatus(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, status.Trained)
	assert.Equal(t, 0, status.TrainedOnGames)

	trainedAt := time.Now()
	f.profiles.profiles["p1"].AIMemory.HasPersonalModel = true
	f.profiles.profiles["p1"].AIMemory.ModelTrainedAt = &trainedAt
	f.profiles.profiles["p1"].AIMemory.ModelTrainedOnGames = 10

	status, err = f.service.GetModelStatus(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, status.Trained)
	assert.Equal(t, 10, status.TrainedOnGames)
}

func TestTrainPlayerBelowFloor(t *testing.T) {
	f := newFixture("p1")
	f.trainer.ready = false

	err := f.service.TrainPlayer(context.Background(), "p1")
	assert.ErrorIs(t, err, ml.ErrInsufficientData)
	assert.Empty(t, f.trainer.trained)
}

func TestTrainPlayerInvalidatesCache(t *testing.T) {
	f := newFixture("p1")

	err := f.service.TrainPlayer(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, f.trainer.trained)
	assert.Contains(t, f.predictor.invalidated, "p1")
}

func TestDeleteProfileRemovesEverything(t *testing.T) {
	f := newFixture("p1")
	f.predictor.models["p1"] = map[string]float64{"warehouse": 1}
	require.NoError(t, f.predictor.Load("p1"))

	err := f.service.DeleteProfile(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, []string{"p1"}, f.profiles.deleted)
	assert.Equal(t, []string{"p1"}, f.repo.deleted)
	assert.Contains(t, f.predictor.invalidated, "p1")
	assert.False(t, f.predictor.Loaded("p1"))
}

func TestRegisterPlayer(t *testing.T) {
	f := newFixture()

	p, err := f.service.RegisterPlayer(context.Background(), "Alex")
	require.NoError(t, err)
	assert.Equal(t, "Alex", p.Name)
	assert.Equal(t, 0, p.Stats.TotalGames)
}
