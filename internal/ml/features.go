// Package ml implements the per-player prediction pipeline: feature
// extraction from round history, classifier training, and model serving.
package ml

import (
	"github.com/lanternworks/manhunt/internal/history"
)

// FeatureCount is the fixed length of every feature vector.
const FeatureCount = 12

// defaultPlayersAlive is used when the game loop did not report how many
// players were still alive entering a round.
const defaultPlayersAlive = 2

// Sample is one training example: a feature vector paired with the location
// the player actually chose that round. Labels stay raw strings; numeric
// encoding belongs to the trainer.
type Sample struct {
	Features []float64
	Label    string
}

// ExtractGameSamples converts one player's rounds from a single game into
// training samples. Games with fewer than 2 rounds yield nothing. A round
// only produces a sample when at least one strictly earlier round exists,
// and its features are computed from those earlier rounds alone, so a
// round's own outcome can never leak into its feature vector.
func ExtractGameSamples(rounds []history.Round, playersAlive int) []Sample {
	if len(rounds) < 2 {
		return nil
	}

	samples := make([]Sample, 0, len(rounds)-1)
	for i := 1; i < len(rounds); i++ {
		samples = append(samples, Sample{
			Features: ExtractFeatures(rounds[i], rounds[:i], playersAlive),
			Label:    rounds[i].Location,
		})
	}
	return samples
}

// ExtractFeatures builds the 12-dimensional feature vector for one round
// given the rounds strictly before it. With empty prior history the eight
// history-derived features default to 0.
//
// Feature order:
//  1. points held before this round
//  2. round number (1-based)
//  3. players alive (defaulted to 2 if unknown)
//  4. mean rolled location value over prior rounds
//  5. mean rolled location value over the last <=3 prior rounds
//  6. count of prior rounds in which the player was caught
//  7. catch rate over prior rounds
//  8. distinct locations visited among prior rounds
//  9. frequency of the most-visited prior location
// 10. mean points earned per prior round
// 11. points held before this round divided by the round number
// 12. items held entering this round
func ExtractFeatures(round history.Round, prior []history.Round, playersAlive int) []float64 {
	if playersAlive <= 0 {
		playersAlive = defaultPlayersAlive
	}

	roundNumber := round.RoundNumber
	if roundNumber <= 0 {
		roundNumber = len(prior) + 1
	}

	features := make([]float64, 0, FeatureCount)
	features = append(features,
		float64(round.PointsBefore),
		float64(roundNumber),
		float64(playersAlive),
	)

	if len(prior) > 0 {
		n := float64(len(prior))

		valueSum := 0
		for _, r := range prior {
			valueSum += r.LocationValue
		}
		features = append(features, float64(valueSum)/n)

		recent := prior
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		recentSum := 0
		for _, r := range recent {
			recentSum += r.LocationValue
		}
		features = append(features, float64(recentSum)/float64(len(recent)))

		caught := 0
		for _, r := range prior {
			if r.Caught {
				caught++
			}
		}
		features = append(features, float64(caught), float64(caught)/n)

		locationCounts := make(map[string]int, len(prior))
		for _, r := range prior {
			locationCounts[r.Location]++
		}
		maxCount := 0
		for _, count := range locationCounts {
			if count > maxCount {
				maxCount = count
			}
		}
		features = append(features, float64(len(locationCounts)), float64(maxCount))

		earnedSum := 0
		for _, r := range prior {
			earnedSum += r.PointsEarned
		}
		features = append(features, float64(earnedSum)/n)

		features = append(features, float64(round.PointsBefore)/float64(roundNumber))
	} else {
		features = append(features, 0, 0, 0, 0, 0, 0, 0, 0)
	}

	features = append(features, float64(round.ItemsHeld))

	return features
}
