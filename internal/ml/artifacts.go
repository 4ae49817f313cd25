package ml

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrModelNotFound is returned when no trained artifact exists for a
	// player. Always recoverable; the player simply has no personal model
	// yet.
	ErrModelNotFound = errors.New("personal model not found")

	// ErrCorruptArtifact is returned when a stored classifier and its label
	// mapping cannot be deserialized or disagree with each other.
	ErrCorruptArtifact = errors.New("corrupt model artifact")
)

// Model pairs a trained classifier with the ordered label list it was
// trained on. The classifier's class indices are meaningless without the
// labels, so the two are always persisted and loaded together.
type Model struct {
	Classifier *Classifier
	Labels     []string
}

// Predict maps a feature vector to a probability per trained label. Every
// label the model was trained on appears in the output, including those
// assigned (near) zero probability.
func (m *Model) Predict(features []float64) (map[string]float64, error) {
	probs, err := m.Classifier.PredictProba(features)
	if err != nil {
		return nil, err
	}

	dist := make(map[string]float64, len(m.Labels))
	for i, label := range m.Labels {
		dist[label] = probs[i]
	}
	return dist, nil
}

func modelPath(dir, profileID string) string {
	return filepath.Join(dir, profileID+"_model.gob")
}

func labelsPath(dir, profileID string) string {
	return filepath.Join(dir, profileID+"_labels.json")
}

// SaveModel serializes both artifact blobs, staging each through a temp file
// so a retrain replaces the previous artifact wholesale or not at all.
func SaveModel(dir, profileID string, m *Model) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.Classifier); err != nil {
		return fmt.Errorf("failed to encode classifier: %w", err)
	}
	if err := writeFileAtomic(modelPath(dir, profileID), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write classifier artifact: %w", err)
	}

	labelData, err := json.Marshal(m.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode label mapping: %w", err)
	}
	if err := writeFileAtomic(labelsPath(dir, profileID), labelData); err != nil {
		return fmt.Errorf("failed to write label mapping: %w", err)
	}

	return nil
}

// LoadModel deserializes a player's artifact pair. Both blobs must exist and
// be mutually consistent: the label count has to match the classifier's
// class count. Any decode or consistency failure is ErrCorruptArtifact;
// missing files are ErrModelNotFound.
func LoadModel(dir, profileID string) (*Model, error) {
	modelData, err := os.ReadFile(modelPath(dir, profileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to read classifier artifact: %w", err)
	}

	labelData, err := os.ReadFile(labelsPath(dir, profileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to read label mapping: %w", err)
	}

	var classifier Classifier
	if err := gob.NewDecoder(bytes.NewReader(modelData)).Decode(&classifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}

	var labels []string
	if err := json.Unmarshal(labelData, &labels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}

	if len(labels) != classifier.NumClasses {
		return nil, fmt.Errorf("%w: %d labels for %d classes", ErrCorruptArtifact, len(labels), classifier.NumClasses)
	}

	return &Model{Classifier: &classifier, Labels: labels}, nil
}

// DeleteModel removes a player's artifacts. Missing files are not an error.
func DeleteModel(dir, profileID string) error {
	for _, path := range []string{modelPath(dir, profileID), labelsPath(dir, profileID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete artifact %s: %w", path, err)
		}
	}
	return nil
}

// ModelExists reports whether both artifact files are present.
func ModelExists(dir, profileID string) bool {
	if _, err := os.Stat(modelPath(dir, profileID)); err != nil {
		return false
	}
	if _, err := os.Stat(labelsPath(dir, profileID)); err != nil {
		return false
	}
	return true
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
