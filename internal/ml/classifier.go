package ml

import (
	"fmt"
	"math"
)

// ClassifierConfig holds training hyperparameters. Defaults are tuned for
// the small-sample regime of a single player's history: low learning rate,
// L2 regularization, and early stopping on a held-out tail split.
type ClassifierConfig struct {
	// LearningRate controls the gradient-descent step size.
	LearningRate float64

	// L2Penalty is the weight-decay coefficient.
	L2Penalty float64

	// MaxEpochs bounds the number of full passes over the training set.
	MaxEpochs int

	// Patience is how many epochs validation loss may fail to improve
	// before training stops early.
	Patience int

	// ValidationFraction is the tail share of samples held out for early
	// stopping. With too few samples the split is skipped and training
	// runs to MaxEpochs.
	ValidationFraction float64
}

// DefaultClassifierConfig returns the small-sample defaults.
func DefaultClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{
		LearningRate:       0.05,
		L2Penalty:          0.01,
		MaxEpochs:          500,
		Patience:           20,
		ValidationFraction: 0.2,
	}
}

// Classifier is a multinomial logistic-regression model over a fixed feature
// space. Fields are exported for gob serialization; the label mapping is
// persisted separately and the numeric class indices here are meaningless
// without it.
type Classifier struct {
	NumFeatures int
	NumClasses  int

	// Weights is NumClasses x NumFeatures; Biases is NumClasses.
	Weights [][]float64
	Biases  []float64

	// Per-feature standardization parameters captured at training time.
	FeatureMeans []float64
	FeatureStds  []float64
}

// TrainClassifier fits a softmax classifier on vectors and integer class
// labels in [0, numClasses). Labels must be dense: every class index below
// numClasses should appear at least once for a meaningful fit, but sparse
// classes still receive a weight row and therefore a probability.
func TrainClassifier(vectors [][]float64, labels []int, numClasses int, cfg *ClassifierConfig) (*Classifier, error) {
	if cfg == nil {
		cfg = DefaultClassifierConfig()
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no training vectors")
	}
	if len(vectors) != len(labels) {
		return nil, fmt.Errorf("vector/label count mismatch: %d != %d", len(vectors), len(labels))
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("need at least one class, got %d", numClasses)
	}

	numFeatures := len(vectors[0])
	for i, v := range vectors {
		if len(v) != numFeatures {
			return nil, fmt.Errorf("vector %d has %d features, want %d", i, len(v), numFeatures)
		}
	}
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("label %d out of range at sample %d", label, i)
		}
	}

	c := &Classifier{
		NumFeatures: numFeatures,
		NumClasses:  numClasses,
		Weights:     make([][]float64, numClasses),
		Biases:      make([]float64, numClasses),
	}
	for k := range c.Weights {
		c.Weights[k] = make([]float64, numFeatures)
	}
	c.fitStandardization(vectors)

	scaled := make([][]float64, len(vectors))
	for i, v := range vectors {
		scaled[i] = c.standardize(v)
	}

	// Hold out the tail of the sample sequence for early stopping. The tail
	// is the most recent play, which is also the distribution predictions
	// will face.
	valCount := int(float64(len(scaled)) * cfg.ValidationFraction)
	trainX, trainY := scaled, labels
	var valX [][]float64
	var valY []int
	if valCount >= 2 && len(scaled)-valCount >= numClasses {
		split := len(scaled) - valCount
		trainX, trainY = scaled[:split], labels[:split]
		valX, valY = scaled[split:], labels[split:]
	}

	bestLoss := math.Inf(1)
	sinceBest := 0
	var bestWeights [][]float64
	var bestBiases []float64

	for epoch := 0; epoch < cfg.MaxEpochs; epoch++ {
		c.gradientStep(trainX, trainY, cfg)

		if valX == nil {
			continue
		}
		loss := c.logLoss(valX, valY)
		if loss < bestLoss-1e-6 {
			bestLoss = loss
			sinceBest = 0
			bestWeights = copyMatrix(c.Weights)
			bestBiases = append([]float64(nil), c.Biases...)
		} else {
			sinceBest++
			if sinceBest >= cfg.Patience {
				break
			}
		}
	}

	if bestWeights != nil {
		c.Weights = bestWeights
		c.Biases = bestBiases
	}

	return c, nil
}

// PredictProba returns the class probability distribution for one feature
// vector. Probabilities are non-negative and sum to 1.
func (c *Classifier) PredictProba(features []float64) ([]float64, error) {
	if len(features) != c.NumFeatures {
		return nil, fmt.Errorf("feature vector has %d features, want %d", len(features), c.NumFeatures)
	}
	return c.softmax(c.standardize(features)), nil
}

// fitStandardization captures per-feature mean and standard deviation.
func (c *Classifier) fitStandardization(vectors [][]float64) {
	n := float64(len(vectors))
	c.FeatureMeans = make([]float64, c.NumFeatures)
	c.FeatureStds = make([]float64, c.NumFeatures)

	for _, v := range vectors {
		for j, x := range v {
			c.FeatureMeans[j] += x
		}
	}
	for j := range c.FeatureMeans {
		c.FeatureMeans[j] /= n
	}

	for _, v := range vectors {
		for j, x := range v {
			d := x - c.FeatureMeans[j]
			c.FeatureStds[j] += d * d
		}
	}
	for j := range c.FeatureStds {
		c.FeatureStds[j] = math.Sqrt(c.FeatureStds[j] / n)
		if c.FeatureStds[j] < 1e-9 {
			c.FeatureStds[j] = 1
		}
	}
}

func (c *Classifier) standardize(v []float64) []float64 {
	scaled := make([]float64, len(v))
	for j, x := range v {
		scaled[j] = (x - c.FeatureMeans[j]) / c.FeatureStds[j]
	}
	return scaled
}

// gradientStep performs one full-batch gradient-descent update.
func (c *Classifier) gradientStep(vectors [][]float64, labels []int, cfg *ClassifierConfig) {
	gradW := make([][]float64, c.NumClasses)
	for k := range gradW {
		gradW[k] = make([]float64, c.NumFeatures)
	}
	gradB := make([]float64, c.NumClasses)

	for i, v := range vectors {
		probs := c.softmax(v)
		for k := 0; k < c.NumClasses; k++ {
			diff := probs[k]
			if k == labels[i] {
				diff -= 1
			}
			for j, x := range v {
				gradW[k][j] += diff * x
			}
			gradB[k] += diff
		}
	}

	n := float64(len(vectors))
	for k := 0; k < c.NumClasses; k++ {
		for j := 0; j < c.NumFeatures; j++ {
			grad := gradW[k][j]/n + cfg.L2Penalty*c.Weights[k][j]
			c.Weights[k][j] -= cfg.LearningRate * grad
		}
		c.Biases[k] -= cfg.LearningRate * gradB[k] / n
	}
}

// softmax computes class probabilities for an already standardized vector.
func (c *Classifier) softmax(v []float64) []float64 {
	logits := make([]float64, c.NumClasses)
	maxLogit := math.Inf(-1)
	for k := 0; k < c.NumClasses; k++ {
		z := c.Biases[k]
		for j, x := range v {
			z += c.Weights[k][j] * x
		}
		logits[k] = z
		if z > maxLogit {
			maxLogit = z
		}
	}

	sum := 0.0
	for k, z := range logits {
		logits[k] = math.Exp(z - maxLogit)
		sum += logits[k]
	}
	for k := range logits {
		logits[k] /= sum
	}
	return logits
}

// logLoss computes mean cross-entropy over a labeled set.
func (c *Classifier) logLoss(vectors [][]float64, labels []int) float64 {
	loss := 0.0
	for i, v := range vectors {
		probs := c.softmax(v)
		p := probs[labels[i]]
		if p < 1e-12 {
			p = 1e-12
		}
		loss -= math.Log(p)
	}
	return loss / float64(len(vectors))
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
