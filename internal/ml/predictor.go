package ml

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrModelNotLoaded is returned when Predict is called without a loaded
// model. This is a caller-contract violation, not a data error: callers must
// check Load (or ShouldTrain) first.
var ErrModelNotLoaded = errors.New("model not loaded")

// Predictor serves predictions from trained per-player models. Models load
// lazily and are cached; a retrain that overwrites the on-disk artifact
// invalidates the cached copy via the directory watcher.
type Predictor struct {
	modelsDir string
	logger    *zap.Logger

	mu     sync.RWMutex
	models map[string]*Model

	watcher *fsnotify.Watcher
	// reloadLimiter coalesces eager reloads when a retrain writes the
	// model and label files back to back.
	reloadLimiter *rate.Limiter
	done          chan struct{}
}

// NewPredictor creates a predictor reading artifacts from modelsDir.
func NewPredictor(modelsDir string, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{
		modelsDir:     modelsDir,
		logger:        logger,
		models:        make(map[string]*Model),
		reloadLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Load attempts to deserialize a player's model into the cache. Absent
// artifacts return ErrModelNotFound. A corrupt artifact self-heals: the
// broken files are removed, the failure is logged, and the player is back
// in the no-model state without crashing the caller.
func (p *Predictor) Load(profileID string) error {
	model, err := LoadModel(p.modelsDir, profileID)
	if err != nil {
		if errors.Is(err, ErrCorruptArtifact) {
			p.logger.Warn("removing corrupt model artifact",
				zap.String("profile_id", profileID),
				zap.Error(err))
			if delErr := DeleteModel(p.modelsDir, profileID); delErr != nil {
				p.logger.Warn("failed to remove corrupt artifact",
					zap.String("profile_id", profileID),
					zap.Error(delErr))
			}
			p.Invalidate(profileID)
			return ErrModelNotFound
		}
		return err
	}

	p.mu.Lock()
	p.models[profileID] = model
	p.mu.Unlock()

	return nil
}

// Loaded reports whether a player's model is currently cached.
func (p *Predictor) Loaded(profileID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.models[profileID]
	return ok
}

// Predict maps a feature vector to a probability distribution over the
// locations the player's model was trained on. The model must have been
// loaded first; otherwise ErrModelNotLoaded is returned.
func (p *Predictor) Predict(profileID string, features []float64) (map[string]float64, error) {
	p.mu.RLock()
	model, ok := p.models[profileID]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: profile %s", ErrModelNotLoaded, profileID)
	}

	return model.Predict(features)
}

// Invalidate drops a player's cached model. The next Load reads from disk.
func (p *Predictor) Invalidate(profileID string) {
	p.mu.Lock()
	delete(p.models, profileID)
	p.mu.Unlock()
}

// Watch starts a filesystem watcher on the models directory. When a retrain
// overwrites a player's artifact the cached model is dropped and, subject to
// the reload limiter, eagerly reloaded so the next prediction sees the new
// model without a disk round trip.
func (p *Predictor) Watch() error {
	if p.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create artifact watcher: %w", err)
	}
	if err := watcher.Add(p.modelsDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch models directory: %w", err)
	}

	p.watcher = watcher
	p.done = make(chan struct{})

	go p.watchLoop()

	return nil
}

func (p *Predictor) watchLoop() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			profileID, recognized := artifactProfileID(event.Name)
			if !recognized {
				continue
			}

			p.mu.RLock()
			_, cached := p.models[profileID]
			p.mu.RUnlock()
			if !cached {
				continue
			}

			p.Invalidate(profileID)
			p.logger.Debug("invalidated cached model",
				zap.String("profile_id", profileID),
				zap.String("event", event.Op.String()))

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				continue
			}
			if p.reloadLimiter.Allow() {
				if err := p.Load(profileID); err != nil && !errors.Is(err, ErrModelNotFound) {
					p.logger.Warn("failed to reload model after change",
						zap.String("profile_id", profileID),
						zap.Error(err))
				}
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher, if running.
func (p *Predictor) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

// artifactProfileID extracts the profile id from an artifact filename.
func artifactProfileID(path string) (string, bool) {
	name := filepath.Base(path)
	for _, suffix := range []string{"_model.gob", "_labels.json"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}
