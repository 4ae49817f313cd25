package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested profile does not exist. It is a
// normal, recoverable outcome, never fatal.
var ErrNotFound = errors.New("profile not found")

const indexFileName = "profiles_index.json"

// Store persists one JSON document per player profile plus a denormalized
// index document. It is the only component permitted to write profile
// records; the aggregator mutates values, the store persists them.
type Store struct {
	dir       string
	modelsDir string
	logger    *zap.Logger

	now func() time.Time
}

// NewStore creates a profile store rooted at dir. Model artifacts live in a
// subdirectory so profile deletion can remove them alongside the record.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		dir:       dir,
		modelsDir: filepath.Join(dir, "ai_models"),
		logger:    logger,
		now:       time.Now,
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profiles directory: %w", err)
	}
	if err := os.MkdirAll(s.modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	return s, nil
}

// Dir returns the directory holding profile documents.
func (s *Store) Dir() string {
	return s.dir
}

// ModelsDir returns the directory holding trained model artifacts.
func (s *Store) ModelsDir() string {
	return s.modelsDir
}

// Create generates a new profile with a fresh id, persists it, and updates
// the index.
func (s *Store) Create(name string) (*PlayerProfile, error) {
	p := NewPlayerProfile(uuid.NewString(), name, s.now().UTC())

	if err := s.Save(p); err != nil {
		return nil, err
	}
	if err := s.RebuildIndex(); err != nil {
		return nil, err
	}

	return p, nil
}

// Load reads and deserializes a profile document, applying schema migration
// for older documents. Absent profiles return ErrNotFound.
func (s *Store) Load(id string) (*PlayerProfile, error) {
	data, err := os.ReadFile(s.profilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read profile %s: %w", id, err)
	}

	p, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", id, err)
	}

	return p, nil
}

// Save writes the profile document as indented JSON. The write is a full
// idempotent overwrite, staged through a temp file so a crash never leaves a
// half-written record.
func (s *Store) Save(p *PlayerProfile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", p.ProfileID, err)
	}

	path := s.profilePath(p.ProfileID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write profile %s: %w", p.ProfileID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace profile %s: %w", p.ProfileID, err)
	}

	return nil
}

// Delete removes a profile record and any trained-model artifacts belonging
// to it, then updates the index. Missing records are not an error.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.profilePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}

	entries, err := os.ReadDir(s.modelsDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read models directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), id+"_") {
			continue
		}
		if err := os.Remove(filepath.Join(s.modelsDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete model artifact %s: %w", entry.Name(), err)
		}
	}

	return s.RebuildIndex()
}

// List returns one summary per stored profile, sorted by last-played
// descending. Unreadable documents are skipped with a warning rather than
// failing the whole listing.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || name == indexFileName {
			continue
		}

		id := strings.TrimSuffix(name, ".json")
		p, err := s.Load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable profile",
				zap.String("profile_id", id),
				zap.Error(err))
			continue
		}
		summaries = append(summaries, p.Summarize())
	}

	SortSummaries(summaries)
	return summaries, nil
}

// indexDocument is the denormalized index written next to the profile
// records. It is a rebuildable cache, never the source of truth.
type indexDocument struct {
	LastUpdated   time.Time `json:"last_updated"`
	TotalProfiles int       `json:"total_profiles"`
	Profiles      []Summary `json:"profiles"`
}

// RebuildIndex recomputes the index document from the full set of profile
// records. It runs after every mutating operation so the index never drifts.
func (s *Store) RebuildIndex() error {
	summaries, err := s.List()
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}

	doc := indexDocument{
		LastUpdated:   s.now().UTC(),
		TotalProfiles: len(summaries),
		Profiles:      summaries,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	path := filepath.Join(s.dir, indexFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace index: %w", err)
	}

	return nil
}

func (s *Store) profilePath(id string) string {
	return filepath.Join(s.dir, id+".json")
}
