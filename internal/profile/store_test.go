package profile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestStoreCreateAndLoad(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create("Alex")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ProfileID == "" {
		t.Fatal("Create() returned empty profile ID")
	}

	loaded, err := s.Load(created.ProfileID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Name != "Alex" {
		t.Errorf("Name = %q, want %q", loaded.Name, "Alex")
	}
	if loaded.Behavioral.FavoriteLocation != "Unknown" {
		t.Errorf("FavoriteLocation = %q, want default %q", loaded.Behavioral.FavoriteLocation, "Unknown")
	}
	if loaded.Behavioral.PredictabilityScore != 0.5 {
		t.Errorf("PredictabilityScore = %v, want default 0.5", loaded.Behavioral.PredictabilityScore)
	}
	if loaded.Hiding.RiskProfileWhenCaught != RiskBalanced {
		t.Errorf("RiskProfileWhenCaught = %q, want default %q", loaded.Hiding.RiskProfileWhenCaught, RiskBalanced)
	}
}

func TestStoreLoadNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestStoreSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Create("Alex")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ApplyGame(p, &GameSummary{
		GameID:          "g1",
		Outcome:         OutcomeWin,
		FinalScore:      30,
		LocationsChosen: []string{"warehouse", "warehouse", "basement"},
	}, time.Now().UTC())

	if err := s.Save(p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load(p.ProfileID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Stats.TotalGames != 1 || loaded.Stats.Wins != 1 {
		t.Errorf("stats = %d games / %d wins, want 1/1", loaded.Stats.TotalGames, loaded.Stats.Wins)
	}
	if loaded.Behavioral.LocationFrequencies["warehouse"] != 2 {
		t.Errorf("warehouse frequency = %d, want 2", loaded.Behavioral.LocationFrequencies["warehouse"])
	}
	if loaded.Behavioral.FavoriteLocation != "warehouse" {
		t.Errorf("FavoriteLocation = %q, want %q", loaded.Behavioral.FavoriteLocation, "warehouse")
	}
}

func TestStoreIndexRebuild(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("Alex"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := s.Create("Brook"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), indexFileName))
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}

	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing index: %v", err)
	}

	if doc.TotalProfiles != 2 || len(doc.Profiles) != 2 {
		t.Errorf("index has %d/%d profiles, want 2/2", doc.TotalProfiles, len(doc.Profiles))
	}
	if doc.LastUpdated.IsZero() {
		t.Error("index LastUpdated is zero")
	}
}

func TestStoreDeleteRemovesModelArtifacts(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Create("Alex")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	other, err := s.Create("Brook")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	artifacts := []string{
		p.ProfileID + "_model.gob",
		p.ProfileID + "_labels.json",
		other.ProfileID + "_model.gob",
	}
	for _, name := range artifacts {
		if err := os.WriteFile(filepath.Join(s.ModelsDir(), name), []byte("x"), 0o644); err != nil {
			t.Fatalf("writing artifact: %v", err)
		}
	}

	if err := s.Delete(p.ProfileID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := s.Load(p.ProfileID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after delete error = %v, want ErrNotFound", err)
	}
	for _, name := range artifacts[:2] {
		if _, err := os.Stat(filepath.Join(s.ModelsDir(), name)); !os.IsNotExist(err) {
			t.Errorf("artifact %s still exists after delete", name)
		}
	}
	// The other player's artifact is untouched.
	if _, err := os.Stat(filepath.Join(s.ModelsDir(), artifacts[2])); err != nil {
		t.Errorf("unrelated artifact removed: %v", err)
	}
}

func TestStoreDeleteMissingProfile(t *testing.T) {
	s := newTestStore(t)

	if err := s.Delete("missing"); err != nil {
		t.Errorf("Delete() of missing profile error = %v, want nil", err)
	}
}

func TestStoreListSortedByLastPlayed(t *testing.T) {
	s := newTestStore(t)

	older, err := s.Create("Older")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	newer, err := s.Create("Newer")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	older.LastPlayed = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer.LastPlayed = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Save(older); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(newer); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	summaries, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List() returned %d summaries, want 2", len(summaries))
	}
	if summaries[0].Name != "Newer" {
		t.Errorf("first summary = %q, want most recently played", summaries[0].Name)
	}
}

// Documents written by older builds load through the forward migration:
// renamed keys move, removed keys drop, missing sections keep defaults.
func TestLoadLegacySchemaDocument(t *testing.T) {
	s := newTestStore(t)

	legacy := `{
		"profile_id": "legacy-1",
		"name": "Casey",
		"stats": {"total_games": 6, "wins": 3, "losses": 3, "win_rate": 0.5},
		"achievements": ["first_win", "escape_artist"],
		"hiding_stats": {
			"hide_attempts": 4,
			"run_attempts": 2,
			"favorite_hiding_spots": {"closet": 3, "attic": 1},
			"ai_detection_rate_by_spot": {"closet": 0.8}
		}
	}`
	if err := os.WriteFile(filepath.Join(s.Dir(), "legacy-1.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("writing legacy document: %v", err)
	}

	p, err := s.Load("legacy-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if p.Hiding.FavoriteEscapeOptions["closet"] != 3 {
		t.Errorf("FavoriteEscapeOptions[closet] = %d, want 3 (migrated from favorite_hiding_spots)",
			p.Hiding.FavoriteEscapeOptions["closet"])
	}
	if p.Hiding.HideAttempts != 4 {
		t.Errorf("HideAttempts = %d, want 4", p.Hiding.HideAttempts)
	}
	if p.Behavioral.FavoriteLocation != "Unknown" {
		t.Errorf("missing behavioral section should keep defaults, FavoriteLocation = %q", p.Behavioral.FavoriteLocation)
	}
	if p.Behavioral.LocationFrequencies == nil || p.MatchHistory == nil {
		t.Error("maps and slices must be non-nil after migration")
	}

	// A re-save must not resurrect dropped legacy keys.
	if err := s.Save(p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), "legacy-1.json"))
	if err != nil {
		t.Fatalf("reading re-saved document: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("parsing re-saved document: %v", err)
	}
	if _, ok := raw["achievements"]; ok {
		t.Error("re-saved document still contains deprecated achievements key")
	}
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Create("Alex")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Save(p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("reading store dir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}
