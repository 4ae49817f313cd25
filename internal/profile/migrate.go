package profile

import (
	"encoding/json"
	"fmt"
	"time"
)

// Deprecated document keys dropped silently on load.
var deprecatedKeys = []string{"achievements"}

// decodeDocument deserializes a profile document, upgrading older on-disk
// schemas in the process. Unknown and deprecated fields are dropped; missing
// fields keep their defaults. This is a forward-migration contract: an old
// document never fails to load because of schema drift.
func decodeDocument(data []byte) (*PlayerProfile, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profile document: %w", err)
	}

	for _, key := range deprecatedKeys {
		delete(doc, key)
	}

	if raw, ok := doc["hiding_stats"]; ok {
		migrated, err := migrateHidingStats(raw)
		if err != nil {
			return nil, err
		}
		doc["hiding_stats"] = migrated
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode profile document: %w", err)
	}

	// Unmarshal over a fully defaulted profile so missing fields keep their
	// default values instead of going zero.
	p := NewPlayerProfile("", "", time.Time{})
	if err := json.Unmarshal(merged, p); err != nil {
		return nil, fmt.Errorf("failed to decode profile document: %w", err)
	}

	if p.Behavioral.LocationFrequencies == nil {
		p.Behavioral.LocationFrequencies = make(map[string]int)
	}
	if p.Behavioral.ItemUsage == nil {
		p.Behavioral.ItemUsage = make(map[string]int)
	}
	if p.Hiding.FavoriteEscapeOptions == nil {
		p.Hiding.FavoriteEscapeOptions = make(map[string]int)
	}
	if p.Hiding.EscapeOptionHistory == nil {
		p.Hiding.EscapeOptionHistory = []string{}
	}
	if p.MatchHistory == nil {
		p.MatchHistory = []MatchHistoryEntry{}
	}

	return p, nil
}

// migrateHidingStats upgrades the hiding-stats sub-document: the legacy
// favorite_hiding_spots key becomes favorite_escape_options, and the removed
// per-spot detection-rate map is dropped.
func migrateHidingStats(raw json.RawMessage) (json.RawMessage, error) {
	var sub map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse hiding stats: %w", err)
	}

	if legacy, ok := sub["favorite_hiding_spots"]; ok {
		if _, exists := sub["favorite_escape_options"]; !exists {
			sub["favorite_escape_options"] = legacy
		}
		delete(sub, "favorite_hiding_spots")
	}
	delete(sub, "ai_detection_rate_by_spot")

	return json.Marshal(sub)
}
