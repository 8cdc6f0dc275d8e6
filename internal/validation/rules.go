// Package validation provides semantic dataset validation.
//
// Each dataset carries a semantic rule: required field names, a minimum
// record count, and an optional season window. The validator classifies a
// proposed record batch as valid, invalid, or unavailable; the caller (the
// ingestion orchestrator) decides what that means for serving.
package validation

import (
	"errors"
	"sync"
	"time"
)

// ErrNoRuleDefined is returned when no semantic rule exists for a dataset.
var ErrNoRuleDefined = errors.New("no semantic rule defined for dataset")

// SeasonWindow is an inclusive month range. Windows may wrap the year
// boundary (e.g. August through January).
type SeasonWindow struct {
	StartMonth time.Month
	EndMonth   time.Month
}

// Contains reports whether the given time falls inside the window.
// Wrap-around windows compare against the month ordinal on both sides of
// the year boundary.
func (w SeasonWindow) Contains(t time.Time) bool {
	month := t.Month()

	if w.StartMonth <= w.EndMonth {
		return month >= w.StartMonth && month <= w.EndMonth
	}

	// Wrap-around window, e.g. Aug-Jan: inside when at or after the start
	// or at or before the end.
	return month >= w.StartMonth || month <= w.EndMonth
}

// Rule is the semantic contract for one dataset.
type Rule struct {
	RequiredFields []string
	MinRecordCount int
	Season         *SeasonWindow
}

// builtinTypeRules are the process-local default rules per dataset type.
// A dataset inherits its type's template when no overlay entry overrides it.
var builtinTypeRules = map[string]Rule{
	"rankings": {
		RequiredFields: []string{"team", "rank"},
		MinRecordCount: 25,
		Season:         &SeasonWindow{StartMonth: time.November, EndMonth: time.April},
	},
	"standings": {
		RequiredFields: []string{"team", "wins", "losses"},
		MinRecordCount: 10,
		Season:         &SeasonWindow{StartMonth: time.November, EndMonth: time.April},
	},
	"schedule": {
		RequiredFields: []string{"home_team", "away_team", "start_time"},
		MinRecordCount: 1,
	},
	"results": {
		RequiredFields: []string{"home_team", "away_team", "home_score", "away_score"},
		MinRecordCount: 1,
		Season:         &SeasonWindow{StartMonth: time.November, EndMonth: time.April},
	},
	"stats": {
		RequiredFields: []string{"team"},
		MinRecordCount: 5,
	},
	"odds": {
		RequiredFields: []string{"home_team", "away_team", "line"},
		MinRecordCount: 1,
		Season:         &SeasonWindow{StartMonth: time.November, EndMonth: time.April},
	},
	"projections": {
		RequiredFields: []string{"team", "projection"},
		MinRecordCount: 5,
	},
}

// Ruleset is a thread-safe rule table keyed by dataset ID.
type Ruleset struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRuleset creates an empty ruleset.
func NewRuleset() *Ruleset {
	return &Ruleset{rules: make(map[string]Rule)}
}

// Set installs or replaces the rule for a dataset.
func (rs *Ruleset) Set(datasetID string, rule Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.rules[datasetID] = rule
}

// Resolve returns the rule for a dataset.
func (rs *Ruleset) Resolve(datasetID string) (Rule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rule, ok := rs.rules[datasetID]

	return rule, ok
}

// RegisterDefaults installs the built-in template for the dataset's type
// unless a rule is already present. Returns false when the type has no
// built-in template.
func (rs *Ruleset) RegisterDefaults(datasetID, datasetType string) bool {
	template, ok := builtinTypeRules[datasetType]
	if !ok {
		return false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.rules[datasetID]; !exists {
		rs.rules[datasetID] = template
	}

	return true
}

// ApplyOverlay installs overlay rules on top of whatever is registered.
// Overlay entries always win over built-in templates.
func (rs *Ruleset) ApplyOverlay(cfg *Config) {
	if cfg == nil {
		return
	}

	for datasetID, entry := range cfg.SemanticRules {
		rule := Rule{
			RequiredFields: entry.RequiredFields,
			MinRecordCount: entry.MinRecordCount,
		}

		if entry.SeasonStartMonth != 0 && entry.SeasonEndMonth != 0 {
			rule.Season = &SeasonWindow{
				StartMonth: time.Month(entry.SeasonStartMonth),
				EndMonth:   time.Month(entry.SeasonEndMonth),
			}
		}

		rs.Set(datasetID, rule)
	}
}
