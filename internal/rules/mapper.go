// Package rules implements the deterministic, AI-free field mapper used
// whenever the AI provider is unavailable, slow, or low-confidence.
package rules

import (
	"go.uber.org/zap"

	"github.com/tablestack/posmigrate/internal/model"
)

const (
	// ConfidenceExact is assigned to case-insensitive exact name matches.
	ConfidenceExact = 1.0
	// ConfidenceSynonym is assigned to known vendor synonym matches.
	ConfidenceSynonym = 0.8
	// FuzzyThreshold is the minimum Jaccard similarity for a fuzzy match.
	FuzzyThreshold = 0.5
)

// Mapper produces field mapping suggestions without any AI involvement.
type Mapper struct {
	synonyms *SynonymTable
}

// NewMapper creates a Mapper using the given synonym table. A nil table
// falls back to the embedded defaults.
func NewMapper(synonyms *SynonymTable) *Mapper {
	if synonyms == nil {
		synonyms, _ = LoadDefaultSynonyms()
	}
	return &Mapper{synonyms: synonyms}
}

// Suggest maps source fields onto target fields using three passes:
// exact normalized match (1.0), vendor synonym table (0.8), then Jaccard
// similarity above FuzzyThreshold (confidence = similarity).
//
// Each target field is claimed by at most one source field. Source fields
// are visited in input order and the first claim wins; within the fuzzy
// pass a source field takes its highest-scoring unclaimed target, with
// equal scores broken by target input order. The tie-break is
// first-encountered-wins and is deliberately deterministic.
func (m *Mapper) Suggest(sourceFields, targetFields []string) []model.MappingSuggestion {
	normTargets := make([]string, len(targetFields))
	targetByNorm := make(map[string]string, len(targetFields))
	for i, t := range targetFields {
		normTargets[i] = Normalize(t)
		targetByNorm[normTargets[i]] = t
	}

	claimed := make(map[string]bool, len(targetFields))
	var out []model.MappingSuggestion

	claim := func(source, target string, conf float64, src model.MappingSource) {
		claimed[target] = true
		out = append(out, model.MappingSuggestion{
			SourceField: source,
			TargetField: target,
			Confidence:  model.ClampConfidence(conf),
			Transform:   transformFor(source, target),
			Source:      src,
		})
	}

	// Pass 1: exact normalized matches.
	remaining := make([]string, 0, len(sourceFields))
	for _, s := range sourceFields {
		if t, ok := targetByNorm[Normalize(s)]; ok && !claimed[t] {
			claim(s, t, ConfidenceExact, model.MappingSourceExact)
			continue
		}
		remaining = append(remaining, s)
	}

	// Pass 2: vendor synonym table.
	var fuzzyCandidates []string
	for _, s := range remaining {
		target := m.synonyms.TargetFor(s)
		if target == "" {
			fuzzyCandidates = append(fuzzyCandidates, s)
			continue
		}
		if t, ok := targetByNorm[Normalize(target)]; ok && !claimed[t] {
			claim(s, t, ConfidenceSynonym, model.MappingSourceSynonym)
			continue
		}
		fuzzyCandidates = append(fuzzyCandidates, s)
	}

	// Pass 3: Jaccard similarity over the still-unclaimed targets.
	for _, s := range fuzzyCandidates {
		normSource := Normalize(s)
		best := ""
		bestScore := 0.0
		for i, t := range targetFields {
			if claimed[t] {
				continue
			}
			score := Jaccard(normSource, normTargets[i])
			if score > bestScore {
				best = t
				bestScore = score
			}
		}
		if best != "" && bestScore >= FuzzyThreshold {
			claim(s, best, bestScore, model.MappingSourceFuzzy)
		} else {
			zap.L().Debug("rules: no mapping for source field",
				zap.String("source_field", s),
				zap.Float64("best_score", bestScore),
			)
		}
	}

	return out
}

// transformFor picks the transformation kind implied by a name pair.
func transformFor(source, target string) model.TransformKind {
	if Normalize(source) == Normalize(target) {
		return model.TransformDirect
	}
	return model.TransformRename
}
