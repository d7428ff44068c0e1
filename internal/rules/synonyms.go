package rules

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed synonyms.yaml
var defaultSynonymsYAML []byte

// SynonymTable maps normalized vendor spellings to canonical target fields.
type SynonymTable struct {
	// toTarget maps a normalized source spelling to its canonical target.
	toTarget map[string]string
}

// LoadDefaultSynonyms parses the embedded vendor synonym table.
func LoadDefaultSynonyms() (*SynonymTable, error) {
	return parseSynonyms(defaultSynonymsYAML)
}

// LoadSynonymsFile reads a synonym table from a YAML file, letting an
// operator extend the built-in table for an unusual vendor.
func LoadSynonymsFile(path string) (*SynonymTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read synonyms %s", path)
	}
	return parseSynonyms(data)
}

func parseSynonyms(data []byte) (*SynonymTable, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "rules: parse synonyms yaml")
	}

	t := &SynonymTable{toTarget: make(map[string]string)}
	for target, sources := range raw {
		for _, s := range sources {
			t.toTarget[Normalize(s)] = target
		}
	}
	return t, nil
}

// Merge overlays another table's entries onto this one. Later entries win.
func (t *SynonymTable) Merge(other *SynonymTable) {
	if other == nil {
		return
	}
	for k, v := range other.toTarget {
		t.toTarget[k] = v
	}
}

// TargetFor returns the canonical target for a source field via the
// synonym table, or "" if the spelling is unknown.
func (t *SynonymTable) TargetFor(sourceField string) string {
	return t.toTarget[Normalize(sourceField)]
}
