package planner

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the fixed operation vocabulary spec.md's Glossary defines.
// The spec's Open Question on "custom vocabulary" behavior (spec.md §9) is
// resolved here: a vocabulary override file is loadable, but every entry in
// it must already be a member of the fixed set below — an override can
// narrow the vocabulary offered to the planner, never invent operations the
// Executor/Sandbox don't know how to run. See DESIGN.md for the rationale.
var Vocabulary = []string{
	"mean", "sum", "max", "min", "count", "percentage", "std", "unique",
	"median", "mode", "variance", "quantile_25", "quantile_75", "range",
	"first", "last", "missing_count", "missing_percentage", "correlation",
	"group_by", "cross_tab", "pivot_table", "aggregate",
}

// vocabularyFile is the optional on-disk override spec.md §9 leaves
// unspecified; when present next to the process working directory it
// restricts which of the fixed vocabulary entries the planner prompt
// offers.
const vocabularyFile = "vocabulary.yaml"

type vocabularyDoc struct {
	Operations []string `yaml:"operations"`
}

// LoadVocabulary returns the fixed Vocabulary, narrowed to vocabularyFile's
// `operations` list if that file exists and every entry in it is a member
// of Vocabulary. A file naming an operation outside the fixed set is
// rejected wholesale (the fixed vocabulary is used instead) rather than
// silently accepting an operation the Executor/Sandbox cannot run.
func LoadVocabulary() []string {
	raw, err := os.ReadFile(vocabularyFile)
	if err != nil {
		return Vocabulary
	}
	var doc vocabularyDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil || len(doc.Operations) == 0 {
		return Vocabulary
	}
	allowed := make(map[string]bool, len(Vocabulary))
	for _, op := range Vocabulary {
		allowed[op] = true
	}
	for _, op := range doc.Operations {
		if !allowed[op] {
			return Vocabulary
		}
	}
	return doc.Operations
}
