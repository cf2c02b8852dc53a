package pipeline

import (
	"log/slog"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/lorekeep/retrieval/internal/config"
)

// Expander widens a query with lexicon synonyms and extracted entities
// before retrieval. The expanded text is used only for the search
// calls; reranking and explanation always see the original query.
//
// Expansion never fails the pipeline: any internal problem falls back
// to the unexpanded query.
type Expander struct {
	enabled     bool
	maxSynonyms int
	synonyms    map[string][]string
}

// defaultSynonyms is the built-in lexicon, keyed by lowercase term.
var defaultSynonyms = map[string][]string{
	"cat":      {"feline", "kitten"},
	"cats":     {"felines", "kittens"},
	"feline":   {"cat"},
	"felines":  {"cats"},
	"dog":      {"canine", "puppy"},
	"dogs":     {"canines", "puppies"},
	"canine":   {"dog"},
	"car":      {"automobile", "vehicle"},
	"cars":     {"automobiles", "vehicles"},
	"pet":      {"companion animal"},
	"pets":     {"companion animals"},
	"error":    {"failure", "fault"},
	"fix":      {"repair", "resolve"},
	"setup":    {"configuration", "install"},
	"delete":   {"remove"},
	"create":   {"add", "new"},
	"bill":     {"invoice"},
	"billing":  {"invoicing", "payments"},
	"login":    {"sign in", "authentication"},
	"password": {"credential"},
}

// NewExpander creates an expander from configuration. A configured
// synonyms file replaces the built-in lexicon; a load failure keeps
// the built-in one.
func NewExpander(cfg config.ExpansionConfig) *Expander {
	e := &Expander{
		enabled:     cfg.Enabled,
		maxSynonyms: cfg.MaxSynonyms,
		synonyms:    defaultSynonyms,
	}
	if cfg.SynonymsPath != "" {
		if loaded, err := loadSynonyms(cfg.SynonymsPath); err != nil {
			slog.Warn("synonyms_load_failed",
				slog.String("path", cfg.SynonymsPath),
				slog.String("error", err.Error()))
		} else {
			e.synonyms = loaded
		}
	}
	return e
}

// loadSynonyms reads a YAML map of term -> synonym list.
func loadSynonyms(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := make(map[string][]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	lexicon := make(map[string][]string, len(raw))
	for term, syns := range raw {
		lexicon[strings.ToLower(term)] = syns
	}
	return lexicon, nil
}

// Expand returns the query widened with synonyms and entities.
// The original word order is preserved; additions are appended so the
// sparse channel still sees the verbatim terms first.
func (e *Expander) Expand(query string) string {
	if !e.enabled {
		return query
	}

	var additions []string
	seen := make(map[string]struct{})

	for _, word := range strings.Fields(query) {
		term := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))
		syns, ok := e.synonyms[term]
		if !ok {
			continue
		}
		n := len(syns)
		if e.maxSynonyms > 0 && n > e.maxSynonyms {
			n = e.maxSynonyms
		}
		for _, syn := range syns[:n] {
			if _, dup := seen[syn]; dup {
				continue
			}
			seen[syn] = struct{}{}
			additions = append(additions, syn)
		}
	}

	for _, entity := range extractEntities(query) {
		if _, dup := seen[entity]; dup {
			continue
		}
		seen[entity] = struct{}{}
		additions = append(additions, entity)
	}

	if len(additions) == 0 {
		return query
	}
	return query + " " + strings.Join(additions, " ")
}

// extractEntities pulls runs of capitalized words (skipping a leading
// sentence capital) as probable named entities.
func extractEntities(query string) []string {
	words := strings.Fields(query)
	var entities []string
	var run []string

	flush := func() {
		// Single capitalized word at position 0 is just sentence case.
		if len(run) >= 2 {
			entities = append(entities, strings.ToLower(strings.Join(run, " ")))
		}
		run = nil
	}

	for _, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if trimmed == "" {
			flush()
			continue
		}
		first := []rune(trimmed)[0]
		if unicode.IsUpper(first) {
			run = append(run, trimmed)
		} else {
			flush()
		}
	}
	flush()
	return entities
}
