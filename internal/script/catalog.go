// Package script holds the per-condition dialogue scripts and the rules that
// map settled turns to report facts.
package script

import (
	_ "embed"
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"preconsult/internal/facts"
)

//go:embed scripts.yaml
var defaultScripts []byte

// Condition is the selectable metadata of a script.
type Condition struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
}

// ConditionScript is the immutable script of one condition.
type ConditionScript struct {
	Condition        Condition
	Turns            []Turn
	Rules            []facts.ExtractionRule
	Missing          []string
	Seeds            map[facts.SectionKey][]string
	UsefulExclusions []facts.SectionKey
}

// LastIndex is the index of the final turn.
func (s ConditionScript) LastIndex() int {
	return len(s.Turns) - 1
}

func (s ConditionScript) clone() ConditionScript {
	c := ConditionScript{
		Condition:        s.Condition,
		Turns:            slices.Clone(s.Turns),
		Rules:            slices.Clone(s.Rules),
		Missing:          slices.Clone(s.Missing),
		UsefulExclusions: slices.Clone(s.UsefulExclusions),
		Seeds:            make(map[facts.SectionKey][]string, len(s.Seeds)),
	}
	for k, v := range s.Seeds {
		c.Seeds[k] = slices.Clone(v)
	}
	return c
}

// Catalog is a read-only registry of condition scripts.
type Catalog struct {
	order   []string
	scripts map[string]ConditionScript
}

type catalogFile struct {
	RecordSeeds      map[facts.SectionKey][]string `yaml:"record_seeds"`
	UsefulExclusions []facts.SectionKey            `yaml:"useful_exclusions"`
	Conditions       []conditionDoc                `yaml:"conditions"`
}

type conditionDoc struct {
	Condition        `yaml:",inline"`
	Turns            []Turn                        `yaml:"turns"`
	Rules            []facts.ExtractionRule        `yaml:"rules"`
	Missing          []string                      `yaml:"missing"`
	Seeds            map[facts.SectionKey][]string `yaml:"seeds"`
	UsefulExclusions []facts.SectionKey            `yaml:"useful_exclusions"`
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(defaultScripts)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(f.Conditions) == 0 {
		return nil, fmt.Errorf("%w: catalog has no conditions", ErrInvalidScript)
	}

	exclusions := f.UsefulExclusions
	if exclusions == nil {
		exclusions = facts.DefaultUsefulExclusions
	}

	c := &Catalog{scripts: make(map[string]ConditionScript, len(f.Conditions))}
	for _, doc := range f.Conditions {
		s := ConditionScript{
			Condition:        doc.Condition,
			Turns:            doc.Turns,
			Rules:            doc.Rules,
			Missing:          doc.Missing,
			Seeds:            doc.Seeds,
			UsefulExclusions: doc.UsefulExclusions,
		}
		if s.Seeds == nil {
			s.Seeds = f.RecordSeeds
		}
		if s.UsefulExclusions == nil {
			s.UsefulExclusions = exclusions
		}
		if err := validate(s); err != nil {
			return nil, err
		}
		if _, dup := c.scripts[s.Condition.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate condition %q", ErrInvalidScript, s.Condition.ID)
		}
		c.order = append(c.order, s.Condition.ID)
		c.scripts[s.Condition.ID] = s.clone()
	}
	return c, nil
}

func validate(s ConditionScript) error {
	id := s.Condition.ID
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: condition id is required", ErrInvalidScript)
	}
	if len(s.Turns) == 0 {
		return fmt.Errorf("%w: condition %q has no turns", ErrInvalidScript, id)
	}
	for i, t := range s.Turns {
		if !t.Speaker.IsValid() {
			return fmt.Errorf("%w: condition %q turn %d: %w", ErrInvalidScript, id, i, ErrInvalidSpeaker)
		}
		if strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("%w: condition %q turn %d has empty text", ErrInvalidScript, id, i)
		}
	}
	for i, r := range s.Rules {
		if r.TriggerIndex < 0 || r.TriggerIndex > s.LastIndex() {
			return fmt.Errorf("%w: condition %q rule %d: trigger index %d outside [0, %d]",
				ErrInvalidScript, id, i, r.TriggerIndex, s.LastIndex())
		}
		if !r.Section.IsValid() {
			return fmt.Errorf("%w: condition %q rule %d: unknown section %q", ErrInvalidScript, id, i, r.Section)
		}
	}
	for k := range s.Seeds {
		if !k.IsValid() {
			return fmt.Errorf("%w: condition %q: unknown seed section %q", ErrInvalidScript, id, k)
		}
	}
	for _, k := range s.UsefulExclusions {
		if !k.IsValid() {
			return fmt.Errorf("%w: condition %q: unknown excluded section %q", ErrInvalidScript, id, k)
		}
	}
	return nil
}

// Get returns a copy of the script registered under conditionID.
func (c *Catalog) Get(conditionID string) (ConditionScript, error) {
	s, ok := c.scripts[conditionID]
	if !ok {
		return ConditionScript{}, &UnknownConditionError{ConditionID: conditionID}
	}
	return s.clone(), nil
}

// Has reports whether conditionID is registered.
func (c *Catalog) Has(conditionID string) bool {
	_, ok := c.scripts[conditionID]
	return ok
}

// Conditions lists the registered conditions in declaration order.
func (c *Catalog) Conditions() []Condition {
	out := make([]Condition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.scripts[id].Condition)
	}
	return out
}

// IDs returns the registered condition ids, sorted.
func (c *Catalog) IDs() []string {
	return slices.Sorted(maps.Keys(c.scripts))
}
