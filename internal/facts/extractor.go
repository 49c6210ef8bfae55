// Package facts turns a dialogue watermark and a set of declarative rules into
// the structured report facts known at that point of the interview.
package facts

import "slices"

// ExtractionRule states that once the turn at TriggerIndex has settled, Fact
// belongs to Section.
type ExtractionRule struct {
	TriggerIndex int        `json:"trigger_index" yaml:"turn"`
	Section      SectionKey `json:"section" yaml:"section"`
	Fact         string     `json:"fact" yaml:"fact"`
}

// FactSet maps a section to its facts in insertion order. Only sections with
// at least one fact are present.
type FactSet map[SectionKey][]string

// Get returns the facts of k, or nil.
func (fs FactSet) Get(k SectionKey) []string {
	return fs[k]
}

func (fs FactSet) Has(k SectionKey) bool {
	return len(fs[k]) > 0
}

// Contains reports whether fact is listed under k.
func (fs FactSet) Contains(k SectionKey, fact string) bool {
	return slices.Contains(fs[k], fact)
}

// Sections returns the present sections in vocabulary order.
func (fs FactSet) Sections() []SectionKey {
	var out []SectionKey
	for _, k := range sections {
		if fs.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Len is the total number of facts across sections.
func (fs FactSet) Len() int {
	n := 0
	for _, v := range fs {
		n += len(v)
	}
	return n
}

// Extract computes the facts known once every turn up to and including
// watermark has settled. Seeded sections come first, then rule facts in rule
// declaration order. The result is rebuilt from scratch on every call and
// shares no memory with the inputs.
func Extract(watermark int, rules []ExtractionRule, seeds map[SectionKey][]string) FactSet {
	fs := make(FactSet)
	for _, k := range sections {
		if seed := seeds[k]; len(seed) > 0 {
			fs[k] = slices.Clone(seed)
		}
	}
	for _, r := range rules {
		if r.TriggerIndex <= watermark {
			fs[r.Section] = append(fs[r.Section], r.Fact)
		}
	}
	return fs
}

// Useful concatenates every section not listed in exclusions, in vocabulary
// order. A nil exclusions slice means DefaultUsefulExclusions.
func Useful(fs FactSet, exclusions []SectionKey) []string {
	if exclusions == nil {
		exclusions = DefaultUsefulExclusions
	}
	var out []string
	for _, k := range sections {
		if slices.Contains(exclusions, k) {
			continue
		}
		out = append(out, fs[k]...)
	}
	return out
}
