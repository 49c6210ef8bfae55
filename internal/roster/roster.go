// Package roster is the synthetic patient list shown on the selection step.
package roster

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed patients.yaml
var defaultPatients []byte

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrInvalidRoster   = errors.New("invalid patient roster")
)

type Sex string

const (
	SexFemale Sex = "female"
	SexMale   Sex = "male"
)

func (s Sex) IsValid() bool {
	switch s {
	case SexFemale, SexMale:
		return true
	}
	return false
}

type Patient struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Age           int    `json:"age" yaml:"age"`
	Sex           Sex    `json:"sex" yaml:"sex"`
	BaseCondition string `json:"base_condition" yaml:"base_condition"`
}

// Summary is the one-line description used in headers.
func (p Patient) Summary() string {
	return fmt.Sprintf("%d years • %s • Base condition: %s", p.Age, p.Sex, p.BaseCondition)
}

// Query filters the roster. Zero values match everything.
type Query struct {
	Search        string
	Sex           Sex
	BaseCondition string
}

type Roster struct {
	patients []Patient
}

// Default returns the roster embedded in the binary.
func Default() (*Roster, error) {
	return Load(defaultPatients)
}

func Load(data []byte) (*Roster, error) {
	var doc struct {
		Patients []Patient `yaml:"patients"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	seen := make(map[string]bool, len(doc.Patients))
	for _, p := range doc.Patients {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("%w: patient id and name are required", ErrInvalidRoster)
		}
		if !p.Sex.IsValid() {
			return nil, fmt.Errorf("%w: patient %q has invalid sex %q", ErrInvalidRoster, p.ID, p.Sex)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate patient %q", ErrInvalidRoster, p.ID)
		}
		seen[p.ID] = true
	}
	return &Roster{patients: doc.Patients}, nil
}

func (r *Roster) All() []Patient {
	return slices.Clone(r.patients)
}

func (r *Roster) Get(id string) (Patient, error) {
	for _, p := range r.patients {
		if p.ID == id {
			return p, nil
		}
	}
	return Patient{}, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
}

// Filter returns the patients matching q in roster order. Search matches name
// or base condition ignoring case and accents.
func (r *Roster) Filter(q Query) []Patient {
	needle := fold(strings.TrimSpace(q.Search))
	out := []Patient{}
	for _, p := range r.patients {
		if needle != "" && !strings.Contains(fold(p.Name), needle) && !strings.Contains(fold(p.BaseCondition), needle) {
			continue
		}
		if q.Sex != "" && p.Sex != q.Sex {
			continue
		}
		if q.BaseCondition != "" && p.BaseCondition != q.BaseCondition {
			continue
		}
		out = append(out, p)
	}
	return out
}

// BaseConditions lists the distinct base conditions, sorted.
func (r *Roster) BaseConditions() []string {
	var out []string
	for _, p := range r.patients {
		if !slices.Contains(out, p.BaseCondition) {
			out = append(out, p.BaseCondition)
		}
	}
	slices.Sort(out)
	return out
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
