package protocol

import (
	"embed"
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/joseph-ayodele/protocol-pilot/constants"
)

//go:embed packs/*.yaml
var packFS embed.FS

// FieldKind selects normalization, grouping, and coercion behavior.
type FieldKind string

const (
	KindNumber  FieldKind = "number"  // scalar float in the canonical unit
	KindInteger FieldKind = "integer" // scalar int
	KindVector  FieldKind = "vector"  // [x,y,z] floats, mm
	KindMatrix  FieldKind = "matrix"  // [w,h] ints
	KindString  FieldKind = "string"  // categorical
)

// FieldSpec is the fixed per-field domain configuration: canonical
// unit, tolerances, and prompt guidance. Tolerances are documented
// configuration, never discovered at runtime.
type FieldSpec struct {
	Name     string    `yaml:"name"`
	Kind     FieldKind `yaml:"kind"`
	Unit     string    `yaml:"unit"`
	Required bool      `yaml:"required"`
	Prompt   string    `yaml:"prompt"`

	// CloseRel bounds the relative difference under which two distinct
	// numeric values still count as "close" for ambiguity purposes.
	// Zero means the field has no closeness band (integers, matrices).
	CloseRel float64 `yaml:"close_rel"`

	// A pair of values conflicts when it exceeds ConflictAbs or
	// ConflictRel (whichever triggers first). For integer, matrix, and
	// string kinds any difference conflicts regardless of these.
	ConflictAbs float64 `yaml:"conflict_abs"`
	ConflictRel float64 `yaml:"conflict_rel"`
}

// Thresholds are the domain-wide confidence floors.
type Thresholds struct {
	LowConfidence       float64 `yaml:"low_confidence"`
	AmbiguityFloor      float64 `yaml:"ambiguity_floor"`
	AmbiguityDelta      float64 `yaml:"ambiguity_delta"`
	MinWinnerConfidence float64 `yaml:"min_winner_confidence"`
}

// Domain is one modality's field catalog plus thresholds.
type Domain struct {
	Modality   constants.Modality `yaml:"modality"`
	Thresholds Thresholds         `yaml:"thresholds"`
	Fields     []FieldSpec        `yaml:"fields"`

	byName map[string]*FieldSpec
}

var (
	domainMu    sync.Mutex
	domainCache = map[constants.Modality]*Domain{}
)

// LoadDomain parses the embedded pack for a modality. Packs are static;
// results are cached.
func LoadDomain(m constants.Modality) (*Domain, error) {
	domainMu.Lock()
	defer domainMu.Unlock()
	if d, ok := domainCache[m]; ok {
		return d, nil
	}
	name := fmt.Sprintf("packs/%s.yaml", lower(string(m)))
	raw, err := packFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("unknown modality %q: %w", m, err)
	}
	var d Domain
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse domain pack %s: %w", name, err)
	}
	d.byName = make(map[string]*FieldSpec, len(d.Fields))
	for i := range d.Fields {
		d.byName[d.Fields[i].Name] = &d.Fields[i]
	}
	domainCache[m] = &d
	return &d, nil
}

// Field returns the spec for a field name, if the domain knows it.
func (d *Domain) Field(name string) (*FieldSpec, bool) {
	fs, ok := d.byName[name]
	return fs, ok
}

// FieldOrder returns field names in catalog order.
func (d *Domain) FieldOrder() []string {
	out := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		out = append(out, f.Name)
	}
	return out
}

// RequiredFields returns required field names in catalog order.
func (d *Domain) RequiredFields() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
