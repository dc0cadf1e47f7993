package protocol

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Normalize converts a raw candidate value into the field's canonical
// form: unit-converted, shape-coerced, type-coerced. Returns false when
// coercion is impossible; such candidates are excluded from grouping
// but stay in the raw log.
//
// Canonical forms by kind:
//
//	number  -> float64 (canonical unit)
//	integer -> int
//	vector  -> [3]float64 as []float64, mm
//	matrix  -> [2]int as []int
//	string  -> trimmed string
func Normalize(spec *FieldSpec, value any, units string) (any, bool) {
	switch spec.Kind {
	case KindNumber:
		v, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		return convertUnit(v, spec.Unit, units), true
	case KindInteger:
		v, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		return int(v), true
	case KindVector:
		return normalizeVector(value, spec.Unit, units)
	case KindMatrix:
		return normalizeMatrix(value)
	case KindString:
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprintf("%v", value)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		return s, true
	}
	return nil, false
}

// convertUnit maps a stated unit onto the field's canonical unit.
// Unknown or empty units are assumed already canonical.
func convertUnit(v float64, canonical, stated string) float64 {
	u := strings.ToLower(strings.TrimSpace(stated))
	switch canonical {
	case "mm":
		switch u {
		case "cm", "centimeter", "centimeters":
			return v * 10
		case "m", "meter", "meters":
			return v * 1000
		case "µm", "um", "micrometer", "micrometers", "micron", "microns":
			return v / 1000
		}
	case "ms":
		switch u {
		case "s", "sec", "secs", "second", "seconds":
			return v * 1000
		case "µs", "us", "microsecond", "microseconds":
			return v / 1000
		}
	}
	return v
}

var axisSep = regexp.MustCompile(`\s*[x×]\s*`)

func normalizeVector(value any, canonical, units string) (any, bool) {
	var comps []float64
	switch t := value.(type) {
	case []any:
		for _, a := range t {
			f, ok := toFloat(a)
			if !ok {
				return nil, false
			}
			comps = append(comps, f)
		}
	case string:
		for _, part := range axisSep.Split(strings.TrimSpace(t), -1) {
			f, ok := toFloat(strings.TrimSpace(part))
			if !ok {
				return nil, false
			}
			comps = append(comps, f)
		}
	default:
		f, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		comps = []float64{f}
	}
	switch len(comps) {
	case 1:
		// isotropic scalar replicates across axes
		comps = []float64{comps[0], comps[0], comps[0]}
	case 2:
		// in-plane only; pad through-plane with the last axis for comparison
		comps = append(comps, comps[1])
	case 3:
	default:
		return nil, false
	}
	for i := range comps {
		comps[i] = convertUnit(comps[i], canonical, units)
	}
	return comps, true
}

func normalizeMatrix(value any) (any, bool) {
	switch t := value.(type) {
	case []any:
		if len(t) != 2 {
			return nil, false
		}
		a, okA := toFloat(t[0])
		b, okB := toFloat(t[1])
		if !okA || !okB {
			return nil, false
		}
		return []int{int(a), int(b)}, true
	case string:
		parts := axisSep.Split(strings.TrimSpace(strings.ToLower(t)), -1)
		if len(parts) != 2 {
			return nil, false
		}
		a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
		b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errA != nil || errB != nil {
			return nil, false
		}
		return []int{a, b}, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// GroupKey produces the deterministic clustering key for a normalized
// value: numeric fields round to 3 decimals, vectors become a tuple of
// rounded components, matrices their dimensions, strings lower-cased
// and trimmed.
func GroupKey(spec *FieldSpec, norm any) (string, bool) {
	switch spec.Kind {
	case KindNumber:
		v, ok := norm.(float64)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(round3(v), 'f', -1, 64), true
	case KindInteger:
		v, ok := norm.(int)
		if !ok {
			return "", false
		}
		return strconv.Itoa(v), true
	case KindVector:
		v, ok := norm.([]float64)
		if !ok || len(v) != 3 {
			return "", false
		}
		parts := make([]string, 3)
		for i, c := range v {
			parts[i] = strconv.FormatFloat(round3(c), 'f', -1, 64)
		}
		return strings.Join(parts, "|"), true
	case KindMatrix:
		v, ok := norm.([]int)
		if !ok || len(v) != 2 {
			return "", false
		}
		return strconv.Itoa(v[0]) + "x" + strconv.Itoa(v[1]), true
	case KindString:
		s, ok := norm.(string)
		if !ok {
			return "", false
		}
		return strings.ToLower(strings.TrimSpace(s)), true
	}
	return "", false
}

// DefaultRepresentativeLimit bounds the distinct-value set handed to
// adjudication and gap analysis.
const DefaultRepresentativeLimit = 5

// TopRepresentatives clusters candidates by normalized value per field
// and returns, per field, up to limit representatives sorted by
// descending confidence. The representative of a cluster is its
// highest-confidence candidate; ties keep the first seen. The result is
// deterministic for a fixed candidate list.
func TopRepresentatives(d *Domain, cands []Candidate, limit int) map[string][]Representative {
	if limit <= 0 {
		limit = DefaultRepresentativeLimit
	}

	type cluster struct {
		rep   Representative
		order int // first-seen position, for stable tie-breaks
	}
	byField := map[string]map[string]*cluster{}
	keyOrder := map[string][]string{}

	seq := 0
	for _, c := range cands {
		spec, ok := d.Field(c.Field)
		if !ok {
			continue
		}
		norm, ok := Normalize(spec, c.Value, c.Units)
		if !ok {
			continue
		}
		key, ok := GroupKey(spec, norm)
		if !ok {
			continue
		}
		clusters := byField[c.Field]
		if clusters == nil {
			clusters = map[string]*cluster{}
			byField[c.Field] = clusters
		}
		rep := Representative{
			Value:      c.Value,
			NormValue:  norm,
			Page:       c.Page,
			Confidence: c.Confidence,
			Evidence:   truncateEvidence(c.Evidence),
			Units:      c.Units,
		}
		if prev, ok := clusters[key]; ok {
			if c.Confidence > prev.rep.Confidence {
				prev.rep = rep
			}
		} else {
			clusters[key] = &cluster{rep: rep, order: seq}
			keyOrder[c.Field] = append(keyOrder[c.Field], key)
		}
		seq++
	}

	out := make(map[string][]Representative, len(byField))
	for field, clusters := range byField {
		keys := keyOrder[field]
		// stable sort by descending confidence, first-seen order on ties
		for i := 1; i < len(keys); i++ {
			for j := i; j > 0; j-- {
				a, b := clusters[keys[j-1]], clusters[keys[j]]
				if b.rep.Confidence > a.rep.Confidence {
					keys[j-1], keys[j] = keys[j], keys[j-1]
				} else {
					break
				}
			}
		}
		if len(keys) > limit {
			keys = keys[:limit]
		}
		reps := make([]Representative, 0, len(keys))
		for _, k := range keys {
			reps = append(reps, clusters[k].rep)
		}
		out[field] = reps
	}
	return out
}

const maxEvidenceLen = 200

// truncateEvidence caps evidence at maxEvidenceLen bytes without
// splitting a multi-byte rune (evidence spans carry µ, °, ×).
func truncateEvidence(s string) string {
	if len(s) <= maxEvidenceLen {
		return s
	}
	cut := maxEvidenceLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
