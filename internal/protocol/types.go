package protocol

import "github.com/joseph-ayodele/protocol-pilot/constants"

// Page is one page of document text, produced upstream by the external
// text-extraction step. Immutable; ordered by Index.
type Page struct {
	Index int    `json:"page"`
	Text  string `json:"text"`
}

// Candidate is one raw field/value guess anchored to literal evidence.
// Candidates are append-only within an extraction pass and are never
// mutated after creation.
type Candidate struct {
	Field      string  `json:"field"`
	Page       int     `json:"page"`
	RawSpan    string  `json:"raw_span"`
	Value      any     `json:"value"`
	Units      string  `json:"units"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// Representative is the strongest candidate within one normalized-value
// cluster for a field. Recomputed from the candidate log each pass.
type Representative struct {
	Value      any     `json:"value"`
	NormValue  any     `json:"norm_value"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
	Units      string  `json:"units"`
}

// Winner is the adjudicated best value for a field. At most one per
// field; the winner set is replaced wholesale each pass.
type Winner struct {
	Value      any     `json:"value"`
	Units      string  `json:"units"`
	Page       int     `json:"page"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// WinnerSet is the extracted-protocol artifact.
type WinnerSet struct {
	SchemaVersion int               `json:"schema_version"`
	Fields        map[string]Winner `json:"fields"`
}

// EmptyWinnerSet returns a contract-preserving empty result, used when
// adjudication has nothing to work with or the capability failed.
func EmptyWinnerSet() WinnerSet {
	return WinnerSet{SchemaVersion: constants.SchemaVersion, Fields: map[string]Winner{}}
}

// GapOption is one plausible value inside an ambiguity.
type GapOption struct {
	Value      any     `json:"value"`
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// Ambiguity flags two similarly confident, close values for a field.
type Ambiguity struct {
	Field   string      `json:"field"`
	Options []GapOption `json:"options"`
	Reason  string      `json:"reason"`
}

// Conflict flags two values that disagree beyond the field tolerance.
type Conflict struct {
	Field  string    `json:"field"`
	A      GapOption `json:"a"`
	B      GapOption `json:"b"`
	Reason string    `json:"reason"`
}

// Question is a drafted clarification for the paper's authors.
type Question struct {
	Field         string `json:"field"`
	Question      string `json:"question"`
	Rationale     string `json:"rationale"`
	EvidencePages []int  `json:"evidence_pages"`
}

// GapSummary carries the counts the control loop decides on.
type GapSummary struct {
	Missing   int `json:"missing"`
	Ambiguous int `json:"ambiguous"`
	Conflicts int `json:"conflicts"`
	Questions int `json:"questions"`
}

// Provenance records which inputs fed a gap report.
type Provenance struct {
	FromExtracted  bool   `json:"from_extracted"`
	FromCandidates bool   `json:"from_candidates"`
	GeneratedAt    string `json:"generated_at,omitempty"`
}

// GapReport is the per-pass gap artifact. Fully regenerated each pass.
type GapReport struct {
	SchemaVersion  int         `json:"schema_version"`
	Policy         string      `json:"policy"`
	Modality       []string    `json:"modality"`
	Summary        GapSummary  `json:"summary"`
	Missing        []string    `json:"missing"`
	MissingLowConf []string    `json:"missing_low_conf"`
	Ambiguous      []Ambiguity `json:"ambiguous"`
	Conflicts      []Conflict  `json:"conflicts"`
	Questions      []Question  `json:"questions"`
	Provenance     Provenance  `json:"provenance"`
}
