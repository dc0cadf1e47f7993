package llm

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Outcome tags a capability response. No field of a response is
// trusted until the response has been validated into OutcomeValid.
type Outcome int

const (
	// OutcomeValid: the response parsed and matched the requested schema.
	OutcomeValid Outcome = iota
	// OutcomeMalformed: the capability answered, but the payload did not
	// match the requested structured shape.
	OutcomeMalformed
	// OutcomeCapabilityError: transport error, timeout, or retry budget
	// exhausted; no usable payload.
	OutcomeCapabilityError
)

// Result is the tagged union returned by every capability call.
type Result struct {
	Outcome Outcome
	Raw     json.RawMessage
	Err     error
}

// Ok reports whether the result carries a validated payload.
func (r Result) Ok() bool { return r.Outcome == OutcomeValid }

// Decode unmarshals a validated payload into out.
func (r Result) Decode(out any) error {
	return json.Unmarshal(r.Raw, out)
}

func valid(raw []byte) Result {
	return Result{Outcome: OutcomeValid, Raw: raw}
}

func malformed(err error) Result {
	return Result{Outcome: OutcomeMalformed, Err: err}
}

func capabilityError(err error) Result {
	return Result{Outcome: OutcomeCapabilityError, Err: err}
}

// Proposer is the sole boundary to the text-understanding capability.
// Implementations must return a Result, never panic or raise transport
// errors past this interface. When schema is non-nil the payload is
// validated against it before being trusted.
type Proposer interface {
	Propose(ctx context.Context, system, user string, schema *jsonschema.Schema) Result
}

// Response shapes for the structured calls this service makes.

// VerdictResponse is the preflight in-scope classification.
type VerdictResponse struct {
	IsImaging      bool     `json:"is_imaging"`
	Modalities     []string `json:"modalities"`
	Confidence     float64  `json:"confidence"`
	Reasons        []string `json:"reasons"`
	CounterSignals []string `json:"counter_signals"`
}

// TitleResponse is the inferred article title.
type TitleResponse struct {
	Title      string   `json:"title"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// PageClassResponse classifies one page for triage.
type PageClassResponse struct {
	Labels     []string `json:"labels"`
	Modalities []string `json:"modalities"`
	Score      float64  `json:"score"`
	Evidence   []string `json:"evidence"`
}

// CandidateItem is one raw extraction hit as emitted by the capability.
// Page is a pointer so an omitted anchor is distinguishable from page
// zero.
type CandidateItem struct {
	Field      string  `json:"field"`
	Page       *int    `json:"page,omitempty"`
	RawSpan    string  `json:"raw_span"`
	Value      any     `json:"value"`
	Units      string  `json:"units"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// CandidatesResponse wraps the extraction hits for one window.
type CandidatesResponse struct {
	Candidates []CandidateItem `json:"candidates"`
}

// AdjudicatedEntry is one chosen winner before type coercion. Value
// types vary; coercion happens downstream against the field catalog.
type AdjudicatedEntry struct {
	Value      any     `json:"value"`
	Units      string  `json:"units"`
	Page       int     `json:"page"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// AdjudicationResponse maps field name to the chosen entry.
type AdjudicationResponse struct {
	Fields map[string]AdjudicatedEntry `json:"fields"`
}
