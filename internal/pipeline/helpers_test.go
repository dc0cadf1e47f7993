package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/protocol-pilot/internal/llm"
)

// fakeProposer scripts capability responses per call kind, dispatching
// on the response schema the caller requested.
type fakeProposer struct {
	mu sync.Mutex

	verdict    func() llm.Result
	title      func() llm.Result
	pageClass  func(user string) llm.Result
	extract    func(user string) llm.Result
	adjudicate func(user string) llm.Result

	extractCalls    int
	adjudicateCalls int
	extractPrompts  []string
}

func (f *fakeProposer) Propose(_ context.Context, _, user string, schema *jsonschema.Schema) llm.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch schema {
	case llm.VerdictSchema:
		if f.verdict != nil {
			return f.verdict()
		}
	case llm.TitleSchema:
		if f.title != nil {
			return f.title()
		}
	case llm.PageClassSchema:
		if f.pageClass != nil {
			return f.pageClass(user)
		}
	case llm.CandidatesSchema:
		f.extractCalls++
		f.extractPrompts = append(f.extractPrompts, user)
		if f.extract != nil {
			return f.extract(user)
		}
	case llm.AdjudicationSchema:
		f.adjudicateCalls++
		if f.adjudicate != nil {
			return f.adjudicate(user)
		}
	}
	return llm.Result{Outcome: llm.OutcomeCapabilityError, Err: errors.New("unscripted call")}
}

func pageRef(i int) *int { return &i }

func okResult(t *testing.T, v any) llm.Result {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return llm.Result{Outcome: llm.OutcomeValid, Raw: raw}
}

func failResult() llm.Result {
	return llm.Result{Outcome: llm.OutcomeCapabilityError, Err: errors.New("capability down")}
}

func malformedResult() llm.Result {
	return llm.Result{Outcome: llm.OutcomeMalformed, Err: errors.New("no json object")}
}
