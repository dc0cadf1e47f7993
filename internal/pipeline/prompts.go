package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

// Prompt construction for every capability call. Prompts are plain
// strings built from the domain catalog and the job's page text; all
// structural guarantees come from response-schema validation, not from
// prompt wording.

const verdictSystem = `You are screening scientific papers for a medical imaging archive.
Given the opening pages of a paper, decide whether the paper reports an
imaging acquisition study (CT, MRI) with enough methodological detail
to describe the acquisition protocol.
Respond with a single JSON object:
{"is_imaging": bool, "modalities": ["CT"|"MRI", ...], "confidence": 0..1, "reasons": [...], "counter_signals": [...]}
Report only modalities the text actually supports.`

const titleSystem = `You extract the title of a scientific paper from its first pages.
Respond with a single JSON object:
{"title": string, "confidence": 0..1, "reasons": [...]}
Return the full title as printed, without the journal name or authors.`

const pageClassSystem = `You classify a single page of a scientific paper about medical imaging.
Labels: methods, acquisition_parameters, results, discussion, references, other.
Respond with a single JSON object:
{"labels": [...], "modalities": ["CT"|"MRI", ...], "score": 0..1, "evidence": [...]}
score is your confidence that this page contains acquisition protocol details.`

// verdictCharBudget caps the text sent for the imaging verdict.
const verdictCharBudget = 6000

func verdictUser(pages []protocol.Page) string {
	var b strings.Builder
	b.WriteString("Opening pages of the paper:\n\n")
	for i, p := range pages {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "--- page %d ---\n%s\n\n", p.Index, p.Text)
		if b.Len() > verdictCharBudget {
			break
		}
	}
	s := b.String()
	if len(s) > verdictCharBudget {
		s = s[:verdictCharBudget]
	}
	return s
}

func titleUser(pages []protocol.Page) string {
	var b strings.Builder
	b.WriteString("First pages:\n\n")
	for i, p := range pages {
		if i >= 2 {
			break
		}
		fmt.Fprintf(&b, "--- page %d ---\n%s\n\n", p.Index, p.Text)
	}
	return b.String()
}

func pageClassUser(p protocol.Page) string {
	return fmt.Sprintf("Page %d:\n\n%s", p.Index, p.Text)
}

func extractSystem(d *protocol.Domain) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You extract %s acquisition protocol parameters from scientific paper text.
Report only values explicitly stated in the text. Never infer, never use
typical values. Each candidate must quote the exact source text.

Fields to look for:
`, d.Modality)
	writeCatalog(&b, d)
	b.WriteString(`
Respond with a single JSON object:
{"candidates": [{"field": string, "page": int, "raw_span": string, "units": string, "evidence": string, "confidence": 0..1, "notes": string}, ...]}
raw_span is the exact value text as printed; evidence is the sentence it came from.
Return {"candidates": []} when the text states none of the fields.`)
	return b.String()
}

func extractUser(window string, center int) string {
	return fmt.Sprintf("Text around page %d:\n\n%s", center, window)
}

func adjudicateSystem(d *protocol.Domain) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You adjudicate candidate values for %s acquisition protocol parameters.
For each field, pick the single value best supported by the quoted
evidence, or omit the field when no candidate is trustworthy. Prefer
values stated for the study's own acquisition over cited or example
values. Never invent a value that is not among the candidates.

Field catalog:
`, d.Modality)
	writeCatalog(&b, d)
	b.WriteString(`
Respond with a single JSON object:
{"fields": {"<field>": {"value": ..., "units": string, "page": int, "evidence": string, "confidence": 0..1, "reason": string}, ...}}`)
	return b.String()
}

// adjudicateUser renders the grouped candidate representatives, one
// block per field in catalog order.
func adjudicateUser(d *protocol.Domain, reps map[string][]protocol.Representative) string {
	var b strings.Builder
	b.WriteString("Candidates by field:\n")
	for _, name := range d.FieldOrder() {
		rs := reps[name]
		if len(rs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", name)
		for _, r := range rs {
			fmt.Fprintf(&b, "  - value=%v units=%s page=%d confidence=%.2f evidence=%q\n",
				r.Value, r.Units, r.Page, r.Confidence, r.Evidence)
		}
	}
	if b.Len() == len("Candidates by field:\n") {
		b.WriteString("\n(none)\n")
	}
	return b.String()
}

func writeCatalog(b *strings.Builder, d *protocol.Domain) {
	for _, spec := range d.Fields {
		req := "optional"
		if spec.Required {
			req = "required"
		}
		unit := ""
		if spec.Unit != "" {
			unit = ", unit " + spec.Unit
		}
		fmt.Fprintf(b, "- %s (%s, %s%s): %s\n", spec.Name, spec.Kind, req, unit, spec.Prompt)
	}
}

// topPages returns page indexes ranked by protocol-detail score, best
// first, capped at k. Used to seed extraction from triage output.
func topPages(scores map[int]float64, k int) []int {
	type ps struct {
		page  int
		score float64
	}
	ranked := make([]ps, 0, len(scores))
	for p, s := range scores {
		ranked = append(ranked, ps{p, s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].page < ranked[j].page
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.page
	}
	sort.Ints(out)
	return out
}
