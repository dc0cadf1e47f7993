package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/common"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

// PagesDocument is the unit of ingest: the page texts of one paper,
// already extracted upstream. Page indexes are zero-based and unique;
// pages arrive sorted after Parse.
type PagesDocument struct {
	SchemaVersion int             `json:"schema_version"`
	Title         string          `json:"title,omitempty"`
	SourceFile    string          `json:"source_file,omitempty"`
	Pages         []protocol.Page `json:"pages"`
}

var pagesSchema = jsonschema.MustCompileString("pages.json", `{
	"type": "object",
	"properties": {
		"schema_version": {"type": "integer"},
		"title": {"type": "string"},
		"source_file": {"type": "string"},
		"pages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"page": {"type": "integer", "minimum": 0},
					"text": {"type": "string"}
				},
				"required": ["page", "text"]
			}
		}
	},
	"required": ["pages"]
}`)

// Parse validates raw bytes against the pages-document schema and
// returns a normalized document: pages sorted by index, duplicate
// indexes rejected.
func Parse(raw []byte) (*PagesDocument, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, common.WrapError(common.ErrInvalidInput, fmt.Sprintf("pages document is not JSON: %v", err))
	}
	if err := pagesSchema.Validate(v); err != nil {
		return nil, common.WrapError(common.ErrValidation, fmt.Sprintf("pages document schema: %v", err))
	}

	var doc PagesDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, common.WrapError(common.ErrInvalidInput, err.Error())
	}
	if doc.SchemaVersion == 0 {
		doc.SchemaVersion = constants.SchemaVersion
	}

	sort.Slice(doc.Pages, func(i, j int) bool { return doc.Pages[i].Index < doc.Pages[j].Index })
	for i := 1; i < len(doc.Pages); i++ {
		if doc.Pages[i].Index == doc.Pages[i-1].Index {
			return nil, common.WrapError(common.ErrValidation,
				fmt.Sprintf("duplicate page index %d", doc.Pages[i].Index))
		}
	}
	doc.Title = strings.TrimSpace(doc.Title)
	return &doc, nil
}

// NonEmptyPages reports how many pages carry any text at all.
func (d *PagesDocument) NonEmptyPages() int {
	n := 0
	for _, p := range d.Pages {
		if strings.TrimSpace(p.Text) != "" {
			n++
		}
	}
	return n
}
