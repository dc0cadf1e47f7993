package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidDocument(t *testing.T) {
	raw := []byte(`{
		"title": "  A Study of CT Protocols  ",
		"pages": [
			{"page": 2, "text": "results"},
			{"page": 0, "text": "abstract"},
			{"page": 1, "text": ""}
		]
	}`)

	doc, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.SchemaVersion)
	assert.Equal(t, "A Study of CT Protocols", doc.Title)
	require.Len(t, doc.Pages, 3)
	assert.Equal(t, 0, doc.Pages[0].Index, "pages come back sorted")
	assert.Equal(t, 2, doc.Pages[2].Index)
	assert.Equal(t, 2, doc.NonEmptyPages())
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"pages": [`},
		{"no pages key", `{"title": "x"}`},
		{"empty pages", `{"pages": []}`},
		{"missing text", `{"pages": [{"page": 0}]}`},
		{"negative index", `{"pages": [{"page": -1, "text": "x"}]}`},
		{"duplicate index", `{"pages": [{"page": 1, "text": "a"}, {"page": 1, "text": "b"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}
