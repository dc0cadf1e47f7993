package protocol

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/protocol-pilot/constants"
)

func TestLoadDomain(t *testing.T) {
	for _, m := range []constants.Modality{constants.ModalityCT, constants.ModalityMRI} {
		d, err := LoadDomain(m)
		require.NoError(t, err)
		assert.Equal(t, m, d.Modality)
		assert.NotEmpty(t, d.Fields)
		assert.NotEmpty(t, d.RequiredFields())
		assert.Greater(t, d.Thresholds.LowConfidence, 0.0)

		for _, name := range d.FieldOrder() {
			spec, ok := d.Field(name)
			require.True(t, ok, name)
			assert.Equal(t, name, spec.Name)
		}
	}

	_, err := LoadDomain(constants.Modality("PET"))
	assert.Error(t, err)
}

func TestNormalizeNumberUnits(t *testing.T) {
	spec := &FieldSpec{Name: "slice_thickness_mm", Kind: KindNumber, Unit: "mm"}

	tests := []struct {
		name  string
		value any
		units string
		want  float64
	}{
		{"already canonical", 1.25, "mm", 1.25},
		{"cm to mm", 0.5, "cm", 5.0},
		{"m to mm", 0.001, "m", 1.0},
		{"micron to mm", 500.0, "µm", 0.5},
		{"string value", "2.5", "mm", 2.5},
		{"unknown unit passes through", 3.0, "voxels", 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(spec, tt.value, tt.units)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got.(float64), 1e-9)
		})
	}
}

func TestNormalizeTimeUnits(t *testing.T) {
	spec := &FieldSpec{Name: "repetition_time_ms", Kind: KindNumber, Unit: "ms"}

	got, ok := Normalize(spec, 2.0, "s")
	require.True(t, ok)
	assert.InDelta(t, 2000.0, got.(float64), 1e-9)

	got, ok = Normalize(spec, 500.0, "us")
	require.True(t, ok)
	assert.InDelta(t, 0.5, got.(float64), 1e-9)
}

func TestNormalizeVectorShapes(t *testing.T) {
	spec := &FieldSpec{Name: "voxel_size_mm", Kind: KindVector, Unit: "mm"}

	tests := []struct {
		name  string
		value any
		units string
		want  []float64
	}{
		{"three components", []any{0.5, 0.5, 1.0}, "mm", []float64{0.5, 0.5, 1.0}},
		{"isotropic scalar replicates", 0.8, "mm", []float64{0.8, 0.8, 0.8}},
		{"two components pad through-plane", []any{0.5, 0.6}, "mm", []float64{0.5, 0.6, 0.6}},
		{"x-separated string", "0.5 x 0.5 x 1.0", "mm", []float64{0.5, 0.5, 1.0}},
		{"multiplication-sign string", "0.5×0.5×1", "mm", []float64{0.5, 0.5, 1.0}},
		{"cm converts per axis", []any{0.1, 0.1, 0.2}, "cm", []float64{1.0, 1.0, 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(spec, tt.value, tt.units)
			require.True(t, ok)
			vec := got.([]float64)
			require.Len(t, vec, 3)
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], vec[i], 1e-9)
			}
		})
	}

	_, ok := Normalize(spec, []any{1.0, 2.0, 3.0, 4.0}, "mm")
	assert.False(t, ok, "four components cannot coerce")
	_, ok = Normalize(spec, "thin slices", "mm")
	assert.False(t, ok)
}

func TestNormalizeMatrix(t *testing.T) {
	spec := &FieldSpec{Name: "matrix", Kind: KindMatrix}

	got, ok := Normalize(spec, "512x512", "")
	require.True(t, ok)
	assert.Equal(t, []int{512, 512}, got)

	got, ok = Normalize(spec, "256 × 192", "")
	require.True(t, ok)
	assert.Equal(t, []int{256, 192}, got)

	got, ok = Normalize(spec, []any{128.0, 128.0}, "")
	require.True(t, ok)
	assert.Equal(t, []int{128, 128}, got)

	_, ok = Normalize(spec, "512", "")
	assert.False(t, ok)
}

func TestNormalizeStringAndInteger(t *testing.T) {
	kernel := &FieldSpec{Name: "kernel", Kind: KindString}
	got, ok := Normalize(kernel, "  B30f ", "")
	require.True(t, ok)
	assert.Equal(t, "B30f", got)
	_, ok = Normalize(kernel, "   ", "")
	assert.False(t, ok)

	kvp := &FieldSpec{Name: "kVp", Kind: KindInteger, Unit: "kVp"}
	got, ok = Normalize(kvp, 120.0, "kVp")
	require.True(t, ok)
	assert.Equal(t, 120, got)
}

func TestGroupKey(t *testing.T) {
	num := &FieldSpec{Name: "n", Kind: KindNumber}
	vec := &FieldSpec{Name: "v", Kind: KindVector}
	mat := &FieldSpec{Name: "m", Kind: KindMatrix}
	str := &FieldSpec{Name: "s", Kind: KindString}

	k1, ok := GroupKey(num, 1.0004)
	require.True(t, ok)
	k2, _ := GroupKey(num, 1.0)
	assert.Equal(t, k1, k2, "3-decimal rounding merges near values")

	kv, ok := GroupKey(vec, []float64{0.5, 0.5, 1.0})
	require.True(t, ok)
	assert.Equal(t, "0.5|0.5|1", kv)

	km, ok := GroupKey(mat, []int{512, 512})
	require.True(t, ok)
	assert.Equal(t, "512x512", km)

	ks, ok := GroupKey(str, "B30f")
	require.True(t, ok)
	assert.Equal(t, "b30f", ks)
}

func TestTopRepresentatives(t *testing.T) {
	d, err := LoadDomain(constants.ModalityCT)
	require.NoError(t, err)

	cands := []Candidate{
		{Field: "slice_thickness_mm", Page: 3, Value: 1.0, Units: "mm", Evidence: "1.0 mm slices", Confidence: 0.6},
		{Field: "slice_thickness_mm", Page: 4, Value: 0.1, Units: "cm", Evidence: "0.1 cm slices", Confidence: 0.8},
		{Field: "slice_thickness_mm", Page: 5, Value: 2.5, Units: "mm", Evidence: "2.5 mm recon", Confidence: 0.7},
		{Field: "kernel", Page: 3, Value: "B30f", Units: "", Evidence: "kernel B30f", Confidence: 0.9},
		{Field: "unknown_field", Page: 3, Value: 1.0, Units: "", Evidence: "x", Confidence: 0.9},
		{Field: "slice_thickness_mm", Page: 6, Value: "thin", Units: "mm", Evidence: "thin slices", Confidence: 0.9},
	}

	reps := TopRepresentatives(d, cands, 5)
	require.Contains(t, reps, "slice_thickness_mm")
	require.Contains(t, reps, "kernel")
	assert.NotContains(t, reps, "unknown_field")

	st := reps["slice_thickness_mm"]
	// 1.0 mm and 0.1 cm collapse into one cluster; uncoercible "thin" dropped
	require.Len(t, st, 2)
	assert.InDelta(t, 0.8, st[0].Confidence, 1e-9, "cluster keeps its strongest candidate")
	assert.InDelta(t, 1.0, st[0].NormValue.(float64), 1e-9)
	assert.InDelta(t, 0.7, st[1].Confidence, 1e-9)
}

func TestTopRepresentativesTieKeepsFirstSeen(t *testing.T) {
	d, err := LoadDomain(constants.ModalityCT)
	require.NoError(t, err)

	cands := []Candidate{
		{Field: "kernel", Page: 2, Value: "B30f", Evidence: "first", Confidence: 0.7},
		{Field: "kernel", Page: 9, Value: "b30f", Evidence: "second", Confidence: 0.7},
	}
	reps := TopRepresentatives(d, cands, 5)
	require.Len(t, reps["kernel"], 1)
	assert.Equal(t, 2, reps["kernel"][0].Page)
	assert.Equal(t, "first", reps["kernel"][0].Evidence)
}

func TestTopRepresentativesLimit(t *testing.T) {
	d, err := LoadDomain(constants.ModalityCT)
	require.NoError(t, err)

	var cands []Candidate
	for i := 0; i < 8; i++ {
		cands = append(cands, Candidate{
			Field:      "mAs",
			Page:       i,
			Value:      float64(100 + i*10),
			Units:      "mAs",
			Evidence:   "tube current",
			Confidence: 0.5 + float64(i)*0.05,
		})
	}
	reps := TopRepresentatives(d, cands, 5)
	require.Len(t, reps["mAs"], 5)
	for i := 1; i < len(reps["mAs"]); i++ {
		assert.GreaterOrEqual(t, reps["mAs"][i-1].Confidence, reps["mAs"][i].Confidence)
	}
}

func TestTruncateEvidenceKeepsRuneBoundaries(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "micro sign straddling the cap", in: strings.Repeat("a", maxEvidenceLen-1) + "µµµ"},
		{name: "degree sign straddling the cap", in: strings.Repeat("b", maxEvidenceLen-1) + "°°"},
		{name: "multiplication sign run", in: strings.Repeat("0.5×", maxEvidenceLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateEvidence(tt.in)
			assert.LessOrEqual(t, len(got), maxEvidenceLen)
			assert.True(t, utf8.ValidString(got), "truncation must not split a rune")
			assert.True(t, strings.HasPrefix(tt.in, got))
		})
	}

	short := "voxels of 0.5 × 0.5 × 1 mm, 200 µm in-plane"
	assert.Equal(t, short, truncateEvidence(short))
}
