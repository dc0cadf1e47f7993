package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalModality(t *testing.T) {
	tests := []struct {
		in   string
		want Modality
		ok   bool
	}{
		{"CT", ModalityCT, true},
		{"ct", ModalityCT, true},
		{"PET/CT", ModalityCT, true},
		{"CBCT", ModalityCT, true},
		{"MRI", ModalityMRI, true},
		{"3T MRI", ModalityMRI, true},
		{"fMRI", ModalityMRI, true},
		{"ultrasound", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := CanonicalModality(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPickModality(t *testing.T) {
	assert.Equal(t, ModalityMRI, PickModality([]string{"CT", "MRI"}), "MRI wins when both appear")
	assert.Equal(t, ModalityCT, PickModality([]string{"pet/ct"}))
	assert.Equal(t, ModalityMRI, PickModality(nil), "imaging without a usable modality defaults to MRI")
	assert.Equal(t, ModalityMRI, PickModality([]string{"ultrasound"}))
}
