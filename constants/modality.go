package constants

import "strings"

// Modality identifies an imaging domain pack.
type Modality string

const (
	ModalityCT  Modality = "CT"
	ModalityMRI Modality = "MRI"
)

// CanonicalModality maps free-form modality strings from the capability
// ("ct", "PET/CT", "mri", "3T MRI") onto a supported domain pack.
// Returns false when nothing matches.
func CanonicalModality(s string) (Modality, bool) {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.Contains(u, "MRI") || strings.Contains(u, "MR "):
		return ModalityMRI, true
	case strings.Contains(u, "CT") || strings.Contains(u, "CBCT"):
		return ModalityCT, true
	}
	return "", false
}

// PickModality chooses the domain pack for a verdict's modality list.
// MRI wins over CT when both appear (the MRI pack has the larger
// required set); an imaging verdict with no usable modality defaults
// to MRI.
func PickModality(modalities []string) Modality {
	sawCT := false
	for _, m := range modalities {
		if c, ok := CanonicalModality(m); ok {
			if c == ModalityMRI {
				return ModalityMRI
			}
			sawCT = true
		}
	}
	if sawCT {
		return ModalityCT
	}
	return ModalityMRI
}
