// Package spectrum classifies how an absorption scan was acquired and
// derives the displayable absorption curve from its arrays.
package spectrum

// Mode is the acquisition-mode classification of a dataset.
type Mode int16

const (
	ModeUnknown Mode = iota - 1
	ModeTransmission
	ModeFluorescence
	ModeFluorescenceUnitStep
	ModeNormalizedAbsorption
)

var modeNames = map[Mode]string{
	ModeUnknown:              "Unknown",
	ModeTransmission:         "Transmission",
	ModeFluorescence:         "Fluorescence",
	ModeFluorescenceUnitStep: "Fluorescence, unitstep",
	ModeNormalizedAbsorption: "Normalized absorption spectrum",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}

	return "Unknown"
}
