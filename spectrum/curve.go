package spectrum

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoMode is returned when a dataset carries no acquisition-mode tag at
// all. Such a dataset is storable but not renderable.
var ErrNoMode = errors.New("no acquisition mode classified")

// DerivationError reports a missing array for the mode selected to render.
type DerivationError struct {
	Mode    Mode
	Missing string
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("cannot derive %s curve: array %q missing", e.Mode, e.Missing)
}

// Curve is a derived absorption curve: mu against photon energy, plus the
// label of the derived quantity. ReferMu is the optional reference-channel
// absorption, present only when the reference channel was recorded and both
// irefer and itrans are available. Diagnostics carries non-fatal warnings,
// such as rendering one of several classified modes.
type Curve struct {
	Energy      []float64
	Mu          []float64
	Label       string
	Mode        Mode
	ReferMu     []float64
	Diagnostics []string
}

// renderPriority fixes which tag drives rendering when several are set.
var renderPriority = []Mode{
	ModeTransmission,
	ModeFluorescence,
	ModeFluorescenceUnitStep,
	ModeNormalizedAbsorption,
}

// Derive computes the absorption curve for a dataset from its arrays and
// mode tags. Exactly one mode drives the result; holding several tags is a
// warning surfaced through Curve.Diagnostics, never an error.
func Derive(arrays map[string][]float64, modes []Mode, referUsed bool) (*Curve, error) {
	if len(modes) == 0 {
		return nil, ErrNoMode
	}

	mode := ModeUnknown
	for _, candidate := range renderPriority {
		if containsMode(modes, candidate) {
			mode = candidate

			break
		}
	}
	if mode == ModeUnknown {
		return nil, ErrNoMode
	}

	energy, ok := arrays["energy"]
	if !ok {
		return nil, &DerivationError{Mode: mode, Missing: "energy"}
	}

	curve := &Curve{Energy: energy, Mode: mode}
	if len(modes) > 1 {
		curve.Diagnostics = append(curve.Diagnostics,
			fmt.Sprintf("%d acquisition modes classified, rendering %s", len(modes), mode))
	}

	switch mode {
	case ModeTransmission:
		itrans, ok := arrays["itrans"]
		if !ok {
			return nil, &DerivationError{Mode: mode, Missing: "itrans"}
		}
		i0, ok := arrays["i0"]
		if !ok {
			return nil, &DerivationError{Mode: mode, Missing: "i0"}
		}
		curve.Mu = negLogRatio(itrans, i0)
		curve.Label = "Raw XAFS"
	case ModeFluorescence, ModeFluorescenceUnitStep:
		ifluor, ok := arrays["ifluor"]
		if !ok {
			return nil, &DerivationError{Mode: mode, Missing: "ifluor"}
		}
		i0, ok := arrays["i0"]
		if !ok {
			return nil, &DerivationError{Mode: mode, Missing: "i0"}
		}
		curve.Mu = ratio(ifluor, i0)
		curve.Label = "Raw XAFS"
	case ModeNormalizedAbsorption:
		xmu, ok := arrays["xmu"]
		if !ok {
			return nil, &DerivationError{Mode: mode, Missing: "xmu"}
		}
		curve.Mu = xmu
		curve.Label = "Normalized absorption spectrum"
	}

	// Reference absorption for energy-calibration cross-checks; optional,
	// callers may ignore it.
	if referUsed {
		irefer, hasRefer := arrays["irefer"]
		itrans, hasTrans := arrays["itrans"]
		if hasRefer && hasTrans {
			curve.ReferMu = negLogRatio(irefer, itrans)
		}
	}

	return curve, nil
}

// negLogRatio computes -ln(num/den) element-wise.
func negLogRatio(num, den []float64) []float64 {
	mu := make([]float64, len(num))
	for i := range num {
		mu[i] = -math.Log(num[i] / den[i])
	}

	return mu
}

func ratio(num, den []float64) []float64 {
	mu := make([]float64, len(num))
	for i := range num {
		mu[i] = num[i] / den[i]
	}

	return mu
}

func containsMode(modes []Mode, m Mode) bool {
	for _, mode := range modes {
		if mode == m {
			return true
		}
	}

	return false
}
