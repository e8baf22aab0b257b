package spectrum

import "math"

// Classification is the result of inspecting which named arrays a file
// carries: the acquisition-mode tags it triggered, the array map extended
// with any aliased or synthesized arrays, and whether a reference channel
// was present.
type Classification struct {
	Modes     []Mode
	Arrays    map[string][]float64
	ReferUsed bool
}

// HasMode reports whether m is among the classified tags.
func (c Classification) HasMode(m Mode) bool {
	for _, mode := range c.Modes {
		if mode == m {
			return true
		}
	}

	return false
}

// Classify applies the acquisition-mode rule table to the named arrays of a
// parsed file. The rules run in a fixed order regardless of map iteration
// order; each rule is independent, so a file may trigger several tags.
// The input map is not modified.
func Classify(arrays map[string][]float64) Classification {
	out := make(map[string][]float64, len(arrays)+2)
	for name, values := range arrays {
		out[name] = values
	}

	var modes []Mode
	addMode := func(m Mode) {
		for _, existing := range modes {
			if existing == m {
				return
			}
		}
		modes = append(modes, m)
	}
	has := func(name string) bool {
		_, ok := out[name]

		return ok
	}

	// 1. Pre-normalized absorption.
	if has("xmu") {
		addMode(ModeNormalizedAbsorption)
	}

	// 2. i0 is kept as-is when present; rules below synthesize it otherwise.

	// 3. Transmission channel, with i1 as the accepted alias.
	switch {
	case has("itrans"):
		addMode(ModeTransmission)
	case has("i1"):
		out["itrans"] = out["i1"]
		addMode(ModeTransmission)
	}

	// 4. Only mutrans given: reconstruct itrans against a unit i0.
	if !has("itrans") && has("mutrans") {
		mutrans := out["mutrans"]
		if !has("i0") {
			out["i0"] = unitArray(len(mutrans))
		}
		i0 := out["i0"]
		itrans := make([]float64, len(mutrans))
		for i, mu := range mutrans {
			itrans[i] = i0[i] * math.Exp(-mu)
		}
		out["itrans"] = itrans
		addMode(ModeTransmission)
	}

	// 5. Fluorescence channel, with ifl as the accepted alias.
	switch {
	case has("ifluor"):
		addMode(ModeFluorescence)
	case has("ifl"):
		out["ifluor"] = out["ifl"]
		addMode(ModeFluorescence)
	}

	// 6. Only mufluor given: reconstruct ifluor against i0.
	if !has("ifluor") && has("mufluor") {
		mufluor := out["mufluor"]
		if !has("i0") {
			out["i0"] = unitArray(len(mufluor))
		}
		i0 := out["i0"]
		ifluor := make([]float64, len(mufluor))
		for i, mu := range mufluor {
			ifluor[i] = mu * i0[i]
		}
		out["ifluor"] = ifluor
		addMode(ModeFluorescence)
	}

	// 7. munorm always wins: it overwrites any i0/ifluor set above.
	if has("munorm") {
		munorm := out["munorm"]
		out["i0"] = unitArray(len(munorm))
		out["ifluor"] = munorm
		addMode(ModeFluorescenceUnitStep)
	}

	// 8. Reference channel, with i2 as the accepted alias.
	referUsed := false
	switch {
	case has("irefer"):
		referUsed = true
	case has("i2"):
		out["irefer"] = out["i2"]
		referUsed = true
	}

	return Classification{Modes: modes, Arrays: out, ReferUsed: referUsed}
}

func unitArray(n int) []float64 {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}

	return ones
}
