package xdi

import "strings"

// Edge is the absorption edge of a scan, as declared by the file header.
type Edge int16

const (
	EdgeUnknown Edge = iota
	EdgeK
	EdgeL1
	EdgeL2
	EdgeL3
)

var edgeNames = map[Edge]string{
	EdgeK:  "K",
	EdgeL1: "L1",
	EdgeL2: "L2",
	EdgeL3: "L3",
}

func (e Edge) String() string {
	if name, ok := edgeNames[e]; ok {
		return name
	}

	return "Unknown"
}

// EdgeFromText maps the textual edge designation of a header to its
// enumerated code. Unrecognized text returns (EdgeUnknown, false); callers
// that accept raw edge text keep the original string alongside.
func EdgeFromText(text string) (Edge, bool) {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "K":
		return EdgeK, true
	case "L1":
		return EdgeL1, true
	case "L2":
		return EdgeL2, true
	case "L3":
		return EdgeL3, true
	}

	return EdgeUnknown, false
}
