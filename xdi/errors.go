package xdi

import "fmt"

// SizeError reports content larger than the ingestion limit. The check runs
// before any parsing work.
type SizeError struct {
	Size  int64
	Limit int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("file size %d exceeds limit of %d bytes", e.Size, e.Limit)
}

// FormatError reports content that cannot be decoded as an XDI-like
// header+columns layout, or that lacks a usable element symbol.
type FormatError struct {
	Reason string
	Inner  error
}

func (e *FormatError) Error() string {
	if e.Inner != nil {
		return "invalid XDI file: " + e.Reason + ": " + e.Inner.Error()
	}

	return "invalid XDI file: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Inner
}

// ElementError reports an extracted element symbol that does not name a
// known chemical element.
type ElementError struct {
	Symbol string
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("unknown chemical element %q", e.Symbol)
}
