package catalogue

import (
	"strings"

	"github.com/pvmux/pvmux-go/pkg/ca"
)

// AccessMode is an optional accessor behavior.
type AccessMode uint8

const (
	// AccessWaitForNewData makes reads block until the channel publishes a
	// new value.
	AccessWaitForNewData AccessMode = 1 << iota

	// AccessRaw requests values in the raw wire representation.
	AccessRaw
)

// String returns the mode name.
func (m AccessMode) String() string {
	switch m {
	case AccessWaitForNewData:
		return "wait_for_new_data"
	case AccessRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// AccessModes is a set of access modes.
type AccessModes uint8

// Modes builds a set.
func Modes(ms ...AccessMode) AccessModes {
	var s AccessModes
	for _, m := range ms {
		s |= AccessModes(m)
	}
	return s
}

func (s AccessModes) Has(m AccessMode) bool { return s&AccessModes(m) != 0 }

// Without returns s with m removed.
func (s AccessModes) Without(m AccessMode) AccessModes { return s &^ AccessModes(m) }

// String lists the set members separated by commas.
func (s AccessModes) String() string {
	var names []string
	for _, m := range []AccessMode{AccessWaitForNewData, AccessRaw} {
		if s.Has(m) {
			names = append(names, m.String())
		}
	}
	return strings.Join(names, ",")
}

// FundamentalType classifies register data.
type FundamentalType uint8

const (
	FundamentalUndefined FundamentalType = iota
	FundamentalNumeric
	FundamentalString
)

// String returns the type name.
func (f FundamentalType) String() string {
	switch f {
	case FundamentalNumeric:
		return "numeric"
	case FundamentalString:
		return "string"
	default:
		return "undefined"
	}
}

// DataDescriptor describes the values a register holds.
type DataDescriptor struct {
	Fundamental      FundamentalType
	Integral         bool
	Signed           bool
	IntegerDigits    int
	FractionalDigits int
}

// DescriptorFor returns the descriptor of a wire type. ok is false for
// types without a conversion.
func DescriptorFor(t ca.FieldType) (d DataDescriptor, ok bool) {
	switch t {
	case ca.FieldDouble, ca.FieldFloat:
		return DataDescriptor{Fundamental: FundamentalNumeric, Signed: true, IntegerDigits: 320, FractionalDigits: 300}, true
	case ca.FieldShort:
		return DataDescriptor{Fundamental: FundamentalNumeric, Integral: true, Signed: true, IntegerDigits: 6}, true
	case ca.FieldLong:
		return DataDescriptor{Fundamental: FundamentalNumeric, Integral: true, Signed: true, IntegerDigits: 11}, true
	case ca.FieldChar:
		return DataDescriptor{Fundamental: FundamentalNumeric, Integral: true, IntegerDigits: 3}, true
	case ca.FieldEnum:
		return DataDescriptor{Fundamental: FundamentalNumeric, Integral: true, IntegerDigits: 5}, true
	case ca.FieldString:
		return DataDescriptor{Fundamental: FundamentalString}, true
	}
	return DataDescriptor{}, false
}

// ChannelInfo is the channel metadata frozen at configuration.
type ChannelInfo struct {
	Elements int
	Type     ca.FieldType
	Readable bool
	Writable bool
}

// RegisterInfo describes one logical register.
type RegisterInfo struct {
	Path    string
	Channel string

	// Fields below are valid once Configured is set.
	Configured bool
	Usable     bool
	Elements   int
	Type       ca.FieldType
	Readable   bool
	Writable   bool
	Descriptor DataDescriptor
	Modes      AccessModes
}

// NormalizePath returns p with a single leading slash, no repeated
// separators and no trailing slash.
func NormalizePath(p string) string {
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	return "/" + strings.Join(parts, "/")
}
