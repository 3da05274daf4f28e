package ca

import "fmt"

// MaxStringSize is the fixed size of a string element, terminator included.
const MaxStringSize = 40

// ChannelID identifies a channel within one transport.
type ChannelID uint64

// EventID identifies a subscription within one transport.
type EventID uint64

// FieldType is the native (DBF) type of a channel.
type FieldType int16

const (
	FieldString FieldType = 0
	FieldShort  FieldType = 1
	FieldFloat  FieldType = 2
	FieldEnum   FieldType = 3
	FieldChar   FieldType = 4
	FieldLong   FieldType = 5
	FieldDouble FieldType = 6

	// FieldInvalid is reported for channels that never connected.
	FieldInvalid FieldType = -1
)

// String returns the DBF type name.
func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "DBF_STRING"
	case FieldShort:
		return "DBF_SHORT"
	case FieldFloat:
		return "DBF_FLOAT"
	case FieldEnum:
		return "DBF_ENUM"
	case FieldChar:
		return "DBF_CHAR"
	case FieldLong:
		return "DBF_LONG"
	case FieldDouble:
		return "DBF_DOUBLE"
	case FieldInvalid:
		return "DBF_NO_ACCESS"
	default:
		return fmt.Sprintf("DBF_UNKNOWN(%d)", int16(t))
	}
}

// ElementSize returns the size in bytes of one element on the wire, or 0 for
// unknown types.
func (t FieldType) ElementSize() int {
	switch t {
	case FieldString:
		return MaxStringSize
	case FieldShort, FieldEnum:
		return 2
	case FieldFloat, FieldLong:
		return 4
	case FieldChar:
		return 1
	case FieldDouble:
		return 8
	default:
		return 0
	}
}

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	return t.ElementSize() > 0
}

// ParseFieldType parses a short type name such as "double" or "DBF_DOUBLE".
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "string", "DBF_STRING":
		return FieldString, nil
	case "short", "int", "DBF_SHORT", "DBF_INT":
		return FieldShort, nil
	case "float", "DBF_FLOAT":
		return FieldFloat, nil
	case "enum", "DBF_ENUM":
		return FieldEnum, nil
	case "char", "DBF_CHAR":
		return FieldChar, nil
	case "long", "DBF_LONG":
		return FieldLong, nil
	case "double", "DBF_DOUBLE":
		return FieldDouble, nil
	default:
		return FieldInvalid, fmt.Errorf("unknown field type %q", s)
	}
}

// ConnState is the transport-level connection state of a channel.
type ConnState uint8

const (
	// StateNeverConnected indicates the channel has not connected yet.
	StateNeverConnected ConnState = iota

	// StatePreviouslyConnected indicates the channel was connected and lost.
	StatePreviouslyConnected

	// StateConnected indicates the channel is connected.
	StateConnected

	// StateClosed indicates the channel was cleared.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnState) String() string {
	switch s {
	case StateNeverConnected:
		return "NEVER_CONNECTED"
	case StatePreviouslyConnected:
		return "PREVIOUSLY_CONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Op is the operation code passed to a ConnectionHandler.
type Op uint8

const (
	OpConnUp Op = iota + 1
	OpConnDown
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpConnUp:
		return "CONN_UP"
	case OpConnDown:
		return "CONN_DOWN"
	default:
		return "UNKNOWN"
	}
}
